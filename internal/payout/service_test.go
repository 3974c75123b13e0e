package payout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"referral-core/internal/metrics"
	"referral-core/pkg/models"
)

// Общий экземпляр: регистрация в prometheus допускается один раз на процесс
var testMetrics = metrics.New(zap.NewNop())

// fakePayoutRepo хранит запросы на выплату в памяти
type fakePayoutRepo struct {
	requests  map[int64]*models.PayoutRequest
	available map[int64]float64
	nextID    int64
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{
		requests:  make(map[int64]*models.PayoutRequest),
		available: make(map[int64]float64),
	}
}

func (f *fakePayoutRepo) CreateWithLink(ctx context.Context, ownerID int64, method, destination string, minAmount float64) (*models.PayoutRequest, error) {
	amount := f.available[ownerID]
	if amount < minAmount {
		return nil, models.ErrInsufficientBalance
	}
	f.nextID++
	req := &models.PayoutRequest{
		ID:             f.nextID,
		OwnerID:        ownerID,
		Amount:         amount,
		Method:         method,
		Destination:    destination,
		Status:         string(models.PayoutStatusPending),
		IdempotencyKey: uuid.NewString(),
		RequestedAt:    time.Now(),
	}
	f.requests[req.ID] = req
	f.available[ownerID] = 0
	return req, nil
}

func (f *fakePayoutRepo) GetByID(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, models.ErrPayoutNotFound
	}
	return req, nil
}

func (f *fakePayoutRepo) UpdateStatus(ctx context.Context, id int64, from, to models.PayoutStatus, reason *string) error {
	req, ok := f.requests[id]
	if !ok || req.Status != string(from) {
		return models.ErrInvalidTransition
	}
	req.Status = string(to)
	if reason != nil {
		req.Reason = reason
	}
	return nil
}

func (f *fakePayoutRepo) Complete(ctx context.Context, id int64) (int, error) {
	if err := f.UpdateStatus(ctx, id, models.PayoutStatusProcessing, models.PayoutStatusCompleted, nil); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *fakePayoutRepo) Reject(ctx context.Context, id int64, reason string) error {
	if err := f.UpdateStatus(ctx, id, models.PayoutStatusProcessing, models.PayoutStatusRejected, &reason); err != nil {
		return err
	}
	// Записи возвращаются в доступный баланс
	req := f.requests[id]
	f.available[req.OwnerID] += req.Amount
	return nil
}

func (f *fakePayoutRepo) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]*models.PayoutRequest, error) {
	var out []*models.PayoutRequest
	for _, req := range f.requests {
		if req.Status == string(models.PayoutStatusProcessing) && req.RequestedAt.Before(olderThan) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakePayoutRepo) CountProcessing(ctx context.Context) (int, error) {
	count := 0
	for _, req := range f.requests {
		if req.Status == string(models.PayoutStatusProcessing) {
			count++
		}
	}
	return count, nil
}

func (f *fakePayoutRepo) OwnersAboveThreshold(ctx context.Context, minAmount float64) ([]int64, error) {
	var out []int64
	for ownerID, amount := range f.available {
		if amount >= minAmount {
			out = append(out, ownerID)
		}
	}
	return out, nil
}

// fakeSettingsRepo хранит настройки в памяти
type fakeSettingsRepo struct {
	settings map[int64]*models.PayoutSettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{settings: make(map[int64]*models.PayoutSettings)}
}

func (f *fakeSettingsRepo) Get(ctx context.Context, ownerID int64) (*models.PayoutSettings, error) {
	s, ok := f.settings[ownerID]
	if !ok {
		return nil, models.ErrNoPayoutMethod
	}
	return s, nil
}

func (f *fakeSettingsRepo) Upsert(ctx context.Context, settings *models.PayoutSettings) error {
	f.settings[settings.OwnerID] = settings
	return nil
}

// fakeGateway отдает заранее заданный статус
type fakeGateway struct {
	createStatus string
	checkStatus  string
	lastKey      string
	createCalls  int
}

func (f *fakeGateway) CreateDisbursement(ctx context.Context, idempotencyKey string, amount float64, currency, method, destination string) (*DisbursementResponse, error) {
	f.createCalls++
	f.lastKey = idempotencyKey
	return &DisbursementResponse{ID: "disb-1", Status: f.createStatus, Reference: idempotencyKey}, nil
}

func (f *fakeGateway) CheckDisbursementStatus(ctx context.Context, idempotencyKey string) (string, error) {
	return f.checkStatus, nil
}

// fakeNotifier запоминает оповещения
type fakeNotifier struct {
	rejected []int64
}

func (f *fakeNotifier) PayoutRejected(ctx context.Context, req *models.PayoutRequest, reason string) {
	f.rejected = append(f.rejected, req.ID)
}

func setupService(available float64, gateway *fakeGateway) (*Service, *fakePayoutRepo, *fakeNotifier) {
	payoutRepo := newFakePayoutRepo()
	payoutRepo.available[1] = available

	settingsRepo := newFakeSettingsRepo()
	settingsRepo.settings[1] = &models.PayoutSettings{
		OwnerID: 1, Method: models.PayoutMethodPayPal, Destination: "owner@example.com",
	}

	notifier := &fakeNotifier{}
	service := NewService(payoutRepo, settingsRepo, gateway, notifier, testMetrics, 50.0, "CAD", zap.NewNop())
	return service, payoutRepo, notifier
}

func TestRequestPayoutCompleted(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, _, _ := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, 120.0, req.Amount)
	assert.Equal(t, string(models.PayoutStatusCompleted), req.Status)
	assert.Equal(t, req.IdempotencyKey, gateway.lastKey)
}

func TestRequestPayoutNoSettings(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, _, _ := setupService(120.0, gateway)

	_, err := service.RequestPayout(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNoPayoutMethod)
	assert.Zero(t, gateway.createCalls)
}

func TestRequestPayoutInsufficientBalance(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, _, _ := setupService(49.99, gateway)

	_, err := service.RequestPayout(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestRequestPayoutRejected(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusFailed}
	service, repo, notifier := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, string(models.PayoutStatusRejected), req.Status)
	assert.NotNil(t, req.Reason)

	// Операторы оповещены, баланс вернулся владельцу
	assert.Equal(t, []int64{req.ID}, notifier.rejected)
	assert.Equal(t, 120.0, repo.available[1])
}

func TestRequestPayoutAcceptedStaysProcessing(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusAccepted}
	service, _, _ := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, string(models.PayoutStatusProcessing), req.Status)
}

func TestReconcileCompletesStale(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusAccepted, checkStatus: GatewayStatusCompleted}
	service, repo, _ := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)

	// Состариваем запрос, чтобы сверка его подобрала
	repo.requests[req.ID].RequestedAt = time.Now().Add(-time.Hour)

	assert.NoError(t, service.Reconcile(context.Background(), 15*time.Minute))
	assert.Equal(t, string(models.PayoutStatusCompleted), repo.requests[req.ID].Status)
}

func TestReconcileRejectsFailed(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusAccepted, checkStatus: GatewayStatusFailed}
	service, repo, notifier := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)

	repo.requests[req.ID].RequestedAt = time.Now().Add(-time.Hour)

	assert.NoError(t, service.Reconcile(context.Background(), 15*time.Minute))
	assert.Equal(t, string(models.PayoutStatusRejected), repo.requests[req.ID].Status)
	assert.Equal(t, []int64{req.ID}, notifier.rejected)
}

func TestReconcileSkipsFresh(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusAccepted, checkStatus: GatewayStatusCompleted}
	service, repo, _ := setupService(120.0, gateway)

	req, err := service.RequestPayout(context.Background(), 1)
	assert.NoError(t, err)

	// Свежий processing не трогается
	assert.NoError(t, service.Reconcile(context.Background(), 15*time.Minute))
	assert.Equal(t, string(models.PayoutStatusProcessing), repo.requests[req.ID].Status)
}

func TestRunBatch(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, repo, _ := setupService(120.0, gateway)

	// Второй владелец без настроек выплат, третий ниже порога
	repo.available[2] = 200.0
	repo.available[3] = 10.0

	assert.NoError(t, service.RunBatch(context.Background()))

	// Выплата создана только первому владельцу
	assert.Len(t, repo.requests, 1)
	assert.Equal(t, 1, gateway.createCalls)
}

func TestUpdateSettings(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, _, _ := setupService(0, gateway)

	settings, err := service.UpdateSettings(context.Background(), 5, models.PayoutMethodCheck, "123 Main St")
	assert.NoError(t, err)
	assert.Equal(t, models.PayoutMethodCheck, settings.Method)

	stored, err := service.GetSettings(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, "123 Main St", stored.Destination)
}

func TestUpdateSettingsInvalidMethod(t *testing.T) {
	gateway := &fakeGateway{createStatus: GatewayStatusCompleted}
	service, _, _ := setupService(0, gateway)

	_, err := service.UpdateSettings(context.Background(), 5, "wire", "acct-1")
	assert.ErrorIs(t, err, models.ErrInvalidPayoutMethod)

	_, err = service.UpdateSettings(context.Background(), 5, models.PayoutMethodPayPal, "")
	assert.ErrorIs(t, err, models.ErrInvalidPayoutMethod)
}
