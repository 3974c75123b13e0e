package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// fakeCodeRepo отдает заранее подготовленные коды и события ввода
type fakeCodeRepo struct {
	codes       map[string]*models.ReferralCode
	latestEntry *models.CodeEntry
	latestCode  *models.ReferralCode
}

func (f *fakeCodeRepo) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	rc, ok := f.codes[code]
	if !ok {
		return nil, models.ErrCodeNotFound
	}
	return rc, nil
}

func (f *fakeCodeRepo) GetLatestEntryWithin(ctx context.Context, buyerID int64, notBefore time.Time) (*models.CodeEntry, *models.ReferralCode, error) {
	if f.latestEntry == nil || f.latestEntry.EnteredAt.Before(notBefore) {
		return nil, nil, models.ErrCodeNotFound
	}
	return f.latestEntry, f.latestCode, nil
}

// fakeLedgerRepo имитирует идемпотентную вставку по заказу
type fakeLedgerRepo struct {
	entries []*models.LedgerEntry
	nextID  int64
}

func (f *fakeLedgerRepo) Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	for _, e := range f.entries {
		if e.OrderID != nil && entry.OrderID != nil &&
			*e.OrderID == *entry.OrderID && e.OwnerID == entry.OwnerID && e.Kind == entry.Kind {
			return false, nil
		}
	}
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, entry)
	return true, nil
}

func (f *fakeLedgerRepo) GetByOrder(ctx context.Context, orderID string, ownerID int64, kind string) (*models.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.OrderID != nil && *e.OrderID == orderID && e.OwnerID == ownerID && e.Kind == kind {
			return e, nil
		}
	}
	return nil, models.ErrEntryNotFound
}

// fakeTierRepo отдает фиксированный уровень партнера
type fakeTierRepo struct {
	tier *models.AffiliateTier
}

func (f *fakeTierRepo) Get(ctx context.Context, ownerID int64) (*models.AffiliateTier, error) {
	if f.tier != nil {
		return f.tier, nil
	}
	return &models.AffiliateTier{OwnerID: ownerID, Tier: models.TierStarter}, nil
}

func newTestService(codeRepo *fakeCodeRepo, ledgerRepo *fakeLedgerRepo, tierRepo *fakeTierRepo) *Service {
	return NewService(codeRepo, ledgerRepo, tierRepo, 5.0, models.RateStarter, 90, zap.NewNop())
}

func customerCode(owner int64) *models.ReferralCode {
	return &models.ReferralCode{ID: 1, Code: "FRIEND42", OwnerID: owner, Kind: string(models.CodeKindCustomerReferral), Active: true}
}

func affiliateCode(owner int64) *models.ReferralCode {
	return &models.ReferralCode{ID: 2, Code: "PARTNER7", OwnerID: owner, Kind: string(models.CodeKindAffiliate), Active: true}
}

func TestResolveNoCode(t *testing.T) {
	service := newTestService(&fakeCodeRepo{codes: map[string]*models.ReferralCode{}}, &fakeLedgerRepo{}, &fakeTierRepo{})

	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0,
	})

	assert.NoError(t, err)
	assert.False(t, result.Attributed())
	assert.Equal(t, models.AttributionReasonNoCode, result.Reason)
}

func TestResolveInvalidCode(t *testing.T) {
	deactivated := customerCode(42)
	deactivated.Active = false

	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"FRIEND42": deactivated}}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	cases := []struct {
		name string
		code string
	}{
		{"несуществующий код", "NOSUCH99"},
		{"деактивированный код", "FRIEND42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := service.Resolve(context.Background(), &models.OrderEvent{
				OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, ReferralCode: tc.code,
			})
			assert.NoError(t, err)
			assert.False(t, result.Attributed())
			assert.Equal(t, models.AttributionReasonInvalidCode, result.Reason)
		})
	}
}

func TestResolveSelfReferral(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"FRIEND42": customerCode(42)}}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	// Покупатель использует собственный код
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 42, OrderAmount: 30.0, ReferralCode: "FRIEND42",
	})

	assert.NoError(t, err)
	assert.False(t, result.Attributed())
	assert.Equal(t, models.AttributionReasonSelfReferral, result.Reason)
}

func TestResolveNotFirstOrder(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"FRIEND42": customerCode(42)}}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, ReferralCode: "FRIEND42", PriorOrders: 2,
	})

	assert.NoError(t, err)
	assert.False(t, result.Attributed())
	assert.Equal(t, models.AttributionReasonNotFirstOrder, result.Reason)
}

func TestResolveCustomerReferral(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"FRIEND42": customerCode(42)}}
	ledgerRepo := &fakeLedgerRepo{}
	service := newTestService(codeRepo, ledgerRepo, &fakeTierRepo{})

	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, ReferralCode: "FRIEND42",
	})

	assert.NoError(t, err)
	assert.True(t, result.Attributed())
	assert.False(t, result.Duplicate)

	entry := result.Entry
	assert.Equal(t, int64(42), entry.OwnerID)
	assert.Equal(t, models.EntryKindCustomerReferral, entry.Kind)
	// Фиксированный кредит не зависит от суммы заказа
	assert.Equal(t, 5.0, entry.CommissionAmount)
	assert.Equal(t, string(models.EntryStatusPending), entry.Status)
}

func TestResolveAffiliateByTier(t *testing.T) {
	override := 0.35

	cases := []struct {
		name       string
		tier       *models.AffiliateTier
		commission float64
	}{
		{"стартовый уровень", &models.AffiliateTier{OwnerID: 7, Tier: models.TierStarter}, 20.0},
		{"активный уровень", &models.AffiliateTier{OwnerID: 7, Tier: models.TierActive}, 25.0},
		{"партнерский уровень", &models.AffiliateTier{OwnerID: 7, Tier: models.TierPartner}, 30.0},
		{"индивидуальная ставка", &models.AffiliateTier{OwnerID: 7, Tier: models.TierStarter, RateOverride: &override}, 35.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"PARTNER7": affiliateCode(7)}}
			service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{tier: tc.tier})

			result, err := service.Resolve(context.Background(), &models.OrderEvent{
				OrderID: "ord-1", BuyerID: 100, OrderAmount: 100.0, ReferralCode: "PARTNER7",
			})

			assert.NoError(t, err)
			assert.True(t, result.Attributed())
			assert.Equal(t, models.EntryKindAffiliate, result.Entry.Kind)
			assert.Equal(t, tc.commission, result.Entry.CommissionAmount)
		})
	}
}

func TestResolveAffiliateRepeatOrders(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"PARTNER7": affiliateCode(7)}}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	// Партнерская комиссия начисляется и за повторные заказы
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-5", BuyerID: 100, OrderAmount: 50.0, ReferralCode: "PARTNER7", PriorOrders: 4,
	})

	assert.NoError(t, err)
	assert.True(t, result.Attributed())
	assert.Equal(t, 10.0, result.Entry.CommissionAmount)
}

func TestResolveDuplicateOrder(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"FRIEND42": customerCode(42)}}
	ledgerRepo := &fakeLedgerRepo{}
	service := newTestService(codeRepo, ledgerRepo, &fakeTierRepo{})

	event := &models.OrderEvent{OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, ReferralCode: "FRIEND42"}

	first, err := service.Resolve(context.Background(), event)
	assert.NoError(t, err)
	assert.True(t, first.Attributed())

	// Повторная доставка того же события не создает вторую запись
	second, err := service.Resolve(context.Background(), event)
	assert.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Len(t, ledgerRepo.entries, 1)
}

func TestResolveFromRecordedEntry(t *testing.T) {
	code := customerCode(42)
	codeRepo := &fakeCodeRepo{
		codes:       map[string]*models.ReferralCode{},
		latestEntry: &models.CodeEntry{ID: 1, CodeID: code.ID, BuyerID: 100, EnteredAt: time.Now().AddDate(0, 0, -10)},
		latestCode:  code,
	}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	// Код не передан на чекауте, берется ранее введенный
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, Timestamp: time.Now(),
	})

	assert.NoError(t, err)
	assert.True(t, result.Attributed())
	assert.Equal(t, int64(42), result.Entry.OwnerID)
}

func TestResolveEntryCodeDeactivatedAfterEntry(t *testing.T) {
	code := customerCode(42)
	code.Active = false

	codeRepo := &fakeCodeRepo{
		codes:       map[string]*models.ReferralCode{},
		latestEntry: &models.CodeEntry{ID: 1, CodeID: code.ID, BuyerID: 100, EnteredAt: time.Now().AddDate(0, 0, -10)},
		latestCode:  code,
	}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	// Код был действующим в момент ввода, его последующая деактивация
	// не лишает покупателя атрибуции
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, Timestamp: time.Now(),
	})

	assert.NoError(t, err)
	assert.True(t, result.Attributed())
	assert.Equal(t, int64(42), result.Entry.OwnerID)
}

func TestResolveStarterRateFromConfig(t *testing.T) {
	codeRepo := &fakeCodeRepo{codes: map[string]*models.ReferralCode{"PARTNER7": affiliateCode(7)}}
	service := NewService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{}, 5.0, 0.22, 90, zap.NewNop())

	// Для стартового уровня действует ставка из конфигурации
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 100.0, ReferralCode: "PARTNER7",
	})

	assert.NoError(t, err)
	assert.True(t, result.Attributed())
	assert.Equal(t, 22.0, result.Entry.CommissionAmount)
}

func TestResolveEntryOutsideWindow(t *testing.T) {
	code := customerCode(42)
	codeRepo := &fakeCodeRepo{
		codes:       map[string]*models.ReferralCode{},
		latestEntry: &models.CodeEntry{ID: 1, CodeID: code.ID, BuyerID: 100, EnteredAt: time.Now().AddDate(0, 0, -120)},
		latestCode:  code,
	}
	service := newTestService(codeRepo, &fakeLedgerRepo{}, &fakeTierRepo{})

	// Ввод кода старше окна атрибуции не учитывается
	result, err := service.Resolve(context.Background(), &models.OrderEvent{
		OrderID: "ord-1", BuyerID: 100, OrderAmount: 30.0, Timestamp: time.Now(),
	})

	assert.NoError(t, err)
	assert.False(t, result.Attributed())
	assert.Equal(t, models.AttributionReasonNoCode, result.Reason)
}

func TestRoundCents(t *testing.T) {
	assert.Equal(t, 8.33, roundCents(33.33*0.25))
	assert.Equal(t, 5.0, roundCents(25.0*0.2))
	assert.Equal(t, 3.33, roundCents(10.0/3.0))
}
