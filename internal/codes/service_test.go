package codes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// fakeCodeRepo хранит коды в памяти
type fakeCodeRepo struct {
	codes   map[string]*models.ReferralCode
	entries []*models.CodeEntry
	nextID  int64
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: make(map[string]*models.ReferralCode)}
}

func (f *fakeCodeRepo) CreateCode(ctx context.Context, code *models.ReferralCode) error {
	key := strings.ToUpper(code.Code)
	if _, ok := f.codes[key]; ok {
		return models.ErrCodeConflict
	}
	f.nextID++
	code.ID = f.nextID
	f.codes[key] = code
	return nil
}

func (f *fakeCodeRepo) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	rc, ok := f.codes[strings.ToUpper(code)]
	if !ok {
		return nil, models.ErrCodeNotFound
	}
	return rc, nil
}

func (f *fakeCodeRepo) GetActiveByOwner(ctx context.Context, ownerID int64, kind string) (*models.ReferralCode, error) {
	for _, rc := range f.codes {
		if rc.OwnerID == ownerID && rc.Kind == kind && rc.Active {
			return rc, nil
		}
	}
	return nil, models.ErrCodeNotFound
}

func (f *fakeCodeRepo) Deactivate(ctx context.Context, codeID int64) error {
	for _, rc := range f.codes {
		if rc.ID == codeID {
			rc.Active = false
			return nil
		}
	}
	return models.ErrCodeNotFound
}

func (f *fakeCodeRepo) CreateEntry(ctx context.Context, entry *models.CodeEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestIssueCode(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	code, err := service.IssueCode(ctx, 42, models.CodeKindCustomerReferral)
	assert.NoError(t, err)
	assert.NotNil(t, code)
	assert.Equal(t, int64(42), code.OwnerID)
	assert.True(t, code.Active)
	assert.Len(t, code.Code, codeLength)

	// Каждый символ кода должен быть из рабочего алфавита
	for _, ch := range code.Code {
		assert.Contains(t, codeAlphabet, string(ch))
	}
}

func TestIssueCodeIdempotent(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	first, err := service.IssueCode(ctx, 42, models.CodeKindAffiliate)
	assert.NoError(t, err)

	// Повторная выдача возвращает тот же код
	second, err := service.IssueCode(ctx, 42, models.CodeKindAffiliate)
	assert.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)
	assert.Len(t, repo.codes, 1)
}

func TestIssueCodeKindsIndependent(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	customer, err := service.IssueCode(ctx, 42, models.CodeKindCustomerReferral)
	assert.NoError(t, err)

	affiliate, err := service.IssueCode(ctx, 42, models.CodeKindAffiliate)
	assert.NoError(t, err)

	// У владельца могут быть оба типа кодов одновременно
	assert.NotEqual(t, customer.Code, affiliate.Code)
	assert.Len(t, repo.codes, 2)
}

func TestIssueCodeUnknownKind(t *testing.T) {
	service := NewService(newFakeCodeRepo(), zap.NewNop())

	_, err := service.IssueCode(context.Background(), 42, models.CodeKind("bogus"))
	assert.Error(t, err)
}

func TestResolveCode(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, 42, models.CodeKindCustomerReferral)
	assert.NoError(t, err)

	// Регистр не важен
	resolved, err := service.ResolveCode(ctx, strings.ToLower(issued.Code))
	assert.NoError(t, err)
	assert.Equal(t, issued.ID, resolved.ID)
}

func TestResolveCodeNotFound(t *testing.T) {
	service := NewService(newFakeCodeRepo(), zap.NewNop())

	_, err := service.ResolveCode(context.Background(), "NOSUCH99")
	assert.ErrorIs(t, err, models.ErrCodeNotFound)

	_, err = service.ResolveCode(context.Background(), "   ")
	assert.ErrorIs(t, err, models.ErrCodeNotFound)
}

func TestResolveCodeDeactivated(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, 42, models.CodeKindCustomerReferral)
	assert.NoError(t, err)

	assert.NoError(t, service.Deactivate(ctx, issued.ID))

	_, err = service.ResolveCode(ctx, issued.Code)
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestRecordEntry(t *testing.T) {
	repo := newFakeCodeRepo()
	service := NewService(repo, zap.NewNop())
	ctx := context.Background()

	issued, err := service.IssueCode(ctx, 42, models.CodeKindCustomerReferral)
	assert.NoError(t, err)

	entry, err := service.RecordEntry(ctx, issued.Code, 100)
	assert.NoError(t, err)
	assert.Equal(t, issued.ID, entry.CodeID)
	assert.Equal(t, int64(100), entry.BuyerID)
	assert.False(t, entry.EnteredAt.IsZero())
}

func TestRecordEntryInvalidCode(t *testing.T) {
	service := NewService(newFakeCodeRepo(), zap.NewNop())

	_, err := service.RecordEntry(context.Background(), "NOSUCH99", 100)
	assert.ErrorIs(t, err, models.ErrCodeNotFound)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := generateCode()
		assert.NoError(t, err)
		assert.Len(t, code, codeLength)
		seen[code] = true
	}

	// Коллизии на 100 генерациях практически исключены
	assert.Greater(t, len(seen), 95)
}
