package codes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// codeAlphabet исключает похожие символы (0/O, 1/I/L), коды вводятся руками на чекауте
const (
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength     = 8
	maxGenAttempts = 10
)

// Service представляет сервис для работы с реферальными кодами
type Service struct {
	codeRepo CodeRepository
	logger   *zap.Logger
}

// CodeRepository интерфейс для работы с кодами
type CodeRepository interface {
	CreateCode(ctx context.Context, code *models.ReferralCode) error
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetActiveByOwner(ctx context.Context, ownerID int64, kind string) (*models.ReferralCode, error)
	Deactivate(ctx context.Context, codeID int64) error
	CreateEntry(ctx context.Context, entry *models.CodeEntry) error
}

// NewService создает новый сервис реферальных кодов
func NewService(codeRepo CodeRepository, logger *zap.Logger) *Service {
	return &Service{
		codeRepo: codeRepo,
		logger:   logger,
	}
}

// IssueCode выдает владельцу код заданного типа.
// Операция идемпотентна: если активный код уже существует, возвращается он же.
func (s *Service) IssueCode(ctx context.Context, ownerID int64, kind models.CodeKind) (*models.ReferralCode, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("неизвестный тип кода: %s", kind)
	}

	existing, err := s.codeRepo.GetActiveByOwner(ctx, ownerID, string(kind))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrCodeNotFound) {
		return nil, fmt.Errorf("ошибка поиска существующего кода: %w", err)
	}

	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		value, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации кода: %w", err)
		}

		code := &models.ReferralCode{
			Code:      value,
			OwnerID:   ownerID,
			Kind:      string(kind),
			Active:    true,
			CreatedAt: time.Now(),
		}

		if err := s.codeRepo.CreateCode(ctx, code); err != nil {
			if errors.Is(err, models.ErrCodeConflict) {
				continue
			}
			return nil, fmt.Errorf("ошибка создания кода: %w", err)
		}

		s.logger.Info("код выдан",
			zap.Int64("owner_id", ownerID),
			zap.String("kind", string(kind)),
			zap.String("code", value))

		return code, nil
	}

	return nil, fmt.Errorf("не удалось сгенерировать уникальный код за %d попыток", maxGenAttempts)
}

// GetCode получает активный код владельца заданного типа
func (s *Service) GetCode(ctx context.Context, ownerID int64, kind models.CodeKind) (*models.ReferralCode, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("неизвестный тип кода: %s", kind)
	}
	return s.codeRepo.GetActiveByOwner(ctx, ownerID, string(kind))
}

// ResolveCode находит код по его значению без учета регистра.
// Возвращает models.ErrInvalidCode для деактивированного кода.
func (s *Service) ResolveCode(ctx context.Context, value string) (*models.ReferralCode, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, models.ErrCodeNotFound
	}

	code, err := s.codeRepo.GetByCode(ctx, value)
	if err != nil {
		return nil, err
	}

	if !code.Active {
		return nil, models.ErrInvalidCode
	}

	return code, nil
}

// Deactivate отключает код. Записи леджера, созданные по коду, не затрагиваются.
func (s *Service) Deactivate(ctx context.Context, codeID int64) error {
	if err := s.codeRepo.Deactivate(ctx, codeID); err != nil {
		return err
	}

	s.logger.Info("код деактивирован", zap.Int64("code_id", codeID))
	return nil
}

// RecordEntry фиксирует ввод кода покупателем. От этого момента
// отсчитывается окно атрибуции, независимо от даты будущего заказа.
func (s *Service) RecordEntry(ctx context.Context, value string, buyerID int64) (*models.CodeEntry, error) {
	code, err := s.ResolveCode(ctx, value)
	if err != nil {
		return nil, err
	}

	entry := &models.CodeEntry{
		CodeID:    code.ID,
		BuyerID:   buyerID,
		EnteredAt: time.Now(),
	}

	if err := s.codeRepo.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("ошибка сохранения ввода кода: %w", err)
	}

	s.logger.Info("ввод кода зафиксирован",
		zap.Int64("buyer_id", buyerID),
		zap.Int64("code_id", code.ID))

	return entry, nil
}

func generateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
