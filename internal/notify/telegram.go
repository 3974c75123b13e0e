package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// TelegramNotifier отправляет оповещения операторам в Telegram-чат
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier создает новый Telegram-нотификатор
func NewTelegramNotifier(botToken string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram бота: %w", err)
	}

	logger.Info("Telegram-нотификатор запущен",
		zap.String("bot_username", bot.Self.UserName),
		zap.Int64("chat_id", chatID))

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// PayoutRejected оповещает операторов об отклоненной выплате.
// Отказ доставки не влияет на обработку выплаты.
func (n *TelegramNotifier) PayoutRejected(ctx context.Context, req *models.PayoutRequest, reason string) {
	text := fmt.Sprintf(
		"❌ Выплата #%d отклонена\n\nВладелец: %d\nСумма: %.2f\nСпособ: %s\nПричина: %s",
		req.ID, req.OwnerID, req.Amount, req.Method, reason,
	)

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("ошибка отправки оповещения",
			zap.Int64("payout_id", req.ID),
			zap.Error(err))
	}
}

// NoopNotifier используется, когда Telegram-оповещения не настроены
type NoopNotifier struct{}

// PayoutRejected ничего не делает
func (NoopNotifier) PayoutRejected(ctx context.Context, req *models.PayoutRequest, reason string) {}
