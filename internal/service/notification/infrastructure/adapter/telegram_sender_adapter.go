package adapter

import (
	"context"

	"fooddelivery/internal/pkg/telegram"
	"fooddelivery/internal/service/notification/domain"
	orderdomain "fooddelivery/internal/service/order/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Messenger 是 tgbotapi.BotAPI 中发送消息的那部分
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender 把 OutgoingMessage 发到 Telegram，有可选动作时附带内联按钮
type TelegramSender struct {
	bot Messenger
}

func NewTelegramSender(bot Messenger) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if len(msg.Actions) > 0 {
		targets := make([]string, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			targets = append(targets, string(a))
		}
		out.ReplyMarkup = telegram.StatusKeyboard(msg.OrderID, targets, actionLabel)
	}
	if _, err := s.bot.Send(out); err != nil {
		return errors.Wrapf(err, "send telegram message to chat %d", msg.ChatID)
	}
	return nil
}

func actionLabel(status string) string {
	return orderdomain.Status(status).ActionLabel()
}
