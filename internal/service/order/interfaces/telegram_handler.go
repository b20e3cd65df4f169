package interfaces

import (
	"context"
	"time"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/telegram"
	"fooddelivery/internal/service/order/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// 回调应答文案
const (
	AnswerUpdated    = "Status updated"
	AnswerNotAllowed = "This action is not allowed right now"
	AnswerRetry      = "Please retry"
	AnswerInvalid    = "Invalid action"
)

const callbackTimeout = 10 * time.Second

// BotAPI 是 *tgbotapi.BotAPI 中用到的部分
type BotAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramCallbackHandler 处理员工和顾客点击的订单状态按钮
type TelegramCallbackHandler struct {
	bot         BotAPI
	service     StatusService
	tracer      trace.Tracer
	staff       map[int64]domain.Role // telegram user id -> role
	pollTimeout int
}

func NewTelegramCallbackHandler(bot BotAPI, service StatusService, tracer trace.Tracer, cfg bootstrap.TelegramConfig) *TelegramCallbackHandler {
	staff := make(map[int64]domain.Role, len(cfg.Staff))
	for _, m := range cfg.Staff {
		if role := domain.Role(m.Role); role.Valid() {
			staff[m.UserID] = role
		}
	}
	return &TelegramCallbackHandler{bot: bot, service: service, tracer: tracer, staff: staff, pollTimeout: cfg.PollTimeout}
}

// Start 长轮询拉取更新，直到 ctx 取消
func (h *TelegramCallbackHandler) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = h.pollTimeout
	updates := h.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery == nil {
				continue
			}
			h.handleCallback(ctx, update.CallbackQuery)
		}
	}
}

func (h *TelegramCallbackHandler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	answer, order := h.HandleCallback(ctx, cq)
	if _, err := h.bot.Request(tgbotapi.NewCallback(cq.ID, answer)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("callback_id", cq.ID).Msg("Failed to answer callback query")
	}

	// 成功后按新状态刷新原消息上的按钮
	if order == nil || cq.Message == nil {
		return
	}
	role := h.roleOf(cq.From, order)
	targets := make([]string, 0)
	for _, t := range domain.AllowedTargets(order.Status, role) {
		targets = append(targets, string(t))
	}
	kb := telegram.StatusKeyboard(order.ID, targets, StatusLabel)
	edit := tgbotapi.NewEditMessageReplyMarkup(cq.Message.Chat.ID, cq.Message.MessageID, kb)
	if _, err := h.bot.Request(edit); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("order_id", order.ID).Msg("Failed to refresh status keyboard")
	}
}

// HandleCallback 执行按钮对应的状态变更，返回应答文案；变更成功时同时返回更新后的订单
func (h *TelegramCallbackHandler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) (string, *domain.Order) {
	ctx, span := h.tracer.Start(ctx, "telegram.OrderStatusCallback")
	defer span.End()

	orderID, status, ok := telegram.ParseCallbackData(cq.Data)
	if !ok || cq.From == nil {
		return AnswerInvalid, nil
	}
	span.SetAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status.to", status),
		attribute.Int64("telegram.user_id", cq.From.ID),
	)
	log := logger.Ctx(ctx).With().Int64("order_id", orderID).Str("target", status).Int64("tg_user_id", cq.From.ID).Logger()

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return AnswerInvalid, nil
		}
		log.Error().Err(err).Msg("Failed to load order for callback")
		return AnswerRetry, nil
	}

	role := h.roleOf(cq.From, order)
	if role == "" {
		log.Warn().Msg("Callback from unknown telegram user")
		return AnswerNotAllowed, nil
	}

	botUserID := cq.From.ID
	changed, updated, err := h.service.ChangeStatusByID(ctx, orderID, domain.Status(status), domain.ChangeContext{
		Role:           role,
		ActorBotUserID: &botUserID,
		Metadata:       map[string]any{"source": "telegram"},
	})
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Status change from telegram failed")
		return AnswerRetry, nil
	case !changed:
		return AnswerNotAllowed, nil
	}
	return AnswerUpdated, updated
}

// roleOf 员工按配置的名册识别；顾客只能操作自己的订单。
// 私聊中 chat id 与 user id 相同，因此用订单上的顾客 chat 比对。
func (h *TelegramCallbackHandler) roleOf(from *tgbotapi.User, order *domain.Order) domain.Role {
	if from == nil {
		return ""
	}
	if role, ok := h.staff[from.ID]; ok {
		return role
	}
	if order.CustomerChatID != nil && *order.CustomerChatID == from.ID {
		return domain.RoleUser
	}
	return ""
}

// StatusLabel 返回按钮上显示的文字
func StatusLabel(status string) string {
	return domain.Status(status).ActionLabel()
}
