// internal/service/notification/application/dispatcher.go
package application

import (
	"context"
	"encoding/json"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/metrics"
	"fooddelivery/internal/service/notification/domain"
	orderdomain "fooddelivery/internal/service/order/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 投递结果，对应 notification_deliveries_total 的 result 标签
const (
	resultSent      = "sent"
	resultFailed    = "failed"
	resultNoChat    = "no_recipient"
	resultDuplicate = "duplicate"
)

// ErrMalformedEvent 表示事件缺少必要字段，消费端会把消息转入死信队列
var ErrMalformedEvent = errors.New("malformed notification event")

// Dispatcher 把订单事件转换成发给各受众的消息。
// 投递失败只记录和计数，不重试，也不影响订单状态。
type Dispatcher struct {
	rules       domain.RuleEngine
	sender      domain.Sender
	dedup       domain.Deduplicator
	broadcaster domain.Broadcaster
	chats       map[domain.Audience][]int64
	tracer      trace.Tracer
}

func NewDispatcher(
	rules domain.RuleEngine,
	sender domain.Sender,
	dedup domain.Deduplicator,
	broadcaster domain.Broadcaster,
	chats map[domain.Audience][]int64,
	tracer trace.Tracer,
) *Dispatcher {
	return &Dispatcher{rules: rules, sender: sender, dedup: dedup, broadcaster: broadcaster, chats: chats, tracer: tracer}
}

// StaffChats 按员工角色汇总需要接收通知的 chat
func StaffChats(staff []bootstrap.StaffMember) map[domain.Audience][]int64 {
	chats := make(map[domain.Audience][]int64)
	for _, m := range staff {
		if m.ChatID == 0 {
			continue
		}
		audience := domain.Audience(m.Role)
		switch audience {
		case domain.AudienceAdmin, domain.AudienceKitchen, domain.AudienceCourier:
			chats[audience] = append(chats[audience], m.ChatID)
		}
	}
	return chats
}

// Dispatch 处理一条已解码的事件。只有事件本身不合法时返回错误。
func (d *Dispatcher) Dispatch(ctx context.Context, event *orderdomain.NotificationEvent) error {
	ctx, span := d.tracer.Start(ctx, "app.DispatchNotification")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("event.kind", string(event.Kind)),
		attribute.Int64("order.id", event.OrderID),
	)
	log := logger.Ctx(ctx).With().Str("event_id", event.EventID).Int64("order_id", event.OrderID).Logger()

	if event.EventID == "" || event.OrderID == 0 {
		span.SetStatus(codes.Error, "malformed event")
		return errors.Wrapf(ErrMalformedEvent, "event %q for order %d", event.EventID, event.OrderID)
	}

	// 去重失败时宁可重复发送也不丢消息
	if d.dedup != nil {
		first, err := d.dedup.FirstSeen(ctx, event.EventID)
		if err != nil {
			log.Warn().Err(err).Msg("Dedup check failed, delivering anyway")
		} else if !first {
			log.Info().Msg("Duplicate notification event skipped")
			metrics.NotificationDeliveries.WithLabelValues("any", resultDuplicate).Inc()
			return nil
		}
	}

	d.broadcast(ctx, event)

	switch event.Kind {
	case orderdomain.KindCustomerMessage:
		d.deliver(ctx, domain.AudienceCustomer, d.customerChats(event), event, event.Text, nil)
	case orderdomain.KindStatusChanged:
		audiences, err := d.rules.Audiences(event)
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("Routing rules failed, notification dropped")
			return nil
		}
		for _, a := range audiences {
			chats := d.chats[a]
			if a == domain.AudienceCustomer {
				if isAutoCancel(event) {
					continue
				}
				chats = d.customerChats(event)
			}
			actions := orderdomain.AllowedTargets(event.Status, a.Role())
			d.deliver(ctx, a, chats, event, RenderStatusText(a, event), actions)
		}
	default:
		span.SetStatus(codes.Error, "unknown event kind")
		return errors.Wrapf(ErrMalformedEvent, "unknown kind %q", event.Kind)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, audience domain.Audience, chats []int64, event *orderdomain.NotificationEvent, text string, actions []orderdomain.Status) {
	if len(chats) == 0 {
		metrics.NotificationDeliveries.WithLabelValues(string(audience), resultNoChat).Inc()
		return
	}
	for _, chatID := range chats {
		err := d.sender.Send(ctx, domain.OutgoingMessage{
			Audience: audience,
			ChatID:   chatID,
			OrderID:  event.OrderID,
			Text:     text,
			Actions:  actions,
		})
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("audience", string(audience)).
				Int64("chat_id", chatID).
				Int64("order_id", event.OrderID).
				Msg("Failed to deliver notification")
			metrics.NotificationDeliveries.WithLabelValues(string(audience), resultFailed).Inc()
			continue
		}
		metrics.NotificationDeliveries.WithLabelValues(string(audience), resultSent).Inc()
	}
}

// isAutoCancel 超时取消由清理任务单独发 customer_message，
// 是否通知顾客只由 notificationAutoCancelEnabled 决定。
func isAutoCancel(event *orderdomain.NotificationEvent) bool {
	return event.ActorRole == orderdomain.RoleSystem && event.Status == orderdomain.StatusCancelled
}

func (d *Dispatcher) customerChats(event *orderdomain.NotificationEvent) []int64 {
	if event.CustomerChatID == nil {
		return nil
	}
	return []int64{*event.CustomerChatID}
}

func (d *Dispatcher) broadcast(ctx context.Context, event *orderdomain.NotificationEvent) {
	if d.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to encode event for dashboard push")
		return
	}
	d.broadcaster.Broadcast(payload)
}
