// internal/service/order/application/status_service.go
package application

import (
	"context"
	"time"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/pkg/metrics"
	"fooddelivery/internal/service/order/domain"
	"fooddelivery/internal/service/order/port"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 拒绝原因，写入日志和 span 事件
const (
	rejectTerminal      = "terminal_status"
	rejectNoOp          = "same_status"
	rejectUnknownStatus = "unknown_status"
	rejectRole          = "role_not_permitted"
)

// OrderStatusService 是订单状态变更的唯一入口：校验权限，原子地写入状态与审计记录。
type OrderStatusService struct {
	orders        domain.OrderRepository
	history       domain.StatusHistoryRepository
	uow           domain.UnitOfWork
	notifier      port.NotificationProducer
	tracer        trace.Tracer
	txTimeout     time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

func NewOrderStatusService(
	orders domain.OrderRepository,
	history domain.StatusHistoryRepository,
	uow domain.UnitOfWork,
	notifier port.NotificationProducer,
	tracer trace.Tracer,
	txTimeout, notifyTimeout time.Duration,
) *OrderStatusService {
	return &OrderStatusService{
		orders: orders, history: history, uow: uow,
		notifier: notifier, tracer: tracer,
		txTimeout: txTimeout, notifyTimeout: notifyTimeout,
		now: time.Now,
	}
}

// WithClock 替换时钟，测试用。
func (s *OrderStatusService) WithClock(now func() time.Time) *OrderStatusService {
	s.now = now
	return s
}

// ChangeStatus 尝试把订单改为 newStatus。
// 返回 false, nil 表示业务上被拒绝（终态、原地流转、无权限或并发冲突），
// 返回 error 表示存储层故障，此时事务已回滚。
// 成功后 order 会同步为新状态，并在提交后发送通知。
func (s *OrderStatusService) ChangeStatus(ctx context.Context, order *domain.Order, newStatus domain.Status, cc domain.ChangeContext) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "app.ChangeStatus")
	defer span.End()

	previous := order.Status
	span.SetAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.String("order.status.from", string(previous)),
		attribute.String("order.status.to", string(newStatus)),
		attribute.String("actor.role", string(cc.Role)),
	)
	log := logger.Ctx(ctx).With().
		Int64("order_id", order.ID).
		Str("from", string(previous)).
		Str("target", string(newStatus)).
		Str("role", roleLabel(cc.Role)).
		Logger()

	if reason := rejectReason(order.Status, newStatus, cc.Role); reason != "" {
		log.Warn().Str("reason", reason).Msg("Order status change rejected.")
		span.AddEvent("StatusChangeRejected", trace.WithAttributes(attribute.String("reason", reason)))
		metrics.StatusTransitions.WithLabelValues(roleLabel(cc.Role), string(newStatus), metrics.ResultRejected).Inc()
		return false, nil
	}

	at := s.now()
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.uow.WithinTransaction(txCtx, func(ctx context.Context, w domain.StatusWriter) error {
		matched, err := w.CompareAndSetStatus(ctx, order.ID, previous, newStatus, at)
		if err != nil {
			return errors.Wrap(err, "write order status")
		}
		if !matched {
			return domain.ErrStatusConflict
		}

		// 事务内回读，确认写入的就是我们期望的状态
		stored, err := w.CurrentStatus(ctx, order.ID)
		if err != nil {
			return errors.Wrap(err, "re-read order status")
		}
		if stored != newStatus {
			return domain.ErrStatusConflict
		}

		rec := domain.NewStatusHistoryRecord(order.ID, previous, newStatus, cc, at)
		return errors.Wrap(w.AppendHistory(ctx, rec), "append status history")
	})

	switch {
	case errors.Is(err, domain.ErrStatusConflict):
		log.Warn().Msg("Order status changed concurrently, transition rolled back.")
		span.AddEvent("StatusChangeConflict")
		metrics.StatusTransitions.WithLabelValues(roleLabel(cc.Role), string(newStatus), metrics.ResultConflict).Inc()
		return false, nil
	case err != nil:
		log.Error().Err(err).Msg("Order status change failed, transaction rolled back.")
		span.RecordError(err)
		span.SetStatus(codes.Error, "status change transaction failed")
		metrics.StatusTransitions.WithLabelValues(roleLabel(cc.Role), string(newStatus), metrics.ResultError).Inc()
		return false, errors.Wrapf(err, "change status of order %d", order.ID)
	}

	order.ApplyStatus(newStatus, at)
	metrics.StatusTransitions.WithLabelValues(roleLabel(cc.Role), string(newStatus), metrics.ResultCommitted).Inc()
	log.Info().Msg("Order status changed.")
	span.AddEvent("StatusChangeCommitted")

	s.publish(ctx, domain.NewStatusChangedEvent(order, previous, cc, at))
	return true, nil
}

// ChangeStatusByID 先加载订单再变更状态，供 HTTP 和 Telegram 入口使用。
func (s *OrderStatusService) ChangeStatusByID(ctx context.Context, orderID int64, newStatus domain.Status, cc domain.ChangeContext) (bool, *domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, nil, err
	}
	changed, err := s.ChangeStatus(ctx, order, newStatus, cc)
	return changed, order, err
}

// GetOrder 按 id 读取订单。
func (s *OrderStatusService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

// GetStatusHistory 返回订单的状态流转记录，最近的在前。
func (s *OrderStatusService) GetStatusHistory(ctx context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetStatusHistory")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID))

	records, err := s.history.ListByOrder(ctx, orderID, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load status history")
		return nil, errors.Wrapf(err, "load status history of order %d", orderID)
	}
	return records, nil
}

// publish 在事务提交之后投递通知。
// 使用独立的超时上下文，调用方取消请求不会中断已经提交的通知；失败只记录日志。
func (s *OrderStatusService) publish(ctx context.Context, event *domain.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(
		trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx)),
		s.notifyTimeout,
	)
	defer cancel()

	if err := s.notifier.Publish(notifyCtx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("order_id", event.OrderID).
			Str("event_id", event.EventID).
			Str("kind", string(event.Kind)).
			Msg("Failed to publish order notification.")
	}
}

func rejectReason(current, target domain.Status, role domain.Role) string {
	switch {
	case current.IsTerminal():
		return rejectTerminal
	case current == target:
		return rejectNoOp
	case !target.Valid():
		return rejectUnknownStatus
	case role != "" && !domain.CanChangeStatus(current, target, role):
		return rejectRole
	}
	return ""
}

func roleLabel(role domain.Role) string {
	if role == "" {
		return "none"
	}
	return string(role)
}
