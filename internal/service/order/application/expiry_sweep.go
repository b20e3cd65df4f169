// internal/service/order/application/expiry_sweep.go
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

const (
	AutoCancelComment = "payment not received in time"
	autoCancelReason  = "payment_ttl_expired"
)

// StatusChanger 是超时取消任务依赖的状态变更能力，由 OrderStatusService 实现。
type StatusChanger interface {
	ChangeStatus(ctx context.Context, order *domain.Order, newStatus domain.Status, cc domain.ChangeContext) (bool, error)
}

// SweepReport 汇总一次运行的结果。
type SweepReport struct {
	Found     int `json:"found"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// CancelUnpaidOrders 把超过支付时限仍未支付的订单取消，并按配置提醒顾客。
type CancelUnpaidOrders struct {
	orders        domain.OrderRepository
	changer       StatusChanger
	notifier      port.NotificationProducer
	tracer        trace.Tracer
	batchSize     int
	queryTimeout  time.Duration
	notifyTimeout time.Duration
}

func NewCancelUnpaidOrders(
	orders domain.OrderRepository,
	changer StatusChanger,
	notifier port.NotificationProducer,
	tracer trace.Tracer,
	batchSize int,
	queryTimeout time.Duration,
	notifyTimeout time.Duration,
) *CancelUnpaidOrders {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CancelUnpaidOrders{
		orders: orders, changer: changer, notifier: notifier, tracer: tracer,
		batchSize: batchSize, queryTimeout: queryTimeout, notifyTimeout: notifyTimeout,
	}
}

// Run 执行一次清理。settings 在调用时注入，now 是判断超时的基准时间。
// 单个订单失败只计数，不会中断本次运行；查询失败直接返回错误。
func (c *CancelUnpaidOrders) Run(ctx context.Context, now time.Time, settings port.SweepSettings) (SweepReport, error) {
	ctx, span := c.tracer.Start(ctx, "app.CancelUnpaidOrders")
	defer span.End()

	var report SweepReport
	if settings.PaymentTTLMinutes <= 0 {
		logger.Ctx(ctx).Warn().Int("payment_ttl_minutes", settings.PaymentTTLMinutes).
			Msg("Payment TTL is not positive, unpaid order sweep skipped.")
		return report, nil
	}

	cutoff := now.Add(-time.Duration(settings.PaymentTTLMinutes) * time.Minute)
	span.SetAttributes(
		attribute.Int("sweep.payment_ttl_minutes", settings.PaymentTTLMinutes),
		attribute.String("sweep.cutoff", cutoff.Format(time.DateTime)),
	)

	var afterID int64
	for {
		batch, err := c.findPage(ctx, cutoff, afterID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to query expired unpaid orders")
			return report, errors.Wrap(err, "query expired unpaid orders")
		}

		for _, order := range batch {
			if err := ctx.Err(); err != nil {
				return report, errors.Wrap(err, "unpaid order sweep interrupted")
			}
			afterID = order.ID
			report.Found++
			if c.cancelOne(ctx, now, order, settings) {
				report.Cancelled++
				metrics.SweepOrders.WithLabelValues("cancelled").Inc()
			} else {
				report.Failed++
				metrics.SweepOrders.WithLabelValues("failed").Inc()
			}
		}

		if len(batch) < c.batchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.found", report.Found),
		attribute.Int("sweep.cancelled", report.Cancelled),
		attribute.Int("sweep.failed", report.Failed),
	)
	logger.Ctx(ctx).Info().
		Int("found", report.Found).
		Int("cancelled", report.Cancelled).
		Int("failed", report.Failed).
		Time("cutoff", cutoff).
		Msg("Unpaid order sweep finished.")
	return report, nil
}

// findPage 每页查询单独限时
func (c *CancelUnpaidOrders) findPage(ctx context.Context, cutoff time.Time, afterID int64) ([]*domain.Order, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}
	return c.orders.FindExpiredUnpaid(ctx, cutoff, afterID, c.batchSize)
}

func (c *CancelUnpaidOrders) cancelOne(ctx context.Context, now time.Time, order *domain.Order, settings port.SweepSettings) bool {
	cc := domain.ChangeContext{
		Role:    domain.RoleSystem,
		Comment: AutoCancelComment,
		Metadata: map[string]any{
			"reason":      autoCancelReason,
			"ttl_minutes": settings.PaymentTTLMinutes,
		},
	}

	changed, err := c.changer.ChangeStatus(ctx, order, domain.StatusCancelled, cc)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("Failed to cancel unpaid order.")
		return false
	}
	if !changed {
		logger.Ctx(ctx).Warn().Int64("order_id", order.ID).Str("status", string(order.Status)).
			Msg("Unpaid order was not cancelled.")
		return false
	}

	if settings.AutoCancelNotificationEnabled {
		c.notifyCustomer(ctx, now, order, settings.AutoCancelNotificationTemplate)
	}
	return true
}

func (c *CancelUnpaidOrders) notifyCustomer(ctx context.Context, now time.Time, order *domain.Order, tpl string) {
	if c.notifier == nil {
		return
	}
	if order.CustomerChatID == nil {
		logger.Ctx(ctx).Debug().Int64("order_id", order.ID).Msg("Order has no customer chat, auto-cancel message skipped.")
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, c.notifyTimeout)
	defer cancel()

	event := domain.NewCustomerMessageEvent(order, RenderAutoCancelMessage(tpl, order), now)
	if err := c.notifier.Publish(notifyCtx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("Failed to publish auto-cancel message.")
	}
}
