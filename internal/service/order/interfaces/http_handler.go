package interfaces

import (
	"context"
	"net/http"
	"strconv"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/service/order/application"
	"fooddelivery/internal/service/order/domain"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusService 是 HTTP 和 Telegram 入口依赖的应用服务能力
type StatusService interface {
	ChangeStatusByID(ctx context.Context, orderID int64, newStatus domain.Status, cc domain.ChangeContext) (bool, *domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	GetStatusHistory(ctx context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error)
}

// OrderHandler 封装了订单状态管理接口
type OrderHandler struct {
	service StatusService
	tracer  trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service StatusService, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{service: service, tracer: tracer}
}

// RegisterValidators 注册请求体里用到的自定义校验规则，进程启动时调用一次
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
		return domain.Status(fl.Field().String()).Valid()
	})
}

// RegisterRoutes 在 gin 路由上注册所有接口，auth 作用于整个 /api 分组
func (h *OrderHandler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	api := r.Group("/api", h.traceMiddleware(), auth)
	api.POST("/orders/:id/status", h.changeStatus)
	api.GET("/orders/:id/history", h.history)
	api.GET("/orders/:id/transitions", h.transitions)
}

// traceMiddleware 从请求头恢复上游链路并为每个请求开启一个 server span
func (h *OrderHandler) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := h.tracer.Start(ctx, "http."+c.FullPath(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func (h *OrderHandler) changeStatus(c *gin.Context) {
	ctx := c.Request.Context()
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req application.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	actor := actorFrom(c)
	if actor.Role == domain.RoleUser {
		current, err := h.service.GetOrder(ctx, orderID)
		if err != nil {
			h.writeLookupError(c, orderID, err)
			return
		}
		if !actor.ownsOrder(current) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not_order_owner"})
			return
		}
	}

	changed, order, err := h.service.ChangeStatusByID(ctx, orderID, domain.Status(req.Status), domain.ChangeContext{
		Role:        actor.Role,
		ActorUserID: actor.UserID,
		Comment:     req.Comment,
		Metadata:    req.Metadata,
	})
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	case err != nil:
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", orderID).Msg("Status change failed, client should retry")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retry"})
		return
	case !changed:
		c.JSON(http.StatusConflict, gin.H{"error": "transition_not_allowed", "status": order.Status})
		return
	}

	c.JSON(http.StatusOK, application.ChangeStatusResponse{OrderID: order.ID, Changed: true, Status: order.Status})
}

func (h *OrderHandler) history(c *gin.Context) {
	ctx := c.Request.Context()
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var q application.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "detail": err.Error()})
		return
	}

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		h.writeLookupError(c, orderID, err)
		return
	}
	if !actorFrom(c).ownsOrder(order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_order_owner"})
		return
	}
	records, err := h.service.GetStatusHistory(ctx, orderID, q.Filter())
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", orderID).Msg("Failed to load status history")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": orderID, "items": application.ToHistoryItems(records)})
}

func (h *OrderHandler) transitions(c *gin.Context) {
	ctx := c.Request.Context()
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		h.writeLookupError(c, orderID, err)
		return
	}
	actor := actorFrom(c)
	if !actor.ownsOrder(order) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_order_owner"})
		return
	}
	role := actor.Role
	c.JSON(http.StatusOK, gin.H{
		"orderId": order.ID,
		"status":  order.Status,
		"role":    role,
		"targets": domain.AllowedTargets(order.Status, role),
	})
}

func (h *OrderHandler) writeLookupError(c *gin.Context, orderID int64, err error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	logger.Ctx(c.Request.Context()).Error().Err(err).Int64("order_id", orderID).Msg("Failed to load order")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retry"})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order_id"})
		return 0, false
	}
	return id, true
}
