package infrastructure

import (
	"context"
	"time"

	"fooddelivery/internal/service/order/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormOrderRepository 是 OrderRepository、StatusHistoryRepository 和 UnitOfWork 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindExpiredUnpaid(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", string(domain.PaymentPending)).
		Where("status NOT IN ?", terminalStatuses).
		Where("created_at <= ?", cutoff).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find expired unpaid orders")
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, toDomainOrder(&models[i]))
	}
	return orders, nil
}

func (r *GormOrderRepository) ListByOrder(ctx context.Context, orderID int64, filter domain.HistoryFilter) ([]*domain.StatusHistoryRecord, error) {
	q := r.db.WithContext(ctx).Where("order_id = ?", orderID)
	if filter.Role != "" {
		q = q.Where("actor_role = ?", string(filter.Role))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []StatusHistoryModel
	if err := q.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "list status history of order %d", orderID)
	}

	records := make([]*domain.StatusHistoryRecord, 0, len(models))
	for i := range models {
		records = append(records, toDomainHistory(&models[i]))
	}
	return records, nil
}

// WithinTransaction 在一个数据库事务中执行 fn，fn 返回错误时回滚
func (r *GormOrderRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, w domain.StatusWriter) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormStatusWriter{db: tx})
	})
	if isLockContention(err) {
		return errors.Wrap(err, "transaction aborted by lock contention")
	}
	return err
}

// LoadSettings 读取 settings 表的全部键值。
func (r *GormOrderRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	var models []SettingModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	out := make(map[string]string, len(models))
	for _, m := range models {
		out[m.Key] = m.Value
	}
	return out, nil
}

type gormStatusWriter struct {
	db *gorm.DB
}

func (w *gormStatusWriter) CompareAndSetStatus(ctx context.Context, orderID int64, expected, next domain.Status, at time.Time) (bool, error) {
	res := w.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", orderID, string(expected)).
		Updates(map[string]interface{}{
			"status":     string(next),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (w *gormStatusWriter) CurrentStatus(ctx context.Context, orderID int64) (domain.Status, error) {
	var model OrderModel
	err := w.db.WithContext(ctx).Select("status").Where("id = ?", orderID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrOrderNotFound
		}
		return "", err
	}
	return domain.Status(model.Status), nil
}

func (w *gormStatusWriter) AppendHistory(ctx context.Context, rec *domain.StatusHistoryRecord) error {
	model := fromDomainHistory(rec)
	if err := w.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	rec.ID = model.ID
	return nil
}
