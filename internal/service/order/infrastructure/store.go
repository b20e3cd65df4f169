package infrastructure

import (
	"context"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/service/order/domain"

	"github.com/pkg/errors"
)

// Store 汇总了订单服务需要的全部持久化能力，GORM 和 pgx 两种实现都满足它。
type Store interface {
	domain.OrderRepository
	domain.StatusHistoryRepository
	domain.UnitOfWork
	LoadSettings(ctx context.Context) (map[string]string, error)
}

var (
	_ Store = (*GormOrderRepository)(nil)
	_ Store = (*PgxOrderRepository)(nil)
)

// OpenStore 按 database.driver 打开对应的存储，返回的 close 函数释放连接池。
func OpenStore(ctx context.Context, cfg bootstrap.DatabaseConfig) (Store, func() error, error) {
	switch cfg.Driver {
	case "mysql":
		db, err := NewGormDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, errors.Wrap(err, "get sql.DB from gorm")
		}
		return NewGormOrderRepository(db), sqlDB.Close, nil
	case "postgres":
		pool, err := NewPgxPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewPgxOrderRepository(pool), func() error { pool.Close(); return nil }, nil
	}
	return nil, nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
}
