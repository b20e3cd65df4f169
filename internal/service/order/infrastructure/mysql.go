package infrastructure

import (
	"fmt"
	"time"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MySQLDSN 根据配置生成 DSN；配置了 dsn 时直接使用。
func MySQLDSN(cfg bootstrap.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// NewGormDB 打开 MySQL 连接池，并按需自动建表。
func NewGormDB(cfg bootstrap.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(MySQLDSN(cfg)), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB from gorm")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&OrderModel{}, &StatusHistoryModel{}, &SettingModel{}); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
		logger.L().Info().Msg("✅ MySQL schema migrated.")
	}
	return db, nil
}

// isLockContention 判断是否为死锁或锁等待超时，这类错误调用方可以重试。
func isLockContention(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}
