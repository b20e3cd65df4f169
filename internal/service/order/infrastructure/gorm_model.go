package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表，只映射履约相关的列
type OrderModel struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	DisplayID      string          `gorm:"size:32;uniqueIndex"`
	UserID         *int64          `gorm:"index"`
	CustomerChatID *int64
	Status         string          `gorm:"size:32;index:idx_orders_payment_status_created,priority:2"`
	PaymentStatus  string          `gorm:"size:16;index:idx_orders_payment_status_created,priority:1"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2)"`
	CreatedAt      time.Time       `gorm:"index:idx_orders_payment_status_created,priority:3"`
	UpdatedAt      time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// StatusHistoryModel 对应 order_status_history 表，只插入不更新
type StatusHistoryModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	OrderID        int64          `gorm:"not null;index:idx_history_order_created,priority:1"`
	Status         string         `gorm:"size:32;not null"`
	PreviousStatus string         `gorm:"size:32;not null"`
	ActorRole      string         `gorm:"size:16;index"`
	ActorUserID    *int64
	ActorBotUserID *int64
	Comment        string         `gorm:"size:500"`
	Metadata       map[string]any `gorm:"serializer:json;type:json"`
	CreatedAt      time.Time      `gorm:"index:idx_history_order_created,priority:2"`
}

func (StatusHistoryModel) TableName() string {
	return "order_status_history"
}

// SettingModel 是后台可编辑的键值配置
type SettingModel struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (SettingModel) TableName() string {
	return "settings"
}
