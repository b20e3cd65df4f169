package port

import (
	"context"
)

// SweepSettings 是超时取消任务在每次运行时读取的业务配置。
type SweepSettings struct {
	PaymentTTLMinutes int
	// AutoCancelNotificationEnabled 为 true 时给顾客发送取消提醒。
	AutoCancelNotificationEnabled bool
	// AutoCancelNotificationTemplate 支持 {{orderId}} 和 {{amount}} 占位符。
	AutoCancelNotificationTemplate string
}

// SettingsProvider 是业务配置的出站端口（静态配置、settings 表或 Nacos 配置中心）。
type SettingsProvider interface {
	SweepSettings(ctx context.Context) (SweepSettings, error)
}
