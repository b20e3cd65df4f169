package adapter

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"fooddelivery/internal/pkg/bootstrap"
	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/service/order/port"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// settings 表中的键
const (
	SettingPaymentTTLMinutes  = "payment_ttl_minutes"
	SettingAutoCancelEnabled  = "notification_auto_cancel_enabled"
	SettingAutoCancelTemplate = "notification_auto_cancel_template"
)

// DefaultSweepSettings 从配置文件的 sweep 段构造设置。
func DefaultSweepSettings(cfg bootstrap.SweepConfig) port.SweepSettings {
	return port.SweepSettings{
		PaymentTTLMinutes:              cfg.PaymentTTLMinutes,
		AutoCancelNotificationEnabled:  cfg.AutoCancelEnabled,
		AutoCancelNotificationTemplate: cfg.AutoCancelTemplate,
	}
}

// StaticSettingsAdapter 始终返回启动时的配置。
type StaticSettingsAdapter struct {
	settings port.SweepSettings
}

func NewStaticSettingsAdapter(settings port.SweepSettings) *StaticSettingsAdapter {
	return &StaticSettingsAdapter{settings: settings}
}

func (a *StaticSettingsAdapter) SweepSettings(context.Context) (port.SweepSettings, error) {
	return a.settings, nil
}

// SettingsStore 由 GORM 和 pgx 仓储实现。
type SettingsStore interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// DatabaseSettingsAdapter 每次运行前读取 settings 表，缺失的键使用配置文件中的默认值。
type DatabaseSettingsAdapter struct {
	store    SettingsStore
	defaults port.SweepSettings
}

func NewDatabaseSettingsAdapter(store SettingsStore, defaults port.SweepSettings) *DatabaseSettingsAdapter {
	return &DatabaseSettingsAdapter{store: store, defaults: defaults}
}

func (a *DatabaseSettingsAdapter) SweepSettings(ctx context.Context) (port.SweepSettings, error) {
	values, err := a.store.LoadSettings(ctx)
	if err != nil {
		return port.SweepSettings{}, err
	}
	return ApplySettings(a.defaults, values)
}

// ApplySettings 把键值覆盖到 base 上。值无法解析时返回错误，不做静默降级。
func ApplySettings(base port.SweepSettings, values map[string]string) (port.SweepSettings, error) {
	out := base
	if v, ok := values[SettingPaymentTTLMinutes]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return port.SweepSettings{}, errors.Wrapf(err, "invalid %s %q", SettingPaymentTTLMinutes, v)
		}
		out.PaymentTTLMinutes = n
	}
	if v, ok := values[SettingAutoCancelEnabled]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return port.SweepSettings{}, errors.Wrapf(err, "invalid %s %q", SettingAutoCancelEnabled, v)
		}
		out.AutoCancelNotificationEnabled = b
	}
	if v, ok := values[SettingAutoCancelTemplate]; ok && v != "" {
		out.AutoCancelNotificationTemplate = v
	}
	return out, nil
}

// ConfigSource 是 Nacos 配置客户端的最小接口。
type ConfigSource interface {
	GetConfig(dataID string) (string, error)
	ListenConfig(dataID string, onChange func(content string)) error
}

// NacosSettingsAdapter 从 Nacos 配置中心读取一个 YAML 文档，并在变更时热更新。
type NacosSettingsAdapter struct {
	mu       sync.RWMutex
	current  port.SweepSettings
	defaults port.SweepSettings
}

// NewNacosSettingsAdapter 拉取当前配置并注册监听。
func NewNacosSettingsAdapter(source ConfigSource, dataID string, defaults port.SweepSettings) (*NacosSettingsAdapter, error) {
	a := &NacosSettingsAdapter{current: defaults, defaults: defaults}

	content, err := source.GetConfig(dataID)
	if err != nil {
		return nil, errors.Wrapf(err, "get nacos config %s", dataID)
	}
	if err := a.update(content); err != nil {
		return nil, err
	}
	if err := source.ListenConfig(dataID, func(content string) {
		if err := a.update(content); err != nil {
			logger.L().Error().Err(err).Str("data_id", dataID).Msg("Ignoring invalid sweep settings from Nacos")
			return
		}
		logger.L().Info().Str("data_id", dataID).Msg("Sweep settings reloaded from Nacos")
	}); err != nil {
		return nil, errors.Wrapf(err, "listen nacos config %s", dataID)
	}
	return a, nil
}

func (a *NacosSettingsAdapter) SweepSettings(context.Context) (port.SweepSettings, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current, nil
}

func (a *NacosSettingsAdapter) update(content string) error {
	values := map[string]string{}
	if strings.TrimSpace(content) != "" {
		if err := yaml.Unmarshal([]byte(content), &values); err != nil {
			return errors.Wrap(err, "parse sweep settings yaml")
		}
	}
	next, err := ApplySettings(a.defaults, values)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.current = next
	a.mu.Unlock()
	return nil
}
