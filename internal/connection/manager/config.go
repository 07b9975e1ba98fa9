package manager

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

// 默认配置。
const (
	DefaultSessionTimeout        = 30 * time.Minute
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultMaxTabsPerSession     = 10
	DefaultCleanupInterval       = 5 * time.Minute
	DefaultMaxInactiveSessionAge = 24 * time.Hour
	DefaultMaxRoomsPerSession    = 50
	DefaultRoomInactivityTimeout = time.Hour
	DefaultLogLevel              = "info"
)

// Config 描述连接管理器的运行参数。
//
// 说明：
//   - SessionTimeout 为清理任务判定会话不活跃的阈值；
//   - HeartbeatInterval 为标签页心跳周期，超过两个周期没有心跳的标签页计入 Stats.StaleTabs；
//   - MaxInactiveSessionAge 为不活跃阈值的上限，传入更大或非正的阈值时使用该值；
//   - RoomInactivityTimeout 只用于诊断，超过该时长没有活动的房间计入 Stats.IdleRooms。
type Config struct {
	SessionTimeout        time.Duration `mapstructure:"session_timeout" json:"sessionTimeout"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval" json:"heartbeatInterval"`
	MaxTabsPerSession     int           `mapstructure:"max_tabs_per_session" json:"maxTabsPerSession"`
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval" json:"cleanupInterval"`
	MaxInactiveSessionAge time.Duration `mapstructure:"max_inactive_session_age" json:"maxInactiveSessionAge"`
	MaxRoomsPerSession    int           `mapstructure:"max_rooms_per_session" json:"maxRoomsPerSession"`
	RoomInactivityTimeout time.Duration `mapstructure:"room_inactivity_timeout" json:"roomInactivityTimeout"`
	EnableMetrics         bool          `mapstructure:"enable_metrics" json:"enableMetrics"`
	LogLevel              string        `mapstructure:"log_level" json:"logLevel"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		SessionTimeout:        DefaultSessionTimeout,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		MaxTabsPerSession:     DefaultMaxTabsPerSession,
		CleanupInterval:       DefaultCleanupInterval,
		MaxInactiveSessionAge: DefaultMaxInactiveSessionAge,
		MaxRoomsPerSession:    DefaultMaxRoomsPerSession,
		RoomInactivityTimeout: DefaultRoomInactivityTimeout,
		EnableMetrics:         true,
		LogLevel:              DefaultLogLevel,
	}
}

// Validate 将零值字段填充为默认值，并拒绝负数与无法识别的日志级别。
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"session_timeout", &c.SessionTimeout, DefaultSessionTimeout},
		{"heartbeat_interval", &c.HeartbeatInterval, DefaultHeartbeatInterval},
		{"cleanup_interval", &c.CleanupInterval, DefaultCleanupInterval},
		{"max_inactive_session_age", &c.MaxInactiveSessionAge, DefaultMaxInactiveSessionAge},
		{"room_inactivity_timeout", &c.RoomInactivityTimeout, DefaultRoomInactivityTimeout},
	}
	for _, d := range durations {
		if *d.value < 0 {
			return merr.WrapErrParameterInvalidMsg("%s must be non-negative, got %s", d.name, d.value.String())
		}
		if *d.value == 0 {
			*d.value = d.def
		}
	}

	limits := []struct {
		name  string
		value *int
		def   int
	}{
		{"max_tabs_per_session", &c.MaxTabsPerSession, DefaultMaxTabsPerSession},
		{"max_rooms_per_session", &c.MaxRoomsPerSession, DefaultMaxRoomsPerSession},
	}
	for _, l := range limits {
		if *l.value < 0 {
			return merr.WrapErrParameterInvalidMsg("%s must be non-negative, got %d", l.name, *l.value)
		}
		if *l.value == 0 {
			*l.value = l.def
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return merr.WrapErrParameterInvalid("debug|info|warn|error", c.LogLevel, "log_level")
	}
	return nil
}
