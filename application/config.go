package application

import (
	"time"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/gateway"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/manager"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
	zviper "github.com/lk2023060901/danmu-garden-connhub/pkg/util/viper"
)

const envPrefix = "CONNHUB"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	StatsPath       string        `mapstructure:"stats_path"`
	HealthPath      string        `mapstructure:"health_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AuditPoolSize   int           `mapstructure:"audit_pool_size"`
}

// Config is the full service configuration.
//
// Example:
//
//	connhub:
//	  session_timeout: 30m
//	  max_tabs_per_session: 10
//	gateway:
//	  path: /ws
//	server:
//	  addr: :8080
type Config struct {
	ConnHub manager.Config `mapstructure:"connhub"`
	Gateway gateway.Config `mapstructure:"gateway"`
	Server  ServerConfig   `mapstructure:"server"`
}

// registerDefaults registers every known key so that CONNHUB_* env vars can
// override it even when the config file does not mention the key.
func registerDefaults(cfg *zviper.Config) {
	hub := manager.DefaultConfig()
	gw := gateway.DefaultConfig()
	cfg.SetDefaults(map[string]any{
		"connhub.session_timeout":          hub.SessionTimeout,
		"connhub.heartbeat_interval":       hub.HeartbeatInterval,
		"connhub.max_tabs_per_session":     hub.MaxTabsPerSession,
		"connhub.cleanup_interval":         hub.CleanupInterval,
		"connhub.max_inactive_session_age": hub.MaxInactiveSessionAge,
		"connhub.max_rooms_per_session":    hub.MaxRoomsPerSession,
		"connhub.room_inactivity_timeout":  hub.RoomInactivityTimeout,
		"connhub.enable_metrics":           hub.EnableMetrics,
		"connhub.log_level":                hub.LogLevel,

		"gateway.path":            gw.Path,
		"gateway.send_queue_size": gw.SendQueueSize,
		"gateway.write_timeout":   gw.WriteTimeout,
		"gateway.read_limit":      gw.ReadLimit,
		"gateway.allowed_origins": []string{},

		"server.addr":             ":8080",
		"server.metrics_path":     "/metrics",
		"server.stats_path":       "/stats",
		"server.health_path":      "/healthz",
		"server.shutdown_timeout": 10 * time.Second,
		"server.audit_pool_size":  4,
	})
}

// decodeConfig unmarshals the loaded configuration and validates it.
func decodeConfig(cfg *zviper.Config) (*Config, error) {
	conf := &Config{}
	if err := cfg.Unmarshal(conf); err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("malformed configuration: %s", err.Error())
	}
	if err := conf.ConnHub.Validate(); err != nil {
		return nil, err
	}
	if conf.Server.Addr == "" {
		return nil, merr.WrapErrParameterMissing("server.addr")
	}
	if conf.Server.ShutdownTimeout <= 0 {
		return nil, merr.WrapErrParameterInvalidMsg("server.shutdown_timeout must be positive")
	}
	if conf.Server.AuditPoolSize <= 0 {
		return nil, merr.WrapErrParameterInvalidMsg("server.audit_pool_size must be positive")
	}
	return conf, nil
}
