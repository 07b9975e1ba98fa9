package gateway

import (
	"time"
)

// Config 描述 WebSocket 接入层的配置。
//
// 说明：
//   - SendQueueSize 控制每个连接的发送缓冲队列大小，队列已满时丢弃消息；
//   - WriteTimeout 控制单次写入的超时时间；
//   - Path 为 WebSocket 的升级路径（如 "/ws"）；
//   - AllowedOrigins 为空时接受任意 Origin。
type Config struct {
	Path           string        `mapstructure:"path"`
	SendQueueSize  int           `mapstructure:"send_queue_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Path:          "/ws",
		SendQueueSize: 256,
		WriteTimeout:  10 * time.Second,
		ReadLimit:     64 * 1024,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
}
