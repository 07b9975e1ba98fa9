// Package idgen 生成会话与标签页标识。
// 唯一的约束是进程生命周期内全局不重复。
package idgen

import (
	"github.com/google/uuid"
)

const (
	SessionPrefix = "sess_"
	TabPrefix     = "tab_"
)

// Generator 生成会话与标签页 ID。
type Generator interface {
	SessionID() string
	TabID() string
}

type uuidGenerator struct{}

// New 返回基于随机 UUID(v4) 的生成器。
func New() Generator {
	return uuidGenerator{}
}

func (uuidGenerator) SessionID() string {
	return SessionPrefix + uuid.NewString()
}

func (uuidGenerator) TabID() string {
	return TabPrefix + uuid.NewString()
}
