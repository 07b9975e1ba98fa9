// Package event 定义连接管理的状态变更事件，以及同步扇出给观察者的通知器。
package event

import (
	"time"
)

// Kind 为事件类型。
type Kind string

const (
	KindSessionCreated    Kind = "SESSION_CREATED"
	KindSessionDestroyed  Kind = "SESSION_DESTROYED"
	KindLeaderChanged     Kind = "LEADER_CHANGED"
	KindTabAdded          Kind = "TAB_ADDED"
	KindTabRemoved        Kind = "TAB_REMOVED"
	KindRoomSessionJoined Kind = "ROOM_SESSION_JOINED"
	KindRoomSessionLeft   Kind = "ROOM_SESSION_LEFT"
)

// 常用的 Payload key。
const (
	PayloadPreviousLeader = "previousLeader"
	PayloadNewLeader      = "newLeader"
	PayloadReason         = "reason"
	PayloadRoomID         = "roomId"
	PayloadRoomType       = "roomType"
	PayloadSessionCount   = "sessionCount"
	PayloadTabCount       = "tabCount"
	PayloadRoomDeleted    = "roomDeleted"
	PayloadRole           = "role"
)

// Event 是一条不可变的状态变更通知。
// 发布后不再修改，观察者之间共享同一份 Payload，只读使用。
type Event struct {
	Kind      Kind           `json:"kind"`
	SessionID string         `json:"sessionId"`
	TabID     string         `json:"tabId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Observer 接收事件。
// 返回的错误只会被记录，不会影响触发事件的操作，也不会影响其它观察者。
type Observer interface {
	OnEvent(evt Event) error
}

// ObserverFunc 将普通函数适配为 Observer。
type ObserverFunc func(evt Event) error

func (f ObserverFunc) OnEvent(evt Event) error {
	return f(evt)
}
