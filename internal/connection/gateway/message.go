package gateway

import (
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/manager"
	"github.com/lk2023060901/danmu-garden-connhub/internal/json"
)

// 客户端 -> 服务端的消息类型。
const (
	TypeHello         = "hello"
	TypeHeartbeat     = "heartbeat"
	TypeJoin          = "join"
	TypeLeave         = "leave"
	TypeClaimLeader   = "claim_leader"
	TypeReleaseLeader = "release_leader"
)

// 服务端 -> 客户端的消息类型。
const (
	TypeWelcome = "welcome"
	TypeEvent   = "event"
	TypeError   = "error"
)

// Envelope 为双向通用的消息外壳，Data 按 Type 延迟解析。
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloRequest 为连接建立后的第一条消息。
// SessionID 非空时把当前标签页加入已有会话，否则创建新会话。
type HelloRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	TabID     string `json:"tabId,omitempty"`
	manager.ClientMetadata
}

type HeartbeatRequest struct {
	manager.ClientMetadata
}

type JoinRequest struct {
	RoomID   string           `json:"roomId"`
	RoomType manager.RoomType `json:"roomType"`
}

type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

type Welcome struct {
	SessionID           string `json:"sessionId"`
	TabID               string `json:"tabId"`
	IsLeader            bool   `json:"isLeader"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

type ErrorReply struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}
