package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSessionID = "sessionID"
	FieldNameTabID     = "tabID"
	FieldNameRoomID    = "roomID"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldSessionID 返回一个包含浏览器会话 ID 的 zap 字段。
func FieldSessionID(sessionID string) zap.Field {
	return zap.String(FieldNameSessionID, sessionID)
}

// FieldTabID 返回一个包含标签页 ID 的 zap 字段。
func FieldTabID(tabID string) zap.Field {
	return zap.String(FieldNameTabID, tabID)
}

// FieldRoomID 返回一个包含房间 ID 的 zap 字段。
func FieldRoomID(roomID string) zap.Field {
	return zap.String(FieldNameRoomID, roomID)
}
