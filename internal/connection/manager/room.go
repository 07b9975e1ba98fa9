package manager

import (
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

// JoinRoom 让会话（及其全部标签页）加入房间。
//
// 说明：
//   - 房间不存在时按 roomType 创建，房间类型此后不可变；
//   - 已经加入的房间只刷新活跃时间，不发布事件，也不占用额度。
//
// 错误：
//   - merr.ErrParameterMissing：roomID 为空；
//   - merr.ErrSessionNotFound：会话不存在；
//   - merr.ErrRoomLimitExceeded：会话加入的房间数量已达上限；
//   - merr.ErrParameterInvalid：需要创建房间但 roomType 无法识别。
//
// 返回错误时不做任何修改。
func (m *Manager) JoinRoom(sessionID, roomID string, roomType RoomType) error {
	return m.mutate(func(tx *txn) error {
		if roomID == "" {
			return merr.WrapErrParameterMissing("roomId")
		}
		sess, ok := m.sessions.get(sessionID)
		if !ok {
			return merr.WrapErrSessionNotFound(sessionID, "failed to join room")
		}

		room, exists := m.rooms.get(roomID)
		if sess.Rooms.Contain(roomID) {
			sess.LastActivity = tx.now
			if exists {
				room.LastActivity = tx.now
			}
			return nil
		}
		if sess.Rooms.Len() >= m.cfg.MaxRoomsPerSession {
			return merr.WrapErrRoomLimitExceeded(sessionID, m.cfg.MaxRoomsPerSession)
		}
		if !exists {
			if !roomType.Valid() {
				return merr.WrapErrParameterInvalid("tournament|field|match", string(roomType), "room type")
			}
			room = newRoom(roomID, roomType, tx.now)
			m.rooms.put(room)
		}

		sess.Rooms.Insert(roomID)
		for tabID := range sess.TabIDs {
			if client, ok := m.clients.get(tabID); ok {
				client.Rooms.Insert(roomID)
			}
		}
		room.Sessions.Insert(sessionID)
		m.recountRoomLocked(room)
		room.LastActivity = tx.now
		sess.LastActivity = tx.now

		tx.emit(event.KindRoomSessionJoined, sessionID, "", roomPayload(room, false))
		return nil
	})
}

// LeaveRoom 让会话离开房间，房间没有成员时随即删除。
// 会话不存在或未加入该房间时静默忽略。
func (m *Manager) LeaveRoom(sessionID, roomID string) {
	_ = m.mutate(func(tx *txn) error {
		if sess, ok := m.sessions.get(sessionID); ok {
			m.leaveRoomLocked(tx, sess, roomID)
		}
		return nil
	})
}

func (m *Manager) leaveRoomLocked(tx *txn, sess *Session, roomID string) {
	if !sess.Rooms.Contain(roomID) {
		return
	}
	sess.Rooms.Remove(roomID)
	for tabID := range sess.TabIDs {
		if client, ok := m.clients.get(tabID); ok {
			client.Rooms.Remove(roomID)
		}
	}
	sess.LastActivity = tx.now

	room, ok := m.rooms.get(roomID)
	if !ok {
		return
	}
	room.Sessions.Remove(sess.ID)
	m.recountRoomLocked(room)
	room.LastActivity = tx.now

	deleted := room.SessionCount == 0
	if deleted {
		m.rooms.delete(roomID)
	}
	tx.emit(event.KindRoomSessionLeft, sess.ID, "", roomPayload(room, deleted))
}

// recountRoomLocked 由成员集合重新计算房间的会话数与标签页数。
func (m *Manager) recountRoomLocked(room *Room) {
	tabs := 0
	for sessionID := range room.Sessions {
		if sess, ok := m.sessions.get(sessionID); ok {
			tabs += sess.TabCount
		}
	}
	room.SessionCount = room.Sessions.Len()
	room.TabCount = tabs
}

// recountSessionRoomsLocked 在会话的标签页数量变化后刷新其所在房间的计数。
func (m *Manager) recountSessionRoomsLocked(sess *Session) {
	for roomID := range sess.Rooms {
		if room, ok := m.rooms.get(roomID); ok {
			m.recountRoomLocked(room)
		}
	}
}

func roomPayload(room *Room, deleted bool) map[string]any {
	payload := map[string]any{
		event.PayloadRoomID:       room.ID,
		event.PayloadRoomType:     string(room.Type),
		event.PayloadSessionCount: room.SessionCount,
		event.PayloadTabCount:     room.TabCount,
	}
	if deleted {
		payload[event.PayloadRoomDeleted] = true
	}
	return payload
}

// GetRoomMembership 返回房间快照。
func (m *Manager) GetRoomMembership(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms.get(roomID)
	if !ok {
		return nil, false
	}
	return room.clone(), true
}

// GetSessionRooms 返回会话加入的房间 ID（按字典序）。会话不存在时返回 nil。
func (m *Manager) GetSessionRooms(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions.get(sessionID)
	if !ok {
		return nil
	}
	return sess.SortedRooms()
}
