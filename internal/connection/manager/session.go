package manager

import (
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

const (
	leaderReasonInitial    = "initial"
	leaderReasonManual     = "manual"
	leaderReasonDeparture  = "leader_departure"
	leaderReasonDisconnect = "leader_disconnect"
)

// CreateSession 以 initialTabID 为首个标签页创建新会话，该标签页成为 leader。
//
// 说明：
//   - initialTabID 为空时自动生成；
//   - initialTabID 已属于其它会话时（标签页重连），先按 RemoveTab 的流程把它移出旧会话；
//   - meta.Role 缺省或无法识别时使用 RoleSpectator；
//   - 总是成功，返回新会话的快照。
func (m *Manager) CreateSession(initialTabID string, meta ClientMetadata) *Session {
	var created *Session
	_ = m.mutate(func(tx *txn) error {
		if initialTabID == "" {
			initialTabID = m.ids.TabID()
		}
		if existing, ok := m.clients.get(initialTabID); ok {
			m.Logger().Info("tab reconnected with a new session, detach it from the old one",
				log.FieldTabID(initialTabID),
				log.FieldSessionID(existing.SessionID))
			m.removeTabLocked(tx, existing.SessionID, initialTabID)
		}

		sessionID := m.ids.SessionID()
		for _, exists := m.sessions.get(sessionID); exists; _, exists = m.sessions.get(sessionID) {
			sessionID = m.ids.SessionID()
		}

		sess := newSession(sessionID, tx.now, meta.Extra)
		client := newClient(initialTabID, sessionID, meta, tx.now)
		client.IsLeader = true
		sess.TabIDs.Insert(client.ID)
		sess.TabCount = sess.TabIDs.Len()
		sess.LeaderTabID = client.ID

		m.sessions.put(sess)
		m.clients.put(client)

		tx.emit(event.KindSessionCreated, sess.ID, client.ID, map[string]any{
			event.PayloadRole:   string(client.Role),
			event.PayloadReason: leaderReasonInitial,
		})
		created = sess.clone()
		return nil
	})

	m.Logger().Debug("session created",
		log.FieldSessionID(created.ID),
		log.FieldTabID(created.LeaderTabID))
	return created
}

// AddTab 把 tabID 作为非 leader 成员加入会话，并继承会话已加入的房间。
//
// 错误：
//   - merr.ErrParameterMissing：tabID 为空；
//   - merr.ErrSessionNotFound：会话不存在（同时输出限流的 warn 日志）；
//   - merr.ErrTabAlreadyExists：tabID 已被登记；
//   - merr.ErrTabLimitExceeded：会话标签页数量已达上限。
//
// 返回错误时不做任何修改。
func (m *Manager) AddTab(sessionID, tabID string, meta ClientMetadata) error {
	return m.mutate(func(tx *txn) error {
		if tabID == "" {
			return merr.WrapErrParameterMissing("tabId")
		}
		sess, ok := m.sessions.get(sessionID)
		if !ok {
			m.Logger().RatedWarn(10, "add tab to an unknown session",
				log.FieldSessionID(sessionID),
				log.FieldTabID(tabID))
			return merr.WrapErrSessionNotFound(sessionID, "failed to add tab")
		}
		if existing, ok := m.clients.get(tabID); ok {
			return merr.WrapErrTabAlreadyExists(tabID, existing.SessionID)
		}
		if sess.TabCount >= m.cfg.MaxTabsPerSession {
			return merr.WrapErrTabLimitExceeded(sessionID, m.cfg.MaxTabsPerSession)
		}

		client := newClient(tabID, sessionID, meta, tx.now)
		client.Rooms = sess.Rooms.Clone()
		m.clients.put(client)

		sess.TabIDs.Insert(tabID)
		sess.TabCount = sess.TabIDs.Len()
		sess.LastActivity = tx.now
		m.recountSessionRoomsLocked(sess)

		tx.emit(event.KindTabAdded, sessionID, tabID, map[string]any{
			event.PayloadTabCount: sess.TabCount,
			event.PayloadRole:     string(client.Role),
		})
		return nil
	})
}

// RemoveTab 把标签页移出会话。
// leader 离开时先重新选举并发布 LEADER_CHANGED，再发布 TAB_REMOVED；
// 最后一个标签页离开时直接销毁会话，只发布 SESSION_DESTROYED。
// 会话或标签页不存在时静默忽略。
func (m *Manager) RemoveTab(sessionID, tabID string) {
	_ = m.mutate(func(tx *txn) error {
		m.removeTabLocked(tx, sessionID, tabID)
		return nil
	})
}

func (m *Manager) removeTabLocked(tx *txn, sessionID, tabID string) {
	sess, ok := m.sessions.get(sessionID)
	if !ok || !sess.TabIDs.Contain(tabID) {
		return
	}
	if sess.TabIDs.Len() == 1 {
		m.destroySessionLocked(tx, sess, tabID)
		return
	}

	wasLeader := sess.LeaderTabID == tabID
	successor, elected := "", false
	if wasLeader {
		successor, elected = electLeader(m.candidatesLocked(sess, tabID))
	}

	sess.TabIDs.Remove(tabID)
	sess.TabCount = sess.TabIDs.Len()
	sess.LastActivity = tx.now
	m.clients.delete(tabID)

	if wasLeader && elected {
		m.assignLeaderLocked(tx, sess, successor, leaderReasonDeparture)
	}
	m.recountSessionRoomsLocked(sess)

	tx.emit(event.KindTabRemoved, sessionID, tabID, map[string]any{
		event.PayloadTabCount: sess.TabCount,
	})
}

// DestroySession 销毁会话：离开它加入的全部房间（空房间随之删除），
// 移除全部标签页，最后发布 SESSION_DESTROYED。会话不存在时静默忽略，可重复调用。
func (m *Manager) DestroySession(sessionID string) {
	_ = m.mutate(func(tx *txn) error {
		if sess, ok := m.sessions.get(sessionID); ok {
			m.destroySessionLocked(tx, sess, "")
		}
		return nil
	})
}

// destroySessionLocked 按固定顺序级联：房间 -> 标签页 -> 会话。
// originTabID 为触发销毁的标签页，清理任务触发时为空。
func (m *Manager) destroySessionLocked(tx *txn, sess *Session, originTabID string) {
	for _, roomID := range sess.SortedRooms() {
		m.leaveRoomLocked(tx, sess, roomID)
	}

	tabCount := sess.TabCount
	for tabID := range sess.TabIDs {
		m.clients.delete(tabID)
	}
	m.sessions.delete(sess.ID)

	tx.emit(event.KindSessionDestroyed, sess.ID, originTabID, map[string]any{
		event.PayloadTabCount: tabCount,
	})
	m.Logger().Debug("session destroyed",
		log.FieldSessionID(sess.ID),
		zap.Int("tabCount", tabCount))
}

// SetLeader 把 tabID 设为会话的 leader。
//
// 错误：
//   - merr.ErrSessionNotFound：会话不存在；
//   - merr.ErrTabNotMember：tabID 不属于该会话，不做任何修改。
//
// tabID 已经是 leader 时不发布事件。
func (m *Manager) SetLeader(sessionID, tabID string) error {
	return m.mutate(func(tx *txn) error {
		sess, ok := m.sessions.get(sessionID)
		if !ok {
			return merr.WrapErrSessionNotFound(sessionID, "failed to set leader")
		}
		if !sess.TabIDs.Contain(tabID) {
			return merr.WrapErrTabNotMember(sessionID, tabID, "failed to set leader")
		}
		if sess.LeaderTabID == tabID {
			return nil
		}
		sess.LastActivity = tx.now
		m.assignLeaderLocked(tx, sess, tabID, leaderReasonManual)
		return nil
	})
}

// assignLeaderLocked 切换 leader 标记并发布 LEADER_CHANGED。
func (m *Manager) assignLeaderLocked(tx *txn, sess *Session, tabID, reason string) {
	previous := sess.LeaderTabID
	if prev, ok := m.clients.get(previous); ok {
		prev.IsLeader = false
	}
	if next, ok := m.clients.get(tabID); ok {
		next.IsLeader = true
	}
	sess.LeaderTabID = tabID

	if m.cfg.EnableMetrics {
		metrics.ConnectionLeaderChanges.Inc()
	}
	tx.emit(event.KindLeaderChanged, sess.ID, tabID, map[string]any{
		event.PayloadPreviousLeader: previous,
		event.PayloadNewLeader:      tabID,
		event.PayloadReason:         reason,
	})
}

// HandleLeaderDisconnect 在不移除 tabID 的前提下重新选举 leader，
// 用于标签页即将断开时提前移交 leadership。
//
// 返回值：
//   - tabID 是 leader 且存在其它成员：leadership 移交给继任者，发布 LEADER_CHANGED；
//   - tabID 不是 leader：返回当前 leader，不做修改；
//   - 会话不存在或没有其它成员：返回 ("", false)。
func (m *Manager) HandleLeaderDisconnect(sessionID, tabID string) (string, bool) {
	var (
		successor string
		found     bool
	)
	_ = m.mutate(func(tx *txn) error {
		sess, ok := m.sessions.get(sessionID)
		if !ok {
			return nil
		}
		if sess.LeaderTabID != tabID {
			successor, found = sess.LeaderTabID, sess.LeaderTabID != ""
			return nil
		}
		successor, found = electLeader(m.candidatesLocked(sess, tabID))
		if !found {
			return nil
		}
		sess.LastActivity = tx.now
		m.assignLeaderLocked(tx, sess, successor, leaderReasonDisconnect)
		return nil
	})
	return successor, found
}

// TouchHeartbeat 合并标签页元数据中的非零字段，刷新标签页心跳与会话活跃时间。
// updates.Extra 合并到会话的元数据中。标签页不存在时静默忽略。
func (m *Manager) TouchHeartbeat(tabID string, updates ClientMetadata) {
	_ = m.mutate(func(tx *txn) error {
		client, ok := m.clients.get(tabID)
		if !ok {
			return nil
		}
		client.merge(updates)
		client.LastHeartbeat = tx.now

		if sess, ok := m.sessions.get(client.SessionID); ok {
			sess.LastActivity = tx.now
			if len(updates.Extra) > 0 {
				sess.Metadata = lo.Assign(sess.Metadata, updates.Extra)
			}
		}
		return nil
	})
}

// GetSession 返回会话快照。
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions.get(sessionID)
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// GetSessionByTab 返回标签页所属会话的快照。
func (m *Manager) GetSessionByTab(tabID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients.get(tabID)
	if !ok {
		return nil, false
	}
	sess, ok := m.sessions.get(client.SessionID)
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// GetAllSessions 返回按会话 ID 排序的全部会话快照。
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Map(m.sessions.snapshot(), func(sess *Session, _ int) *Session {
		return sess.clone()
	})
}

// GetClientMetadata 返回标签页快照。
func (m *Manager) GetClientMetadata(tabID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients.get(tabID)
	if !ok {
		return nil, false
	}
	return client.clone(), true
}

// GetSessionLeader 返回会话当前的 leader。
func (m *Manager) GetSessionLeader(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions.get(sessionID)
	if !ok || sess.LeaderTabID == "" {
		return "", false
	}
	return sess.LeaderTabID, true
}
