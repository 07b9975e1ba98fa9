package manager

// RoomStats 为单个房间的计数。
type RoomStats struct {
	Type     RoomType `json:"type"`
	Sessions int      `json:"sessions"`
	Tabs     int      `json:"tabs"`
}

// Stats 为注册表在同一时刻的只读快照。
type Stats struct {
	TotalSessions         int                  `json:"totalSessions"`
	TotalTabs             int                  `json:"totalTabs"`
	AverageTabsPerSession float64              `json:"averageTabsPerSession"`
	TotalRooms            int                  `json:"totalRooms"`
	Rooms                 map[string]RoomStats `json:"rooms"`
	// StaleTabs 为超过两个心跳周期没有心跳的标签页数量。
	StaleTabs int `json:"staleTabs"`
	// IdleRooms 为超过 RoomInactivityTimeout 没有活动的房间数量。
	IdleRooms int `json:"idleRooms"`
}

// GetConnectionStats 在一次读锁内汇总全部计数，不会读到修改中途的状态。
func (m *Manager) GetConnectionStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	stats := Stats{
		TotalSessions: m.sessions.len(),
		TotalTabs:     m.clients.len(),
		TotalRooms:    m.rooms.len(),
		Rooms:         make(map[string]RoomStats, m.rooms.len()),
	}
	if stats.TotalSessions > 0 {
		stats.AverageTabsPerSession = float64(stats.TotalTabs) / float64(stats.TotalSessions)
	}

	staleAfter := 2 * m.cfg.HeartbeatInterval
	m.clients.rangeAll(func(client *Client) bool {
		if now.Sub(client.LastHeartbeat) > staleAfter {
			stats.StaleTabs++
		}
		return true
	})

	for id, room := range m.rooms.rooms {
		stats.Rooms[id] = RoomStats{
			Type:     room.Type,
			Sessions: room.SessionCount,
			Tabs:     room.TabCount,
		}
		if now.Sub(room.LastActivity) > m.cfg.RoomInactivityTimeout {
			stats.IdleRooms++
		}
	}
	return stats
}
