package manager

import (
	"github.com/samber/lo"
)

// electLeader 从候选标签页中选出 leader：连接时间最早者优先，
// 连接时间相同时按标签页 ID 字典序。没有候选者时返回 ("", false)。
// 纯函数，不读写任何存储。
func electLeader(candidates []*Client) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	leader := lo.MinBy(candidates, func(a, b *Client) bool {
		if a.ConnectedAt.Equal(b.ConnectedAt) {
			return a.ID < b.ID
		}
		return a.ConnectedAt.Before(b.ConnectedAt)
	})
	return leader.ID, true
}

// candidatesLocked 返回会话中除 exclude 以外的全部标签页。
func (m *Manager) candidatesLocked(sess *Session, exclude string) []*Client {
	candidates := make([]*Client, 0, sess.TabIDs.Len())
	for tabID := range sess.TabIDs {
		if tabID == exclude {
			continue
		}
		if client, ok := m.clients.get(tabID); ok {
			candidates = append(candidates, client)
		}
	}
	return candidates
}
