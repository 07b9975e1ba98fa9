package manager

import (
	"slices"
	"strings"
)

// 三个存储都不自带锁，统一由 Manager.mu 保护。
// 只有 Manager 的操作方法会修改它们，跨存储的级联在 Manager 中显式完成。

// sessionStore 以会话 ID 为索引保存会话。
type sessionStore struct {
	sessions map[string]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*Session),
	}
}

func (s *sessionStore) get(id string) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *sessionStore) put(sess *Session) {
	s.sessions[sess.ID] = sess
}

func (s *sessionStore) delete(id string) {
	delete(s.sessions, id)
}

func (s *sessionStore) len() int {
	return len(s.sessions)
}

// snapshot 返回按 ID 排序的会话切片，遍历期间可以安全地修改存储。
func (s *sessionStore) snapshot() []*Session {
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	slices.SortFunc(snapshot, func(a, b *Session) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snapshot
}

// clientStore 以标签页 ID 为索引保存标签页，标签页 ID 全局唯一。
type clientStore struct {
	clients map[string]*Client
}

func newClientStore() *clientStore {
	return &clientStore{
		clients: make(map[string]*Client),
	}
}

func (s *clientStore) get(id string) (*Client, bool) {
	client, ok := s.clients[id]
	return client, ok
}

func (s *clientStore) put(client *Client) {
	s.clients[client.ID] = client
}

func (s *clientStore) delete(id string) {
	delete(s.clients, id)
}

func (s *clientStore) len() int {
	return len(s.clients)
}

func (s *clientStore) rangeAll(fn func(client *Client) bool) {
	for _, client := range s.clients {
		if !fn(client) {
			return
		}
	}
}

// roomStore 以房间 ID 为索引保存房间。
type roomStore struct {
	rooms map[string]*Room
}

func newRoomStore() *roomStore {
	return &roomStore{
		rooms: make(map[string]*Room),
	}
}

func (s *roomStore) get(id string) (*Room, bool) {
	room, ok := s.rooms[id]
	return room, ok
}

func (s *roomStore) put(room *Room) {
	s.rooms[room.ID] = room
}

func (s *roomStore) delete(id string) {
	delete(s.rooms, id)
}

func (s *roomStore) len() int {
	return len(s.rooms)
}

func (s *roomStore) snapshot() []*Room {
	snapshot := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		snapshot = append(snapshot, room)
	}
	slices.SortFunc(snapshot, func(a, b *Room) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snapshot
}
