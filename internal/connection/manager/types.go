package manager

import (
	"time"

	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/typeutil"
)

// Role 为标签页声明的角色。
type Role string

const (
	// RoleSpectator 为权限最低的角色，也是默认角色。
	RoleSpectator Role = "spectator"
	RoleReferee   Role = "referee"
	RoleAdmin     Role = "admin"
)

// Valid 判断是否为已知角色。
func (r Role) Valid() bool {
	switch r {
	case RoleSpectator, RoleReferee, RoleAdmin:
		return true
	default:
		return false
	}
}

// RoomType 为房间的广播范围。
type RoomType string

const (
	RoomTypeTournament RoomType = "tournament"
	RoomTypeField      RoomType = "field"
	RoomTypeMatch      RoomType = "match"
)

// Valid 判断是否为已知房间类型。
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeTournament, RoomTypeField, RoomTypeMatch:
		return true
	default:
		return false
	}
}

// ClientMetadata 为标签页连接时声明（或心跳时刷新）的信息。
// 零值字段表示未提供。
type ClientMetadata struct {
	Role         Role              `json:"role,omitempty"`
	TournamentID string            `json:"tournamentId,omitempty"`
	FieldID      string            `json:"fieldId,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Client 为一个标签页（一条实时连接）。
type Client struct {
	ID            string
	SessionID     string
	IsLeader      bool
	Role          Role
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	Rooms         typeutil.Set[string]
	TournamentID  string
	FieldID       string
	UserAgent     string
}

func newClient(id, sessionID string, meta ClientMetadata, now time.Time) *Client {
	role := meta.Role
	if !role.Valid() {
		role = RoleSpectator
	}
	return &Client{
		ID:            id,
		SessionID:     sessionID,
		Role:          role,
		ConnectedAt:   now,
		LastHeartbeat: now,
		Rooms:         typeutil.NewSet[string](),
		TournamentID:  meta.TournamentID,
		FieldID:       meta.FieldID,
		UserAgent:     meta.UserAgent,
	}
}

// merge 合并非零字段，无法识别的角色被忽略。
func (c *Client) merge(updates ClientMetadata) {
	if updates.Role.Valid() {
		c.Role = updates.Role
	}
	if updates.TournamentID != "" {
		c.TournamentID = updates.TournamentID
	}
	if updates.FieldID != "" {
		c.FieldID = updates.FieldID
	}
	if updates.UserAgent != "" {
		c.UserAgent = updates.UserAgent
	}
}

func (c *Client) clone() *Client {
	cloned := *c
	cloned.Rooms = c.Rooms.Clone()
	return &cloned
}

// Session 为一个逻辑上的浏览器实例，可能包含多个标签页。
//
// 不变量：
//   - LeaderTabID 非空时一定属于 TabIDs；
//   - TabCount 恒等于 TabIDs 的元素个数。
type Session struct {
	ID           string
	LeaderTabID  string
	TabIDs       typeutil.Set[string]
	TabCount     int
	CreatedAt    time.Time
	LastActivity time.Time
	Rooms        typeutil.Set[string]
	Metadata     map[string]string
}

func newSession(id string, now time.Time, metadata map[string]string) *Session {
	return &Session{
		ID:           id,
		TabIDs:       typeutil.NewSet[string](),
		CreatedAt:    now,
		LastActivity: now,
		Rooms:        typeutil.NewSet[string](),
		Metadata:     lo.Assign(metadata),
	}
}

// SortedTabIDs 返回按字典序排列的标签页 ID。
func (s *Session) SortedTabIDs() []string {
	return typeutil.SortedCollect(s.TabIDs)
}

// SortedRooms 返回按字典序排列的房间 ID。
func (s *Session) SortedRooms() []string {
	return typeutil.SortedCollect(s.Rooms)
}

func (s *Session) clone() *Session {
	cloned := *s
	cloned.TabIDs = s.TabIDs.Clone()
	cloned.Rooms = s.Rooms.Clone()
	cloned.Metadata = lo.Assign(s.Metadata)
	return &cloned
}

// Room 为一个广播主题，成员是会话而不是标签页。
// SessionCount 与 TabCount 由成员集合推导，每次成员变化后重新计算。
type Room struct {
	ID           string
	Type         RoomType
	Sessions     typeutil.Set[string]
	SessionCount int
	TabCount     int
	CreatedAt    time.Time
	LastActivity time.Time
}

func newRoom(id string, roomType RoomType, now time.Time) *Room {
	return &Room{
		ID:           id,
		Type:         roomType,
		Sessions:     typeutil.NewSet[string](),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// SortedSessions 返回按字典序排列的成员会话 ID。
func (r *Room) SortedSessions() []string {
	return typeutil.SortedCollect(r.Sessions)
}

func (r *Room) clone() *Room {
	cloned := *r
	cloned.Sessions = r.Sessions.Clone()
	return &cloned
}
