package manager

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

var testEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// seqGenerator 生成可预测的会话 ID，便于断言。
type seqGenerator struct {
	mu       sync.Mutex
	sessions int
	tabs     int
}

func (g *seqGenerator) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions++
	return fmt.Sprintf("sess_%03d", g.sessions)
}

func (g *seqGenerator) TabID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tabs++
	return fmt.Sprintf("tab_gen_%03d", g.tabs)
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) OnEvent(evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) kinds() []event.Kind {
	events := r.all()
	kinds := make([]event.Kind, 0, len(events))
	for _, evt := range events {
		kinds = append(kinds, evt.Kind)
	}
	return kinds
}

func (r *recorder) count(kind event.Kind) int {
	n := 0
	for _, evt := range r.all() {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type ManagerSuite struct {
	suite.Suite

	clock    *clockwork.FakeClock
	manager  *Manager
	recorder *recorder
}

func (s *ManagerSuite) SetupTest() {
	s.setup(DefaultConfig())
}

func (s *ManagerSuite) setup(cfg Config) {
	log.ReplaceGlobalsForTest(s.T(), "info")
	s.clock = clockwork.NewFakeClockAt(testEpoch)
	m, err := New(cfg, WithClock(s.clock), WithIDGenerator(&seqGenerator{}))
	s.Require().NoError(err)
	s.manager = m
	s.recorder = &recorder{}
	s.manager.Subscribe(s.recorder)
}

func (s *ManagerSuite) TestCreateSession() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{TournamentID: "t1", Extra: map[string]string{"lang": "zh"}})
	s.Equal("sess_001", sess.ID)
	s.Equal("tab_a", sess.LeaderTabID)
	s.Equal(1, sess.TabCount)
	s.Equal(testEpoch, sess.CreatedAt)
	s.Equal(testEpoch, sess.LastActivity)
	s.Equal("zh", sess.Metadata["lang"])

	client, ok := s.manager.GetClientMetadata("tab_a")
	s.Require().True(ok)
	s.True(client.IsLeader)
	s.Equal(RoleSpectator, client.Role)
	s.Equal("t1", client.TournamentID)

	s.Equal([]event.Kind{event.KindSessionCreated}, s.recorder.kinds())
	evt := s.recorder.all()[0]
	s.Equal(sess.ID, evt.SessionID)
	s.Equal("tab_a", evt.TabID)
	s.Equal(testEpoch, evt.Timestamp)
}

func (s *ManagerSuite) TestCreateSessionGeneratesTabID() {
	sess := s.manager.CreateSession("", ClientMetadata{Role: RoleReferee})
	s.Equal("tab_gen_001", sess.LeaderTabID)

	client, ok := s.manager.GetClientMetadata("tab_gen_001")
	s.Require().True(ok)
	s.Equal(RoleReferee, client.Role)
}

func (s *ManagerSuite) TestCreateSessionUnknownRole() {
	s.manager.CreateSession("tab_a", ClientMetadata{Role: "superuser"})
	client, ok := s.manager.GetClientMetadata("tab_a")
	s.Require().True(ok)
	s.Equal(RoleSpectator, client.Role)
}

func (s *ManagerSuite) TestCreateSessionReconnectTab() {
	old := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(old.ID, "tab_b", ClientMetadata{}))
	s.recorder.reset()

	sess := s.manager.CreateSession("tab_b", ClientMetadata{})
	s.NotEqual(old.ID, sess.ID)

	oldSess, ok := s.manager.GetSession(old.ID)
	s.Require().True(ok)
	s.Equal([]string{"tab_a"}, oldSess.SortedTabIDs())

	moved, ok := s.manager.GetSessionByTab("tab_b")
	s.Require().True(ok)
	s.Equal(sess.ID, moved.ID)
	s.Equal([]event.Kind{event.KindTabRemoved, event.KindSessionCreated}, s.recorder.kinds())
}

func (s *ManagerSuite) TestLeaderHandoffScenario() {
	sess := s.manager.CreateSession("A", ClientMetadata{})
	s.Equal("A", sess.LeaderTabID)

	s.clock.Advance(time.Second)
	s.Require().NoError(s.manager.AddTab(sess.ID, "B", ClientMetadata{}))
	got, ok := s.manager.GetSession(sess.ID)
	s.Require().True(ok)
	s.Equal(2, got.TabCount)
	s.Equal("A", got.LeaderTabID)

	s.manager.RemoveTab(sess.ID, "A")
	leader, ok := s.manager.GetSessionLeader(sess.ID)
	s.Require().True(ok)
	s.Equal("B", leader)

	s.Equal([]event.Kind{
		event.KindSessionCreated,
		event.KindTabAdded,
		event.KindLeaderChanged,
		event.KindTabRemoved,
	}, s.recorder.kinds())

	events := s.recorder.all()
	s.Equal("A", events[0].TabID)
	s.Equal("B", events[1].TabID)
	s.Equal("A", events[2].Payload[event.PayloadPreviousLeader])
	s.Equal("B", events[2].Payload[event.PayloadNewLeader])
	s.Equal("A", events[3].TabID)

	client, ok := s.manager.GetClientMetadata("B")
	s.Require().True(ok)
	s.True(client.IsLeader)
	_, ok = s.manager.GetClientMetadata("A")
	s.False(ok)
}

func (s *ManagerSuite) TestReelectionOldestFirst() {
	sess := s.manager.CreateSession("tab_z", ClientMetadata{})
	s.clock.Advance(time.Second)
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_y", ClientMetadata{}))
	s.clock.Advance(time.Second)
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_x", ClientMetadata{}))

	s.manager.RemoveTab(sess.ID, "tab_z")
	leader, _ := s.manager.GetSessionLeader(sess.ID)
	s.Equal("tab_y", leader)
}

func (s *ManagerSuite) TestReelectionTieBreakByID() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_c", ClientMetadata{}))
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))

	c, _ := s.manager.GetClientMetadata("tab_c")
	b, _ := s.manager.GetClientMetadata("tab_b")
	s.Require().Equal(c.ConnectedAt, b.ConnectedAt)

	s.manager.RemoveTab(sess.ID, "tab_a")
	leader, _ := s.manager.GetSessionLeader(sess.ID)
	s.Equal("tab_b", leader)
}

func (s *ManagerSuite) TestRemoveNonLeaderTab() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	s.recorder.reset()

	s.manager.RemoveTab(sess.ID, "tab_b")
	s.Equal([]event.Kind{event.KindTabRemoved}, s.recorder.kinds())
	leader, _ := s.manager.GetSessionLeader(sess.ID)
	s.Equal("tab_a", leader)
}

func (s *ManagerSuite) TestRemoveSoleTabDestroysSession() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "tournament:1", RoomTypeTournament))
	s.recorder.reset()

	s.manager.RemoveTab(sess.ID, "tab_a")

	s.Equal(1, s.recorder.count(event.KindSessionDestroyed))
	s.Equal(0, s.recorder.count(event.KindTabRemoved))
	s.Equal([]event.Kind{event.KindRoomSessionLeft, event.KindSessionDestroyed}, s.recorder.kinds())
	s.Equal("tab_a", s.recorder.all()[1].TabID)

	_, ok := s.manager.GetSession(sess.ID)
	s.False(ok)
	_, ok = s.manager.GetRoomMembership("tournament:1")
	s.False(ok)
}

func (s *ManagerSuite) TestRemoveTabUnknown() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.recorder.reset()

	s.manager.RemoveTab("sess_missing", "tab_a")
	s.manager.RemoveTab(sess.ID, "tab_missing")
	s.Empty(s.recorder.all())
}

func (s *ManagerSuite) TestDestroySessionIdempotent() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))

	s.manager.DestroySession(sess.ID)
	s.NotPanics(func() { s.manager.DestroySession(sess.ID) })

	s.Equal(1, s.recorder.count(event.KindSessionDestroyed))
	_, ok := s.manager.GetClientMetadata("tab_a")
	s.False(ok)
	_, ok = s.manager.GetClientMetadata("tab_b")
	s.False(ok)
	s.Empty(s.manager.GetAllSessions())
}

func (s *ManagerSuite) TestDestroySessionCascade() {
	first := s.manager.CreateSession("tab_a", ClientMetadata{})
	second := s.manager.CreateSession("tab_b", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(first.ID, "R1", RoomTypeTournament))
	s.Require().NoError(s.manager.JoinRoom(second.ID, "R1", RoomTypeTournament))
	s.Require().NoError(s.manager.JoinRoom(first.ID, "R2", RoomTypeField))
	s.recorder.reset()

	s.manager.DestroySession(first.ID)

	s.Equal([]event.Kind{
		event.KindRoomSessionLeft,
		event.KindRoomSessionLeft,
		event.KindSessionDestroyed,
	}, s.recorder.kinds())

	r1, ok := s.manager.GetRoomMembership("R1")
	s.Require().True(ok)
	s.Equal(1, r1.SessionCount)
	s.Equal(1, r1.TabCount)
	s.Equal([]string{second.ID}, r1.SortedSessions())

	_, ok = s.manager.GetRoomMembership("R2")
	s.False(ok)
}

func (s *ManagerSuite) TestAddTab() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "field:3", RoomTypeField))

	s.clock.Advance(time.Minute)
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{Role: RoleAdmin}))

	client, ok := s.manager.GetClientMetadata("tab_b")
	s.Require().True(ok)
	s.False(client.IsLeader)
	s.Equal(RoleAdmin, client.Role)
	s.True(client.Rooms.Contain("field:3"))

	got, _ := s.manager.GetSession(sess.ID)
	s.Equal(testEpoch.Add(time.Minute), got.LastActivity)
}

func (s *ManagerSuite) TestAddTabErrors() {
	s.setup(Config{MaxTabsPerSession: 2})
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	other := s.manager.CreateSession("tab_x", ClientMetadata{})

	s.ErrorIs(s.manager.AddTab("sess_missing", "tab_b", ClientMetadata{}), merr.ErrSessionNotFound)
	s.ErrorIs(s.manager.AddTab(sess.ID, "", ClientMetadata{}), merr.ErrParameterMissing)
	s.ErrorIs(s.manager.AddTab(sess.ID, "tab_x", ClientMetadata{}), merr.ErrTabAlreadyExists)
	s.ErrorIs(s.manager.AddTab(sess.ID, "tab_a", ClientMetadata{}), merr.ErrTabAlreadyExists)

	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	s.recorder.reset()
	s.ErrorIs(s.manager.AddTab(sess.ID, "tab_c", ClientMetadata{}), merr.ErrTabLimitExceeded)

	got, _ := s.manager.GetSession(sess.ID)
	s.Equal(2, got.TabCount)
	_, ok := s.manager.GetClientMetadata("tab_c")
	s.False(ok)
	otherSess, _ := s.manager.GetSession(other.ID)
	s.Equal(1, otherSess.TabCount)
	s.Empty(s.recorder.all())
}

func (s *ManagerSuite) TestSetLeader() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	s.manager.CreateSession("tab_x", ClientMetadata{})
	s.recorder.reset()

	s.ErrorIs(s.manager.SetLeader(sess.ID, "tab_x"), merr.ErrTabNotMember)
	s.ErrorIs(s.manager.SetLeader("sess_missing", "tab_a"), merr.ErrSessionNotFound)
	s.NoError(s.manager.SetLeader(sess.ID, "tab_a"))
	s.Empty(s.recorder.all())

	s.NoError(s.manager.SetLeader(sess.ID, "tab_b"))
	s.Equal([]event.Kind{event.KindLeaderChanged}, s.recorder.kinds())
	payload := s.recorder.all()[0].Payload
	s.Equal("tab_a", payload[event.PayloadPreviousLeader])
	s.Equal("tab_b", payload[event.PayloadNewLeader])

	a, _ := s.manager.GetClientMetadata("tab_a")
	b, _ := s.manager.GetClientMetadata("tab_b")
	s.False(a.IsLeader)
	s.True(b.IsLeader)
}

func (s *ManagerSuite) TestHandleLeaderDisconnect() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})

	successor, ok := s.manager.HandleLeaderDisconnect(sess.ID, "tab_a")
	s.False(ok)
	s.Empty(successor)

	s.clock.Advance(time.Second)
	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	s.recorder.reset()

	successor, ok = s.manager.HandleLeaderDisconnect(sess.ID, "tab_b")
	s.True(ok)
	s.Equal("tab_a", successor)
	s.Empty(s.recorder.all())

	successor, ok = s.manager.HandleLeaderDisconnect(sess.ID, "tab_a")
	s.True(ok)
	s.Equal("tab_b", successor)
	s.Equal([]event.Kind{event.KindLeaderChanged}, s.recorder.kinds())

	got, _ := s.manager.GetSession(sess.ID)
	s.Equal(2, got.TabCount)
	s.Equal("tab_b", got.LeaderTabID)

	_, ok = s.manager.HandleLeaderDisconnect("sess_missing", "tab_a")
	s.False(ok)
}

func (s *ManagerSuite) TestTouchHeartbeat() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{TournamentID: "t1", FieldID: "f1"})
	s.recorder.reset()

	s.clock.Advance(10 * time.Second)
	s.manager.TouchHeartbeat("tab_a", ClientMetadata{
		Role:    RoleReferee,
		FieldID: "f2",
		Extra:   map[string]string{"theme": "dark"},
	})
	s.manager.TouchHeartbeat("tab_missing", ClientMetadata{Role: RoleAdmin})

	client, _ := s.manager.GetClientMetadata("tab_a")
	s.Equal(RoleReferee, client.Role)
	s.Equal("t1", client.TournamentID)
	s.Equal("f2", client.FieldID)
	s.Equal(testEpoch.Add(10*time.Second), client.LastHeartbeat)
	s.Equal(testEpoch, client.ConnectedAt)

	got, _ := s.manager.GetSession(sess.ID)
	s.Equal(testEpoch.Add(10*time.Second), got.LastActivity)
	s.Equal("dark", got.Metadata["theme"])
	s.Empty(s.recorder.all())
}

func (s *ManagerSuite) TestRoomTabCountScenario() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "R1", RoomTypeTournament))

	stats := s.manager.GetConnectionStats()
	s.Equal(RoomStats{Type: RoomTypeTournament, Sessions: 1, Tabs: 1}, stats.Rooms["R1"])

	s.Require().NoError(s.manager.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	stats = s.manager.GetConnectionStats()
	s.Equal(RoomStats{Type: RoomTypeTournament, Sessions: 1, Tabs: 2}, stats.Rooms["R1"])

	joined := s.recorder.all()[1]
	s.Equal(event.KindRoomSessionJoined, joined.Kind)
	s.Equal(1, joined.Payload[event.PayloadSessionCount])
	s.Equal(1, joined.Payload[event.PayloadTabCount])
	s.Equal("tournament", joined.Payload[event.PayloadRoomType])
}

func (s *ManagerSuite) TestRoomTwoSessionsScenario() {
	first := s.manager.CreateSession("tab_a", ClientMetadata{})
	second := s.manager.CreateSession("tab_b", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(first.ID, "R2", RoomTypeField))
	s.Require().NoError(s.manager.JoinRoom(second.ID, "R2", RoomTypeField))

	room, _ := s.manager.GetRoomMembership("R2")
	s.Equal(2, room.SessionCount)

	s.manager.LeaveRoom(first.ID, "R2")
	room, ok := s.manager.GetRoomMembership("R2")
	s.Require().True(ok)
	s.Equal(1, room.SessionCount)
	s.Equal(1, room.TabCount)

	s.manager.LeaveRoom(second.ID, "R2")
	_, ok = s.manager.GetRoomMembership("R2")
	s.False(ok)

	left := s.recorder.all()[len(s.recorder.all())-1]
	s.Equal(event.KindRoomSessionLeft, left.Kind)
	s.Equal(true, left.Payload[event.PayloadRoomDeleted])
	s.Equal(0, left.Payload[event.PayloadSessionCount])

	client, _ := s.manager.GetClientMetadata("tab_b")
	s.False(client.Rooms.Contain("R2"))
}

func (s *ManagerSuite) TestJoinRoomRules() {
	s.setup(Config{MaxRoomsPerSession: 2})
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})

	s.ErrorIs(s.manager.JoinRoom("sess_missing", "R1", RoomTypeMatch), merr.ErrSessionNotFound)
	s.ErrorIs(s.manager.JoinRoom(sess.ID, "", RoomTypeMatch), merr.ErrParameterMissing)
	s.ErrorIs(s.manager.JoinRoom(sess.ID, "R1", "stage"), merr.ErrParameterInvalid)
	_, ok := s.manager.GetRoomMembership("R1")
	s.False(ok)

	s.Require().NoError(s.manager.JoinRoom(sess.ID, "R1", RoomTypeMatch))
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "R2", RoomTypeField))
	s.recorder.reset()

	// 重复加入只刷新活跃时间。
	s.clock.Advance(time.Minute)
	s.NoError(s.manager.JoinRoom(sess.ID, "R1", RoomTypeMatch))
	s.Empty(s.recorder.all())
	room, _ := s.manager.GetRoomMembership("R1")
	s.Equal(testEpoch.Add(time.Minute), room.LastActivity)

	s.ErrorIs(s.manager.JoinRoom(sess.ID, "R3", RoomTypeField), merr.ErrRoomLimitExceeded)
	s.Equal([]string{"R1", "R2"}, s.manager.GetSessionRooms(sess.ID))

	// 房间类型以第一个加入者为准。
	other := s.manager.CreateSession("tab_b", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(other.ID, "R1", RoomTypeTournament))
	room, _ = s.manager.GetRoomMembership("R1")
	s.Equal(RoomTypeMatch, room.Type)
	s.Equal(2, room.SessionCount)
}

func (s *ManagerSuite) TestLeaveRoomUnknown() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.recorder.reset()

	s.manager.LeaveRoom(sess.ID, "R1")
	s.manager.LeaveRoom("sess_missing", "R1")
	s.Empty(s.recorder.all())
	s.Nil(s.manager.GetSessionRooms("sess_missing"))
}

func (s *ManagerSuite) TestSnapshotsAreCopies() {
	sess := s.manager.CreateSession("tab_a", ClientMetadata{Extra: map[string]string{"k": "v"}})
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "R1", RoomTypeField))

	got, _ := s.manager.GetSession(sess.ID)
	got.TabIDs.Insert("tab_forged")
	got.Rooms.Remove("R1")
	got.Metadata["k"] = "changed"

	room, _ := s.manager.GetRoomMembership("R1")
	room.Sessions.Remove(sess.ID)

	client, _ := s.manager.GetClientMetadata("tab_a")
	client.Rooms.Remove("R1")

	again, _ := s.manager.GetSession(sess.ID)
	s.Equal([]string{"tab_a"}, again.SortedTabIDs())
	s.Equal([]string{"R1"}, again.SortedRooms())
	s.Equal("v", again.Metadata["k"])
	room, _ = s.manager.GetRoomMembership("R1")
	s.Equal([]string{sess.ID}, room.SortedSessions())
	client, _ = s.manager.GetClientMetadata("tab_a")
	s.True(client.Rooms.Contain("R1"))
}

func (s *ManagerSuite) TestObserverSeesCommittedState() {
	var (
		sessionVisible bool
		roomVisible    bool
	)
	s.manager.Subscribe(event.ObserverFunc(func(evt event.Event) error {
		if evt.Kind == event.KindSessionDestroyed {
			_, sessionVisible = s.manager.GetSession(evt.SessionID)
			_, roomVisible = s.manager.GetRoomMembership("R1")
		}
		return nil
	}))

	sess := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(sess.ID, "R1", RoomTypeField))
	s.manager.DestroySession(sess.ID)

	s.Equal(1, s.recorder.count(event.KindSessionDestroyed))
	s.False(sessionVisible)
	s.False(roomVisible)
}

func (s *ManagerSuite) TestFailingObserverDoesNotAbortMutation() {
	s.manager.Subscribe(event.ObserverFunc(func(event.Event) error {
		panic("observer exploded")
	}))

	var sess *Session
	s.NotPanics(func() {
		sess = s.manager.CreateSession("tab_a", ClientMetadata{})
	})
	_, ok := s.manager.GetSession(sess.ID)
	s.True(ok)
	s.Equal(1, s.recorder.count(event.KindSessionCreated))
}

func (s *ManagerSuite) TestConnectionStats() {
	stats := s.manager.GetConnectionStats()
	s.Zero(stats.TotalSessions)
	s.Zero(stats.AverageTabsPerSession)
	s.Empty(stats.Rooms)

	first := s.manager.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(s.manager.AddTab(first.ID, "tab_b", ClientMetadata{}))
	s.Require().NoError(s.manager.AddTab(first.ID, "tab_c", ClientMetadata{}))
	s.manager.CreateSession("tab_d", ClientMetadata{})
	s.Require().NoError(s.manager.JoinRoom(first.ID, "R1", RoomTypeTournament))

	// 超过两个心跳周期没有心跳。
	s.clock.Advance(2*DefaultHeartbeatInterval + time.Second)
	s.manager.TouchHeartbeat("tab_a", ClientMetadata{})

	stats = s.manager.GetConnectionStats()
	s.Equal(2, stats.TotalSessions)
	s.Equal(4, stats.TotalTabs)
	s.Equal(2.0, stats.AverageTabsPerSession)
	s.Equal(1, stats.TotalRooms)
	s.Equal(3, stats.StaleTabs)
	s.Zero(stats.IdleRooms)

	s.clock.Advance(DefaultRoomInactivityTimeout)
	stats = s.manager.GetConnectionStats()
	s.Equal(1, stats.IdleRooms)
}

func (s *ManagerSuite) TestConcurrentBatchesPublishInCommitOrder() {
	m, err := New(DefaultConfig(), WithClock(clockwork.NewFakeClockAt(testEpoch)))
	s.Require().NoError(err)

	sess := m.CreateSession("tab_a", ClientMetadata{})
	s.Require().NoError(m.AddTab(sess.ID, "tab_b", ClientMetadata{}))
	s.Require().NoError(m.AddTab(sess.ID, "tab_c", ClientMetadata{}))

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.Subscribe(event.ObserverFunc(func(evt event.Event) error {
		if evt.Kind == event.KindLeaderChanged && evt.Payload[event.PayloadNewLeader] == "tab_b" {
			once.Do(func() { close(blocked) })
			<-release
		}
		return nil
	}))
	rec := &recorder{}
	m.Subscribe(rec)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.RemoveTab(sess.ID, "tab_a")
	}()
	<-blocked

	go func() {
		defer wg.Done()
		s.NoError(m.SetLeader(sess.ID, "tab_c"))
	}()
	// SetLeader 已提交，但它的事件必须等前一个批次发布完。
	s.Eventually(func() bool {
		leader, ok := m.GetSessionLeader(sess.ID)
		return ok && leader == "tab_c"
	}, time.Second, 5*time.Millisecond)
	s.Never(func() bool { return rec.count(event.KindLeaderChanged) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	wg.Wait()

	var handoffs []string
	for _, evt := range rec.all() {
		if evt.Kind == event.KindLeaderChanged {
			handoffs = append(handoffs, fmt.Sprintf("%v->%v",
				evt.Payload[event.PayloadPreviousLeader], evt.Payload[event.PayloadNewLeader]))
		}
	}
	s.Equal([]string{"tab_a->tab_b", "tab_b->tab_c"}, handoffs)
	s.Equal([]event.Kind{event.KindLeaderChanged, event.KindTabRemoved, event.KindLeaderChanged}, rec.kinds())
}

func TestManager(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}
