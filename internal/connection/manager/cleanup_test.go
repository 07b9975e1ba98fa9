package manager

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

func newCleanupManager(t *testing.T, cfg Config) (*Manager, *clockwork.FakeClock, *recorder) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	m, err := New(cfg, WithClock(clock), WithIDGenerator(&seqGenerator{}))
	require.NoError(t, err)
	rec := &recorder{}
	m.Subscribe(rec)
	return m, clock, rec
}

func TestCleanupInactiveSessionsScenario(t *testing.T) {
	m, clock, rec := newCleanupManager(t, DefaultConfig())

	stale := m.CreateSession("tab_old", ClientMetadata{})
	require.NoError(t, m.JoinRoom(stale.ID, "R1", RoomTypeMatch))
	clock.Advance(2 * time.Minute)
	fresh := m.CreateSession("tab_new", ClientMetadata{})
	clock.Advance(4 * time.Minute)

	// stale 最后活跃于 6 分钟前，fresh 于 4 分钟前。
	evicted := m.CleanupInactiveSessions(5 * time.Minute)
	assert.Equal(t, 1, evicted)

	_, ok := m.GetSession(stale.ID)
	assert.False(t, ok)
	_, ok = m.GetSession(fresh.ID)
	assert.True(t, ok)
	_, ok = m.GetRoomMembership("R1")
	assert.False(t, ok)

	// 驱逐与正常销毁走同一条路径。
	assert.Equal(t, 1, rec.count(event.KindSessionDestroyed))
	assert.Equal(t, 1, rec.count(event.KindRoomSessionLeft))
}

func TestCleanupThresholdClamp(t *testing.T) {
	m, clock, _ := newCleanupManager(t, Config{MaxInactiveSessionAge: 10 * time.Minute})

	sess := m.CreateSession("tab_a", ClientMetadata{})
	clock.Advance(11 * time.Minute)

	assert.Equal(t, 1, m.CleanupInactiveSessions(time.Hour))
	_, ok := m.GetSession(sess.ID)
	assert.False(t, ok)

	m.CreateSession("tab_b", ClientMetadata{})
	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, m.CleanupInactiveSessions(0))
}

func TestCleanupHeartbeatKeepsSessionAlive(t *testing.T) {
	m, clock, _ := newCleanupManager(t, DefaultConfig())

	sess := m.CreateSession("tab_a", ClientMetadata{})
	clock.Advance(4 * time.Minute)
	m.TouchHeartbeat("tab_a", ClientMetadata{})
	clock.Advance(4 * time.Minute)

	assert.Zero(t, m.CleanupInactiveSessions(5*time.Minute))
	_, ok := m.GetSession(sess.ID)
	assert.True(t, ok)
}

func TestCleanupEmptyRooms(t *testing.T) {
	m, _, _ := newCleanupManager(t, DefaultConfig())
	sess := m.CreateSession("tab_a", ClientMetadata{})
	require.NoError(t, m.JoinRoom(sess.ID, "R1", RoomTypeField))

	assert.Zero(t, m.CleanupEmptyRooms())

	// 人为制造漂移：一个空房间和一个引用已不存在会话的房间。
	m.mu.Lock()
	m.rooms.put(newRoom("orphan", RoomTypeMatch, testEpoch))
	ghost := newRoom("ghost", RoomTypeField, testEpoch)
	ghost.Sessions.Insert("sess_gone")
	ghost.SessionCount = 1
	m.rooms.put(ghost)
	m.mu.Unlock()

	assert.Equal(t, 2, m.CleanupEmptyRooms())
	_, ok := m.GetRoomMembership("orphan")
	assert.False(t, ok)
	_, ok = m.GetRoomMembership("ghost")
	assert.False(t, ok)
	_, ok = m.GetRoomMembership("R1")
	assert.True(t, ok)
}

func TestSchedulerSweeps(t *testing.T) {
	m, clock, _ := newCleanupManager(t, Config{
		CleanupInterval: time.Minute,
		SessionTimeout:  5 * time.Minute,
	})
	scheduler := NewScheduler(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	assert.ErrorIs(t, scheduler.Start(ctx), merr.ErrServiceInternal)

	sess := m.CreateSession("tab_a", ClientMetadata{})
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(6 * time.Minute)

	assert.Eventually(t, func() bool {
		_, ok := m.GetSession(sess.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
	sweeps := scheduler.Sweeps()

	survivor := m.CreateSession("tab_b", ClientMetadata{})
	clock.Advance(10 * time.Minute)
	assert.Never(t, func() bool {
		_, ok := m.GetSession(survivor.ID)
		return !ok
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, sweeps, scheduler.Sweeps())
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	m, clock, _ := newCleanupManager(t, Config{
		CleanupInterval: time.Minute,
		SessionTimeout:  5 * time.Minute,
	})
	scheduler := NewScheduler(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	scheduler.Stop()

	require.NoError(t, scheduler.Start(ctx))
	defer scheduler.Stop()
	assert.ErrorIs(t, scheduler.Start(ctx), merr.ErrServiceInternal)

	sess := m.CreateSession("tab_a", ClientMetadata{})
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(6 * time.Minute)

	assert.Eventually(t, func() bool {
		_, ok := m.GetSession(sess.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRunOnce(t *testing.T) {
	m, clock, _ := newCleanupManager(t, DefaultConfig())
	scheduler := NewScheduler(m, WithThreshold(time.Minute), WithInterval(time.Hour))

	m.CreateSession("tab_a", ClientMetadata{})
	clock.Advance(2 * time.Minute)

	result := scheduler.RunOnce(context.Background())
	assert.Equal(t, SweepResult{Sessions: 1}, result)
	assert.Equal(t, SweepResult{}, scheduler.RunOnce(context.Background()))
	assert.EqualValues(t, 2, scheduler.Sweeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, SweepResult{}, scheduler.RunOnce(ctx))
	assert.EqualValues(t, 2, scheduler.Sweeps())
}
