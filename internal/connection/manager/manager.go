// Package manager 实现集中式连接管理：会话、标签页、leader 选举、房间成员关系与清理。
//
// 所有存储由同一把读写锁保护，每个修改操作（包括跨存储的级联）在一个临界区内完成。
// 事件在临界区提交后、按产生顺序发布，观察者看到的状态总是与事件内容一致。
package manager

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/idgen"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
)

// Manager 是会话、标签页与房间的唯一所有者。
type Manager struct {
	log.Binder

	cfg      Config
	clock    clockwork.Clock
	ids      idgen.Generator
	notifier *event.Notifier

	mu       sync.RWMutex
	sessions *sessionStore
	clients  *clientStore
	rooms    *roomStore

	// 事件批次按提交顺序发布：提交时在 mu 内领取序号，发布前等待轮到自己。
	pubMu   sync.Mutex
	pubCond *sync.Cond
	issued  uint64
	serving uint64
}

// Option 配置 Manager。
type Option func(m *Manager)

// WithClock 替换时钟，测试中通常传入 clockwork.NewFakeClock()。
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithIDGenerator 替换 ID 生成器。
func WithIDGenerator(ids idgen.Generator) Option {
	return func(m *Manager) {
		m.ids = ids
	}
}

// WithNotifier 使用外部创建的 Notifier。
func WithNotifier(notifier *event.Notifier) Option {
	return func(m *Manager) {
		m.notifier = notifier
	}
}

// New 创建 Manager。cfg 中的零值字段会被填充为默认值，
// 非法配置返回 merr.ErrParameterInvalid。
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		sessions: newSessionStore(),
		clients:  newClientStore(),
		rooms:    newRoomStore(),
	}
	m.pubCond = sync.NewCond(&m.pubMu)
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.ids == nil {
		m.ids = idgen.New()
	}
	if m.notifier == nil {
		m.notifier = event.NewNotifier(event.WithMetrics(cfg.EnableMetrics))
	}
	m.SetLogger(log.With(log.FieldModule("connection"), log.FieldComponent("manager")))
	return m, nil
}

// Config 返回生效的配置（已填充默认值）。
func (m *Manager) Config() Config {
	return m.cfg
}

// Clock 返回 Manager 使用的时钟。
func (m *Manager) Clock() clockwork.Clock {
	return m.clock
}

// Subscribe 注册事件观察者，返回取消订阅函数。
// 观察者可以在 OnEvent 中调用读接口，但不能同步调用修改接口（会等待自身所在的发布批次而死锁），
// 需要修改注册表的观察者应使用 event.Async 包装。
func (m *Manager) Subscribe(observer event.Observer) (unsubscribe func()) {
	return m.notifier.Subscribe(observer)
}

// txn 收集一次修改操作产生的事件，待释放锁后统一发布。
type txn struct {
	now    time.Time
	events []event.Event
}

func (tx *txn) emit(kind event.Kind, sessionID, tabID string, payload map[string]any) {
	tx.events = append(tx.events, event.Event{
		Kind:      kind,
		SessionID: sessionID,
		TabID:     tabID,
		Timestamp: tx.now,
		Payload:   payload,
	})
}

// mutate 在写锁内执行 fn，释放锁之后发布 fn 产生的事件。
// 不同修改操作的事件批次按提交顺序发布，后提交的批次不会先于先提交的批次送达观察者。
func (m *Manager) mutate(fn func(tx *txn) error) error {
	tx := &txn{now: m.clock.Now()}
	var ticket uint64
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		err := fn(tx)
		m.updateGaugesLocked()
		if len(tx.events) > 0 {
			m.pubMu.Lock()
			ticket = m.issued
			m.issued++
			m.pubMu.Unlock()
		}
		return err
	}()

	if len(tx.events) > 0 {
		m.publishInOrder(ticket, tx.events)
	}
	return err
}

// publishInOrder 等到 ticket 之前的批次全部发布完毕后再发布 events。
// 此时状态锁已释放，观察者可以读取注册表。
func (m *Manager) publishInOrder(ticket uint64, events []event.Event) {
	m.pubMu.Lock()
	for m.serving != ticket {
		m.pubCond.Wait()
	}
	m.pubMu.Unlock()

	defer func() {
		m.pubMu.Lock()
		m.serving++
		m.pubMu.Unlock()
		m.pubCond.Broadcast()
	}()
	for _, evt := range events {
		m.notifier.Publish(evt)
	}
}

func (m *Manager) updateGaugesLocked() {
	if !m.cfg.EnableMetrics {
		return
	}
	metrics.ConnectionSessions.Set(float64(m.sessions.len()))
	metrics.ConnectionTabs.Set(float64(m.clients.len()))
	metrics.ConnectionRooms.Set(float64(m.rooms.len()))
}
