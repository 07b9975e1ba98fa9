package event

import (
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
)

type subscription struct {
	id       uint64
	observer Observer
}

// Notifier 是进程内的同步事件分发器。
//
// 说明：
//   - Publish 按订阅顺序依次回调所有观察者，在调用方的协程中执行；
//   - 单个观察者返回错误或 panic 时只记录日志与指标，继续投递给后续观察者；
//   - 至多一次投递，没有队列、重试与持久化。
type Notifier struct {
	log.Binder

	mu            sync.RWMutex
	subscriptions []*subscription
	nextID        uint64

	enableMetrics bool
	published     atomic.Int64
	failures      atomic.Int64
}

// NotifierOption 配置 Notifier。
type NotifierOption func(n *Notifier)

// WithMetrics 控制是否上报 Prometheus 指标。
func WithMetrics(enabled bool) NotifierOption {
	return func(n *Notifier) {
		n.enableMetrics = enabled
	}
}

// NewNotifier 创建一个没有观察者的 Notifier。
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{}
	for _, opt := range opts {
		opt(n)
	}
	n.SetLogger(log.With(log.FieldComponent("event-notifier")))
	return n
}

// Subscribe 注册观察者，返回取消订阅函数。
// 取消订阅可以重复调用。
func (n *Notifier) Subscribe(observer Observer) (unsubscribe func()) {
	if observer == nil {
		return func() {}
	}

	n.mu.Lock()
	n.nextID++
	sub := &subscription{id: n.nextID, observer: observer}
	n.subscriptions = append(n.subscriptions, sub)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.remove(sub.id)
		})
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subscriptions {
		if sub.id == id {
			// 复制一份新切片，正在进行的 Publish 持有的是旧快照。
			next := make([]*subscription, 0, len(n.subscriptions)-1)
			next = append(next, n.subscriptions[:i]...)
			next = append(next, n.subscriptions[i+1:]...)
			n.subscriptions = next
			return
		}
	}
}

// Publish 将事件同步投递给当前所有观察者。
func (n *Notifier) Publish(evt Event) {
	n.mu.RLock()
	snapshot := n.subscriptions
	n.mu.RUnlock()

	n.published.Inc()
	if n.enableMetrics {
		metrics.ConnectionEventsTotal.WithLabelValues(string(evt.Kind)).Inc()
	}

	for _, sub := range snapshot {
		n.deliver(sub, evt)
	}
}

func (n *Notifier) deliver(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			n.reportFailure(sub, evt, errors.Newf("observer panicked: %v", r))
		}
	}()

	if err := sub.observer.OnEvent(evt); err != nil {
		n.reportFailure(sub, evt, err)
	}
}

func (n *Notifier) reportFailure(sub *subscription, evt Event, cause error) {
	n.failures.Inc()
	if n.enableMetrics {
		metrics.ConnectionObserverFailures.Inc()
	}
	n.Logger().Warn("failed to deliver event",
		zap.Uint64("observerID", sub.id),
		zap.String("kind", string(evt.Kind)),
		log.FieldSessionID(evt.SessionID),
		zap.Error(merr.WrapErrObserverFailed(observerName(sub), cause)))
}

// Len 返回当前观察者数量。
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscriptions)
}

// Published 返回已发布的事件总数。
func (n *Notifier) Published() int64 {
	return n.published.Load()
}

// Failures 返回观察者失败（错误或 panic）的累计次数。
func (n *Notifier) Failures() int64 {
	return n.failures.Load()
}
