package event

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/conc"
)

// Namer 可由观察者实现，用于在日志中标识自身。
type Namer interface {
	Name() string
}

func observerName(sub *subscription) string {
	if named, ok := sub.observer.(Namer); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T#%d", sub.observer, sub.id)
}

type asyncObserver struct {
	inner Observer
	pool  *conc.Pool[any]
}

// Async 把观察者包装为在协程池中执行的观察者，Publish 不再等待它完成。
// 同一观察者收到事件的先后顺序不再有保证。
// 只有提交失败（协程池已关闭或非阻塞模式下已满）会作为错误返回给 Notifier。
func Async(observer Observer, pool *conc.Pool[any]) Observer {
	return &asyncObserver{
		inner: observer,
		pool:  pool,
	}
}

func (a *asyncObserver) Name() string {
	if named, ok := a.inner.(Namer); ok {
		return "async:" + named.Name()
	}
	return fmt.Sprintf("async:%T", a.inner)
}

func (a *asyncObserver) OnEvent(evt Event) error {
	future := a.pool.Submit(func() (any, error) {
		a.run(evt)
		return nil, nil
	})

	// 任务自身的错误在 run 中处理，这里能立即拿到的只有提交错误。
	select {
	case <-future.Done():
		if err := future.Err(); err != nil {
			return errors.Wrap(err, "failed to submit async observer")
		}
	default:
	}
	return nil
}

func (a *asyncObserver) run(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Warn("async observer panicked",
				zap.String("observer", a.Name()),
				zap.String("kind", string(evt.Kind)),
				zap.Any("panic", r))
		}
	}()

	if err := a.inner.OnEvent(evt); err != nil {
		log.L().Warn("async observer failed",
			zap.String("observer", a.Name()),
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
	}
}
