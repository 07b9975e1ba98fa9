// Package gateway 是基于 gorilla/websocket 的连接生命周期驱动：
// 把浏览器标签页的连接、心跳、房间操作与断开翻译为 manager 的调用，
// 并把会话相关的事件推送回该会话的所有标签页。
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/idgen"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/manager"
	"github.com/lk2023060901/danmu-garden-connhub/internal/json"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/retry"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/typeutil"
)

// Gateway 实现 http.Handler 与 event.Observer。
type Gateway struct {
	log.Binder

	mgr       *manager.Manager
	cfg       Config
	ids       idgen.Generator
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn // tabID -> conn，只包含已完成 hello 的连接
	active typeutil.Set[*conn]

	unsubscribe func()
	closed      atomic.Bool
	wg          sync.WaitGroup
}

var (
	_ http.Handler   = (*Gateway)(nil)
	_ event.Observer = (*Gateway)(nil)
)

// New 创建 Gateway 并订阅 mgr 的事件。
func New(mgr *manager.Manager, cfg Config) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		mgr:       mgr,
		cfg:       cfg,
		ids:       idgen.New(),
		heartbeat: mgr.Config().HeartbeatInterval,
		conns:     make(map[string]*conn),
		active:    typeutil.NewSet[*conn](),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	g.SetLogger(log.With(log.FieldModule("connection"), log.FieldComponent("gateway")))
	g.unsubscribe = mgr.Subscribe(g)
	return g
}

// Path 返回升级路径。
func (g *Gateway) Path() string {
	return g.cfg.Path
}

// Name 实现 event.Namer。
func (g *Gateway) Name() string {
	return "gateway"
}

// Connections 返回当前已完成 hello 的连接数量。
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(g.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP 升级连接并在当前协程中执行读循环，直到连接断开。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.closed.Load() {
		http.Error(w, merr.ErrServiceUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.Logger().Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	g.wg.Add(1)
	defer g.wg.Done()

	metrics.GatewayConnections.Inc()
	defer metrics.GatewayConnections.Dec()

	c := newConn(ws, g.cfg.SendQueueSize)
	g.mu.Lock()
	g.active.Insert(c)
	g.mu.Unlock()
	if g.closed.Load() {
		c.shutdown()
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		c.writeLoop(g.heartbeat, g.cfg.WriteTimeout)
	}()

	cause := g.readLoop(c)
	g.release(c)
	g.Logger().Debug("websocket connection closed",
		log.FieldSessionID(c.sessionID),
		log.FieldTabID(c.tabID),
		zap.Error(cause))
}

// readLoop 返回时连接进入关闭流程：写循环写完剩余消息后关闭底层连接。
func (g *Gateway) readLoop(c *conn) error {
	defer c.shutdown()

	c.ws.SetReadLimit(g.cfg.ReadLimit)
	readTimeout := 3 * g.heartbeat
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			g.reply(c, TypeError, errorReply(merr.WrapErrParameterInvalidMsg("malformed message: %s", err.Error())))
			continue
		}
		metrics.GatewayMessagesTotal.WithLabelValues(env.Type).Inc()

		if err := g.dispatch(c, env); err != nil {
			g.reply(c, TypeError, errorReply(err))
			if c.tabID == "" {
				return err
			}
		}
	}
}

func (g *Gateway) dispatch(c *conn, env Envelope) error {
	if c.tabID == "" {
		if env.Type != TypeHello {
			return merr.WrapErrParameterInvalid(TypeHello, env.Type, "first message must be hello")
		}
		var req HelloRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return g.hello(c, req)
	}

	switch env.Type {
	case TypeHeartbeat:
		var req HeartbeatRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		g.mgr.TouchHeartbeat(c.tabID, req.ClientMetadata)
		return nil

	case TypeJoin:
		var req JoinRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return g.mgr.JoinRoom(c.sessionID, req.RoomID, req.RoomType)

	case TypeLeave:
		var req LeaveRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		g.mgr.LeaveRoom(c.sessionID, req.RoomID)
		return nil

	case TypeClaimLeader:
		return g.mgr.SetLeader(c.sessionID, c.tabID)

	case TypeReleaseLeader:
		if _, ok := g.mgr.HandleLeaderDisconnect(c.sessionID, c.tabID); !ok {
			return merr.WrapErrLeaderUnavailable(c.sessionID)
		}
		return nil

	default:
		return merr.WrapErrOperationNotSupported(env.Type)
	}
}

// hello 创建会话或把标签页加入已有会话，然后注册连接并回复 welcome。
// 指定的会话已不存在时（例如已被清理）退化为创建新会话。
func (g *Gateway) hello(c *conn, req HelloRequest) error {
	tabID := req.TabID
	if tabID == "" {
		tabID = g.ids.TabID()
	}

	sessionID := ""
	registered := false
	if req.SessionID != "" {
		adopted, err := g.join(c, req.SessionID, tabID, req.ClientMetadata)
		switch {
		case err == nil:
			sessionID, registered = req.SessionID, adopted
		case errors.Is(err, merr.ErrSessionNotFound):
		default:
			return err
		}
	}
	if sessionID == "" {
		sessionID = g.mgr.CreateSession(tabID, req.ClientMetadata).ID
	}

	if !registered {
		c.tabID, c.sessionID = tabID, sessionID
		g.register(c)
	}

	leader, _ := g.mgr.GetSessionLeader(sessionID)
	g.reply(c, TypeWelcome, Welcome{
		SessionID:           sessionID,
		TabID:               tabID,
		IsLeader:            leader == tabID,
		HeartbeatIntervalMs: g.heartbeat.Milliseconds(),
	})
	return nil
}

// join 把标签页加入 sessionID。标签页已属于该会话时视为同一标签页重连，
// 由 c 接管旧连接（adopted 为 true，c 已登记）；旧连接正在释放时稍后重试。
func (g *Gateway) join(c *conn, sessionID, tabID string, meta manager.ClientMetadata) (adopted bool, err error) {
	releasing := false
	err = retry.Do(context.Background(), func() error {
		releasing = false
		err := g.mgr.AddTab(sessionID, tabID, meta)
		if err == nil || !errors.Is(err, merr.ErrTabAlreadyExists) {
			return err
		}
		owner, ok := g.mgr.GetSessionByTab(tabID)
		if ok && owner.ID != sessionID {
			return err
		}
		if ok && g.takeOver(c, sessionID, tabID) {
			g.mgr.TouchHeartbeat(tabID, meta)
			adopted = true
			return nil
		}
		releasing = true
		return err
	}, retry.Attempts(5), retry.Sleep(20*time.Millisecond), retry.RetryErr(func(error) bool {
		return releasing
	}))
	return adopted, err
}

// takeOver 在旧连接仍处于登记状态时用 c 替换它并关闭旧连接。
// 替换后旧连接的 release 不再拥有该标签页，也就不会把它移出会话。
func (g *Gateway) takeOver(c *conn, sessionID, tabID string) bool {
	g.mu.Lock()
	previous, exists := g.conns[tabID]
	if !exists || previous.sessionID != sessionID {
		g.mu.Unlock()
		return false
	}
	c.tabID, c.sessionID = tabID, sessionID
	g.conns[tabID] = c
	g.mu.Unlock()

	if previous != c {
		previous.close()
	}
	return true
}

// register 登记连接。同一标签页重连时旧连接被关闭。
func (g *Gateway) register(c *conn) {
	g.mu.Lock()
	previous, exists := g.conns[c.tabID]
	g.conns[c.tabID] = c
	g.mu.Unlock()

	if exists && previous != c {
		previous.close()
	}
}

// release 注销连接，并把标签页移出会话。
func (g *Gateway) release(c *conn) {
	g.mu.Lock()
	g.active.Remove(c)
	if c.tabID == "" {
		g.mu.Unlock()
		return
	}
	current, ok := g.conns[c.tabID]
	owned := ok && current == c
	if owned {
		delete(g.conns, c.tabID)
	}
	g.mu.Unlock()

	// 标签页已被新连接接管时不能移除。
	if owned {
		g.mgr.RemoveTab(c.sessionID, c.tabID)
	}
}

func (g *Gateway) reply(c *conn, msgType string, data any) {
	msg, err := encode(msgType, data)
	if err != nil {
		g.Logger().Warn("failed to encode gateway message", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(msg)
}

// OnEvent 把事件推送给该会话的全部连接。会话被销毁时，推送完成后关闭这些连接。
func (g *Gateway) OnEvent(evt event.Event) error {
	msg, err := encode(TypeEvent, evt)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	g.mu.RLock()
	targets := lo.Filter(lo.Values(g.conns), func(c *conn, _ int) bool {
		return c.sessionID == evt.SessionID
	})
	g.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
		if evt.Kind == event.KindSessionDestroyed {
			c.shutdown()
		}
	}
	return nil
}

// Close 停止接收事件并关闭全部连接，等待所有连接的处理协程退出。
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.unsubscribe()

	g.mu.RLock()
	conns := g.active.Collect()
	g.mu.RUnlock()
	for _, c := range conns {
		c.shutdown()
	}

	g.wg.Wait()
	return nil
}

func decode(env Envelope, dst any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return merr.WrapErrParameterInvalidMsg("malformed %s payload: %s", env.Type, err.Error())
	}
	return nil
}

func errorReply(err error) ErrorReply {
	return ErrorReply{
		Code:    merr.Code(err),
		Message: err.Error(),
	}
}
