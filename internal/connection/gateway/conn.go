package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-connhub/pkg/log"
)

// conn 为一条 WebSocket 连接，对应一个标签页。
// 读循环在 ServeHTTP 的协程中执行，写循环独占一个协程，保证同一连接上的写入串行。
type conn struct {
	ws       *websocket.Conn
	send     chan []byte
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	doneOnce sync.Once

	// 以下字段在 hello 之后设置，连接注册到 Gateway 之后不再修改。
	tabID     string
	sessionID string
}

func newConn(ws *websocket.Conn, queueSize int) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, queueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// enqueue 非阻塞地投递消息，队列已满或连接已关闭时返回 false。
func (c *conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		log.RatedWarn(1, "gateway send queue is full, drop message",
			log.FieldSessionID(c.sessionID),
			log.FieldTabID(c.tabID))
		return false
	}
}

// shutdown 在写完队列中剩余的消息后关闭连接。
func (c *conn) shutdown() {
	c.quitOnce.Do(func() {
		close(c.quit)
	})
}

// close 立即关闭连接，可重复调用。
func (c *conn) close() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			if err := c.write(msg, writeTimeout); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-c.quit:
			c.flush(writeTimeout)
			deadline := time.Now().Add(writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
			return
		}
	}
}

func (c *conn) flush(writeTimeout time.Duration) {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(msg []byte, writeTimeout time.Duration) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Debug("gateway write failed",
			log.FieldTabID(c.tabID),
			zap.Error(err))
		return err
	}
	return nil
}
