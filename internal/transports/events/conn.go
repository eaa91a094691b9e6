package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("connection closed")

// conn обслуживает одно websocket-соединение. Запись сериализуется mu: ответы операций
// приходят из разных горутин.
type conn struct {
	id           string
	namespace    string
	ws           *websocket.Conn
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, namespace string, writeTimeout time.Duration) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:           uuid.NewString(),
		namespace:    namespace,
		ws:           ws,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *conn) write(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(frame)
}

func (c *conn) emit(event string, data any) error {
	return c.write(emitFrame{Event: event, Data: data})
}

func (c *conn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = c.ws.Close()
}
