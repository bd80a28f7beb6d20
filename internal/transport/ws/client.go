package ws

import (
	"errors"
	"sync"
	"time"

	"msghub/internal/dto"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var (
	errClientClosed = errors.New("connection closed")
	errQueueFull    = errors.New("send queue full")
)

// client is one live websocket connection. It satisfies registry.Conn; a
// single writer goroutine drains the send queue so concurrent deliveries
// never interleave frames.
type client struct {
	id        uuid.UUID
	accountID uuid.UUID
	conn      *websocket.Conn
	send      chan dto.Event

	establishedAt time.Time

	once sync.Once
	done chan struct{}
}

func newClient(accountID uuid.UUID, conn *websocket.Conn, queueSize int) *client {
	return &client{
		id:            uuid.New(),
		accountID:     accountID,
		conn:          conn,
		send:          make(chan dto.Event, queueSize),
		establishedAt: time.Now().UTC(),
		done:          make(chan struct{}),
	}
}

func (c *client) ID() uuid.UUID        { return c.id }
func (c *client) AccountID() uuid.UUID { return c.accountID }

// Send enqueues evt for the writer goroutine. It never blocks: a closed
// connection or a consumer too slow to drain its queue rejects the write.
func (c *client) Send(evt dto.Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- evt:
		return nil
	default:
		return errQueueFull
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
