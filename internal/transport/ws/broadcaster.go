// Package ws broadcasts the coordinator's update stream to websocket
// subscribers. Delivery is best-effort per client: a slow consumer
// drops its oldest queued update, never the whole connection and never
// the producer.
package ws

import (
	"encoding/binary"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"riftsync.gg/internal/replication"
	"riftsync.gg/internal/schema"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	clientQueue  = 64
)

type Broadcaster struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	reg    *schema.Registry
	intake func(schema.Payload)

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[string]*client{},
	}
}

func (b *Broadcaster) logf(format string, args ...any) {
	if b.log != nil {
		b.log.Printf(format, args...)
	}
}

// Push fans one update out to every subscriber. The update is encoded
// once; enqueueing drops the client's oldest pending message when its
// queue is full.
func (b *Broadcaster) Push(u replication.StateUpdate) {
	msg, err := json.Marshal(u)
	if err != nil {
		b.logf("ws: encode update for player %d: %v", u.PlayerID, err)
		return
	}

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		select {
		case c.out <- msg:
		default:
			select {
			case <-c.out:
			default:
			}
			select {
			case c.out <- msg:
			default:
			}
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// SetIntake installs the inbound frame path. Binary frames carry a
// 4-byte schema id header (kind then version, little-endian) followed
// by the payload body; frames with an unregistered id are skipped.
// Must be called before Handler is serving.
func (b *Broadcaster) SetIntake(reg *schema.Registry, fn func(schema.Payload)) {
	b.reg = reg
	b.intake = fn
}

// Handler upgrades the request and streams updates until the client
// disconnects. Without an intake, inbound frames are drained only to
// detect closure.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}

		c := &client{
			id:   ksuid.New().String(),
			conn: conn,
			out:  make(chan []byte, clientQueue),
			done: make(chan struct{}),
		}
		if !b.register(c) {
			c.close()
			return
		}
		b.logf("ws: session %s connected from %s", c.id, r.RemoteAddr)
		defer func() {
			b.unregister(c.id)
			c.close()
			b.logf("ws: session %s disconnected", c.id)
		}()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-c.done:
					return
				case msg := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						c.close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage || b.reg == nil || b.intake == nil {
				continue
			}
			if len(msg) < 4 {
				continue
			}
			id := schema.ID{
				Kind:    schema.Kind(binary.LittleEndian.Uint16(msg[0:2])),
				Version: binary.LittleEndian.Uint16(msg[2:4]),
			}
			p, ok, err := b.reg.Decode(id, msg[4:])
			if err != nil {
				b.logf("ws: session %s: decode %s: %v", c.id, id, err)
				continue
			}
			if ok {
				b.intake(p)
			}
		}
	}
}

func (b *Broadcaster) register(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c.id] = c
	return true
}

func (b *Broadcaster) unregister(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// Close disconnects every subscriber and refuses new ones.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.clients = map[string]*client{}
	b.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
	return nil
}
