package announce

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedQueue      = 16
	// DefaultFeedBacklog is how many recent announcements a new client receives.
	DefaultFeedBacklog = 20
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed broadcasts announcements to dashboard websocket clients. It is both a
// Sink and the http.Handler for the websocket endpoint. A client whose queue
// is full is dropped rather than slowing the sender.
type Feed struct {
	upgrader websocket.Upgrader
	backlog  int

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	recent  [][]byte
}

// NewFeed returns a feed that replays the last backlog messages to new
// clients (zero selects DefaultFeedBacklog).
func NewFeed(backlog int) *Feed {
	if backlog <= 0 {
		backlog = DefaultFeedBacklog
	}
	return &Feed{
		backlog: backlog,
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Send queues msg for every connected client. It never fails on slow clients.
func (f *Feed) Send(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, data)
	if len(f.recent) > f.backlog {
		f.recent = f.recent[len(f.recent)-f.backlog:]
	}
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("dropping slow feed client", slog.String("component", "feed"), slog.String("remote", c.conn.RemoteAddr().String()))
			delete(f.clients, c)
			close(c.send)
		}
	}
	return nil
}

// Recent returns the buffered backlog, oldest first.
func (f *Feed) Recent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, 0, len(f.recent))
	for _, data := range f.recent {
		var m Message
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and streams announcements until the client
// goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("feed upgrade failed", slog.String("component", "feed"), slog.Any("err", err))
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedQueue+f.backlog)}
	f.mu.Lock()
	for _, data := range f.recent {
		c.send <- data
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	slog.Debug("feed client connected", slog.String("component", "feed"), slog.String("remote", conn.RemoteAddr().String()))

	go f.writePump(c)
	f.readPump(c)
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// readPump only services control frames; client messages are ignored.
func (f *Feed) readPump(c *feedClient) {
	defer f.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}
