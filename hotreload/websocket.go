package hotreload

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSink delivers payloads as text messages.
type WebSocketSink struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn, done: make(chan struct{})}
}

func (s *WebSocketSink) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *WebSocketSink) Done() <-chan struct{} { return s.done }

func (s *WebSocketSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

type navigateMessage struct {
	Href string `json:"href"`
}

// ServeWebSocket upgrades the connection and registers it. Clients may send
// {"href": "/path"} after client-side navigation to change the page they
// receive payloads for.
func (b *Broadcaster) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.opts.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sink := NewWebSocketSink(conn)
	c := b.Register(PathFromHref(r.URL.Query().Get("href")), sink)

	defer sink.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var nav navigateMessage
		if json.Unmarshal(msg, &nav) == nil && nav.Href != "" {
			c.SetCurrentPath(PathFromHref(nav.Href))
		}
	}
}
