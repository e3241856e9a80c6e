package hotreload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vormadev/kiln/kit/colorlog"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	done   chan struct{}
	once   sync.Once
}

func newFakeSink(err error) *fakeSink {
	return &fakeSink{err: err, done: make(chan struct{})}
}

func (s *fakeSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSink) Done() <-chan struct{} { return s.done }

func (s *fakeSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = string(f)
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastPerClientPayload(t *testing.T) {
	var count atomic.Int32
	b := NewBroadcaster(Options{
		Logger:           colorlog.Discard(),
		OnClientsChanged: func(n int) { count.Store(int32(n)) },
	})
	home, about := newFakeSink(nil), newFakeSink(nil)
	b.Register("/", home)
	b.Register("/about", about)
	if count.Load() != 2 {
		t.Errorf("gauge = %d", count.Load())
	}

	var resolved atomic.Int32
	n := b.Broadcast(context.Background(), func(_ context.Context, path string) ([]byte, error) {
		resolved.Add(1)
		return []byte("payload for " + path), nil
	})
	if n != 2 {
		t.Errorf("delivered = %d", n)
	}
	if got := home.received(); len(got) != 1 || got[0] != "payload for /" {
		t.Errorf("home got %v", got)
	}
	if got := about.received(); len(got) != 1 || got[0] != "payload for /about" {
		t.Errorf("about got %v", got)
	}
}

func TestBroadcastSharesPayloadPerPath(t *testing.T) {
	b := NewBroadcaster(Options{Logger: colorlog.Discard()})
	for range 3 {
		b.Register("/same", newFakeSink(nil))
	}
	var resolved atomic.Int32
	b.Broadcast(context.Background(), func(context.Context, string) ([]byte, error) {
		resolved.Add(1)
		return []byte("x"), nil
	})
	if resolved.Load() != 1 {
		t.Errorf("resolved %d times, want 1", resolved.Load())
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	var failures atomic.Int32
	b := NewBroadcaster(Options{
		Logger:        colorlog.Discard(),
		OnSendFailure: func() { failures.Add(1) },
	})
	broken := newFakeSink(errors.New("write: broken pipe"))
	healthy := newFakeSink(nil)
	unrenderable := newFakeSink(nil)
	b.Register("/a", broken)
	b.Register("/b", healthy)
	b.Register("/bad", unrenderable)

	n := b.Broadcast(context.Background(), func(_ context.Context, path string) ([]byte, error) {
		if path == "/bad" {
			return nil, errors.New("render failed")
		}
		return []byte(path), nil
	})
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(healthy.received()) != 1 {
		t.Error("healthy client missed the frame")
	}
	if failures.Load() != 1 {
		t.Errorf("failures = %d", failures.Load())
	}
	waitUntil(t, func() bool { return b.Len() == 2 })
	select {
	case <-broken.Done():
	default:
		t.Error("failed sink was not closed")
	}
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	b := NewBroadcaster(Options{Logger: colorlog.Discard()})
	s := newFakeSink(nil)
	b.Register("/", s)
	s.Close()
	waitUntil(t, func() bool { return b.Len() == 0 })
	b.Remove("unknown")
}

func TestSSESinkFrames(t *testing.T) {
	s := NewSSESink(0)
	r := bufio.NewReader(s)

	line, err := r.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("preamble = %q, %v", line, err)
	}
	r.ReadString('\n')

	if err := s.Send([]byte(`{"body":"x"}`)); err != nil {
		t.Fatal(err)
	}
	var frame strings.Builder
	for i := 0; i < 4; i++ {
		l, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		frame.WriteString(l)
	}
	want := "id: hot-replace\nretry: 250\ndata: {\"body\":\"x\"}\n\n"
	if frame.String() != want {
		t.Errorf("frame = %q, want %q", frame.String(), want)
	}

	s.Close()
	if err := s.Send([]byte("late")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("send after close = %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestSSESinkSlowClient(t *testing.T) {
	s := NewSSESink(0)
	defer s.Close()
	var err error
	for i := 0; i < sseQueueSize+5 && err == nil; i++ {
		err = s.Send([]byte(fmt.Sprint(i)))
	}
	if !errors.Is(err, ErrSlowClient) {
		t.Errorf("err = %v, want ErrSlowClient", err)
	}
}

func TestWebSocketSink(t *testing.T) {
	b := NewBroadcaster(Options{Logger: colorlog.Discard()})
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?href=" + "%2Fabout"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitUntil(t, func() bool { return b.Len() == 1 })
	if p := b.Clients()[0].CurrentPath(); p != "/about" {
		t.Errorf("path = %q", p)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"href":"http://localhost/contact?x=1"}`))
	waitUntil(t, func() bool { return b.Clients()[0].CurrentPath() == "/contact" })

	b.Broadcast(context.Background(), func(_ context.Context, path string) ([]byte, error) {
		return []byte(`{"path":"` + path + `"}`), nil
	})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != `{"path":"/contact"}` {
		t.Errorf("msg = %s", msg)
	}

	conn.Close()
	waitUntil(t, func() bool { return b.Len() == 0 })
}

func TestClientScript(t *testing.T) {
	s := string(ClientScript())
	if !strings.Contains(s, "/hot-replace?href=") {
		t.Error("client script does not subscribe")
	}
	if len(s) >= len(rawClientScript) {
		t.Error("client script was not minified")
	}
}

func TestPathFromHref(t *testing.T) {
	tests := map[string]string{
		"":                          "/",
		"/about":                    "/about",
		"/about?x=1#y":              "/about",
		"http://localhost:3000/a/b": "/a/b",
		"http://localhost:3000":     "/",
	}
	for in, want := range tests {
		if got := PathFromHref(in); got != want {
			t.Errorf("PathFromHref(%q) = %q, want %q", in, got, want)
		}
	}
}
