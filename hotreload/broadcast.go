// Package hotreload tracks live-reload clients and pushes freshly rendered
// page bodies to them after each rebuild.
package hotreload

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vormadev/kiln/kit/colorlog"
)

var Log = colorlog.New("hotreload")

// Sink delivers frames to one connected client.
type Sink interface {
	Send(data []byte) error
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
	Close() error
}

type Client struct {
	ID   string
	sink Sink

	mu          sync.Mutex
	currentPath string
}

func (c *Client) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPath
}

func (c *Client) SetCurrentPath(p string) {
	c.mu.Lock()
	c.currentPath = p
	c.mu.Unlock()
}

type Options struct {
	Logger *slog.Logger
	// OnClientsChanged observes the registry size.
	OnClientsChanged func(n int)
	// OnSendFailure observes every dropped client.
	OnSendFailure func()
}

// Broadcaster is the registry of connected clients.
type Broadcaster struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewBroadcaster(opts Options) *Broadcaster {
	if opts.Logger == nil {
		opts.Logger = Log
	}
	return &Broadcaster{opts: opts, clients: make(map[string]*Client)}
}

// Register adds a client viewing currentPath. The client is removed when
// its sink reports done.
func (b *Broadcaster) Register(currentPath string, sink Sink) *Client {
	c := &Client{ID: uuid.NewString(), sink: sink, currentPath: currentPath}
	b.mu.Lock()
	b.clients[c.ID] = c
	n := len(b.clients)
	b.mu.Unlock()
	b.notifyCount(n)
	b.opts.Logger.Debug("client connected", "id", c.ID, "path", currentPath)

	go func() {
		<-sink.Done()
		b.Remove(c.ID)
	}()
	return c
}

// Remove drops a client and closes its sink. Unknown ids are ignored.
func (b *Broadcaster) Remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.sink.Close()
	b.notifyCount(n)
	b.opts.Logger.Debug("client disconnected", "id", id)
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Clients returns a snapshot of the registry.
func (b *Broadcaster) Clients() []*Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	for _, c := range b.Clients() {
		b.Remove(c.ID)
	}
}

// PayloadResolver computes the serialized payload for one page path.
type PayloadResolver func(ctx context.Context, path string) ([]byte, error)

// Broadcast sends every client the payload for its own current path. A
// client whose payload cannot be computed is skipped; a client whose send
// fails is logged and removed. Delivery to the rest continues either way.
// It returns the number of clients that received a frame.
func (b *Broadcaster) Broadcast(ctx context.Context, resolve PayloadResolver) int {
	clients := b.Clients()
	cache := make(map[string][]byte, len(clients))
	delivered := 0
	for _, c := range clients {
		if ctx.Err() != nil {
			break
		}
		path := c.CurrentPath()
		data, ok := cache[path]
		if !ok {
			var err error
			data, err = resolve(ctx, path)
			if err != nil {
				b.opts.Logger.Warn("hot reload payload failed", "path", path, "error", err)
				continue
			}
			cache[path] = data
		}
		if err := c.sink.Send(data); err != nil {
			b.opts.Logger.Warn("hot reload send failed", "id", c.ID, "path", path, "error", err)
			if b.opts.OnSendFailure != nil {
				b.opts.OnSendFailure()
			}
			b.Remove(c.ID)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Broadcaster) notifyCount(n int) {
	if b.opts.OnClientsChanged != nil {
		b.opts.OnClientsChanged(n)
	}
}
