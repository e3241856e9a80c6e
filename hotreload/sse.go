package hotreload

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

const (
	// EventID and RetryMillis are fixed parts of every hot-replace frame.
	EventID     = "hot-replace"
	RetryMillis = 250

	sseQueueSize = 8
)

var (
	ErrSinkClosed = errors.New("hotreload: sink closed")
	ErrSlowClient = errors.New("hotreload: client is not reading")
)

// FormatFrame renders one server-sent event frame.
func FormatFrame(data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("id: " + EventID + "\n")
	buf.WriteString("retry: 250\n")
	for line := range bytes.SplitSeq(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// SSESink streams frames through an in-memory pipe. The sink itself is the
// response body: the adapter reads from it and closing it (client gone)
// marks the sink done.
type SSESink struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewSSESink starts the writer goroutine. A keepAlive above zero sends a
// comment frame at that interval so dead connections are noticed.
func NewSSESink(keepAlive time.Duration) *SSESink {
	pr, pw := io.Pipe()
	s := &SSESink{
		pr:    pr,
		pw:    pw,
		queue: make(chan []byte, sseQueueSize),
		done:  make(chan struct{}),
	}
	go s.writeLoop(keepAlive)
	return s
}

func (s *SSESink) writeLoop(keepAlive time.Duration) {
	defer s.Close()
	if _, err := s.pw.Write([]byte(": connected\n\n")); err != nil {
		return
	}
	var tick <-chan time.Time
	if keepAlive > 0 {
		t := time.NewTicker(keepAlive)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			if _, err := s.pw.Write(frame); err != nil {
				return
			}
		case <-tick:
			if _, err := s.pw.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
	}
}

// Send queues one payload. It fails when the sink is closed or the client
// has fallen a full queue behind.
func (s *SSESink) Send(data []byte) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.queue <- FormatFrame(data):
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrSlowClient
	}
}

func (s *SSESink) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *SSESink) Done() <-chan struct{} { return s.done }

func (s *SSESink) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.pw.Close()
		s.pr.Close()
	})
	return nil
}
