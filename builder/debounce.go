package builder

import (
	"sync"
	"time"
)

const (
	DefaultRebuildDebounce    = 250 * time.Millisecond
	DefaultMiddlewareDebounce = 500 * time.Millisecond
)

// Debouncer coalesces calls arriving within its window into one trailing
// invocation carrying the last call's argument. Callbacks run on the
// debouncer's own goroutine, so they never overlap; calls made while a
// callback runs schedule one more trailing invocation.
type Debouncer[T any] struct {
	d  time.Duration
	fn func(T)

	mu     sync.Mutex
	latest T

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Debounce starts a debouncer. Call Stop to release its goroutine.
func Debounce[T any](fn func(T), d time.Duration) *Debouncer[T] {
	db := &Debouncer[T]{
		d:    d,
		fn:   fn,
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go db.loop()
	return db
}

// Call schedules fn(v), replacing any pending argument.
func (db *Debouncer[T]) Call(v T) {
	select {
	case <-db.stop:
		return
	default:
	}
	db.mu.Lock()
	db.latest = v
	db.mu.Unlock()
	select {
	case db.kick <- struct{}{}:
	default:
	}
}

// Stop cancels any pending invocation and waits for a running callback to
// return. It must not be called from the callback.
func (db *Debouncer[T]) Stop() {
	db.stopOnce.Do(func() { close(db.stop) })
	<-db.done
}

func (db *Debouncer[T]) loop() {
	defer close(db.done)
	// Timers carry no stale ticks after Stop or Reset (go1.23+).
	timer := time.NewTimer(db.d)
	timer.Stop()
	for {
		select {
		case <-db.stop:
			timer.Stop()
			return
		case <-db.kick:
			timer.Reset(db.d)
		case <-timer.C:
			db.mu.Lock()
			v := db.latest
			db.mu.Unlock()
			select {
			case <-db.stop:
				return
			default:
			}
			db.fn(v)
		}
	}
}
