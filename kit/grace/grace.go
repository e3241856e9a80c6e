// Package grace runs a long-lived process until a shutdown signal arrives and
// tears it down within a deadline.
package grace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/vormadev/kiln/kit/colorlog"
)

const DefaultShutdownTimeout = 10 * time.Second

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

type Options struct {
	ShutdownTimeout time.Duration // Default: 10 seconds
	Signals         []os.Signal   // Default: SIGHUP, SIGINT, SIGTERM, SIGQUIT
	Logger          *slog.Logger

	// Start blocks until the process is done serving. Its context is
	// cancelled once shutdown begins.
	Start func(ctx context.Context) error

	// Stop releases resources. Its context carries the shutdown deadline.
	Stop func(ctx context.Context) error
}

// Orchestrate runs opts.Start and waits for a signal, a parent cancellation,
// or Start returning, whichever happens first. Stop then runs once. The
// returned error joins the startup and shutdown errors.
func Orchestrate(parent context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = colorlog.New("grace")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(opts.Signals) == 0 {
		opts.Signals = defaultSignals()
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, opts.Signals...)
	defer signal.Stop(sig)

	startErr := make(chan error, 1)
	go func() {
		if opts.Start == nil {
			<-ctx.Done()
			startErr <- nil
			return
		}
		startErr <- opts.Start(ctx)
	}()

	var runErr error
	select {
	case s := <-sig:
		opts.Logger.Info("signal received, shutting down", "signal", s)
	case <-ctx.Done():
		opts.Logger.Info("context cancelled, shutting down")
	case err := <-startErr:
		if err != nil {
			opts.Logger.Error("startup failed", "error", err)
			runErr = fmt.Errorf("start: %w", err)
		}
		startErr = nil
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancelShutdown()

	var stopErr error
	if opts.Stop != nil {
		if err := opts.Stop(shutdownCtx); err != nil {
			opts.Logger.Error("cleanup failed", "error", err)
			stopErr = fmt.Errorf("stop: %w", err)
		}
	}
	if startErr != nil {
		select {
		case err := <-startErr:
			if err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
				runErr = fmt.Errorf("start: %w", err)
			}
		case <-shutdownCtx.Done():
			opts.Logger.Warn("graceful shutdown timed out")
		}
	}
	return errors.Join(runErr, stopErr)
}

// TerminateProcess sends SIGTERM (Kill on windows) and waits up to
// timeToWait before killing the process. A nil logger falls back to the
// package default. The process is reaped here, so callers must not also
// Wait on it; use TerminateAndAwait when something else owns the Wait.
func TerminateProcess(process *os.Process, timeToWait time.Duration, logger *slog.Logger) error {
	if process == nil {
		return nil
	}
	exited := make(chan struct{})
	var waitErr error
	go func() {
		_, waitErr = process.Wait()
		close(exited)
	}()
	if err := TerminateAndAwait(process, exited, timeToWait, logger); err != nil {
		return err
	}
	<-exited
	if waitErr != nil && !errors.Is(waitErr, os.ErrProcessDone) {
		return fmt.Errorf("wait for process: %w", waitErr)
	}
	return nil
}

// TerminateAndAwait signals process and waits for exited to close, killing
// the process after timeToWait.
func TerminateAndAwait(process *os.Process, exited <-chan struct{}, timeToWait time.Duration, logger *slog.Logger) error {
	if process == nil {
		return nil
	}
	if logger == nil {
		logger = colorlog.New("grace")
	}

	var err error
	if runtime.GOOS == "windows" {
		err = process.Kill()
	} else {
		err = process.Signal(syscall.SIGTERM)
	}
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("send termination signal: %w", err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(timeToWait):
		if err := process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill process after timeout: %w", err)
		}
		logger.Warn("process killed after timeout", "pid", process.Pid, "timeout", timeToWait)
		return nil
	}
}
