package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/vormadev/kiln/kit/grace"
)

// ChangedFileEnv carries the triggering file to an external build command.
const ChangedFileEnv = "KILN_CHANGED_FILE"

// ExecSpawner runs an external build command, e.g. the markup compiler.
type ExecSpawner struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// Stdout defaults to discarding output.
	Stdout io.Writer
	// KillTimeout is how long a cancelled build gets after SIGTERM.
	// Default: 3s.
	KillTimeout time.Duration
	Logger      *slog.Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, filename string, stderr io.Writer) error {
	if s.Command == "" {
		return errors.New("no build command configured")
	}
	log := s.Logger
	if log == nil {
		log = Log
	}
	timeout := s.KillTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = append(append(os.Environ(), s.Env...), ChangedFileEnv+"="+filename)
	cmd.Stdout = s.Stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = timeout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.Command, err)
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-ctx.Done():
		if err := grace.TerminateAndAwait(cmd.Process, exited, timeout, log); err != nil {
			log.Warn("terminate build", "pid", cmd.Process.Pid, "error", err)
		}
		<-exited
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("%s: %w", s.Command, waitErr)
	}
	return nil
}
