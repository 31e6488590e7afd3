// Package supervisor owns the rotator subprocess: launch, graceful
// shutdown, and a bounded restart-on-crash policy so a flapping child
// cannot loop forever or outlive the parent process.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Config describes how to launch the rotator binary.
type Config struct {
	BinaryPath      string
	Address         string // local forwarding port the rotator listens on
	EndpointFile    string
	UpstreamTimeout time.Duration
	MaxErrors       int
	Stdout          io.Writer
	Stderr          io.Writer
}

// Supervisor is the default ports.ProxySupervisor.
type Supervisor struct {
	cfg Config

	mu        sync.Mutex
	cmd       *exec.Cmd
	restarts  int
	lastCrash time.Time
	exitedCh  chan struct{}
	stopped   bool
	onCrash   func(error)
}

// New builds a Supervisor. onCrash, if non-nil, is invoked when the child
// crashes beyond its restart budget — the orchestrator wires this to its
// own shutdown path.
func New(cfg Config, onCrash func(error)) *Supervisor {
	return &Supervisor{cfg: cfg, onCrash: onCrash}
}

// Start launches the rotator child and begins watching it for unexpected
// exits. Returns once the process has been spawned (not once it is ready);
// callers that need a health check should probe the rotator's address.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("supervisor already running")
	}

	cmd, err := s.spawnLocked()
	if err != nil {
		return err
	}
	s.cmd = cmd
	s.exitedCh = make(chan struct{})

	go s.watch(ctx)
	return nil
}

func (s *Supervisor) spawnLocked() (*exec.Cmd, error) {
	args := []string{
		"--address", s.cfg.Address,
		"--endpoint-file", s.cfg.EndpointFile,
		"--watch",
		"--upstream-timeout", s.cfg.UpstreamTimeout.String(),
		"--max-errors", fmt.Sprintf("%d", s.cfg.MaxErrors),
	}
	cmd := exec.Command(s.cfg.BinaryPath, args...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	// Own process group so an unclean supervisor exit does not orphan the
	// rotator: killing the group kills the child even if this process never
	// gets to run its own deferred cleanup.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch rotator: %w", err)
	}
	return cmd, nil
}

// watch blocks on the child's exit and applies the restart-once policy.
func (s *Supervisor) watch(ctx context.Context) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.exitedCh)

	if s.stopped {
		return
	}

	now := time.Now()
	withinEscalationWindow := !s.lastCrash.IsZero() && now.Sub(s.lastCrash) < constants.SupervisorEscalationWindow
	s.lastCrash = now

	// A crash well outside the escalation window is treated as unrelated to
	// the prior one: the restart budget resets instead of accumulating
	// forever against occasional, isolated crashes.
	if !withinEscalationWindow {
		s.restarts = 0
	}

	if s.restarts >= constants.SupervisorMaxRestarts {
		if s.onCrash != nil {
			s.onCrash(&domain.ErrSubprocessCrash{Name: "rotator", Err: err})
		}
		return
	}

	s.restarts++
	time.Sleep(constants.SupervisorRestartBackoff)

	newCmd, spawnErr := s.spawnLocked()
	if spawnErr != nil {
		if s.onCrash != nil {
			s.onCrash(&domain.ErrSubprocessCrash{Name: "rotator", Err: spawnErr})
		}
		return
	}
	s.cmd = newCmd
	s.exitedCh = make(chan struct{})
	go s.watch(ctx)
}

// Stop sends SIGTERM, waits up to the configured grace period, then
// SIGKILL. Idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cmd := s.cmd
	exited := s.exitedCh
	s.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		return nil
	case <-time.After(constants.SupervisorGracefulTimeout):
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	<-exited
	return nil
}

// Restarts reports how many times the child has been restarted.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// QuiescenceDelay is how long callers (the scorer, the refresh finalizer)
// should wait after rewriting the endpoint file before assuming the
// rotator's watch-mode reload has completed.
func QuiescenceDelay() time.Duration {
	return constants.SupervisorQuiescenceDelay
}
