package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/walletbridge/pkg/log"
)

// ServiceState is the run state of a long-lived component such as the daemon.
type ServiceState int

const (
	StateStopped ServiceState = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

var serviceTransitions = map[ServiceState][]ServiceState{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// ErrShutdownTimeout is returned by WaitWithTimeout when workers outlive the deadline.
var ErrShutdownTimeout = errors.New("lifecycle: shutdown timeout")

// ShutdownTimeout is the default maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Service couples a ServiceState machine with worker tracking.
type Service struct {
	*Machine[ServiceState]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger log.Logger
}

// NewService creates a stopped service.
func NewService(name string, logger log.Logger, emitter EventEmitter[ServiceState]) *Service {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Service{
		Machine: NewMachine(name, StateStopped, serviceTransitions, logger, emitter),
		logger:  logger,
	}
}

// CanStart returns true if the service may be started.
func (s *Service) CanStart() bool {
	st := s.State()
	return st == StateStopped || st == StateCrashed
}

// CanStop returns true if the service may be stopped.
func (s *Service) CanStop() bool {
	st := s.State()
	return st == StateRunning || st == StateStarting
}

// SetCancel stores the cancel function for graceful shutdown.
func (s *Service) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel triggers graceful shutdown.
func (s *Service) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Go runs fn as a tracked worker.
func (s *Service) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// WaitWithTimeout waits for all workers to finish with a timeout.
func (s *Service) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout, forcing exit",
			log.Duration("timeout", timeout),
		)
		return ErrShutdownTimeout
	}
}
