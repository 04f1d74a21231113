package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/walletbridge/pkg/log"
)

// ErrInvalidTransition is returned when a state change is not in the
// machine's transition table.
var ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

// State is implemented by the state enums driven by a Machine.
type State interface {
	comparable
	String() string
}

// EventEmitter is called when a machine changes state.
type EventEmitter[S State] interface {
	OnStateChange(previous, current S, reason string)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc[S State] func(previous, current S, reason string)

// OnStateChange calls f.
func (f EmitterFunc[S]) OnStateChange(previous, current S, reason string) {
	f(previous, current, reason)
}

// Machine is a mutex-guarded state machine with a fixed transition table.
type Machine[S State] struct {
	mu          sync.RWMutex
	name        string
	state       S
	transitions map[S][]S
	changed     chan struct{}
	logger      log.Logger
	emitter     EventEmitter[S]
}

// NewMachine creates a machine in the initial state. A nil logger
// discards transition logs; a nil emitter is allowed.
func NewMachine[S State](name string, initial S, transitions map[S][]S, logger log.Logger, emitter EventEmitter[S]) *Machine[S] {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Machine[S]{
		name:        name,
		state:       initial,
		transitions: transitions,
		changed:     make(chan struct{}),
		logger:      logger,
		emitter:     emitter,
	}
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Is reports whether the machine is in s.
func (m *Machine[S]) Is(s S) bool {
	return m.State() == s
}

// Changed returns a channel closed at the next transition.
func (m *Machine[S]) Changed() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// TransitionTo moves to next if the table allows it.
func (m *Machine[S]) TransitionTo(next S, reason string) error {
	m.mu.Lock()
	prev := m.state
	if !m.allowedLocked(prev, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.name, prev, next)
	}
	m.commitLocked(next)
	m.mu.Unlock()

	m.notify(prev, next, reason)
	return nil
}

// CompareAndTransition moves from -> next only when the machine is
// currently in from. It reports whether the transition happened.
func (m *Machine[S]) CompareAndTransition(from, next S, reason string) bool {
	m.mu.Lock()
	if m.state != from || !m.allowedLocked(from, next) {
		m.mu.Unlock()
		return false
	}
	m.commitLocked(next)
	m.mu.Unlock()

	m.notify(from, next, reason)
	return true
}

func (m *Machine[S]) allowedLocked(from, to S) bool {
	for _, s := range m.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (m *Machine[S]) commitLocked(next S) {
	m.state = next
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine[S]) notify(prev, next S, reason string) {
	// Emit outside of lock
	if m.emitter != nil {
		m.emitter.OnStateChange(prev, next, reason)
	}

	m.logger.Info("state transition",
		log.String("component", m.name),
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
}
