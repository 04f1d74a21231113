package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/walletbridge/pkg/log"
)

// mockEmitter tracks state change events for testing.
type mockEmitter[S State] struct {
	mu     sync.Mutex
	events []stateChangeEvent[S]
}

type stateChangeEvent[S State] struct {
	previous S
	current  S
	reason   string
}

func (m *mockEmitter[S]) OnStateChange(previous, current S, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stateChangeEvent[S]{previous, current, reason})
}

func (m *mockEmitter[S]) Events() []stateChangeEvent[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stateChangeEvent[S]{}, m.events...)
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{Disconnected, "Disconnected"},
		{Connecting, "Connecting"},
		{Connected, "Connected"},
		{ConnState(42), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnState(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestConnection_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []ConnState
		wantErr bool
	}{
		{"connect", []ConnState{Connecting, Connected}, false},
		{"failed attempt", []ConnState{Connecting, Disconnected}, false},
		{"drop", []ConnState{Connecting, Connected, Disconnected}, false},
		{"skip connecting", []ConnState{Connected}, true},
		{"connected to connecting", []ConnState{Connecting, Connected, Connecting}, true},
		{"self loop", []ConnState{Disconnected}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConnection("test", log.NewNoopLogger(), nil)
			var err error
			for _, s := range tt.path {
				if err = c.TransitionTo(s, tt.name); err != nil {
					break
				}
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("err = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := c.State(); got != tt.path[len(tt.path)-1] {
				t.Errorf("state = %v, want %v", got, tt.path[len(tt.path)-1])
			}
		})
	}
}

func TestMachine_EmitsAndSignalsChange(t *testing.T) {
	emitter := &mockEmitter[ConnState]{}
	c := NewConnection("test", nil, emitter)

	changed := c.Changed()
	if err := c.TransitionTo(Connecting, "dial"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	default:
		t.Fatal("Changed channel was not closed by the transition")
	}

	events := emitter.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].previous != Disconnected || events[0].current != Connecting || events[0].reason != "dial" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestMachine_CompareAndTransition(t *testing.T) {
	c := NewConnection("test", nil, nil)

	if c.CompareAndTransition(Connecting, Connected, "x") {
		t.Error("transition from a state the machine is not in should fail")
	}
	if !c.CompareAndTransition(Disconnected, Connecting, "x") {
		t.Error("valid compare-and-transition failed")
	}
	if c.State() != Connecting {
		t.Errorf("state = %v, want Connecting", c.State())
	}
}

func TestService_Lifecycle(t *testing.T) {
	emitter := &mockEmitter[ServiceState]{}
	s := NewService("bridge", nil, emitter)

	if !s.CanStart() || s.CanStop() {
		t.Fatal("new service should be startable and not stoppable")
	}

	for _, next := range []ServiceState{StateStarting, StateRunning} {
		if err := s.TransitionTo(next, "start"); err != nil {
			t.Fatalf("TransitionTo(%v): %v", next, err)
		}
	}
	if !s.CanStop() {
		t.Error("running service should be stoppable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.SetCancel(cancel)
	s.Go(func() { <-ctx.Done() })

	s.Cancel()
	if err := s.WaitWithTimeout(time.Second); err != nil {
		t.Fatalf("WaitWithTimeout: %v", err)
	}

	if err := s.TransitionTo(StateStarting, "bad"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Running -> Starting err = %v, want ErrInvalidTransition", err)
	}
	if got := len(emitter.Events()); got != 2 {
		t.Errorf("events = %d, want 2", got)
	}
}

func TestService_WaitWithTimeoutExpires(t *testing.T) {
	s := NewService("bridge", nil, nil)
	block := make(chan struct{})
	defer close(block)
	s.Go(func() { <-block })

	if err := s.WaitWithTimeout(10 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("err = %v, want ErrShutdownTimeout", err)
	}
}
