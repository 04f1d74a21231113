package provider

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bft-labs/walletbridge/pkg/log"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Name string
	Data json.RawMessage
}

// Listener handles a provider event. Listeners run synchronously on the
// provider's read loop and must not block.
type Listener func(Event)

type emitter struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string]map[uint64]Listener
	logger    log.Logger
}

func newEmitter(logger log.Logger) *emitter {
	return &emitter{
		listeners: make(map[string]map[uint64]Listener),
		logger:    logger,
	}
}

func (e *emitter) on(name string, l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	if e.listeners[name] == nil {
		e.listeners[name] = make(map[uint64]Listener)
	}
	e.listeners[name][id] = l

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[name], id)
	}
}

func (e *emitter) emit(name string, data json.RawMessage) {
	e.mu.RLock()
	ls := make([]Listener, 0, len(e.listeners[name]))
	for _, l := range e.listeners[name] {
		ls = append(ls, l)
	}
	e.mu.RUnlock()

	for _, l := range ls {
		e.call(l, Event{Name: name, Data: data})
	}
}

func (e *emitter) call(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked",
				log.String("event", ev.Name),
				log.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l(ev)
}
