// Package pending implements the correlation table shared by the
// provider, relay, and router. Every entry is resolved exactly once: by
// a matching response, by its timeout, or by a cascade rejection.
package pending

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/walletbridge/pkg/clock"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// ErrDuplicateID is returned by Insert when the id is still outstanding.
var ErrDuplicateID = errors.New("pending: duplicate id")

// Outcome is the single resolution of an entry.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Continuation receives an entry's outcome. It runs outside the table
// lock, on the goroutine that settled the entry.
type Continuation func(Outcome)

// Entry is the bookkeeping for one outstanding request.
type Entry[M any] struct {
	ID         string
	Method     string
	CreatedAt  time.Time
	RetryCount int
	Meta       M
}

type slot[M any] struct {
	entry Entry[M]
	cont  Continuation
	timer clock.Timer
}

// Table maps ids to outstanding entries.
type Table[M any] struct {
	mu      sync.Mutex
	clk     clock.Clock
	entries map[string]*slot[M]
}

// NewTable creates an empty table. A nil clock means the wall clock.
func NewTable[M any](clk clock.Clock) *Table[M] {
	return &Table[M]{
		clk:     clock.OrReal(clk),
		entries: make(map[string]*slot[M]),
	}
}

// Insert adds e. When timeout is positive, the entry is rejected with a
// protocol timeout error once it elapses. cont may be nil.
func (t *Table[M]) Insert(e Entry[M], timeout time.Duration, cont Continuation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[e.ID]; ok {
		return ErrDuplicateID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.clk.Now()
	}
	s := &slot[M]{entry: e, cont: cont}
	if timeout > 0 {
		id, method := e.ID, e.Method
		s.timer = t.clk.AfterFunc(timeout, func() {
			t.Reject(id, protocol.Timeout(method, id))
		})
	}
	t.entries[e.ID] = s
	return nil
}

// Resolve settles id successfully. It reports whether id was outstanding.
func (t *Table[M]) Resolve(id string, result json.RawMessage) bool {
	_, ok := t.Settle(id, Outcome{Result: result})
	return ok
}

// Reject settles id with err. It reports whether id was outstanding.
func (t *Table[M]) Reject(id string, err error) bool {
	_, ok := t.Settle(id, Outcome{Err: err})
	return ok
}

// Settle removes id and delivers out to its continuation.
func (t *Table[M]) Settle(id string, out Outcome) (Entry[M], bool) {
	t.mu.Lock()
	s, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return Entry[M]{}, false
	}
	s.finish(out)
	return s.entry, true
}

// RejectAll settles every entry with err and returns them oldest first.
func (t *Table[M]) RejectAll(err error) []Entry[M] {
	return t.RejectWhere(func(Entry[M]) bool { return true }, err)
}

// RejectWhere settles every entry matching pred with err.
func (t *Table[M]) RejectWhere(pred func(Entry[M]) bool, err error) []Entry[M] {
	return t.take(pred, func(Entry[M]) error { return err })
}

// Expire settles every entry created more than maxAge ago with the
// error built by errFor.
func (t *Table[M]) Expire(maxAge time.Duration, errFor func(Entry[M]) error) []Entry[M] {
	cutoff := t.clk.Now().Add(-maxAge)
	return t.take(func(e Entry[M]) bool { return e.CreatedAt.Before(cutoff) }, errFor)
}

func (t *Table[M]) take(pred func(Entry[M]) bool, errFor func(Entry[M]) error) []Entry[M] {
	t.mu.Lock()
	var taken []*slot[M]
	for id, s := range t.entries {
		if pred(s.entry) {
			taken = append(taken, s)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	sort.Slice(taken, func(i, j int) bool {
		return taken[i].entry.CreatedAt.Before(taken[j].entry.CreatedAt)
	})
	out := make([]Entry[M], 0, len(taken))
	for _, s := range taken {
		s.finish(Outcome{Err: errFor(s.entry)})
		out = append(out, s.entry)
	}
	return out
}

// Get returns a copy of the entry for id.
func (t *Table[M]) Get(id string) (Entry[M], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[id]
	if !ok {
		return Entry[M]{}, false
	}
	return s.entry, true
}

// Has reports whether id is outstanding.
func (t *Table[M]) Has(id string) bool {
	_, ok := t.Get(id)
	return ok
}

// Len returns the number of outstanding entries.
func (t *Table[M]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns copies of all entries, oldest first.
func (t *Table[M]) Snapshot() []Entry[M] {
	t.mu.Lock()
	out := make([]Entry[M], 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s.entry)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *slot[M]) finish(out Outcome) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cont != nil {
		s.cont(out)
	}
}
