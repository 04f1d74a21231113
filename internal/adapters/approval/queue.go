// Package approval exposes pending approval prompts over HTTP so an
// operator UI or script can approve or reject them.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
	"github.com/bft-labs/walletbridge/pkg/log"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

var (
	// ErrNotFound is returned for prompts that are not queued.
	ErrNotFound = errors.New("approval: not found")

	// ErrClosed is returned by Open after Close.
	ErrClosed = errors.New("approval: queue closed")
)

var (
	_ ports.ApprovalSurface = (*Queue)(nil)
	_ ports.Dismisser       = (*Queue)(nil)
)

type item struct {
	prompt domain.ApprovalPrompt
	reply  ports.ApprovalReply
}

// Queue holds open prompts until a decision arrives over HTTP.
type Queue struct {
	mu     sync.Mutex
	items  map[string]item
	closed bool

	logger log.Logger
	token  string
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithToken requires "Authorization: Bearer <token>" on every HTTP call.
func WithToken(token string) Option {
	return func(q *Queue) { q.token = token }
}

// NewQueue creates an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{items: make(map[string]item)}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = log.NewNoopLogger()
	}
	return q
}

// Open queues prompt.
func (q *Queue) Open(ctx context.Context, prompt domain.ApprovalPrompt, reply ports.ApprovalReply) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items[prompt.RequestID] = item{prompt: prompt, reply: reply}
	q.logger.Info("approval queued",
		log.RequestID(prompt.RequestID),
		log.Method(prompt.Method),
		log.Origin(prompt.Origin),
	)
	return nil
}

// Dismiss drops a prompt the router no longer waits for.
func (q *Queue) Dismiss(requestID string, reason error) {
	q.mu.Lock()
	_, ok := q.items[requestID]
	delete(q.items, requestID)
	q.mu.Unlock()
	if ok {
		q.logger.Info("approval dismissed", log.RequestID(requestID), log.Err(reason))
	}
}

// List returns the open prompts, oldest first.
func (q *Queue) List() []domain.ApprovalPrompt {
	q.mu.Lock()
	out := make([]domain.ApprovalPrompt, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.prompt)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns the open prompt for id.
func (q *Queue) Get(id string) (domain.ApprovalPrompt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	return it.prompt, ok
}

// Resolve approves id with result.
func (q *Queue) Resolve(id string, result json.RawMessage) error {
	it, err := q.take(id)
	if err != nil {
		return err
	}
	q.logger.Info("approval resolved", log.RequestID(id))
	return it.reply.Resolve(result)
}

// Reject declines id. A nil err is a plain user rejection.
func (q *Queue) Reject(id string, err *protocol.RPCError) error {
	it, takeErr := q.take(id)
	if takeErr != nil {
		return takeErr
	}
	if err == nil {
		err = protocol.UserRejected()
	}
	q.logger.Info("approval rejected", log.RequestID(id), log.Int("code", err.Code))
	return it.reply.Reject(err)
}

// Len reports how many prompts are open.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects every open prompt and refuses new ones.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = make(map[string]item)
	q.mu.Unlock()

	for _, it := range items {
		_ = it.reply.Reject(protocol.UserRejected())
	}
	return nil
}

func (q *Queue) take(id string) (item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return item{}, ErrNotFound
	}
	delete(q.items, id)
	return it, nil
}
