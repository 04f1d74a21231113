package bridge

import (
	"context"

	"github.com/bft-labs/walletbridge/internal/adapters/approval"
	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/ports"
)

var (
	_ ports.ApprovalSurface = (*surface)(nil)
	_ ports.Dismisser       = (*surface)(nil)
)

// surface reports prompts to the event handler on their way into the queue.
type surface struct {
	queue   *approval.Queue
	handler EventHandler
}

func (s *surface) Open(ctx context.Context, prompt domain.ApprovalPrompt, reply ports.ApprovalReply) error {
	if err := s.queue.Open(ctx, prompt, reply); err != nil {
		return err
	}
	if s.handler != nil {
		s.handler.OnApprovalOpened(ApprovalEvent{Prompt: prompt})
	}
	return nil
}

func (s *surface) Dismiss(requestID string, reason error) {
	prompt, ok := s.queue.Get(requestID)
	s.queue.Dismiss(requestID, reason)
	if ok && s.handler != nil {
		s.handler.OnApprovalDismissed(ApprovalEvent{Prompt: prompt, Reason: reason})
	}
}
