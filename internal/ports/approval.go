package ports

import (
	"context"
	"encoding/json"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// ApprovalSurface presents approval prompts to the user.
type ApprovalSurface interface {
	// Open shows prompt. The surface must eventually call exactly one of
	// reply.Resolve or reply.Reject. An error means the prompt could not
	// be shown; the request is then rejected on the surface's behalf.
	Open(ctx context.Context, prompt domain.ApprovalPrompt, reply ApprovalReply) error
}

// Dismisser is implemented by surfaces that can withdraw a prompt that
// is no longer answerable, such as after expiry or disconnection.
type Dismisser interface {
	Dismiss(requestID string, reason error)
}

// ApprovalReply carries the user's decision back to the router. Only the
// first call has an effect; later calls return an error.
type ApprovalReply interface {
	Resolve(result json.RawMessage) error
	Reject(err *protocol.RPCError) error
}
