package router

import (
	"context"

	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// GuardRequest describes a request about to be dispatched.
type GuardRequest struct {
	Origin string
	Domain string
	Method string
	Class  protocol.Class
}

// Guard vetoes requests. A non-nil error is sent back to the page; a
// *protocol.RPCError keeps its code, anything else becomes Unauthorized.
type Guard interface {
	Check(ctx context.Context, req GuardRequest) error
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(ctx context.Context, req GuardRequest) error

// Check calls f.
func (f GuardFunc) Check(ctx context.Context, req GuardRequest) error {
	return f(ctx, req)
}
