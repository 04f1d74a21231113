package bridge

import (
	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/router"
	"github.com/bft-labs/walletbridge/pkg/lifecycle"
)

// State is the run state of a Bridge.
type State = lifecycle.ServiceState

// Bridge states.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

type (
	// ApprovalPrompt is a request waiting for the user's decision.
	ApprovalPrompt = domain.ApprovalPrompt

	// PortRecord describes one relay channel attached to the router.
	PortRecord = router.PortRecord
)

// StateChangeEvent reports a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// ApprovalEvent reports a prompt opened or dismissed without a decision.
type ApprovalEvent struct {
	Prompt ApprovalPrompt

	// Reason is nil when the prompt was opened.
	Reason error
}

// EventHandler receives notifications from a Bridge. Methods are called
// synchronously and should return quickly. OnStateChange runs while Start
// or Stop holds the bridge lock and must not call back into the Bridge.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnApprovalOpened(event ApprovalEvent)
	OnApprovalDismissed(event ApprovalEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// handle only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)    {}
func (BaseEventHandler) OnApprovalOpened(ApprovalEvent)    {}
func (BaseEventHandler) OnApprovalDismissed(ApprovalEvent) {}
