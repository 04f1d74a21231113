package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bft-labs/walletbridge/pkg/lifecycle"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// ErrUnknownApproval is returned when resolving an approval that is not
// awaiting a decision, either because it never existed or because it
// was already settled, expired or dropped with its port.
var ErrUnknownApproval = errors.New("router: unknown approval")

// ApprovalState tracks a request through approval gating.
type ApprovalState int

const (
	Received ApprovalState = iota
	Validating
	AwaitingApproval
	Resolved
	Rejected
	Expired
)

// String returns a human-readable representation of the state.
func (s ApprovalState) String() string {
	switch s {
	case Received:
		return "Received"
	case Validating:
		return "Validating"
	case AwaitingApproval:
		return "AwaitingApproval"
	case Resolved:
		return "Resolved"
	case Rejected:
		return "Rejected"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name.
func (s ApprovalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s ApprovalState) Terminal() bool {
	return s == Resolved || s == Rejected || s == Expired
}

// Expired is reached only through the staleness sweep.
var approvalTransitions = map[ApprovalState][]ApprovalState{
	Received:         {Validating, Rejected},
	Validating:       {AwaitingApproval, Resolved, Rejected},
	AwaitingApproval: {Resolved, Rejected, Expired},
}

// ApprovalRecord is a snapshot of one request awaiting the user.
type ApprovalRecord struct {
	ID          string          `json:"id"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params"`
	Origin      string          `json:"origin"`
	Domain      string          `json:"domain"`
	Site        string          `json:"site"`
	Description string          `json:"description"`
	ChannelID   string          `json:"channelId"`
	CreatedAt   time.Time       `json:"createdAt"`
	State       ApprovalState   `json:"state"`
}

type approval struct {
	record ApprovalRecord
	req    *protocol.Request
	state  *lifecycle.Machine[ApprovalState]
}

func (a *approval) snapshot() ApprovalRecord {
	rec := a.record
	rec.State = a.state.State()
	return rec
}

// reply hands one approval's decision back to its router.
type reply struct {
	r  *Router
	id string
}

func (rp reply) Resolve(result json.RawMessage) error {
	return rp.r.Resolve(rp.id, result)
}

func (rp reply) Reject(err *protocol.RPCError) error {
	return rp.r.Reject(rp.id, err)
}

// Resolve settles the approval id with result.
func (r *Router) Resolve(id string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if !r.approvals.Resolve(id, result) {
		return ErrUnknownApproval
	}
	return nil
}

// Reject settles the approval id with err. A nil err means the user
// declined.
func (r *Router) Reject(id string, err *protocol.RPCError) error {
	if err == nil {
		err = protocol.UserRejected()
	}
	if !r.approvals.Reject(id, err) {
		return ErrUnknownApproval
	}
	return nil
}

// Approvals lists the approvals awaiting a decision, oldest first.
func (r *Router) Approvals() []ApprovalRecord {
	entries := r.approvals.Snapshot()
	out := make([]ApprovalRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Meta.snapshot())
	}
	return out
}

// Approval returns the approval id if it is awaiting a decision.
func (r *Router) Approval(id string) (ApprovalRecord, bool) {
	e, ok := r.approvals.Get(id)
	if !ok {
		return ApprovalRecord{}, false
	}
	return e.Meta.snapshot(), true
}
