package session

import (
	"github.com/codehornets/supacall/internal/core/carrier"
)

// Phase is the call session's lifecycle state
type Phase int

const (
	PhaseConnecting Phase = iota // carrier socket open, no start event yet
	PhaseResolving               // start received, directory lookup in flight
	PhaseActive                  // backend connected and configured (possibly degraded)
	PhaseTerminating             // teardown in progress
	PhaseClosed                  // terminal
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseResolving:
		return "resolving"
	case PhaseActive:
		return "active"
	case PhaseTerminating:
		return "terminating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is the per-call mutable record. Pure data, owned exclusively by the
// session's event loop; nothing outside the loop reads or writes it.
//
// Invariants: ConversationID is set at most once (on successful resolution)
// and never changes; GreetingSent flips to true at most once; IdleGen only
// increases, and a pending idle firing is valid only while its generation
// matches.
type State struct {
	StreamSID  string
	CallSID    string
	AccountSID string

	AgentID        string
	OrganizationID string
	AgentNumber    string
	ContactNumber  string
	ConversationID string

	MediaFormat carrier.MediaFormat

	GreetingSent bool
	CallerSpoke  bool
	SessionReady bool
	Resolved     bool
	Degraded     bool

	IdleGen int
}
