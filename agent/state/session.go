package state

import (
	"fmt"
	"time"

	contractx "github.com/superbryn/callcore/agent/contract"
)

// CallState is the per-call conversational state. Legal transitions form a
// forward-only chain, except that Ended is reachable from anywhere (hard
// transport loss).
type CallState string

const (
	StateIdle        CallState = "idle"
	StateIdentifying CallState = "identifying"
	StateActive      CallState = "active"
	StateSummarizing CallState = "summarizing"
	StateEnded       CallState = "ended"
)

var transitions = map[CallState][]CallState{
	StateIdle:        {StateIdentifying, StateEnded},
	StateIdentifying: {StateActive, StateSummarizing, StateEnded},
	StateActive:      {StateSummarizing, StateEnded},
	StateSummarizing: {StateEnded},
	StateEnded:       {},
}

func (s CallState) CanTransition(to CallState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CallState) Terminal() bool {
	return s == StateEnded
}

// legalTools gates which tools may run in which state. Booking-class tools
// require identification, so they only appear under StateActive.
var legalTools = map[CallState]map[contractx.ToolName]bool{
	StateIdentifying: {
		contractx.ToolIdentifyUser:    true,
		contractx.ToolEndConversation: true,
	},
	StateActive: {
		contractx.ToolIdentifyUser:         true,
		contractx.ToolFetchSlots:           true,
		contractx.ToolBookAppointment:      true,
		contractx.ToolRetrieveAppointments: true,
		contractx.ToolCancelAppointment:    true,
		contractx.ToolModifyAppointment:    true,
		contractx.ToolEndConversation:      true,
	},
}

// ToolAllowed reports whether the tool is legal in the given state.
func ToolAllowed(state CallState, tool contractx.ToolName) bool {
	return legalTools[state][tool]
}

// CallSession is the per-call mutable state. It is owned exclusively by the
// session controller, which serializes all access; the struct itself carries
// no locking.
type CallSession struct {
	ID        string
	State     CallState
	Phone     string
	UserName  string
	StartedAt time.Time
	UpdatedAt time.Time

	// Timeline is the append-only log of every attempted tool invocation.
	Timeline []contractx.ToolActionRecord
}

func NewCallSession(id string, now time.Time) *CallSession {
	return &CallSession{
		ID:        id,
		State:     StateIdle,
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Transition moves the session to the target state or rejects the move as a
// typed error.
func (s *CallSession) Transition(to CallState, now time.Time) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", contractx.ErrIllegalTransition, s.State, to)
	}
	s.State = to
	s.UpdatedAt = now.UTC()
	return nil
}

// ForceEnd moves the session to Ended from any state. The timeline collected
// so far is preserved.
func (s *CallSession) ForceEnd(now time.Time) {
	s.State = StateEnded
	s.UpdatedAt = now.UTC()
}

func (s *CallSession) Identified() bool {
	return s.Phone != ""
}

// BindUser attaches the identified user to the session. Re-binding to a
// different phone number replaces the reference; it never merges histories,
// because appointments are keyed by phone number in the booking store.
func (s *CallSession) BindUser(phone, name string, now time.Time) {
	s.Phone = phone
	s.UserName = name
	s.UpdatedAt = now.UTC()
}

// AppendAction appends an immutable record to the action timeline.
func (s *CallSession) AppendAction(rec contractx.ToolActionRecord) {
	s.Timeline = append(s.Timeline, rec)
	if rec.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = rec.Timestamp
	}
}
