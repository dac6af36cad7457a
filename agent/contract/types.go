package contract

import (
	"fmt"
	"time"
)

type ToolName string

const (
	ToolIdentifyUser         ToolName = "identify_user"
	ToolFetchSlots           ToolName = "fetch_slots"
	ToolBookAppointment      ToolName = "book_appointment"
	ToolRetrieveAppointments ToolName = "retrieve_appointments"
	ToolCancelAppointment    ToolName = "cancel_appointment"
	ToolModifyAppointment    ToolName = "modify_appointment"
	ToolEndConversation      ToolName = "end_conversation"
)

// ParseToolName maps a wire tool name onto the enumerated kind. Unknown names
// are a distinct error, never a fallback branch.
func ParseToolName(name string) (ToolName, error) {
	switch ToolName(name) {
	case ToolIdentifyUser, ToolFetchSlots, ToolBookAppointment,
		ToolRetrieveAppointments, ToolCancelAppointment,
		ToolModifyAppointment, ToolEndConversation:
		return ToolName(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeConflict        Outcome = "conflict"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeNotIdentified   Outcome = "not_identified"
	OutcomeFailure         Outcome = "failure"
)

// ActionKind labels the booking-relevant effect of a tool action. Records
// without an effect on the calendar carry the empty kind.
type ActionKind string

const (
	ActionBooked    ActionKind = "booked"
	ActionCancelled ActionKind = "cancelled"
	ActionModified  ActionKind = "modified"
)

// ToolActionRecord is an immutable entry of the per-session action timeline.
// Records are appended for every attempted invocation, successful or not, and
// are never mutated afterwards.
type ToolActionRecord struct {
	Tool        ToolName   `json:"tool"`
	Description string     `json:"description"`
	Outcome     Outcome    `json:"outcome"`
	Action      ActionKind `json:"action,omitempty"`
	Date        string     `json:"date,omitempty"`
	Time        string     `json:"time,omitempty"`
	NewDate     string     `json:"new_date,omitempty"`
	NewTime     string     `json:"new_time,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// ToolResult is what the conversation engine relays back verbally.
type ToolResult struct {
	Tool    ToolName `json:"tool"`
	Outcome Outcome  `json:"outcome"`
	// Message instructs the conversation engine on how to proceed.
	Message string `json:"message"`
	// Say, when set, is a confirmation the agent must speak verbatim.
	Say  string `json:"say,omitempty"`
	Data any    `json:"data,omitempty"`
}

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptSegment is one streaming speech fragment keyed by segment id.
// Finality is monotonic: once true it must never revert.
type TranscriptSegment struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	FirstSeen time.Time `json:"first_seen"`
}

// AppointmentAction mirrors one booking-relevant ToolActionRecord inside a
// call summary.
type AppointmentAction struct {
	Action  ActionKind `json:"action"`
	Date    string     `json:"date"`
	Time    string     `json:"time"`
	NewDate string     `json:"new_date,omitempty"`
	NewTime string     `json:"new_time,omitempty"`
	Details string     `json:"details"`
}

// CallSummary is produced exactly once per session at the terminal transition.
type CallSummary struct {
	Summary      string              `json:"summary"`
	Appointments []AppointmentAction `json:"appointments"`
	PhoneNumber  string              `json:"phone_number"`
	UserName     string              `json:"user_name"`
	Timestamp    time.Time           `json:"timestamp"`
}
