package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superbryn/callcore/agent/booking"
	contractx "github.com/superbryn/callcore/agent/contract"
	statex "github.com/superbryn/callcore/agent/state"
)

var nonDigits = regexp.MustCompile(`\D`)

// Dispatcher validates structured tool invocations and routes them to the
// booking store. Every invocation, successful or not, appends an immutable
// record to the session's action timeline: the end-of-call summary must
// reflect attempted actions, not just successful ones.
type Dispatcher struct {
	store booking.Store
	now   func() time.Time
}

func NewDispatcher(store booking.Store) *Dispatcher {
	return &Dispatcher{store: store, now: time.Now}
}

// Invoke executes one tool against the session. Failures are encoded in the
// result outcome rather than returned as errors; the conversation engine
// relays the message verbally either way.
func (d *Dispatcher) Invoke(ctx context.Context, sess *statex.CallSession, tool contractx.ToolName, args map[string]any) contractx.ToolResult {
	var result contractx.ToolResult
	var rec contractx.ToolActionRecord

	switch tool {
	case contractx.ToolIdentifyUser:
		result, rec = d.identifyUser(ctx, sess, args)
	case contractx.ToolFetchSlots:
		result, rec = d.fetchSlots(ctx, args)
	case contractx.ToolBookAppointment:
		result, rec = d.bookAppointment(ctx, sess, args)
	case contractx.ToolRetrieveAppointments:
		result, rec = d.retrieveAppointments(ctx, sess, args)
	case contractx.ToolCancelAppointment:
		result, rec = d.cancelAppointment(ctx, sess, args)
	case contractx.ToolModifyAppointment:
		result, rec = d.modifyAppointment(ctx, sess, args)
	default:
		result = contractx.ToolResult{
			Tool:    tool,
			Outcome: contractx.OutcomeValidationError,
			Message: fmt.Sprintf("Tool %q is not handled by the dispatcher.", tool),
		}
		rec = contractx.ToolActionRecord{
			Tool:        tool,
			Description: fmt.Sprintf("Rejected unhandled tool %q", tool),
			Outcome:     contractx.OutcomeValidationError,
		}
	}

	result.Tool = tool
	rec.Tool = tool
	rec.Timestamp = d.now().UTC()
	sess.AppendAction(rec)

	log.Info().
		Str("session_id", sess.ID).
		Str("tool", string(tool)).
		Str("outcome", string(result.Outcome)).
		Msg("tool invocation")
	return result
}

// Record appends a failed-attempt record without touching any state. The
// session controller uses it for invocations rejected before dispatch
// (illegal state, unidentified caller).
func (d *Dispatcher) Record(sess *statex.CallSession, tool contractx.ToolName, outcome contractx.Outcome, description string) {
	sess.AppendAction(contractx.ToolActionRecord{
		Tool:        tool,
		Description: description,
		Outcome:     outcome,
		Timestamp:   d.now().UTC(),
	})
}

type identifyArgs struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

type fetchSlotsArgs struct {
	Date string `json:"date,omitempty"`
}

type bookArgs struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason,omitempty"`
}

type retrieveArgs struct {
	Status string `json:"status,omitempty"`
}

type cancelArgs struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type modifyArgs struct {
	OldDate string `json:"old_date"`
	OldTime string `json:"old_time"`
	NewDate string `json:"new_date"`
	NewTime string `json:"new_time"`
}

func (d *Dispatcher) identifyUser(ctx context.Context, sess *statex.CallSession, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in identifyArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolIdentifyUser, err.Error())
	}

	phone := nonDigits.ReplaceAllString(in.PhoneNumber, "")
	if len(phone) != 10 {
		return rejected(contractx.ToolIdentifyUser,
			fmt.Sprintf("The phone number %q does not appear to have 10 digits. Please ask the user for a valid phone number.", in.PhoneNumber))
	}

	user, isNew, err := d.store.IdentifyUser(ctx, phone, strings.TrimSpace(in.Name))
	if err != nil {
		return failed(contractx.ToolIdentifyUser, "identify user", err)
	}

	var message, description string
	if isNew {
		message = fmt.Sprintf("No existing user found for %s. A new account has been created. Ask the user how you can help them.", phone)
		description = fmt.Sprintf("Created new user account for %s", phone)
	} else if user.Name != "" {
		message = fmt.Sprintf("User identified successfully. Name: %s, Phone: %s. Greet them by name and ask how you can help.", user.Name, phone)
		description = fmt.Sprintf("Identified existing user: %s", user.Name)
	} else {
		message = fmt.Sprintf("User identified successfully with phone number %s. Ask them how you can help.", phone)
		description = fmt.Sprintf("Identified existing user: %s", phone)
	}

	return contractx.ToolResult{
			Outcome: contractx.OutcomeSuccess,
			Message: message,
			Data: map[string]any{
				"user":   user,
				"is_new": isNew,
			},
		}, contractx.ToolActionRecord{
			Description: description,
			Outcome:     contractx.OutcomeSuccess,
		}
}

func (d *Dispatcher) fetchSlots(ctx context.Context, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in fetchSlotsArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolFetchSlots, err.Error())
	}
	if in.Date != "" && !validDate(in.Date) {
		return rejected(contractx.ToolFetchSlots,
			fmt.Sprintf("The date %q is not in YYYY-MM-DD format.", in.Date))
	}

	slots, err := d.store.ListAvailable(ctx, in.Date)
	if err != nil {
		return failed(contractx.ToolFetchSlots, "fetch slots", err)
	}

	scope := "all dates"
	if in.Date != "" {
		scope = in.Date
	}
	rec := contractx.ToolActionRecord{
		Description: fmt.Sprintf("Fetched %d available slot(s) for %s", len(slots), scope),
		Outcome:     contractx.OutcomeSuccess,
	}

	if len(slots) == 0 {
		message := "There are currently no available appointment slots."
		if in.Date != "" {
			message = fmt.Sprintf("No available slots on %s. Ask the user if they would like to pick a different date.", in.Date)
		}
		return contractx.ToolResult{Outcome: contractx.OutcomeSuccess, Message: message}, rec
	}

	grouped := make(map[string][]string)
	for _, slot := range slots {
		grouped[slot.Date] = append(grouped[slot.Date], slot.Time)
	}
	return contractx.ToolResult{
		Outcome: contractx.OutcomeSuccess,
		Message: fmt.Sprintf("Found %d available slot(s). Present them in a clear, conversational way.", len(slots)),
		Data:    map[string]any{"slots": grouped, "total": len(slots)},
	}, rec
}

func (d *Dispatcher) bookAppointment(ctx context.Context, sess *statex.CallSession, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in bookArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolBookAppointment, err.Error())
	}
	if msg, ok := validSlotArgs(in.Date, in.Time); !ok {
		return rejected(contractx.ToolBookAppointment, msg)
	}

	appt, err := d.store.Book(ctx, sess.Phone, in.Date, in.Time, strings.TrimSpace(in.Reason))
	if errors.Is(err, contractx.ErrConflict) {
		return contractx.ToolResult{
				Outcome: contractx.OutcomeConflict,
				Message: fmt.Sprintf("The slot %s at %s is not available. Use fetch_slots to show the user valid options.", in.Date, in.Time),
			}, contractx.ToolActionRecord{
				Description: fmt.Sprintf("Attempted to book unavailable slot %s %s", in.Date, in.Time),
				Outcome:     contractx.OutcomeConflict,
				Date:        in.Date,
				Time:        in.Time,
			}
	}
	if err != nil {
		return failed(contractx.ToolBookAppointment, "book appointment", err)
	}

	return contractx.ToolResult{
			Outcome: contractx.OutcomeSuccess,
			Message: "The booking confirmation has already been spoken to the user. Ask if there's anything else you can help with.",
			Say: fmt.Sprintf("Your appointment on %s at %s has been booked successfully. Is there anything I can help you with?",
				FriendlyDate(in.Date), FriendlyTime(in.Time)),
			Data: appt,
		}, contractx.ToolActionRecord{
			Description: fmt.Sprintf("Booked appointment on %s at %s", in.Date, in.Time),
			Outcome:     contractx.OutcomeSuccess,
			Action:      contractx.ActionBooked,
			Date:        in.Date,
			Time:        in.Time,
		}
}

func (d *Dispatcher) retrieveAppointments(ctx context.Context, sess *statex.CallSession, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in retrieveArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolRetrieveAppointments, err.Error())
	}

	status := booking.AppointmentStatus(strings.TrimSpace(in.Status))
	switch status {
	case "", booking.StatusBooked, booking.StatusCancelled, booking.StatusModified:
	default:
		return rejected(contractx.ToolRetrieveAppointments,
			fmt.Sprintf("Unknown status filter %q. Use booked, cancelled, modified, or omit it.", in.Status))
	}

	appts, err := d.store.ListForUser(ctx, sess.Phone, status)
	if err != nil {
		return failed(contractx.ToolRetrieveAppointments, "retrieve appointments", err)
	}

	rec := contractx.ToolActionRecord{
		Description: fmt.Sprintf("Retrieved %d appointment(s)", len(appts)),
		Outcome:     contractx.OutcomeSuccess,
	}

	if len(appts) == 0 {
		filter := ""
		if status != "" {
			filter = fmt.Sprintf(" with status %q", status)
		}
		return contractx.ToolResult{
			Outcome: contractx.OutcomeSuccess,
			Message: fmt.Sprintf("No appointments found%s for this user. Let them know and ask if they'd like to book one.", filter),
		}, rec
	}

	entries := make([]string, 0, len(appts))
	for _, appt := range appts {
		entry := fmt.Sprintf("Date: %s, Time: %s, Status: %s", appt.Date, appt.Time, appt.Status)
		if appt.Reason != "" {
			entry += ", Reason: " + appt.Reason
		}
		entries = append(entries, entry)
	}
	return contractx.ToolResult{
		Outcome: contractx.OutcomeSuccess,
		Message: fmt.Sprintf("Found %d appointment(s): %s. Present these details to the user in a clear, conversational way.",
			len(appts), strings.Join(entries, "; ")),
		Data: appts,
	}, rec
}

func (d *Dispatcher) cancelAppointment(ctx context.Context, sess *statex.CallSession, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in cancelArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolCancelAppointment, err.Error())
	}
	if msg, ok := validSlotArgs(in.Date, in.Time); !ok {
		return rejected(contractx.ToolCancelAppointment, msg)
	}

	appt, err := d.store.Cancel(ctx, sess.Phone, in.Date, in.Time)
	if errors.Is(err, contractx.ErrNotFound) {
		return contractx.ToolResult{
				Outcome: contractx.OutcomeNotFound,
				Message: fmt.Sprintf("No active appointment found on %s at %s for this user. Use retrieve_appointments to check their existing appointments.", in.Date, in.Time),
			}, contractx.ToolActionRecord{
				Description: fmt.Sprintf("Attempted to cancel missing appointment %s %s", in.Date, in.Time),
				Outcome:     contractx.OutcomeNotFound,
				Date:        in.Date,
				Time:        in.Time,
			}
	}
	if err != nil {
		return failed(contractx.ToolCancelAppointment, "cancel appointment", err)
	}

	return contractx.ToolResult{
			Outcome: contractx.OutcomeSuccess,
			Message: fmt.Sprintf("The appointment on %s at %s has been cancelled successfully. The confirmation has already been spoken to the user. Ask if there's anything else you can help with.", in.Date, in.Time),
			Say: fmt.Sprintf("Your appointment on %s at %s has been cancelled.",
				FriendlyDate(in.Date), FriendlyTime(in.Time)),
			Data: appt,
		}, contractx.ToolActionRecord{
			Description: fmt.Sprintf("Cancelled appointment on %s at %s", in.Date, in.Time),
			Outcome:     contractx.OutcomeSuccess,
			Action:      contractx.ActionCancelled,
			Date:        in.Date,
			Time:        in.Time,
		}
}

func (d *Dispatcher) modifyAppointment(ctx context.Context, sess *statex.CallSession, args map[string]any) (contractx.ToolResult, contractx.ToolActionRecord) {
	var in modifyArgs
	if err := decodeArgs(args, &in); err != nil {
		return rejected(contractx.ToolModifyAppointment, err.Error())
	}
	if msg, ok := validSlotArgs(in.OldDate, in.OldTime); !ok {
		return rejected(contractx.ToolModifyAppointment, msg)
	}
	if msg, ok := validSlotArgs(in.NewDate, in.NewTime); !ok {
		return rejected(contractx.ToolModifyAppointment, msg)
	}

	appt, err := d.store.Modify(ctx, sess.Phone, in.OldDate, in.OldTime, in.NewDate, in.NewTime)
	if errors.Is(err, contractx.ErrConflict) {
		return contractx.ToolResult{
				Outcome: contractx.OutcomeConflict,
				Message: fmt.Sprintf("The new slot %s at %s is not available. Use fetch_slots to show the user valid options.", in.NewDate, in.NewTime),
			}, contractx.ToolActionRecord{
				Description: fmt.Sprintf("Attempted to move appointment to unavailable slot %s %s", in.NewDate, in.NewTime),
				Outcome:     contractx.OutcomeConflict,
				Date:        in.OldDate,
				Time:        in.OldTime,
				NewDate:     in.NewDate,
				NewTime:     in.NewTime,
			}
	}
	if errors.Is(err, contractx.ErrNotFound) {
		return contractx.ToolResult{
				Outcome: contractx.OutcomeNotFound,
				Message: fmt.Sprintf("No active appointment found on %s at %s for this user. Use retrieve_appointments to check their existing appointments.", in.OldDate, in.OldTime),
			}, contractx.ToolActionRecord{
				Description: fmt.Sprintf("Attempted to modify missing appointment %s %s", in.OldDate, in.OldTime),
				Outcome:     contractx.OutcomeNotFound,
				Date:        in.OldDate,
				Time:        in.OldTime,
			}
	}
	if err != nil {
		return failed(contractx.ToolModifyAppointment, "modify appointment", err)
	}

	return contractx.ToolResult{
			Outcome: contractx.OutcomeSuccess,
			Message: fmt.Sprintf("Appointment has been moved from %s at %s to %s at %s. The confirmation has already been spoken to the user. Ask if there's anything else you can help with.",
				in.OldDate, in.OldTime, in.NewDate, in.NewTime),
			Say: fmt.Sprintf("Your appointment has been moved from %s at %s to %s at %s.",
				FriendlyDate(in.OldDate), FriendlyTime(in.OldTime), FriendlyDate(in.NewDate), FriendlyTime(in.NewTime)),
			Data: appt,
		}, contractx.ToolActionRecord{
			Description: fmt.Sprintf("Modified appointment from %s %s to %s %s", in.OldDate, in.OldTime, in.NewDate, in.NewTime),
			Outcome:     contractx.OutcomeSuccess,
			Action:      contractx.ActionModified,
			Date:        in.OldDate,
			Time:        in.OldTime,
			NewDate:     in.NewDate,
			NewTime:     in.NewTime,
		}
}

// decodeArgs round-trips the loose argument map into a typed struct.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: malformed tool arguments: %v", contractx.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed tool arguments: %v", contractx.ErrValidation, err)
	}
	return nil
}

func validDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func validTime(timeOfDay string) bool {
	_, err := time.Parse("15:04", timeOfDay)
	return err == nil
}

func validSlotArgs(date, timeOfDay string) (string, bool) {
	if !validDate(date) {
		return fmt.Sprintf("The date %q is not in YYYY-MM-DD format.", date), false
	}
	if !validTime(timeOfDay) {
		return fmt.Sprintf("The time %q is not in HH:MM 24-hour format.", timeOfDay), false
	}
	return "", true
}

func rejected(tool contractx.ToolName, message string) (contractx.ToolResult, contractx.ToolActionRecord) {
	return contractx.ToolResult{
			Outcome: contractx.OutcomeValidationError,
			Message: message,
		}, contractx.ToolActionRecord{
			Description: fmt.Sprintf("Rejected %s: %s", tool, message),
			Outcome:     contractx.OutcomeValidationError,
		}
}

func failed(tool contractx.ToolName, op string, err error) (contractx.ToolResult, contractx.ToolActionRecord) {
	log.Error().Err(err).Str("tool", string(tool)).Msg("store operation failed")
	return contractx.ToolResult{
			Outcome: contractx.OutcomeFailure,
			Message: fmt.Sprintf("Something went wrong while trying to %s. Apologize and ask the user to try again.", op),
		}, contractx.ToolActionRecord{
			Description: fmt.Sprintf("Failed to %s: %v", op, err),
			Outcome:     contractx.OutcomeFailure,
		}
}
