package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/superbryn/callcore/agent/booking"
	contractx "github.com/superbryn/callcore/agent/contract"
	statex "github.com/superbryn/callcore/agent/state"
)

func newActiveSession(t *testing.T, phone string) *statex.CallSession {
	t.Helper()
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.State = statex.StateActive
	sess.BindUser(phone, "Ada", time.Now())
	return sess
}

func seededDispatcher(t *testing.T) (*Dispatcher, *booking.MemoryStore) {
	t.Helper()
	store := booking.NewMemoryStore()
	store.SeedSlots([]booking.Slot{
		{Date: "2026-02-09", Time: "14:00"},
		{Date: "2026-02-09", Time: "15:00"},
		{Date: "2026-02-10", Time: "09:30"},
	})
	return NewDispatcher(store), store
}

func TestInvokeIdentifyUser(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.State = statex.StateIdentifying

	res := d.Invoke(context.Background(), sess, contractx.ToolIdentifyUser,
		map[string]any{"phone_number": "(415) 555-1234"})
	if res.Outcome != contractx.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success: %s", res.Outcome, res.Message)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T, want map", res.Data)
	}
	if isNew, _ := data["is_new"].(bool); !isNew {
		t.Fatalf("is_new = %v, want true for first identification", data["is_new"])
	}
	user, ok := data["user"].(*booking.User)
	if !ok {
		t.Fatalf("user type = %T", data["user"])
	}
	if user.PhoneNumber != "4155551234" {
		t.Fatalf("phone = %q, want digits-only normalization", user.PhoneNumber)
	}
	if len(sess.Timeline) != 1 || sess.Timeline[0].Outcome != contractx.OutcomeSuccess {
		t.Fatalf("timeline = %+v, want one success record", sess.Timeline)
	}
}

func TestInvokeIdentifyUserRejectsShortNumber(t *testing.T) {
	t.Parallel()
	d, store := seededDispatcher(t)
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.State = statex.StateIdentifying

	res := d.Invoke(context.Background(), sess, contractx.ToolIdentifyUser,
		map[string]any{"phone_number": "555-12"})
	if res.Outcome != contractx.OutcomeValidationError {
		t.Fatalf("outcome = %s, want validation_error", res.Outcome)
	}
	if _, isNew, _ := store.IdentifyUser(context.Background(), "55512", ""); !isNew {
		t.Fatalf("store gained a user from a rejected identification")
	}
	if len(sess.Timeline) != 1 || sess.Timeline[0].Outcome != contractx.OutcomeValidationError {
		t.Fatalf("timeline = %+v, want one validation record", sess.Timeline)
	}
}

func TestInvokeBookThenConflict(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolBookAppointment,
		map[string]any{"date": "2026-02-09", "time": "14:00", "reason": "checkup"})
	if res.Outcome != contractx.OutcomeSuccess {
		t.Fatalf("first booking outcome = %s: %s", res.Outcome, res.Message)
	}
	if !strings.Contains(res.Say, "Monday, February 9th") || !strings.Contains(res.Say, "2 PM") {
		t.Fatalf("say = %q, want friendly date and time", res.Say)
	}

	other := newActiveSession(t, "4155559999")
	res = d.Invoke(context.Background(), other, contractx.ToolBookAppointment,
		map[string]any{"date": "2026-02-09", "time": "14:00"})
	if res.Outcome != contractx.OutcomeConflict {
		t.Fatalf("second booking outcome = %s, want conflict", res.Outcome)
	}
	rec := other.Timeline[len(other.Timeline)-1]
	if rec.Outcome != contractx.OutcomeConflict || rec.Date != "2026-02-09" || rec.Time != "14:00" {
		t.Fatalf("conflict record = %+v", rec)
	}
	if rec.Action != "" {
		t.Fatalf("conflict record carries action %q, want none", rec.Action)
	}
}

func TestInvokeBookRejectsBadDate(t *testing.T) {
	t.Parallel()
	d, store := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolBookAppointment,
		map[string]any{"date": "Feb 9", "time": "14:00"})
	if res.Outcome != contractx.OutcomeValidationError {
		t.Fatalf("outcome = %s, want validation_error", res.Outcome)
	}
	slots, err := store.ListAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("available slots = %d, want 3 untouched", len(slots))
	}
}

func TestInvokeFetchSlotsGroupsByDate(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolFetchSlots, nil)
	if res.Outcome != contractx.OutcomeSuccess {
		t.Fatalf("outcome = %s: %s", res.Outcome, res.Message)
	}
	data := res.Data.(map[string]any)
	grouped := data["slots"].(map[string][]string)
	if len(grouped["2026-02-09"]) != 2 || len(grouped["2026-02-10"]) != 1 {
		t.Fatalf("grouped = %v", grouped)
	}

	res = d.Invoke(context.Background(), sess, contractx.ToolFetchSlots,
		map[string]any{"date": "2026-03-01"})
	if res.Outcome != contractx.OutcomeSuccess || res.Data != nil {
		t.Fatalf("empty-day fetch = %+v, want success with no data", res)
	}
	if !strings.Contains(res.Message, "2026-03-01") {
		t.Fatalf("message = %q, want the requested date named", res.Message)
	}
}

func TestInvokeCancelMissing(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolCancelAppointment,
		map[string]any{"date": "2026-02-09", "time": "14:00"})
	if res.Outcome != contractx.OutcomeNotFound {
		t.Fatalf("outcome = %s, want not_found", res.Outcome)
	}
}

func TestInvokeModifyMoves(t *testing.T) {
	t.Parallel()
	d, store := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	d.Invoke(context.Background(), sess, contractx.ToolBookAppointment,
		map[string]any{"date": "2026-02-09", "time": "14:00", "reason": "checkup"})
	res := d.Invoke(context.Background(), sess, contractx.ToolModifyAppointment, map[string]any{
		"old_date": "2026-02-09", "old_time": "14:00",
		"new_date": "2026-02-10", "new_time": "09:30",
	})
	if res.Outcome != contractx.OutcomeSuccess {
		t.Fatalf("outcome = %s: %s", res.Outcome, res.Message)
	}
	appt := res.Data.(*booking.Appointment)
	if appt.Date != "2026-02-10" || appt.Time != "09:30" || appt.Reason != "checkup" {
		t.Fatalf("replacement = %+v", appt)
	}

	rec := sess.Timeline[len(sess.Timeline)-1]
	if rec.Action != contractx.ActionModified || rec.NewDate != "2026-02-10" || rec.NewTime != "09:30" {
		t.Fatalf("record = %+v", rec)
	}

	booked, err := store.ListForUser(context.Background(), "4155551234", booking.StatusBooked)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(booked) != 1 || booked[0].Date != "2026-02-10" {
		t.Fatalf("booked = %+v, want single moved appointment", booked)
	}
}

func TestInvokeRetrieveRejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolRetrieveAppointments,
		map[string]any{"status": "pending"})
	if res.Outcome != contractx.OutcomeValidationError {
		t.Fatalf("outcome = %s, want validation_error", res.Outcome)
	}
}

func TestInvokeUnhandledTool(t *testing.T) {
	t.Parallel()
	d, _ := seededDispatcher(t)
	sess := newActiveSession(t, "4155551234")

	res := d.Invoke(context.Background(), sess, contractx.ToolEndConversation, nil)
	if res.Outcome != contractx.OutcomeValidationError {
		t.Fatalf("outcome = %s, want validation_error for dispatcher-level end_conversation", res.Outcome)
	}
}

func TestRecordAppendsWithoutStoreAccess(t *testing.T) {
	t.Parallel()
	d, store := seededDispatcher(t)
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.State = statex.StateIdentifying

	d.Record(sess, contractx.ToolBookAppointment, contractx.OutcomeNotIdentified,
		"Rejected book_appointment before identification")
	if len(sess.Timeline) != 1 {
		t.Fatalf("timeline length = %d, want 1", len(sess.Timeline))
	}
	rec := sess.Timeline[0]
	if rec.Outcome != contractx.OutcomeNotIdentified || rec.Timestamp.IsZero() {
		t.Fatalf("record = %+v", rec)
	}

	slots, err := store.ListAvailable(context.Background(), "")
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("available slots = %d, want store untouched", len(slots))
	}
}
