package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/superbryn/callcore/agent/contract"
	statex "github.com/superbryn/callcore/agent/state"
)

type fakeCompleter struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var reply string
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return reply, err
}

func sessionWithActions(t *testing.T) *statex.CallSession {
	t.Helper()
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.BindUser("4155551234", "Ada", time.Now())
	sess.AppendAction(contractx.ToolActionRecord{
		Tool:        contractx.ToolIdentifyUser,
		Description: "Identified existing user: Ada",
		Outcome:     contractx.OutcomeSuccess,
		Timestamp:   time.Now(),
	})
	sess.AppendAction(contractx.ToolActionRecord{
		Tool:        contractx.ToolBookAppointment,
		Description: "Booked appointment on 2026-02-09 at 14:00",
		Outcome:     contractx.OutcomeSuccess,
		Action:      contractx.ActionBooked,
		Date:        "2026-02-09",
		Time:        "14:00",
		Timestamp:   time.Now(),
	})
	sess.AppendAction(contractx.ToolActionRecord{
		Tool:        contractx.ToolBookAppointment,
		Description: "Attempted to book unavailable slot 2026-02-09 15:00",
		Outcome:     contractx.OutcomeConflict,
		Date:        "2026-02-09",
		Time:        "15:00",
		Timestamp:   time.Now(),
	})
	return sess
}

func TestGenerateUsesModelNarrative(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{replies: []string{"Ada booked an appointment on 2026-02-09 at 14:00."}}
	g := NewGenerator(fc, Config{Timeout: time.Second, Retries: 1})

	got := g.Generate(context.Background(), sessionWithActions(t))
	if got.Summary != "Ada booked an appointment on 2026-02-09 at 14:00." {
		t.Fatalf("summary = %q", got.Summary)
	}
	if len(got.Appointments) != 1 {
		t.Fatalf("appointments = %+v, want only the successful booking", got.Appointments)
	}
	appt := got.Appointments[0]
	if appt.Action != contractx.ActionBooked || appt.Date != "2026-02-09" || appt.Time != "14:00" {
		t.Fatalf("appointment = %+v", appt)
	}
	if got.PhoneNumber != "4155551234" || got.UserName != "Ada" {
		t.Fatalf("identity = %q / %q", got.PhoneNumber, got.UserName)
	}
	if !strings.Contains(fc.prompts[0], "Booked appointment on 2026-02-09 at 14:00") {
		t.Fatalf("prompt missing timeline entry:\n%s", fc.prompts[0])
	}
}

func TestAppointmentActionsKeepCallOrder(t *testing.T) {
	t.Parallel()
	g := NewGenerator(nil, Config{Timeout: time.Second})
	sess := statex.NewCallSession("sess-1", time.Now())
	sess.BindUser("4155551234", "Ada", time.Now())

	base := time.Now()
	sess.AppendAction(contractx.ToolActionRecord{
		Tool: contractx.ToolBookAppointment, Outcome: contractx.OutcomeSuccess,
		Action: contractx.ActionBooked, Date: "2026-02-09", Time: "14:00",
		Description: "Booked appointment on 2026-02-09 at 14:00", Timestamp: base,
	})
	sess.AppendAction(contractx.ToolActionRecord{
		Tool: contractx.ToolModifyAppointment, Outcome: contractx.OutcomeSuccess,
		Action: contractx.ActionModified, Date: "2026-02-09", Time: "14:00",
		NewDate: "2026-02-10", NewTime: "09:30",
		Description: "Modified appointment from 2026-02-09 14:00 to 2026-02-10 09:30",
		Timestamp:   base.Add(time.Second),
	})
	sess.AppendAction(contractx.ToolActionRecord{
		Tool: contractx.ToolCancelAppointment, Outcome: contractx.OutcomeSuccess,
		Action: contractx.ActionCancelled, Date: "2026-02-10", Time: "09:30",
		Description: "Cancelled appointment on 2026-02-10 at 09:30",
		Timestamp:   base.Add(2 * time.Second),
	})

	got := g.Generate(context.Background(), sess)
	if len(got.Appointments) != 3 {
		t.Fatalf("appointments = %d, want 3", len(got.Appointments))
	}
	wantOrder := []contractx.ActionKind{
		contractx.ActionBooked, contractx.ActionModified, contractx.ActionCancelled,
	}
	for i, want := range wantOrder {
		if got.Appointments[i].Action != want {
			t.Fatalf("appointments[%d].Action = %s, want %s", i, got.Appointments[i].Action, want)
		}
	}
	if got.Appointments[1].NewDate != "2026-02-10" || got.Appointments[1].NewTime != "09:30" {
		t.Fatalf("modified entry = %+v, want new slot carried", got.Appointments[1])
	}
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{
		errs:    []error{errors.New("transient"), nil},
		replies: []string{"", "Summary text."},
	}
	g := NewGenerator(fc, Config{Timeout: time.Second, Retries: 2})

	got := g.Generate(context.Background(), sessionWithActions(t))
	if got.Summary != "Summary text." {
		t.Fatalf("summary = %q", got.Summary)
	}
	if fc.calls != 2 {
		t.Fatalf("calls = %d, want 2", fc.calls)
	}
}

func TestGenerateFallsBackAfterExhaustedRetries(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	g := NewGenerator(fc, Config{Timeout: time.Second, Retries: 2})

	got := g.Generate(context.Background(), sessionWithActions(t))
	if fc.calls != 3 {
		t.Fatalf("calls = %d, want 3 attempts", fc.calls)
	}
	if !strings.Contains(got.Summary, "booked 2026-02-09 at 14:00") {
		t.Fatalf("fallback summary = %q, want booked slot named", got.Summary)
	}
	if len(got.Appointments) != 1 {
		t.Fatalf("appointments survive fallback, got %+v", got.Appointments)
	}
}

func TestGenerateFallbackWithoutCompleter(t *testing.T) {
	t.Parallel()
	g := NewGenerator(nil, Config{Timeout: time.Second})
	sess := statex.NewCallSession("sess-1", time.Now())

	got := g.Generate(context.Background(), sess)
	if !strings.Contains(got.Summary, "Call with user (unknown)") {
		t.Fatalf("summary = %q", got.Summary)
	}
	if len(got.Appointments) != 0 {
		t.Fatalf("appointments = %+v, want none", got.Appointments)
	}
}

func TestGenerateStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{errs: []error{errors.New("down")}}
	g := NewGenerator(fc, Config{Timeout: time.Second, Retries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := g.Generate(ctx, sessionWithActions(t))
	if fc.calls != 0 {
		t.Fatalf("calls = %d, want 0 with cancelled context", fc.calls)
	}
	if got.Summary == "" {
		t.Fatalf("fallback summary missing")
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"plain text":                         "plain text",
		"```\nwrapped text\n```":             "wrapped text",
		"```json\n{\"summary\": \"x\"}\n```": "{\"summary\": \"x\"}",
		"```":                                "",
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Fatalf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFlattenForStorage(t *testing.T) {
	t.Parallel()
	s := contractx.CallSummary{
		Summary: "Ada moved her appointment.",
		Appointments: []contractx.AppointmentAction{
			{Action: contractx.ActionModified, Date: "2026-02-09", Time: "14:00", NewDate: "2026-02-10", NewTime: "09:30"},
			{Action: contractx.ActionCancelled, Date: "2026-02-11", Time: "10:00"},
		},
	}
	got := FlattenForStorage(s)
	want := "Ada moved her appointment. | Appointments: Modified on 2026-02-09 at 14:00 -> moved to 2026-02-10 at 09:30; Cancelled on 2026-02-11 at 10:00"
	if got != want {
		t.Fatalf("flattened = %q, want %q", got, want)
	}

	plain := contractx.CallSummary{Summary: "Nothing happened."}
	if got := FlattenForStorage(plain); got != "Nothing happened." {
		t.Fatalf("flattened = %q", got)
	}
}
