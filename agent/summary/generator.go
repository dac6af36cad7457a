package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/superbryn/callcore/agent/contract"
	"github.com/superbryn/callcore/agent/prompt"
	statex "github.com/superbryn/callcore/agent/state"
)

// Generator produces the end-of-call summary. The appointment-action list is
// always derived from the session timeline; the language model only supplies
// the narrative sentences, so a model outage degrades the wording but never
// loses an action.
type Generator struct {
	completer contractx.Completer
	timeout   time.Duration
	retries   int
	now       func() time.Time
}

type Config struct {
	Timeout time.Duration `split_words:"true" default:"10s"`
	Retries int           `split_words:"true" default:"2"`
}

func NewGenerator(completer contractx.Completer, cfg Config) *Generator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Generator{
		completer: completer,
		timeout:   timeout,
		retries:   retries,
		now:       time.Now,
	}
}

// Generate builds the call summary for a session. It never returns an error:
// when the model is unreachable or keeps failing, the deterministic fallback
// narrative is used instead.
func (g *Generator) Generate(ctx context.Context, sess *statex.CallSession) contractx.CallSummary {
	actions := appointmentActions(sess.Timeline)

	narrative, err := g.narrate(ctx, sess)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sess.ID).
			Msg("summary narrative generation failed, using fallback")
		narrative = fallbackNarrative(sess, actions)
	}

	return contractx.CallSummary{
		Summary:      narrative,
		Appointments: actions,
		PhoneNumber:  sess.Phone,
		UserName:     sess.UserName,
		Timestamp:    g.now().UTC(),
	}
}

func (g *Generator) narrate(ctx context.Context, sess *statex.CallSession) (string, error) {
	if g.completer == nil {
		return "", fmt.Errorf("no completer configured")
	}

	lines := make([]string, 0, len(sess.Timeline))
	for _, rec := range sess.Timeline {
		lines = append(lines, fmt.Sprintf("[%s] %s", rec.Timestamp.Format(time.RFC3339), rec.Description))
	}
	rendered := prompt.RenderSummary(prompt.SummaryInput{
		UserName:    sess.UserName,
		PhoneNumber: sess.Phone,
		Actions:     lines,
	})

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		text, err := g.completer.Complete(attemptCtx, rendered)
		cancel()
		if err == nil {
			text = stripFences(text)
			if text != "" {
				return text, nil
			}
			err = fmt.Errorf("empty completion")
		}
		lastErr = err
		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Str("session_id", sess.ID).
			Msg("summary completion attempt failed")
	}
	return "", lastErr
}

// appointmentActions extracts the booking-relevant records from the timeline,
// in call order.
func appointmentActions(timeline []contractx.ToolActionRecord) []contractx.AppointmentAction {
	var out []contractx.AppointmentAction
	for _, rec := range timeline {
		if rec.Action == "" || rec.Outcome != contractx.OutcomeSuccess {
			continue
		}
		out = append(out, contractx.AppointmentAction{
			Action:  rec.Action,
			Date:    rec.Date,
			Time:    rec.Time,
			NewDate: rec.NewDate,
			NewTime: rec.NewTime,
			Details: rec.Description,
		})
	}
	return out
}

func fallbackNarrative(sess *statex.CallSession, actions []contractx.AppointmentAction) string {
	who := sess.UserName
	if who == "" {
		who = "user"
	}
	phone := sess.Phone
	if phone == "" {
		phone = "unknown"
	}
	if len(actions) == 0 {
		return fmt.Sprintf("Call with %s (%s). %d action(s) performed during the call.",
			who, phone, len(sess.Timeline))
	}

	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		part := fmt.Sprintf("%s %s at %s", a.Action, a.Date, a.Time)
		if a.NewDate != "" && a.NewTime != "" {
			part += fmt.Sprintf(" -> %s at %s", a.NewDate, a.NewTime)
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("Call with %s (%s). Appointment actions: %s.",
		who, phone, strings.Join(parts, "; "))
}

// stripFences removes a markdown code fence the model may have wrapped its
// response in, despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if _, rest, ok := strings.Cut(text, "\n"); ok {
		text = rest
	} else {
		return ""
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// FlattenForStorage renders the summary as a single line for persistence:
// the narrative, then the appointment actions.
func FlattenForStorage(s contractx.CallSummary) string {
	parts := []string{s.Summary}
	if len(s.Appointments) > 0 {
		lines := make([]string, 0, len(s.Appointments))
		for _, a := range s.Appointments {
			line := capitalize(string(a.Action))
			if a.Date != "" {
				line += " on " + a.Date
			}
			if a.Time != "" {
				line += " at " + a.Time
			}
			if a.NewDate != "" && a.NewTime != "" {
				line += fmt.Sprintf(" -> moved to %s at %s", a.NewDate, a.NewTime)
			}
			lines = append(lines, line)
		}
		parts = append(parts, "Appointments: "+strings.Join(lines, "; "))
	}
	return strings.Join(parts, " | ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
