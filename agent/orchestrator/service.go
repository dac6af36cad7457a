package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/superbryn/callcore/agent/booking"
	contractx "github.com/superbryn/callcore/agent/contract"
	eventsx "github.com/superbryn/callcore/agent/events"
	statex "github.com/superbryn/callcore/agent/state"
	summaryx "github.com/superbryn/callcore/agent/summary"
	toolx "github.com/superbryn/callcore/agent/tool"
	"github.com/superbryn/callcore/agent/transcript"
)

// Engine is the session controller: it owns every live call, serializes all
// activity per session, gates tool invocations by call state, and drives the
// end-of-call summary flow. Cross-session operations run concurrently.
type Engine struct {
	store      booking.Store
	dispatcher *toolx.Dispatcher
	summarizer *summaryx.Generator
	publisher  *eventsx.Publisher

	graphRunner compose.Runnable[InvokeInput, InvokeOutput]

	mu       sync.Mutex
	sessions map[string]*liveSession

	now func() time.Time
}

// liveSession pairs the call state with its transcript assembler. The mutex
// serializes every operation touching one session, so the state machine and
// timeline never see interleaved updates. The context spans the call's
// lifetime: CancelCall fires its cancel func without waiting for the mutex,
// so a suspension in flight (summary generation, store I/O) observes the
// hard termination immediately.
type liveSession struct {
	mu   sync.Mutex
	sess *statex.CallSession
	asm  *transcript.Assembler

	ctx    context.Context
	cancel context.CancelFunc
}

// scoped derives a context cancelled by either the caller or a hard session
// cancellation. The returned stop func releases both hooks.
func (l *liveSession) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ctx)
	detach := context.AfterFunc(l.ctx, cancel)
	return runCtx, func() {
		detach()
		cancel()
	}
}

func New(
	store booking.Store,
	summarizer *summaryx.Generator,
	publisher *eventsx.Publisher,
) (*Engine, error) {
	if store == nil {
		return nil, errors.New("booking store is required")
	}
	if summarizer == nil {
		return nil, errors.New("summary generator is required")
	}
	if publisher == nil {
		publisher = eventsx.NewPublisher(0)
	}

	e := &Engine{
		store:      store,
		dispatcher: toolx.NewDispatcher(store),
		summarizer: summarizer,
		publisher:  publisher,
		sessions:   make(map[string]*liveSession),
		now:        time.Now,
	}

	graphRunner, err := e.compileInvokeGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.graphRunner = graphRunner

	return e, nil
}

// StartCall registers a new call session and returns its id. An empty id is
// assigned a fresh one.
func (e *Engine) StartCall(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; ok {
		return "", fmt.Errorf("%w: session %q already exists", contractx.ErrValidation, sessionID)
	}
	callCtx, callCancel := context.WithCancel(context.Background())
	e.sessions[sessionID] = &liveSession{
		sess:   statex.NewCallSession(sessionID, e.now()),
		asm:    transcript.NewAssembler(),
		ctx:    callCtx,
		cancel: callCancel,
	}
	log.Info().Str("session_id", sessionID).Msg("call started")
	return sessionID, nil
}

// Subscribe attaches an observer to a live session's event stream. Unknown or
// already-ended sessions are rejected so a subscriber is never registered
// where no CloseSession will reap it.
func (e *Engine) Subscribe(sessionID string) (<-chan eventsx.Event, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; !ok {
		return nil, nil, fmt.Errorf("%w: %q", contractx.ErrSessionNotFound, sessionID)
	}
	ch, cancel := e.publisher.Subscribe(sessionID)
	return ch, cancel, nil
}

// Tools returns the catalog the conversation layer registers with its
// language model. Every entry maps onto a tool InvokeTool accepts.
func (e *Engine) Tools() []*schema.ToolInfo {
	return toolx.Catalog()
}

func (e *Engine) live(sessionID string) (*liveSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrSessionNotFound, sessionID)
	}
	return live, nil
}

// markActivity moves an idle session into Identifying. Idle exists only until
// the first segment or tool call arrives.
func (e *Engine) markActivity(sess *statex.CallSession) {
	if sess.State == statex.StateIdle {
		_ = sess.Transition(statex.StateIdentifying, e.now())
	}
}

// DeliverSegment merges one transcript delivery into the session's message
// log. Effective updates are fanned out as transcript-update events;
// redeliveries and ignored regressions publish nothing.
func (e *Engine) DeliverSegment(ctx context.Context, sessionID string, seg contractx.TranscriptSegment) error {
	live, err := e.live(sessionID)
	if err != nil {
		return err
	}

	live.mu.Lock()
	defer live.mu.Unlock()
	e.markActivity(live.sess)

	if live.asm.Apply(seg) {
		e.publisher.Publish(sessionID, eventsx.KindTranscriptUpdate, live.asm.Snapshot())
	}
	return nil
}

// Transcript returns the session's current ordered message log.
func (e *Engine) Transcript(sessionID string) ([]contractx.TranscriptSegment, error) {
	live, err := e.live(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	return live.asm.Snapshot(), nil
}

// InvokeTool runs one named tool against the session. State gating happens
// before any store access: an illegal invocation is recorded on the timeline
// and rejected without side effects. end_conversation triggers the full
// summary-and-disconnect flow.
func (e *Engine) InvokeTool(ctx context.Context, sessionID, toolName string, args map[string]any) (contractx.ToolResult, error) {
	tool, err := contractx.ParseToolName(toolName)
	if err != nil {
		return contractx.ToolResult{}, err
	}

	live, err := e.live(sessionID)
	if err != nil {
		return contractx.ToolResult{}, err
	}

	live.mu.Lock()
	defer live.mu.Unlock()
	e.markActivity(live.sess)

	if tool == contractx.ToolEndConversation {
		if !statex.ToolAllowed(live.sess.State, tool) {
			return e.reject(live.sess, tool), nil
		}
		summary, err := e.endLocked(ctx, live)
		if err != nil {
			return contractx.ToolResult{}, err
		}
		return contractx.ToolResult{
			Tool:    tool,
			Outcome: contractx.OutcomeSuccess,
			Message: "The conversation has ended. The summary has been generated and delivered.",
			Data:    summary,
		}, nil
	}

	if !statex.ToolAllowed(live.sess.State, tool) {
		return e.reject(live.sess, tool), nil
	}

	runCtx, stop := live.scoped(ctx)
	defer stop()
	out, err := e.graphRunner.Invoke(runCtx, InvokeInput{
		Session: live.sess,
		Tool:    tool,
		Args:    args,
	})
	if err != nil {
		return contractx.ToolResult{}, err
	}
	return out.Result, nil
}

// reject records a gated-off invocation on the timeline and returns the
// verbal rejection. The booking store is never touched.
func (e *Engine) reject(sess *statex.CallSession, tool contractx.ToolName) contractx.ToolResult {
	var outcome contractx.Outcome
	var message string
	var cause error
	switch {
	case sess.State == statex.StateIdentifying:
		outcome = contractx.OutcomeNotIdentified
		message = "The user has not been identified yet. Ask for their phone number and call identify_user first."
		cause = fmt.Errorf("%w: %s", contractx.ErrNotIdentified, tool)
	default:
		outcome = contractx.OutcomeValidationError
		message = fmt.Sprintf("The tool %s cannot be used while the call is %s.", tool, sess.State)
		cause = fmt.Errorf("%w: %s in state %s", contractx.ErrValidation, tool, sess.State)
	}

	e.dispatcher.Record(sess, tool, outcome,
		fmt.Sprintf("Rejected %s: %v", tool, cause))
	e.publisher.Publish(sess.ID, eventsx.KindToolCall, contractx.ToolResult{
		Tool:    tool,
		Outcome: outcome,
		Message: message,
	})
	log.Warn().
		Err(cause).
		Str("session_id", sess.ID).
		Str("state", string(sess.State)).
		Msg("tool invocation rejected by state gate")

	return contractx.ToolResult{Tool: tool, Outcome: outcome, Message: message}
}

// EndCall runs the graceful shutdown flow: Summarizing, summary generation
// and persistence, the call_summary event, then Ended.
func (e *Engine) EndCall(ctx context.Context, sessionID string) (contractx.CallSummary, error) {
	live, err := e.live(sessionID)
	if err != nil {
		return contractx.CallSummary{}, err
	}

	live.mu.Lock()
	defer live.mu.Unlock()
	e.markActivity(live.sess)
	return e.endLocked(ctx, live)
}

func (e *Engine) endLocked(ctx context.Context, live *liveSession) (contractx.CallSummary, error) {
	sess := live.sess
	if err := sess.Transition(statex.StateSummarizing, e.now()); err != nil {
		return contractx.CallSummary{}, err
	}

	runCtx, stop := live.scoped(ctx)
	defer stop()

	summary := e.summarizer.Generate(runCtx, sess)

	// Persistence failure never blocks hangup; the summary still reaches
	// subscribers.
	if err := e.store.SaveCallSummary(runCtx, sess.Phone, summaryx.FlattenForStorage(summary)); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist call summary")
	}

	e.publisher.Publish(sess.ID, eventsx.KindCallSummary, summary)

	if err := sess.Transition(statex.StateEnded, e.now()); err != nil {
		return contractx.CallSummary{}, err
	}
	e.forget(sess.ID)
	live.cancel()
	log.Info().Str("session_id", sess.ID).Msg("call ended")
	return summary, nil
}

// CancelCall hard-terminates the session from any state: transport loss or an
// operator kill. The session context is cancelled before the mutex is taken,
// so any in-flight suspension aborts instead of running to completion. No
// summary is generated; the timeline stays as collected.
func (e *Engine) CancelCall(ctx context.Context, sessionID, reason string) error {
	live, err := e.live(sessionID)
	if err != nil {
		return err
	}

	live.cancel()

	live.mu.Lock()
	defer live.mu.Unlock()
	live.sess.ForceEnd(e.now())
	e.forget(sessionID)
	log.Warn().
		Err(fmt.Errorf("%w: %s", contractx.ErrTransportLost, reason)).
		Str("session_id", sessionID).
		Msg("call cancelled")
	return nil
}

// forget detaches the session: removed from the live map and its event
// subscribers closed. Buffered events stay readable until drained.
func (e *Engine) forget(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	e.publisher.CloseSession(sessionID)
}
