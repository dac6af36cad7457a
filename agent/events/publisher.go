package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindTranscriptUpdate Kind = "transcript-update"
	KindToolCall         Kind = "tool-call"
	KindCallSummary      Kind = "call_summary"
)

type Event struct {
	Kind      Kind      `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

const defaultBufferSize = 64

type subscriber struct {
	ch chan Event
	// closed guards against double close: both the subscriber's cancel func
	// and CloseSession may try to tear the channel down. Guarded by the
	// publisher mutex.
	closed bool
}

// Publisher fans out per-session events to subscribers in generation order.
// Delivery policy: each subscriber has a bounded buffer and the OLDEST event
// is dropped on overflow, so a slow or disconnected subscriber never blocks
// session progress. No ordering is guaranteed across sessions.
type Publisher struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	bufSize int
	now     func() time.Time
}

func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Publisher{
		subs:    make(map[string][]*subscriber),
		bufSize: bufferSize,
		now:     time.Now,
	}
}

// Subscribe registers an observer for one session's events. The returned
// cancel function detaches the subscriber and closes its channel.
func (p *Publisher) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, p.bufSize)}

	p.mu.Lock()
	p.subs[sessionID] = append(p.subs[sessionID], sub)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		remaining := p.subs[sessionID][:0]
		for _, s := range p.subs[sessionID] {
			if s != sub {
				remaining = append(remaining, s)
			}
		}
		if len(remaining) == 0 {
			delete(p.subs, sessionID)
		} else {
			p.subs[sessionID] = remaining
		}
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber of the session. Events
// published under the same session are observed in publish order.
func (p *Publisher) Publish(sessionID string, kind Kind, payload any) {
	event := Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: p.now().UTC(),
		Payload:   payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs[sessionID] {
		for {
			select {
			case sub.ch <- event:
			default:
				// Buffer full: evict the oldest event and retry.
				select {
				case <-sub.ch:
					log.Debug().
						Str("session_id", sessionID).
						Str("kind", string(kind)).
						Msg("subscriber buffer full; dropped oldest event")
				default:
				}
				continue
			}
			break
		}
	}
}

// CloseSession detaches and closes every subscriber of the session. Buffered
// events remain readable until the channel drains.
func (p *Publisher) CloseSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs[sessionID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(p.subs, sessionID)
}
