package transcript

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/superbryn/callcore/agent/contract"
)

// Assembler folds a stream of possibly reordered, possibly repeated segment
// deliveries into an ordered message log. The merge is idempotent: a delivery
// that changes neither text nor finality is a no-op, so redelivery is always
// safe. Per-session state only; no cross-session synchronization needed.
type Assembler struct {
	mu        sync.Mutex
	segments  map[string]*contractx.TranscriptSegment
	arrival   map[string]int
	nextSeq   int
	anomalies int

	now func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{
		segments: make(map[string]*contractx.TranscriptSegment),
		arrival:  make(map[string]int),
		now:      time.Now,
	}
}

// Apply merges one delivery and reports whether it changed visible state.
// A finality regression (stored true, delivered false) is never applied; it
// is counted and logged as a protocol anomaly.
func (a *Assembler) Apply(seg contractx.TranscriptSegment) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored, ok := a.segments[seg.ID]
	if !ok {
		copied := seg
		if copied.FirstSeen.IsZero() {
			copied.FirstSeen = a.now().UTC()
		}
		a.segments[seg.ID] = &copied
		a.arrival[seg.ID] = a.nextSeq
		a.nextSeq++
		return true
	}

	if stored.Final && !seg.Final {
		a.anomalies++
		log.Warn().
			Str("segment_id", seg.ID).
			Msg("finality regression ignored; upstream protocol anomaly")
		// The regressed finality flag is discarded, but a genuinely new
		// text revision would have been part of the same anomalous
		// delivery; drop the whole thing.
		return false
	}

	if seg.Speaker != stored.Speaker {
		// A segment id never changes hands mid-call; keep the stored
		// speaker and count the delivery as an anomaly.
		a.anomalies++
		log.Warn().
			Str("segment_id", seg.ID).
			Msg("speaker change ignored; upstream protocol anomaly")
	}

	changed := false
	if seg.Text != stored.Text {
		stored.Text = seg.Text
		changed = true
	}
	if seg.Final && !stored.Final {
		stored.Final = true
		changed = true
	}
	return changed
}

// Snapshot returns the current ordered message log: segments sorted by
// first-seen timestamp, ties broken by arrival order. Consumers may re-read
// the latest snapshot at any time.
func (a *Assembler) Snapshot() []contractx.TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]contractx.TranscriptSegment, 0, len(a.segments))
	for _, seg := range a.segments {
		out = append(out, *seg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return a.arrival[out[i].ID] < a.arrival[out[j].ID]
	})
	return out
}

// Anomalies reports how many finality regressions were observed and ignored.
func (a *Assembler) Anomalies() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anomalies
}
