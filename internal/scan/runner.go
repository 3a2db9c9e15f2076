package scan

import (
	"sync"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
)

// runner holds the live state of one in-flight session and fans events
// out to subscribers. All session mutation goes through it; the
// orchestrator's run loop is the only caller of the mutating methods,
// so each subscriber observes monotonically increasing progress.
type runner struct {
	mu       sync.Mutex
	session  *Session
	progress int
	result   *scoring.TrustScoreResult
	subs     map[chan StepEvent]struct{}
	closed   bool
}

func newRunner(session *Session) *runner {
	return &runner{
		session: session,
		subs:    make(map[chan StepEvent]struct{}),
	}
}

func (r *runner) setState(s State) {
	r.mu.Lock()
	if !r.session.State.Terminal() {
		r.session.State = s
	}
	r.mu.Unlock()
}

func (r *runner) appendFindings(delta []scoring.Finding) {
	r.mu.Lock()
	r.session.Findings = append(r.session.Findings, delta...)
	r.mu.Unlock()
}

func (r *runner) complete(result scoring.TrustScoreResult) {
	now := time.Now().UTC()
	r.mu.Lock()
	r.session.State = StateCompleted
	r.session.CompletedAt = &now
	r.session.Score = result.Score
	r.session.Grade = result.Grade
	r.session.ConfidenceOverall = result.ConfidenceOverall
	r.result = &result
	r.progress = 100
	r.mu.Unlock()
}

func (r *runner) failWith(reason string) {
	now := time.Now().UTC()
	r.mu.Lock()
	if !r.session.State.Terminal() {
		r.session.State = StateFailed
		r.session.CompletedAt = &now
		r.session.FailureReason = reason
	}
	r.progress = 100
	r.mu.Unlock()
}

func (r *runner) sessionSnapshot() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// emit broadcasts an event to every subscriber. Subscribers that cannot
// keep up are evicted rather than allowed to stall the scan.
func (r *runner) emit(ev StepEvent) {
	r.mu.Lock()
	if ev.ProgressPercent > r.progress {
		r.progress = ev.ProgressPercent
	}
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			delete(r.subs, ch)
			close(ch)
			metrics.ActiveStreamClients.Dec()
		}
	}
	r.mu.Unlock()
}

// close ends the stream; subscribers' channels are closed after the
// terminal event has been delivered.
func (r *runner) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for ch := range r.subs {
			delete(r.subs, ch)
			close(ch)
			metrics.ActiveStreamClients.Dec()
		}
	}
	r.mu.Unlock()
}

// subscribe returns a synthetic snapshot of everything so far plus a
// live channel. Late joiners get the snapshot, not a replay flood.
func (r *runner) subscribe() (StepEvent, chan StepEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := snapshotOf(r.session.Clone())
	snap.ProgressPercent = r.progress
	snap.Result = r.result

	ch := make(chan StepEvent, subscriberBuffer)
	if r.closed {
		close(ch)
		return snap, ch, func() {}
	}

	r.subs[ch] = struct{}{}
	metrics.ActiveStreamClients.Inc()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
			metrics.ActiveStreamClients.Dec()
		}
		r.mu.Unlock()
	}
	return snap, ch, cancel
}

// snapshotOf builds the synthetic current-state event for a session.
func snapshotOf(s *Session) StepEvent {
	ev := StepEvent{
		ScanID:          s.ID,
		State:           s.State,
		FindingDelta:    s.Findings,
		Error:           s.FailureReason,
		Snapshot:        true,
		ProgressPercent: 0,
	}
	if s.State.Terminal() {
		ev.ProgressPercent = 100
	}
	if s.State == StateCompleted {
		ev.Result = &scoring.TrustScoreResult{
			Score:             s.Score,
			Grade:             s.Grade,
			ConfidenceOverall: s.ConfidenceOverall,
			Flags:             nonInfoFindings(s.Findings),
		}
	}
	return ev
}

func nonInfoFindings(findings []scoring.Finding) []scoring.Finding {
	var flags []scoring.Finding
	for _, f := range findings {
		if f.Severity != scoring.SeverityInfo {
			flags = append(flags, f)
		}
	}
	return flags
}
