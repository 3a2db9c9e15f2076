package scan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/alerts"
	"github.com/meghal86/smart-stake-sub001/internal/cache"
	"github.com/meghal86/smart-stake-sub001/internal/circuitbreaker"
	"github.com/meghal86/smart-stake-sub001/internal/idgen"
	"github.com/meghal86/smart-stake-sub001/internal/logging"
	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/probe"
	"github.com/meghal86/smart-stake-sub001/internal/retry"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
	"github.com/meghal86/smart-stake-sub001/internal/traces"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

const (
	// DefaultProbeTimeout bounds each probe independently: one slow
	// source never delays overall completion beyond its own budget.
	DefaultProbeTimeout = 8 * time.Second

	// DefaultRetryBase is the backoff base for the single probe retry.
	DefaultRetryBase = 500 * time.Millisecond

	// runnerRetention keeps a finished runner subscribable for late
	// joiners before falling back to the store.
	runnerRetention = 5 * time.Minute

	subscriberBuffer = 32
)

// Config tunes the orchestrator.
type Config struct {
	ProbeTimeout time.Duration
	RetryBase    time.Duration
}

// Orchestrator runs the configured probe set concurrently per scan,
// gated by the cache and per-source circuit breakers.
type Orchestrator struct {
	probes   []probe.Probe
	store    Store
	cache    cache.Cache
	table    *scoring.Table
	notifier alerts.Notifier
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
	cfg      Config

	mu      sync.RWMutex
	runners map[string]*runner
}

// NewOrchestrator wires the probe set. notifier may be nil (alerts
// disabled).
func NewOrchestrator(probes []probe.Probe, store Store, c cache.Cache, table *scoring.Table, notifier alerts.Notifier, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	return &Orchestrator{
		probes:   probes,
		store:    store,
		cache:    c,
		table:    table,
		notifier: notifier,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		logger:   logger,
		cfg:      cfg,
		runners:  make(map[string]*runner),
	}
}

// StartScan validates the target, creates a Pending session, and starts
// the probe fan-out. Validation failures return before any adapter is
// called. The scan runs until done or ctx is cancelled; cancellation
// marks the session Failed without emitting further events.
func (o *Orchestrator) StartScan(ctx context.Context, address, chain, requestID string) (*Session, error) {
	if err := validation.ValidateScanTarget(address, chain); err != nil {
		return nil, err
	}
	canonical, err := validation.CanonicalAddress(address)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:            idgen.WithPrefix("scan_"),
		WalletAddress: canonical,
		Chain:         chain,
		State:         StatePending,
		StartedAt:     time.Now().UTC(),
		Findings:      []scoring.Finding{},
		RequestID:     requestID,
	}
	if err := o.store.Create(ctx, session); err != nil {
		return nil, err
	}

	r := newRunner(session)
	o.mu.Lock()
	o.runners[session.ID] = r
	o.mu.Unlock()

	go o.run(logging.WithScanID(ctx, session.ID), r)

	return session.Clone(), nil
}

// Subscribe attaches to a session's event stream. The returned snapshot
// event reflects everything that already happened; subsequent events
// arrive on the channel in completion order. For sessions no longer
// resident (restart, retention expiry) a terminal snapshot is synthesized
// from the store and the channel is already closed.
func (o *Orchestrator) Subscribe(ctx context.Context, sessionID string) (StepEvent, <-chan StepEvent, func(), error) {
	o.mu.RLock()
	r, ok := o.runners[sessionID]
	o.mu.RUnlock()
	if ok {
		snap, ch, cancel := r.subscribe()
		return snap, ch, cancel, nil
	}

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return StepEvent{}, nil, nil, err
	}
	ch := make(chan StepEvent)
	close(ch)
	return snapshotOf(session), ch, func() {}, nil
}

type probeOutcome struct {
	probeName string
	evidence  *probe.Evidence
	errKind   probe.ErrorKind
}

// run is the single writer for one session: probe completions are
// funneled through it, so persisted state and streamed events are never
// out of order or duplicated.
func (o *Orchestrator) run(ctx context.Context, r *runner) {
	start := time.Now()
	logger := logging.L(ctx)
	ctx, span := traces.StartSpan(ctx, "scan.run",
		traces.ScanID(r.session.ID),
		traces.WalletAddr(r.session.WalletAddress),
		traces.Chain(r.session.Chain))
	defer span.End()

	r.setState(StateRunning)
	o.persist(ctx, r)

	if len(o.probes) == 0 {
		o.fail(ctx, r, "total outage: no probes configured", start)
		return
	}

	results := make(chan probeOutcome, len(o.probes))
	for _, p := range o.probes {
		go o.executeProbe(ctx, p, r.session.WalletAddress, r.session.Chain, results)
	}

	total := len(o.probes)
	usable := 0

	for completed := 1; completed <= total; completed++ {
		var out probeOutcome
		select {
		case <-ctx.Done():
			o.fail(ctx, r, "cancelled", start)
			return
		case out = <-results:
		}

		if !out.evidence.Degraded {
			usable++
		}
		delta := o.table.BuildFindings(out.evidence, time.Now())
		r.appendFindings(delta)

		if completed < total {
			r.setState(StateStreaming)
			r.emit(StepEvent{
				ScanID:          r.session.ID,
				ProbeName:       out.probeName,
				ProgressPercent: completed * 100 / total,
				State:           StateStreaming,
				Evidence:        out.evidence,
				FindingDelta:    delta,
				Error:           string(out.errKind),
			})
			continue
		}

		// Last completion carries the terminal event.
		if usable == 0 {
			o.fail(ctx, r, "total outage: no probe returned usable evidence", start)
			return
		}

		result := o.table.Aggregate(r.session.Findings)
		r.complete(result)
		o.persist(ctx, r)

		metrics.ScansTotal.WithLabelValues(string(StateCompleted)).Inc()
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		metrics.TrustScores.Observe(float64(result.Score))
		logger.Info("scan completed",
			"wallet", r.session.WalletAddress,
			"score", result.Score,
			"grade", result.Grade,
			"confidence", result.ConfidenceOverall,
			"usable_probes", usable,
			"duration_ms", time.Since(start).Milliseconds())

		r.emit(StepEvent{
			ScanID:          r.session.ID,
			ProbeName:       out.probeName,
			ProgressPercent: 100,
			State:           StateCompleted,
			Evidence:        out.evidence,
			FindingDelta:    delta,
			Result:          &result,
		})
		r.close()
		o.scheduleCleanup(r.session.ID)

		o.alert(r.session.WalletAddress, result)
		return
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *runner, reason string, start time.Time) {
	r.failWith(reason)
	// Persist with a fresh context: the scan context is often already
	// cancelled here.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.persist(persistCtx, r)

	metrics.ScansTotal.WithLabelValues(string(StateFailed)).Inc()
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	logging.L(ctx).Warn("scan failed", "wallet", r.session.WalletAddress, "reason", reason)

	if reason != "cancelled" {
		r.emit(StepEvent{
			ScanID:          r.session.ID,
			ProgressPercent: 100,
			State:           StateFailed,
			Error:           reason,
		})
	}
	r.close()
	o.scheduleCleanup(r.session.ID)
}

// executeProbe resolves one probe: cache first, then the adapter with
// one retry, breaker-gated. Failures land as degraded zero-confidence
// evidence; already-cached results stay valid even if the scan is later
// cancelled.
func (o *Orchestrator) executeProbe(ctx context.Context, p probe.Probe, address, chain string, results chan<- probeOutcome) {
	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	probeCtx, span := traces.StartSpan(probeCtx, "scan.probe", traces.ProbeSource(p.SourceID()))
	defer span.End()

	key := cache.Key{ProbeType: p.Name(), Chain: chain, Address: address}
	if ev := o.cachedEvidence(probeCtx, key); ev != nil {
		metrics.CacheHits.WithLabelValues("hit").Inc()
		metrics.ProbesTotal.WithLabelValues(p.SourceID(), "cached").Inc()
		results <- probeOutcome{probeName: p.Name(), evidence: ev}
		return
	}
	metrics.CacheHits.WithLabelValues("miss").Inc()

	if !o.breaker.Allow(p.SourceID()) {
		metrics.ProbesTotal.WithLabelValues(p.SourceID(), "breaker_open").Inc()
		results <- probeOutcome{
			probeName: p.Name(),
			evidence:  probe.DegradedEvidence(p.Name(), p.SourceID(), probe.ErrUnavailable),
			errKind:   probe.ErrUnavailable,
		}
		return
	}

	start := time.Now()
	var ev *probe.Evidence
	err := retry.Do(probeCtx, 2, o.cfg.RetryBase, func() error {
		var ferr error
		ev, ferr = p.Fetch(probeCtx, address, chain)
		return ferr
	})
	metrics.ProbeDuration.WithLabelValues(p.SourceID()).Observe(time.Since(start).Seconds())

	if err != nil {
		o.breaker.RecordFailure(p.SourceID())
		kind := probe.ErrUnavailable
		var perr *probe.Error
		if errors.As(err, &perr) {
			kind = perr.Kind
		}
		if probeCtx.Err() != nil {
			kind = probe.ErrTimeout
		}
		metrics.ProbesTotal.WithLabelValues(p.SourceID(), string(kind)).Inc()
		logging.L(ctx).Warn("probe degraded", "source", p.SourceID(), "kind", kind, "error", err)
		results <- probeOutcome{
			probeName: p.Name(),
			evidence:  probe.DegradedEvidence(p.Name(), p.SourceID(), kind),
			errKind:   kind,
		}
		return
	}

	o.breaker.RecordSuccess(p.SourceID())
	metrics.ProbesTotal.WithLabelValues(p.SourceID(), "success").Inc()
	o.storeEvidence(probeCtx, key, ev, p.TTL())
	results <- probeOutcome{probeName: p.Name(), evidence: ev}
}

func (o *Orchestrator) cachedEvidence(ctx context.Context, key cache.Key) *probe.Evidence {
	if o.cache == nil {
		return nil
	}
	data, ok, err := o.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var ev probe.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}
	ev.Cached = true
	return &ev
}

func (o *Orchestrator) storeEvidence(ctx context.Context, key cache.Key, ev *probe.Evidence, ttl time.Duration) {
	if o.cache == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, key, data, ttl); err != nil {
		o.logger.Warn("evidence cache write failed", "key", key.String(), "error", err)
	}
}

func (o *Orchestrator) alert(walletAddress string, result scoring.TrustScoreResult) {
	if o.notifier == nil {
		return
	}
	a, ok := alerts.FromResult(walletAddress, result)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.notifier.Notify(ctx, a); err != nil {
			o.logger.Warn("alert notify failed", "wallet", walletAddress, "error", err)
		}
	}()
}

func (o *Orchestrator) persist(ctx context.Context, r *runner) {
	if err := o.store.Update(ctx, r.sessionSnapshot()); err != nil {
		o.logger.Error("session persist failed", "scan_id", r.session.ID, "error", err)
	}
}

func (o *Orchestrator) scheduleCleanup(sessionID string) {
	time.AfterFunc(runnerRetention, func() {
		o.mu.Lock()
		delete(o.runners, sessionID)
		o.mu.Unlock()
	})
}

// GetSession reads a session, preferring the live runner state over the
// store so pollers see streaming progress.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*Session, error) {
	o.mu.RLock()
	r, ok := o.runners[id]
	o.mu.RUnlock()
	if ok {
		return r.sessionSnapshot(), nil
	}
	return o.store.Get(ctx, id)
}
