package scan

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghal86/smart-stake-sub001/internal/cache"
	"github.com/meghal86/smart-stake-sub001/internal/logging"
	"github.com/meghal86/smart-stake-sub001/internal/probe"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

const testWallet = "0x1111111111111111111111111111111111111111"

type fakeProbe struct {
	name    string
	source  string
	ttl     time.Duration
	delay   time.Duration
	err     error
	payload map[string]any
	calls   atomic.Int32
}

func (f *fakeProbe) Name() string       { return f.name }
func (f *fakeProbe) SourceID() string   { return f.source }
func (f *fakeProbe) TTL() time.Duration { return f.ttl }

func (f *fakeProbe) Fetch(ctx context.Context, address, chain string) (*probe.Evidence, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, probe.NewError(probe.ErrTimeout, f.source, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	payload := f.payload
	if payload == nil {
		payload = map[string]any{}
	}
	return &probe.Evidence{
		ProbeType:  f.name,
		SourceID:   f.source,
		Payload:    payload,
		ObservedAt: time.Now(),
		TTLSeconds: int64(f.ttl / time.Second),
	}, nil
}

func healthyProbes() []probe.Probe {
	return []probe.Probe{
		&fakeProbe{name: probe.TypeApprovals, source: "onchain-approvals", ttl: 300 * time.Second},
		&fakeProbe{name: probe.TypeReputation, source: "contract-reputation", ttl: 3600 * time.Second},
		&fakeProbe{name: probe.TypeMixer, source: "mixer-registry", ttl: 3600 * time.Second},
		&fakeProbe{name: probe.TypeHoneypot, source: "honeypot-registry", ttl: 1800 * time.Second},
	}
}

func newTestOrchestrator(t *testing.T, probes []probe.Probe, c cache.Cache) *Orchestrator {
	t.Helper()
	return NewOrchestrator(probes, NewMemoryStore(), c, scoring.DefaultTable(), nil,
		Config{ProbeTimeout: 500 * time.Millisecond, RetryBase: time.Millisecond},
		logging.New("error", "text"))
}

// collectEvents gathers the snapshot plus every streamed event until the
// terminal one. Starting from the snapshot keeps the helper correct even
// when the scan finishes before the subscriber attaches.
func collectEvents(t *testing.T, snap StepEvent, events <-chan StepEvent) []StepEvent {
	t.Helper()
	out := []StepEvent{snap}
	if snap.Terminal() {
		return out
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.Terminal() {
				return out
			}
		case <-deadline:
			t.Fatal("timed out waiting for scan events")
		}
	}
}

func TestScanCompletesWithAllProbesHealthy(t *testing.T) {
	o := newTestOrchestrator(t, healthyProbes(), nil)
	ctx := context.Background()

	session, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	snap, events, cancel, err := o.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer cancel()

	got := collectEvents(t, snap, events)
	require.NotEmpty(t, got)

	final := got[len(got)-1]
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 100, final.ProgressPercent)
	require.NotNil(t, final.Result)
	assert.Equal(t, 100, final.Result.Score)
	assert.Equal(t, "A", final.Result.Grade)

	// Progress is monotonically increasing for any subscriber.
	last := -1
	for _, ev := range got {
		assert.GreaterOrEqual(t, ev.ProgressPercent, last)
		last = ev.ProgressPercent
	}

	stored, err := o.store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	assert.NotNil(t, stored.CompletedAt)
	assert.Len(t, stored.Findings, 4)
}

// Three timing-out probes still leave a completed scan, just one with
// visibly lower overall confidence than an all-healthy run.
func TestScanDegradesGracefully(t *testing.T) {
	timeoutErr := probe.NewError(probe.ErrTimeout, "x", context.DeadlineExceeded)
	probes := []probe.Probe{
		&fakeProbe{name: probe.TypeApprovals, source: "onchain-approvals", ttl: 300 * time.Second},
		&fakeProbe{name: probe.TypeReputation, source: "contract-reputation", ttl: 3600 * time.Second, err: timeoutErr},
		&fakeProbe{name: probe.TypeMixer, source: "mixer-registry", ttl: 3600 * time.Second, err: timeoutErr},
		&fakeProbe{name: probe.TypeHoneypot, source: "honeypot-registry", ttl: 1800 * time.Second, err: timeoutErr},
	}
	o := newTestOrchestrator(t, probes, nil)
	ctx := context.Background()

	session, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)
	snap, events, cancel, err := o.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer cancel()

	got := collectEvents(t, snap, events)
	final := got[len(got)-1]
	require.Equal(t, StateCompleted, final.State)

	healthy := newTestOrchestrator(t, healthyProbes(), nil)
	ref, err := healthy.StartScan(ctx, testWallet, "ethereum", "req-2")
	require.NoError(t, err)
	refSnap, refEvents, refCancel, err := healthy.Subscribe(ctx, ref.ID)
	require.NoError(t, err)
	defer refCancel()
	collectEvents(t, refSnap, refEvents)

	refSession, err := healthy.GetSession(ctx, ref.ID)
	require.NoError(t, err)
	degradedSession, err := o.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Less(t, degradedSession.ConfidenceOverall, refSession.ConfidenceOverall/2)
}

func TestScanFailsOnTotalOutage(t *testing.T) {
	unavailable := probe.NewError(probe.ErrUnavailable, "x", context.DeadlineExceeded)
	probes := []probe.Probe{
		&fakeProbe{name: probe.TypeApprovals, source: "onchain-approvals", ttl: 300 * time.Second, err: unavailable},
		&fakeProbe{name: probe.TypeReputation, source: "contract-reputation", ttl: 3600 * time.Second, err: unavailable},
	}
	o := newTestOrchestrator(t, probes, nil)
	ctx := context.Background()

	session, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)
	snap, events, cancel, err := o.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer cancel()

	got := collectEvents(t, snap, events)
	final := got[len(got)-1]
	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, 100, final.ProgressPercent)
	assert.Contains(t, final.Error, "total outage")
}

// A malformed address fails validation before any adapter is touched.
func TestScanRejectsMalformedAddressWithoutProbeCalls(t *testing.T) {
	probes := healthyProbes()
	o := newTestOrchestrator(t, probes, nil)

	_, err := o.StartScan(context.Background(), "not-an-address", "ethereum", "req-1")
	require.ErrorIs(t, err, validation.ErrValidation)

	for _, p := range probes {
		assert.Zero(t, p.(*fakeProbe).calls.Load())
	}
}

func TestScanRejectsUnsupportedChain(t *testing.T) {
	o := newTestOrchestrator(t, healthyProbes(), nil)
	_, err := o.StartScan(context.Background(), testWallet, "dogechain", "req-1")
	assert.ErrorIs(t, err, validation.ErrValidation)
}

func TestScanCancellation(t *testing.T) {
	probes := []probe.Probe{
		&fakeProbe{name: probe.TypeApprovals, source: "onchain-approvals", ttl: 300 * time.Second, delay: 10 * time.Second},
	}
	o := newTestOrchestrator(t, probes, nil)

	ctx, cancelScan := context.WithCancel(context.Background())
	session, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)

	cancelScan()

	require.Eventually(t, func() bool {
		s, err := o.store.Get(context.Background(), session.ID)
		return err == nil && s.State == StateFailed
	}, 3*time.Second, 10*time.Millisecond)

	s, err := o.store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", s.FailureReason)
}

func TestScanUsesCachedEvidence(t *testing.T) {
	p := &fakeProbe{name: probe.TypeApprovals, source: "onchain-approvals", ttl: 300 * time.Second}
	c := cache.NewMemory(100)
	o := newTestOrchestrator(t, []probe.Probe{p}, c)
	ctx := context.Background()

	first, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := o.GetSession(ctx, first.ID)
		return err == nil && s.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// The evidence is now cached under (probeType, chain, address).
	key := cache.Key{ProbeType: probe.TypeApprovals, Chain: "ethereum", Address: testWallet}
	_, cached, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, cached)

	second, err := o.StartScan(ctx, testWallet, "ethereum", "req-2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := o.GetSession(ctx, second.ID)
		return err == nil && s.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// The second scan was served from cache, not the adapter.
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestLateSubscriberGetsSnapshot(t *testing.T) {
	o := newTestOrchestrator(t, healthyProbes(), nil)
	ctx := context.Background()

	session, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := o.GetSession(ctx, session.ID)
		return err == nil && s.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	snap, events, cancel, err := o.Subscribe(ctx, session.ID)
	require.NoError(t, err)
	defer cancel()

	assert.True(t, snap.Snapshot)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 100, snap.ProgressPercent)
	require.NotNil(t, snap.Result)

	// Stream is already closed; no replay flood.
	_, open := <-events
	assert.False(t, open)
}

func TestRescanCreatesNewSession(t *testing.T) {
	o := newTestOrchestrator(t, healthyProbes(), nil)
	ctx := context.Background()

	a, err := o.StartScan(ctx, testWallet, "ethereum", "req-1")
	require.NoError(t, err)
	b, err := o.StartScan(ctx, testWallet, "ethereum", "req-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	list, err := o.store.ListByWallet(ctx, testWallet, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
