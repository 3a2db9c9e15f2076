package scoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghal86/smart-stake-sub001/internal/probe"
)

func TestFreshnessFactorDecay(t *testing.T) {
	ttl := 300 * time.Second

	assert.InDelta(t, 1.0, FreshnessFactor(0, ttl), 1e-9)
	assert.InDelta(t, 0.85, FreshnessFactor(150*time.Second, ttl), 1e-9)

	// Floors at exactly 0.7 once stale, never lower.
	assert.Equal(t, 0.7, FreshnessFactor(ttl, ttl))
	assert.Equal(t, 0.7, FreshnessFactor(10*ttl, ttl))
	assert.Equal(t, 0.7, FreshnessFactor(time.Second, 0))
}

func TestEvidenceConfidence(t *testing.T) {
	table := DefaultTable()
	now := time.Now()

	fresh := &probe.Evidence{SourceID: "onchain-approvals", ObservedAt: now, TTLSeconds: 300}
	assert.InDelta(t, 0.95, table.EvidenceConfidence(fresh, now), 1e-9)

	cached := &probe.Evidence{SourceID: "onchain-approvals", ObservedAt: now, TTLSeconds: 300, Cached: true}
	assert.InDelta(t, 0.95*0.95, table.EvidenceConfidence(cached, now), 1e-9)

	stale := &probe.Evidence{SourceID: "honeypot-registry", ObservedAt: now.Add(-time.Hour), TTLSeconds: 1800}
	assert.InDelta(t, 0.5*0.7, table.EvidenceConfidence(stale, now), 1e-9)

	degraded := probe.DegradedEvidence(probe.TypeMixer, "mixer-registry", probe.ErrTimeout)
	assert.Zero(t, table.EvidenceConfidence(degraded, now))

	unknown := &probe.Evidence{SourceID: "never-heard-of-it", ObservedAt: now, TTLSeconds: 60}
	assert.InDelta(t, 0.5, table.EvidenceConfidence(unknown, now), 1e-9)
}

func TestConfidenceStaysInRange(t *testing.T) {
	table := DefaultTable()
	now := time.Now()
	for _, src := range []string{"onchain-approvals", "contract-reputation", "mixer-registry", "honeypot-registry"} {
		for _, age := range []time.Duration{0, time.Minute, time.Hour, 24 * time.Hour} {
			for _, cached := range []bool{false, true} {
				ev := &probe.Evidence{SourceID: src, ObservedAt: now.Add(-age), TTLSeconds: 300, Cached: cached}
				c := table.EvidenceConfidence(ev, now)
				assert.GreaterOrEqual(t, c, 0.0)
				assert.LessOrEqual(t, c, 1.0)
			}
		}
	}
}

func TestAggregateEmptyIsPerfect(t *testing.T) {
	res := DefaultTable().Aggregate(nil)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, "A", res.Grade)
}

func TestAggregateDeterministic(t *testing.T) {
	table := DefaultTable()
	findings := []Finding{
		{Category: "approvals", Severity: SeverityHigh, Confidence: 0.95, EvidenceRefs: []string{"onchain-approvals"}},
		{Category: "reputation", Severity: SeverityMedium, Confidence: 0.8, EvidenceRefs: []string{"contract-reputation"}},
		{Category: "mixer", Severity: SeverityInfo, Confidence: 0.9, EvidenceRefs: []string{"mixer-registry"}},
	}

	first := table.Aggregate(findings)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, table.Aggregate(findings))
	}
}

func TestAggregateScoreFloor(t *testing.T) {
	table := DefaultTable()
	var findings []Finding
	for i := 0; i < 10; i++ {
		findings = append(findings, Finding{Category: "mixer", Severity: SeverityCritical, Confidence: 1.0})
	}
	res := table.Aggregate(findings)
	assert.Equal(t, 15, res.Score)
	assert.Equal(t, "F", res.Grade)
}

func TestAggregateInfoFindingsCarryNoPenalty(t *testing.T) {
	table := DefaultTable()
	res := table.Aggregate([]Finding{
		{Category: "approvals", Severity: SeverityInfo, Confidence: 0.95},
		{Category: "reputation", Severity: SeverityInfo, Confidence: 0.8},
	})
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, "A", res.Grade)
	assert.Empty(t, res.Flags)
	assert.InDelta(t, 0.875, res.ConfidenceOverall, 1e-9)
}

// A wallet with one unlimited approval to an unknown spender and nothing
// else lands in the high-80s: still B territory, not an alarm.
func TestUnlimitedApprovalToUnknownSpender(t *testing.T) {
	table := DefaultTable()
	now := time.Now()
	ev := &probe.Evidence{
		ProbeType:  probe.TypeApprovals,
		SourceID:   "onchain-approvals",
		ObservedAt: now,
		TTLSeconds: 300,
		Payload: map[string]any{"approvals": []map[string]any{{
			"spender": "0xdead", "unlimited": true, "knownSpender": false,
		}}},
	}

	findings := table.BuildFindings(ev, now)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityHigh, findings[0].Severity)

	res := table.Aggregate(findings)
	assert.GreaterOrEqual(t, res.Score, 85)
	assert.LessOrEqual(t, res.Score, 97)
	assert.Contains(t, []string{"A", "B"}, res.Grade)
}

// A fresh direct mixer interaction is critical regardless of anything
// else and drags the wallet to C or worse.
func TestDirectMixerInteraction(t *testing.T) {
	table := DefaultTable()
	now := time.Now()
	ev := &probe.Evidence{
		ProbeType:  probe.TypeMixer,
		SourceID:   "mixer-registry",
		ObservedAt: now,
		TTLSeconds: 3600,
		Payload: map[string]any{
			"listed": false,
			"directInteractions": []map[string]any{{
				"address": "0x4444444444444444444444444444444444444444",
				"label":   "Tornado Cash",
			}},
		},
	}

	findings := table.BuildFindings(ev, now)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityCritical, findings[0].Severity)
	assert.InDelta(t, 0.9, findings[0].Confidence, 1e-9)

	res := table.Aggregate(findings)
	assert.LessOrEqual(t, res.Score, 75)
	assert.Contains(t, []string{"C", "D", "F"}, res.Grade)
}

func TestBuildFindingsDegradedEvidence(t *testing.T) {
	table := DefaultTable()
	ev := probe.DegradedEvidence(probe.TypeReputation, "contract-reputation", probe.ErrTimeout)

	findings := table.BuildFindings(ev, time.Now())
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityInfo, findings[0].Severity)
	assert.Zero(t, findings[0].Confidence)
	assert.Contains(t, findings[0].Summary, "timeout")
}

func TestBuildFindingsCleanEvidence(t *testing.T) {
	table := DefaultTable()
	now := time.Now()
	ev := &probe.Evidence{
		ProbeType:  probe.TypeApprovals,
		SourceID:   "onchain-approvals",
		ObservedAt: now,
		TTLSeconds: 300,
		Payload:    map[string]any{"approvals": []map[string]any{}},
	}

	findings := table.BuildFindings(ev, now)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityInfo, findings[0].Severity)
	assert.InDelta(t, 0.95, findings[0].Confidence, 1e-9)
}

// Cached payloads come back from JSON as []any of map[string]any; the
// rules must read that shape too.
func TestBuildFindingsJSONRoundTripPayload(t *testing.T) {
	table := DefaultTable()
	now := time.Now()
	ev := &probe.Evidence{
		ProbeType:  probe.TypeHoneypot,
		SourceID:   "honeypot-registry",
		ObservedAt: now,
		TTLSeconds: 1800,
		Cached:     true,
		Payload: map[string]any{"flags": []any{
			map[string]any{"token": "0xbad", "severity": "medium"},
		}},
	}

	findings := table.BuildFindings(ev, now)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
}

func TestScoreDelta(t *testing.T) {
	assert.Equal(t, 0, ScoreDelta(0))
	assert.Equal(t, 3, ScoreDelta(1))
	assert.Equal(t, 6, ScoreDelta(2))
	assert.Equal(t, 15, ScoreDelta(5))
	assert.Equal(t, 15, ScoreDelta(50))
}

func TestGradeBoundaries(t *testing.T) {
	assert.Equal(t, "A", GradeFor(90))
	assert.Equal(t, "B", GradeFor(89))
	assert.Equal(t, "B", GradeFor(75))
	assert.Equal(t, "C", GradeFor(74))
	assert.Equal(t, "C", GradeFor(60))
	assert.Equal(t, "D", GradeFor(59))
	assert.Equal(t, "D", GradeFor(40))
	assert.Equal(t, "F", GradeFor(39))
	assert.Equal(t, "F", GradeFor(15))
}

func TestLoadTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2025-09-test"
sources:
  onchain-approvals: 0.9
`), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-test", table.Version)
	assert.Equal(t, 0.9, table.BaseConfidence("onchain-approvals"))
	// Untouched fields keep their defaults.
	assert.Equal(t, 30.0, table.SeverityWeight(SeverityCritical))
	assert.Equal(t, 0.95, table.CachePenalty)
}

func TestLoadTableRejectsBadConstants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "x"
sources:
  onchain-approvals: 1.5
`), 0o644))

	_, err := LoadTable(path)
	assert.Error(t, err)
}
