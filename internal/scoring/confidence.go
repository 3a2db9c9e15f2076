package scoring

import (
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/probe"
)

// FreshnessFactor decays confidence as evidence ages toward its TTL.
// It floors at 0.7 once stale: old evidence still carries weak signal,
// never zero.
func FreshnessFactor(age, ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0.7
	}
	remaining := 1 - age.Seconds()/ttl.Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return 0.7 + 0.3*remaining
}

// EvidenceConfidence computes the confidence of one Evidence item at the
// given instant. Degraded evidence is always zero.
func (t *Table) EvidenceConfidence(ev *probe.Evidence, now time.Time) float64 {
	if ev.Degraded {
		return 0
	}
	c := t.BaseConfidence(ev.SourceID) * FreshnessFactor(ev.Age(now), ev.TTL())
	if ev.Cached {
		c *= t.CachePenalty
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
