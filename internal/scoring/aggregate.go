package scoring

import "math"

const (
	scoreFloor = 15
	scoreCeil  = 100

	deltaPerApproval = 3
	deltaBatchCap    = 15
)

// TrustScoreResult is the aggregate risk summary for a wallet.
type TrustScoreResult struct {
	Score             int       `json:"score"`
	Grade             string    `json:"grade"`
	ConfidenceOverall float64   `json:"confidenceOverall"`
	Flags             []Finding `json:"flags"`
}

// Aggregate reduces a finding set to a trust score. Pure and
// deterministic: identical findings always yield the identical result.
//
// Score starts at 100 and each finding deducts severityWeight times its
// confidence. The cumulative deduction is capped at 85: a probabilistic
// assessment never implies absolute certainty of malice, so the score
// floors at 15 rather than 0.
func (t *Table) Aggregate(findings []Finding) TrustScoreResult {
	var totalPenalty float64
	var confSum, weightSum float64
	var flags []Finding

	for _, f := range findings {
		totalPenalty += t.SeverityWeight(f.Severity) * f.Confidence

		w := t.CategoryWeight(f.Category) * float64(max(len(f.EvidenceRefs), 1))
		confSum += w * f.Confidence
		weightSum += w

		if f.Severity != SeverityInfo {
			flags = append(flags, f)
		}
	}

	score := scoreCeil - int(math.Round(totalPenalty))
	if score < scoreFloor {
		score = scoreFloor
	}
	if score > scoreCeil {
		score = scoreCeil
	}

	confidence := 1.0
	if weightSum > 0 {
		confidence = clamp01(confSum / weightSum)
	}

	return TrustScoreResult{
		Score:             score,
		Grade:             GradeFor(score),
		ConfidenceOverall: confidence,
		Flags:             flags,
	}
}

// GradeFor maps a score to its letter grade.
func GradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// ScoreDelta previews the trust-score improvement from revoking the
// given number of approvals: +3 per approval, capped per batch.
func ScoreDelta(approvalCount int) int {
	if approvalCount <= 0 {
		return 0
	}
	return min(approvalCount*deltaPerApproval, deltaBatchCap)
}
