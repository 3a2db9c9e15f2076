package scoring

import (
	"fmt"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/probe"
)

// Finding is a risk-category conclusion derived from Evidence.
type Finding struct {
	Category     string   `json:"category"`
	Severity     string   `json:"severity"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"evidenceRefs"`
	Summary      string   `json:"summary"`
}

// BuildFindings applies the per-category severity rules to one Evidence
// item. Healthy evidence with nothing noteworthy yields a single info
// finding carrying the evidence confidence, so the overall confidence of
// a scan reflects every source that was consulted. Degraded evidence
// yields a zero-confidence info finding with the failure reason.
func (t *Table) BuildFindings(ev *probe.Evidence, now time.Time) []Finding {
	if ev.Degraded {
		return []Finding{{
			Category:     ev.ProbeType,
			Severity:     SeverityInfo,
			Confidence:   0,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      fmt.Sprintf("source unavailable (%s)", ev.Reason),
		}}
	}

	conf := t.EvidenceConfidence(ev, now)

	var findings []Finding
	switch ev.ProbeType {
	case probe.TypeApprovals:
		findings = approvalFindings(ev, conf)
	case probe.TypeReputation:
		findings = reputationFindings(ev, conf)
	case probe.TypeMixer:
		findings = mixerFindings(ev, conf)
	case probe.TypeHoneypot:
		findings = honeypotFindings(ev, conf)
	}

	if len(findings) == 0 {
		findings = []Finding{{
			Category:     ev.ProbeType,
			Severity:     SeverityInfo,
			Confidence:   conf,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      "no issues detected",
		}}
	}
	return findings
}

func approvalFindings(ev *probe.Evidence, conf float64) []Finding {
	var findings []Finding
	for _, a := range asMaps(ev.Payload["approvals"]) {
		unlimited := asBool(a["unlimited"])
		known := asBool(a["knownSpender"])

		var severity, summary string
		switch {
		case unlimited && !known:
			severity = SeverityHigh
			summary = fmt.Sprintf("unlimited approval to unknown spender %v", a["spender"])
		case unlimited:
			severity = SeverityMedium
			summary = fmt.Sprintf("unlimited approval to %v", a["spenderLabel"])
		case !known:
			severity = SeverityLow
			summary = fmt.Sprintf("active approval to unknown spender %v", a["spender"])
		default:
			continue // limited approval to a known spender is routine
		}
		findings = append(findings, Finding{
			Category:     probe.TypeApprovals,
			Severity:     severity,
			Confidence:   conf,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      summary,
		})
	}
	return findings
}

func reputationFindings(ev *probe.Evidence, conf float64) []Finding {
	verdict, _ := ev.Payload["verdict"].(string)

	var severity string
	switch verdict {
	case "malicious":
		severity = SeverityHigh
	case "suspicious":
		severity = SeverityMedium
	default:
		return nil
	}
	return []Finding{{
		Category:     probe.TypeReputation,
		Severity:     severity,
		Confidence:   conf,
		EvidenceRefs: []string{ev.SourceID},
		Summary:      fmt.Sprintf("reputation registry verdict: %s", verdict),
	}}
}

// mixerFindings flags sanctions/mixer exposure. Direct interaction is
// critical regardless of confidence tier: false positives there are rare
// and the stakes are high.
func mixerFindings(ev *probe.Evidence, conf float64) []Finding {
	var findings []Finding
	if asBool(ev.Payload["listed"]) {
		findings = append(findings, Finding{
			Category:     probe.TypeMixer,
			Severity:     SeverityCritical,
			Confidence:   conf,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      "wallet address appears on the mixer/sanctions registry",
		})
	}
	for _, hit := range asMaps(ev.Payload["directInteractions"]) {
		findings = append(findings, Finding{
			Category:     probe.TypeMixer,
			Severity:     SeverityCritical,
			Confidence:   conf,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      fmt.Sprintf("direct interaction with %v (%v)", hit["label"], hit["address"]),
		})
	}
	return findings
}

func honeypotFindings(ev *probe.Evidence, conf float64) []Finding {
	var findings []Finding
	for _, f := range asMaps(ev.Payload["flags"]) {
		findings = append(findings, Finding{
			Category:     probe.TypeHoneypot,
			Severity:     SeverityHigh,
			Confidence:   conf,
			EvidenceRefs: []string{ev.SourceID},
			Summary:      fmt.Sprintf("honeypot-flagged token %v", f["token"]),
		})
	}
	return findings
}

// asMaps accepts both in-memory []map[string]any payloads and the []any
// shape produced by a JSON round-trip through the cache.
func asMaps(v any) []map[string]any {
	switch s := v.(type) {
	case []map[string]any:
		return s
	case []any:
		out := make([]map[string]any, 0, len(s))
		for _, el := range s {
			if m, ok := el.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
