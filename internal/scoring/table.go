// Package scoring turns raw probe Evidence into Findings and a trust score.
//
// The numeric constants live in a versioned ScoringTable so they can be
// tuned without a code change. The aggregation itself is a pure function:
// re-running it on a session's stored findings reproduces the identical
// result.
package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Severity levels, ordered weakest to strongest.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Table is the versioned scoring configuration: per-source base
// confidence, per-category evidence weights, and severity penalty
// weights.
type Table struct {
	Version         string             `yaml:"version"`
	Sources         map[string]float64 `yaml:"sources"`
	CategoryWeights map[string]float64 `yaml:"categoryWeights"`
	SeverityWeights map[string]float64 `yaml:"severityWeights"`
	CachePenalty    float64            `yaml:"cachePenalty"`
}

// DefaultTable returns the built-in scoring constants.
func DefaultTable() *Table {
	return &Table{
		Version: "2025-08",
		Sources: map[string]float64{
			"onchain-approvals":   0.95,
			"contract-reputation": 0.80,
			"mixer-registry":      0.90,
			"honeypot-registry":   0.50,
		},
		CategoryWeights: map[string]float64{
			"approvals":  1.0,
			"reputation": 1.0,
			"mixer":      1.0,
			"honeypot":   1.0,
		},
		SeverityWeights: map[string]float64{
			SeverityInfo:     0,
			SeverityLow:      3,
			SeverityMedium:   8,
			SeverityHigh:     15,
			SeverityCritical: 30,
		},
		CachePenalty: 0.95,
	}
}

// LoadTable reads a scoring table from a YAML file. Missing fields fall
// back to the defaults so a partial override file stays valid.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scoring: read table: %w", err)
	}

	t := DefaultTable()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("scoring: parse table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that every constant is usable.
func (t *Table) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("scoring: table version is required")
	}
	for src, base := range t.Sources {
		if base < 0 || base > 1 {
			return fmt.Errorf("scoring: source %s base confidence %v outside [0,1]", src, base)
		}
	}
	for sev, w := range t.SeverityWeights {
		if w < 0 {
			return fmt.Errorf("scoring: severity %s weight %v is negative", sev, w)
		}
	}
	if t.CachePenalty <= 0 || t.CachePenalty > 1 {
		return fmt.Errorf("scoring: cache penalty %v outside (0,1]", t.CachePenalty)
	}
	return nil
}

// BaseConfidence returns the quality constant for a source, defaulting
// to a conservative 0.5 for sources not in the table.
func (t *Table) BaseConfidence(sourceID string) float64 {
	if base, ok := t.Sources[sourceID]; ok {
		return base
	}
	return 0.5
}

// SeverityWeight returns the penalty weight for a severity level.
func (t *Table) SeverityWeight(severity string) float64 {
	return t.SeverityWeights[severity]
}

// CategoryWeight returns the evidence weight for a finding category,
// defaulting to 1.
func (t *Table) CategoryWeight(category string) float64 {
	if w, ok := t.CategoryWeights[category]; ok {
		return w
	}
	return 1.0
}
