package probe

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	mixerSourceID = "mixer-registry"
	mixerTTL      = 3600 * time.Second
)

// InteractionChecker reports a wallet's interactions with a set of
// addresses. Backed by an indexer in production; faked in tests.
type InteractionChecker interface {
	// Interactions returns the subset of targets the wallet has ever
	// transacted with directly.
	Interactions(ctx context.Context, wallet, chain string, targets []string) ([]string, error)
}

// MixerProbe checks a wallet against a curated registry of privacy-mixer
// and sanctioned addresses, and looks for direct interactions.
type MixerProbe struct {
	mu       sync.RWMutex
	registry map[string]string // address → label
	checker  InteractionChecker
}

// NewMixerProbe creates the mixer proximity probe. registry maps known
// mixer/sanctioned addresses (any case) to labels.
func NewMixerProbe(registry map[string]string, checker InteractionChecker) *MixerProbe {
	normalized := make(map[string]string, len(registry))
	for addr, label := range registry {
		normalized[strings.ToLower(addr)] = label
	}
	return &MixerProbe{registry: normalized, checker: checker}
}

// UpdateRegistry swaps in a new address set (registries are refreshed
// out-of-band from sanctions feeds).
func (p *MixerProbe) UpdateRegistry(registry map[string]string) {
	normalized := make(map[string]string, len(registry))
	for addr, label := range registry {
		normalized[strings.ToLower(addr)] = label
	}
	p.mu.Lock()
	p.registry = normalized
	p.mu.Unlock()
}

func (p *MixerProbe) Name() string       { return TypeMixer }
func (p *MixerProbe) SourceID() string   { return mixerSourceID }
func (p *MixerProbe) TTL() time.Duration { return mixerTTL }

func (p *MixerProbe) Fetch(ctx context.Context, address, chain string) (*Evidence, error) {
	start := time.Now()
	addr := strings.ToLower(address)

	p.mu.RLock()
	_, listed := p.registry[addr]
	targets := make([]string, 0, len(p.registry))
	labels := make(map[string]string, len(p.registry))
	for a, label := range p.registry {
		targets = append(targets, a)
		labels[a] = label
	}
	p.mu.RUnlock()

	var direct []map[string]any
	if p.checker != nil && len(targets) > 0 {
		hits, err := p.checker.Interactions(ctx, addr, chain, targets)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewError(ErrTimeout, mixerSourceID, ctx.Err())
			}
			return nil, NewError(ErrUnavailable, mixerSourceID, err)
		}
		for _, hit := range hits {
			direct = append(direct, map[string]any{
				"address": hit,
				"label":   labels[strings.ToLower(hit)],
			})
		}
	}

	return &Evidence{
		ProbeType: TypeMixer,
		SourceID:  mixerSourceID,
		Payload: map[string]any{
			"listed":             listed,
			"directInteractions": direct,
		},
		ObservedAt: time.Now(),
		TTLSeconds: int64(mixerTTL / time.Second),
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
