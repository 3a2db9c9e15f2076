package probe

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meghal86/smart-stake-sub001/internal/chain"
)

const (
	approvalsSourceID = "onchain-approvals"
	approvalsTTL      = 300 * time.Second // approval state is volatile
)

// WatchedSpender is one (token, spender) pair the approvals probe checks.
// The watchlist covers the routers and aggregators that account for the
// bulk of real-world approvals; anything not on the known list that still
// holds an allowance is flagged as an unknown spender.
type WatchedSpender struct {
	Token   string `yaml:"token"`
	Spender string `yaml:"spender"`
	Label   string `yaml:"label,omitempty"` // empty = unknown spender
}

// ApprovalsProbe reads ERC-20 allowances directly from the chain.
type ApprovalsProbe struct {
	reader    chain.AllowanceReader
	watchlist []WatchedSpender
}

// NewApprovalsProbe creates the on-chain approvals probe.
func NewApprovalsProbe(reader chain.AllowanceReader, watchlist []WatchedSpender) *ApprovalsProbe {
	return &ApprovalsProbe{reader: reader, watchlist: watchlist}
}

func (p *ApprovalsProbe) Name() string       { return TypeApprovals }
func (p *ApprovalsProbe) SourceID() string   { return approvalsSourceID }
func (p *ApprovalsProbe) TTL() time.Duration { return approvalsTTL }

// Fetch reads the wallet's allowance toward every watched spender and
// reports the ones that are live, marking unlimited and unknown-spender
// approvals.
func (p *ApprovalsProbe) Fetch(ctx context.Context, address, chainName string) (*Evidence, error) {
	start := time.Now()
	owner := common.HexToAddress(address)

	var approvals []map[string]any
	for _, w := range p.watchlist {
		if err := ctx.Err(); err != nil {
			return nil, NewError(ErrTimeout, approvalsSourceID, err)
		}

		allowance, err := p.reader.Allowance(ctx,
			common.HexToAddress(w.Token), owner, common.HexToAddress(w.Spender))
		if err != nil {
			return nil, NewError(ErrUnavailable, approvalsSourceID, err)
		}
		if allowance.Sign() == 0 {
			continue // nothing approved
		}

		approvals = append(approvals, map[string]any{
			"token":        w.Token,
			"spender":      w.Spender,
			"spenderLabel": w.Label,
			"allowance":    allowance.String(),
			"unlimited":    chain.IsUnlimited(allowance),
			"knownSpender": w.Label != "",
		})
	}

	return &Evidence{
		ProbeType:  TypeApprovals,
		SourceID:   approvalsSourceID,
		Payload:    map[string]any{"approvals": approvals},
		ObservedAt: time.Now(),
		TTLSeconds: int64(approvalsTTL / time.Second),
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
