// Package chain handles all blockchain interactions for Guardian: reading
// ERC-20 allowances for the approvals probe, estimating gas for revoke
// pre-simulation, and building, signing, and broadcasting approve(spender, 0)
// revocation transactions.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrSimulationFailed  = errors.New("chain: simulation failed")
	ErrExecutionReverted = errors.New("chain: execution reverted")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
	ErrSigningDisabled   = errors.New("chain: no signing key configured")
)

// TxError wraps transaction failures with context
type TxError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Interfaces - for testability and flexibility
// -----------------------------------------------------------------------------

// AllowanceReader reads ERC-20 approval state.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// GasEstimator prices a revoke transaction without signing it.
type GasEstimator interface {
	EstimateRevokeGas(ctx context.Context, owner, token, spender common.Address) (uint64, error)
}

// RevokeBroadcaster signs and broadcasts approve(spender, 0) transactions.
type RevokeBroadcaster interface {
	BroadcastRevoke(ctx context.Context, token, spender common.Address) (*RevokeReceipt, error)
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*RevokeReceipt, error)
}

// Service combines everything the scan and remediation subsystems need.
type Service interface {
	AllowanceReader
	GasEstimator
	RevokeBroadcaster
	TransactionCountTo(ctx context.Context, addr common.Address) (uint64, error)
	Close() error
}

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

// ERC20 minimal ABI for allowance and approve
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"owner","type":"address"},{"indexed":true,"name":"spender","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Approval","type":"event"}
]`

const (
	// DefaultGasLimit for approve(spender, 0) when estimation fails
	DefaultGasLimit = uint64(60000)

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second
)

// UnlimitedThreshold marks an allowance as effectively unlimited: anything
// at or above 2^255 (MaxUint256 approvals land here).
var UnlimitedThreshold = new(big.Int).Lsh(big.NewInt(1), 255)

// IsUnlimited reports whether an allowance is effectively unlimited.
func IsUnlimited(allowance *big.Int) bool {
	return allowance != nil && allowance.Cmp(UnlimitedThreshold) >= 0
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Config for creating a new chain client
type Config struct {
	RPCURL     string
	PrivateKey string // Hex string, optional; revoke broadcast disabled without it
	ChainID    int64
}

// Option configures the client
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(c *Client) {
		c.client = client
	}
}

// RevokeReceipt contains details of a broadcast revoke transaction
type RevokeReceipt struct {
	TxHash      string
	From        string
	Token       string
	Spender     string
	BlockNumber uint64
	GasUsed     uint64
	Nonce       uint64
	Reverted    bool
}

// Client talks to one chain's RPC endpoint
type Client struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	erc20      abi.ABI
}

// Compile-time interface check
var _ Service = (*Client)(nil)

// New creates a new chain client
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain: chain ID required")
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse ERC20 ABI: %w", err)
	}

	c := &Client{
		chainID: big.NewInt(cfg.ChainID),
		erc20:   parsedABI,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		pub, ok := key.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(*pub)
	}

	// Apply options
	for _, opt := range opts {
		opt(c)
	}

	// Connect to RPC if no client provided
	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

// Address returns the signing address, or the zero address when signing
// is disabled.
func (c *Client) Address() string {
	return c.address.Hex()
}

// Allowance reads the current ERC-20 allowance owner → spender on token.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: pack allowance call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call allowance: %w", err)
	}

	allowance := new(big.Int)
	allowance.SetBytes(result)
	return allowance, nil
}

// TransactionCountTo returns the confirmed nonce of an address, used by the
// mixer probe to distinguish fresh wallets from active ones.
func (c *Client) TransactionCountTo(ctx context.Context, addr common.Address) (uint64, error) {
	return c.client.NonceAt(ctx, addr, nil)
}

// EstimateRevokeGas dry-runs approve(spender, 0) against the chain without
// signing anything. Failures here mean the revoke would not succeed
// (e.g. owner has no funds for gas) and must surface before any Pending
// record is created.
func (c *Client) EstimateRevokeGas(ctx context.Context, owner, token, spender common.Address) (uint64, error) {
	data, err := c.erc20.Pack("approve", spender, big.NewInt(0))
	if err != nil {
		return 0, fmt.Errorf("chain: pack approve call: %w", err)
	}

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  owner,
		To:    &token,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSimulationFailed, err)
	}
	return gas, nil
}

// BroadcastRevoke signs and sends approve(spender, 0) on token.
func (c *Client) BroadcastRevoke(ctx context.Context, token, spender common.Address) (*RevokeReceipt, error) {
	if c.privateKey == nil {
		return nil, ErrSigningDisabled
	}

	data, err := c.erc20.Pack("approve", spender, big.NewInt(0))
	if err != nil {
		return nil, &TxError{Op: "pack", Err: err}
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, &TxError{Op: "nonce", Err: err}
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TxError{Op: "gas_price", Err: err}
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &token,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, &TxError{Op: "sign", Err: err}
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &TxError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return &RevokeReceipt{
		TxHash:  signedTx.Hash().Hex(),
		From:    c.address.Hex(),
		Token:   token.Hex(),
		Spender: spender.Hex(),
		Nonce:   nonce,
	}, nil
}

// WaitForConfirmation polls for the transaction receipt until mined or the
// timeout elapses. A mined-but-reverted transaction returns a receipt with
// Reverted=true and ErrExecutionReverted.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*RevokeReceipt, error) {
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for tx %s", ErrTimeout, txHash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // Not mined yet
			}

			result := &RevokeReceipt{
				TxHash:      txHash,
				From:        c.address.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}
			if receipt.Status == types.ReceiptStatusFailed {
				result.Reverted = true
				return result, fmt.Errorf("%w: tx %s", ErrExecutionReverted, txHash)
			}
			return result, nil
		}
	}
}

// Close releases the underlying RPC client.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
