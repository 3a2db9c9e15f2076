// Package validation provides input validation for the Guardian API.
//
// Malformed wallet addresses fail here, before any probe is dispatched or
// any adapter is called.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

var (
	// ethAddressRegex validates Ethereum-style addresses
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// hexRegex validates hex strings (tx hashes, etc)
	hexRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]+$`)
)

// SupportedChains are the chains Guardian can scan.
var SupportedChains = map[string]bool{
	"ethereum": true,
	"base":     true,
	"polygon":  true,
	"arbitrum": true,
}

// ErrValidation is the sentinel for all validation failures.
var ErrValidation = errors.New("validation failed")

// Error is a field-level validation failure. It wraps ErrValidation so
// callers can branch with errors.Is.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() error { return ErrValidation }

// IsValidEthAddress checks if a string is a valid Ethereum-style address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsValidHex checks if a string is valid hex
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// IsSupportedChain reports whether Guardian can scan the given chain.
func IsSupportedChain(chain string) bool {
	return SupportedChains[strings.ToLower(chain)]
}

// CanonicalAddress normalizes a wallet address: trims, lowercases, and
// ensures the 0x prefix. Returns an error for malformed input.
func CanonicalAddress(addr string) (string, error) {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}
	if !IsValidEthAddress(addr) {
		return "", &Error{Field: "address", Message: "must be a valid address (0x + 40 hex chars)"}
	}
	return addr, nil
}

// ValidateScanTarget checks an (address, chain) pair before a scan starts.
func ValidateScanTarget(address, chain string) error {
	if strings.TrimSpace(address) == "" {
		return &Error{Field: "address", Message: "is required"}
	}
	if _, err := CanonicalAddress(address); err != nil {
		return err
	}
	if chain != "" && !IsSupportedChain(chain) {
		return &Error{Field: "chain", Message: "unsupported chain"}
	}
	return nil
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// AddressParamMiddleware validates the :address URL parameter on routes that
// use it. Rejects malformed addresses before any handler runs.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidEthAddress(strings.ToLower(addr)) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}
