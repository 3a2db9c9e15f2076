package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{"valid lowercase", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"valid mixed case", "0x1234567890ABCDEF1234567890abcdef12345678", true},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"too short", "0x1234", false},
		{"too long", "0x1234567890abcdef1234567890abcdef123456789abc", false},
		{"non-hex characters", "0x1234567890abcdef1234567890abcdef1234567g", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidEthAddress(tt.addr))
		})
	}
}

func TestCanonicalAddress(t *testing.T) {
	addr, err := CanonicalAddress("  0x1234567890ABCDEF1234567890ABCDEF12345678 ")
	require.NoError(t, err)
	assert.Equal(t, "0x1234567890abcdef1234567890abcdef12345678", addr)

	// Prefix added for bare 40-char hex
	addr, err = CanonicalAddress("1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)
	assert.Equal(t, "0x1234567890abcdef1234567890abcdef12345678", addr)

	_, err = CanonicalAddress("not-an-address")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestValidateScanTarget(t *testing.T) {
	err := ValidateScanTarget("0x1234567890abcdef1234567890abcdef12345678", "ethereum")
	assert.NoError(t, err)

	err = ValidateScanTarget("", "ethereum")
	require.Error(t, err)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "address", verr.Field)

	err = ValidateScanTarget("0x1234567890abcdef1234567890abcdef12345678", "dogechain")
	require.Error(t, err)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "chain", verr.Field)

	// Empty chain falls back to the configured default, not an error here
	assert.NoError(t, ValidateScanTarget("0x1234567890abcdef1234567890abcdef12345678", ""))
}

func TestIsSupportedChain_CaseInsensitive(t *testing.T) {
	assert.True(t, IsSupportedChain("Ethereum"))
	assert.True(t, IsSupportedChain("BASE"))
	assert.False(t, IsSupportedChain("solana"))
}
