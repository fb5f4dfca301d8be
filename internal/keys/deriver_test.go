package keys

import (
	"strings"
	"testing"

	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver(&config.LicenseKeysConfig{
		Secret:    "test-secret",
		Algorithm: "sha256",
	})
	require.NoError(t, err)
	return d
}

func TestNewDeriverMisconfigured(t *testing.T) {
	_, err := NewDeriver(&config.LicenseKeysConfig{Secret: "", Algorithm: "sha256"})
	require.ErrorIs(t, err, ierr.ErrMisconfigured)

	_, err = NewDeriver(&config.LicenseKeysConfig{Secret: "s", Algorithm: "md5"})
	require.ErrorIs(t, err, ierr.ErrMisconfigured)
}

func TestDeriveDeterministic(t *testing.T) {
	d := newTestDeriver(t)

	first := d.Derive("ABCDEFGHIJKLM")
	second := d.Derive("ABCDEFGHIJKLM")
	assert.Equal(t, first, second)

	other := d.Derive("ABCDEFGHIJKLN")
	assert.NotEqual(t, first, other)
}

func TestDeriveDoesNotRevealInput(t *testing.T) {
	d := newTestDeriver(t)

	raw := "ABCDEFGHIJKLM"
	stored := d.Derive(raw)

	assert.NotEqual(t, raw, stored)
	assert.NotContains(t, stored, raw)
	// sha256 digest is 32 bytes, 43 chars in unpadded base64url.
	assert.Len(t, stored, 43)
	assert.NotContains(t, stored, "=")
}

func TestDeriveSHA512(t *testing.T) {
	d, err := NewDeriver(&config.LicenseKeysConfig{Secret: "s", Algorithm: "sha512"})
	require.NoError(t, err)

	stored := d.Derive("ABCDEFGHIJKLM")
	assert.Len(t, stored, 86)
}

func TestMaskHint(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ABCDEFGHIJKLM", "ABCDXXXXXXXLM"},
		{"ABCDEF", "ABCDEF"},
		{"ABCDEFG", "ABCDXFG"},
		{"ABCDE", "AXXXE"},
		{"ABC", "AXC"},
		{"AB", "XX"},
		{"A", "X"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskHint(tt.raw), "raw=%q", tt.raw)
	}
}

func TestMaskHintNeverLeaksMiddle(t *testing.T) {
	raw := "SUPERSECRETLICENSEKEY"
	hint := MaskHint(raw)

	assert.Len(t, hint, len(raw))
	assert.True(t, strings.HasPrefix(hint, "SUPE"))
	assert.True(t, strings.HasSuffix(hint, "EY"))
	assert.NotContains(t, hint, "SECRET")
}

func TestSignAndVerify(t *testing.T) {
	d := newTestDeriver(t)

	signed := d.Sign("RANDOMPART", "order-42")
	assert.True(t, strings.HasPrefix(signed, "RANDOMPART-"))

	assert.True(t, d.VerifySignature(signed, "order-42"))
	assert.False(t, d.VerifySignature(signed, "order-43"))
	assert.False(t, d.VerifySignature(signed+"0", "order-42"))
	assert.False(t, d.VerifySignature("no-separator-missing-sig", "order-42"))
	assert.False(t, d.VerifySignature("nodashatall", "order-42"))
}

func TestVerifySignatureDifferentSecret(t *testing.T) {
	d := newTestDeriver(t)
	other, err := NewDeriver(&config.LicenseKeysConfig{Secret: "other-secret", Algorithm: "sha256"})
	require.NoError(t, err)

	signed := d.Sign("RANDOMPART", "ctx")
	assert.False(t, other.VerifySignature(signed, "ctx"))
}

func TestGenerateRandomString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		s, err := GenerateRandomString(24)
		require.NoError(t, err)
		// Stripping the url-safe separators can leave the result a little
		// short of the requested length; it must never exceed it.
		assert.LessOrEqual(t, len(s), 24)
		assert.NotEmpty(t, s)
		assert.NotContains(t, s, "-")
		assert.NotContains(t, s, "_")
		assert.False(t, seen[s], "random strings should not repeat")
		seen[s] = true
	}
}

func TestGenerateAPIKey(t *testing.T) {
	fullKey, prefix, keyHash, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fullKey, "km_"+prefix+"_"))
	assert.Equal(t, HashAPIKey(fullKey), keyHash)
	assert.NotEqual(t, fullKey, keyHash)
}
