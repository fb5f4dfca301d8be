package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/ierr"
)

const maskChar = "X"

// Deriver turns raw license key material into the stored identifier used for
// every lookup. The raw key itself is never persisted; the derived key is
// one-way, so a leaked table does not reveal usable keys.
type Deriver struct {
	secret  []byte
	newHash func() hash.Hash
}

func NewDeriver(cfg *config.LicenseKeysConfig) (*Deriver, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: secret is empty", ierr.ErrMisconfigured)
	}

	var newHash func() hash.Hash
	switch cfg.Algorithm {
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ierr.ErrMisconfigured, cfg.Algorithm)
	}

	return &Deriver{
		secret:  []byte(cfg.Secret),
		newHash: newHash,
	}, nil
}

// Derive computes the stored key for a raw license key: a digest of the raw
// input, base64url-encoded without padding. Deterministic, so the same raw key
// always maps to the same record.
func (d *Deriver) Derive(rawKey string) string {
	h := d.newHash()
	h.Write([]byte(rawKey))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// MaskHint produces the display-only hint for a raw key: the first four and
// last two characters survive, everything between is masked. Short inputs keep
// only the first and last character; anything of two characters or fewer is
// masked entirely.
func MaskHint(rawKey string) string {
	n := len(rawKey)
	switch {
	case n >= 6:
		return rawKey[:4] + strings.Repeat(maskChar, n-6) + rawKey[n-2:]
	case n > 2:
		return rawKey[:1] + strings.Repeat(maskChar, n-2) + rawKey[n-1:]
	default:
		return strings.Repeat(maskChar, n)
	}
}

// Sign produces a tamper-evident signed key of the form
// "<randomPart>-<signature>", where the signature is an HMAC over the random
// part and the caller-supplied context string.
func (d *Deriver) Sign(randomPart, context string) string {
	mac := hmac.New(d.newHash, d.secret)
	mac.Write([]byte(randomPart + "-" + context))
	return randomPart + "-" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signed key against the context it was issued for.
// The comparison is constant-time.
func (d *Deriver) VerifySignature(candidateKey, context string) bool {
	randomPart, signature, ok := strings.Cut(candidateKey, "-")
	if !ok {
		return false
	}

	mac := hmac.New(d.newHash, d.secret)
	mac.Write([]byte(randomPart + "-" + context))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
