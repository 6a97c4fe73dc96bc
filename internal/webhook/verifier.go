// Package webhook authenticates gateway event deliveries and turns them into
// reconciliation commands.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"premium-entitlement/internal/domain"
)

// Verifier checks the hex HMAC-SHA256 signature of a raw body. The secret is
// read on every call so a config reload takes effect without a restart.
type Verifier struct {
	secret func() string
}

func NewVerifier(secret func() string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify fails closed: no secret is a configuration error, never a pass.
func (v *Verifier) Verify(body []byte, signature string) error {
	secret := ""
	if v != nil && v.secret != nil {
		secret = v.secret()
	}
	if secret == "" {
		return domain.ErrWebhookSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.ErrMissingSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrBadSignature
	}
	if !hmac.Equal(Sign([]byte(secret), body), got) {
		return domain.ErrBadSignature
	}
	return nil
}

// Sign returns the raw MAC of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the gateway sends it.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}
