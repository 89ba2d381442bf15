/**
 * @description
 * This file implements authenticity verification for inbound settlement
 * notifications. The gateway signs each callback with
 * hex(SHA-512(order_id + status_code + gross_amount + server_key)); anything
 * that does not reproduce that digest byte-for-byte is rejected before the
 * pipeline touches any state.
 *
 * @dependencies
 * - crypto/sha512, crypto/hmac, encoding/hex, strings: Standard Go libraries.
 * - internal/domain: The notification model.
 */

package app

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/pasarkita/payment-service/internal/domain"
)

// SignatureVerifier validates that a settlement notification originated from
// the payment gateway. The server key is injected at construction time and
// never read from ambient process state.
type SignatureVerifier struct {
	serverKey string
}

// NewSignatureVerifier creates a verifier bound to the gateway server key.
func NewSignatureVerifier(serverKey string) *SignatureVerifier {
	return &SignatureVerifier{serverKey: serverKey}
}

// Verify reports whether the notification's signature matches the expected
// keyed digest. Missing fields or an unconfigured key always fail closed.
// The comparison is constant-time.
func (v *SignatureVerifier) Verify(n domain.SettlementNotification) bool {
	if v == nil || v.serverKey == "" {
		return false
	}
	if n.OrderID == "" || n.StatusCode == "" || n.RawGrossAmount == "" || n.SignatureKey == "" {
		return false
	}

	payload := n.OrderID + n.StatusCode + n.RawGrossAmount + v.serverKey
	sum := sha512.Sum512([]byte(payload))
	expected := hex.EncodeToString(sum[:])

	provided := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	return hmac.Equal([]byte(expected), []byte(provided))
}
