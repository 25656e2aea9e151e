package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign returns the "sha256=<hex>" HMAC of body under secret.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches body. The "sha256="
// prefix is optional.
func VerifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, "sha256=") {
		signature = "sha256=" + signature
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(Sign(body, secret))) == 1
}
