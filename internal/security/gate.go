package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// RejectReason is the typed rejection returned by the gate. The taxonomy is
// deliberately coarse: no partial-match information is ever leaked through
// response content.
type RejectReason string

const (
	ReasonMissingCredential RejectReason = "MISSING_CREDENTIAL"
	ReasonInvalidCredential RejectReason = "INVALID_CREDENTIAL"
	ReasonMisconfigured     RejectReason = "MISCONFIGURED"
)

// Result is the outcome of a gate check. Reason is empty when OK is true.
type Result struct {
	OK     bool
	Reason RejectReason
}

func accept() Result                    { return Result{OK: true} }
func reject(reason RejectReason) Result { return Result{Reason: reason} }

// Gate validates trigger authenticity before any event is admitted.
// Per-trigger-node secrets are stored with the node configuration; an
// absent or malformed secret fails closed as MISCONFIGURED, never as open
// access.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a security gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger}
}

// ValidateSharedToken compares a caller-provided token against the
// configured secret in constant time. Both values are hashed before
// comparison so neither content nor length differences short-circuit.
func (g *Gate) ValidateSharedToken(provided, configured string) Result {
	if configured == "" {
		g.logger.Warn("trigger node has no configured token; failing closed")
		return reject(ReasonMisconfigured)
	}
	if provided == "" {
		return reject(ReasonMissingCredential)
	}

	providedSum := sha256.Sum256([]byte(provided))
	configuredSum := sha256.Sum256([]byte(configured))
	if subtle.ConstantTimeCompare(providedSum[:], configuredSum[:]) != 1 {
		return reject(ReasonInvalidCredential)
	}
	return accept()
}

// ValidateSignedPayload verifies a keyed hash of the payload bytes against
// the provided signature. Accepted signature encodings are hex and
// standard base64, with an optional "sha256=" prefix.
func (g *Gate) ValidateSignedPayload(payload []byte, secret, signature string) Result {
	if secret == "" {
		g.logger.Warn("trigger node has no configured signing secret; failing closed")
		return reject(ReasonMisconfigured)
	}
	if signature == "" {
		return reject(ReasonMissingCredential)
	}

	sig, ok := decodeSignature(signature)
	if !ok {
		return reject(ReasonInvalidCredential)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return reject(ReasonInvalidCredential)
	}
	return accept()
}

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
// Used by internal callers that need to produce signatures for outbound
// deliveries and by tests.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeSignature(signature string) ([]byte, bool) {
	signature = strings.TrimPrefix(signature, "sha256=")

	if raw, err := hex.DecodeString(signature); err == nil && len(raw) == sha256.Size {
		return raw, true
	}
	if raw, err := base64.StdEncoding.DecodeString(signature); err == nil && len(raw) == sha256.Size {
		return raw, true
	}
	return nil, false
}
