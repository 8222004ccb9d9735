package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/turtacn/riskguard/internal/domain/models"
)

// Signer computes tamper-evidence signatures for audit events.
type Signer struct {
	key []byte
}

// NewSigner creates a signer. An empty key disables signing.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Enabled reports whether events are signed.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// Sign sets event.Signature to the hex HMAC-SHA256 of the event encoded without a signature.
func (s *Signer) Sign(event *models.AuditEvent) error {
	if !s.Enabled() {
		return nil
	}
	sig, err := s.compute(event)
	if err != nil {
		return err
	}
	event.Signature = sig
	return nil
}

// Verify reports whether event carries a valid signature.
func (s *Signer) Verify(event *models.AuditEvent) bool {
	if !s.Enabled() || event.Signature == "" {
		return false
	}
	want, err := s.compute(event)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(event.Signature))
}

func (s *Signer) compute(event *models.AuditEvent) (string, error) {
	unsigned := *event
	unsigned.Signature = ""
	// encoding/json sorts map keys, so Metadata encodes deterministically.
	eventBytes, err := json.Marshal(unsigned)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(eventBytes)
	return hex.EncodeToString(h.Sum(nil)), nil
}
