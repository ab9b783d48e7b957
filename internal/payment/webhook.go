package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadEvent     = errors.New("invalid webhook event")
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Payment-Signature"

// Event is a provider notification. Type looks like "PAYIN_SUCCEEDED".
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ResourceID string    `json:"resource_id"`
	Date       time.Time `json:"date"`
}

// Outcome splits the event type into the resource kind and its final status.
func (e Event) Outcome() (resource string, status Status, ok bool) {
	i := strings.LastIndexByte(e.Type, '_')
	if i <= 0 {
		return "", "", false
	}
	switch Status(e.Type[i+1:]) {
	case StatusSucceeded:
		return e.Type[:i], StatusSucceeded, true
	case StatusFailed:
		return e.Type[:i], StatusFailed, true
	}
	return "", "", false
}

// Sign returns the signature a provider would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrBadSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// ParseEvent decodes and sanity-checks a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if ev.ID == "" || ev.Type == "" || ev.ResourceID == "" {
		return Event{}, fmt.Errorf("%w: id, type and resource_id are required", ErrBadEvent)
	}
	return ev, nil
}
