// Package risk provides risk assessment and device intelligence for authentication events
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceFingerprint represents a device's stable identity derived from
// client-supplied characteristics. Two fingerprints describe the same
// device iff their hashes are equal; the ID field is an opaque handle
// and never participates in equality.
type DeviceFingerprint struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	Platform  string    `json:"platform,omitempty"`
	ScreenRes string    `json:"screen_resolution,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewDeviceFingerprint builds a fingerprint from client-supplied attributes.
// CreatedAt and LastSeen are assigned by the tracker at registration time.
func NewDeviceFingerprint(userAgent, platform, screenRes, timezone, language string) DeviceFingerprint {
	return DeviceFingerprint{
		ID:        uuid.New().String(),
		UserAgent: userAgent,
		Platform:  platform,
		ScreenRes: screenRes,
		Timezone:  timezone,
		Language:  language,
	}
}

// FingerprintFromUserAgent synthesizes a fingerprint from the user-agent
// alone, used when the client supplied no structured device attributes.
func FingerprintFromUserAgent(userAgent string) DeviceFingerprint {
	return NewDeviceFingerprint(userAgent, "", "", "", "")
}

// Hash computes the SHA-256 content hash over the five characteristic
// fields in canonical order. Absent fields hash as empty strings, so a
// device known only by its user-agent still hashes deterministically.
func (f DeviceFingerprint) Hash() string {
	payload := strings.Join([]string{
		f.UserAgent,
		f.Platform,
		f.ScreenRes,
		f.Timezone,
		f.Language,
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
