// Package attribution sends de-duplicated conversion events to an ad
// platform's server-side event ingestion endpoint.
package attribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"tourtrack/api/models"
)

// CustomData is the event payload describing the tour session.
type CustomData struct {
	EventID         string
	PropertyID      string
	TourKind        string
	DurationSeconds int
	Completed       bool
	EngagementScore int
	MilestoneCount  int
	Tier            string
	Value           int
	Currency        string
	Attribution     models.AttributionParams
}

// HashContact returns the SHA-256 hex digest of the visitor's normalized
// email, or of the phone digits when no email is known. Empty when neither is set.
func HashContact(user *models.UserInfo) string {
	if user == nil {
		return ""
	}
	if email := strings.ToLower(strings.TrimSpace(user.Email)); email != "" {
		return sha256Hex(email)
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, user.Phone)
	if digits != "" {
		return sha256Hex(digits)
	}
	return ""
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// LogSender only logs events. It stands in when no ad platform is configured.
type LogSender struct{}

func (LogSender) SendEvent(ctx context.Context, eventName, contactHash string, data CustomData) error {
	log.Ctx(ctx).Info().
		Str("event_name", eventName).
		Str("event_id", data.EventID).
		Str("property_id", data.PropertyID).
		Bool("has_contact", contactHash != "").
		Msg("attribution disabled, event logged only")
	return nil
}
