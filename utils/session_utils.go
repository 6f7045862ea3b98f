package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateSessionID creates a collision-resistant tour session identifier.
// UUIDv7 keeps ids roughly time ordered, which suits the Postgres index.
func GenerateSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("tour-%d-%s", time.Now().UnixNano(), uuid.NewString())
	}
	return "tour-" + id.String()
}

// IsValidSessionID reports whether id looks like a client-generated session id.
func IsValidSessionID(id string) bool {
	if len(id) < 8 || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, " /\\?#")
}
