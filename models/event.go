// models/event.go
package models

import (
	"time"
)

// ActionRecord is one archived action log row in ClickHouse.
type ActionRecord struct {
	SessionID  string    `json:"sessionId"`
	PropertyID string    `json:"propertyId"`
	TourKind   string    `json:"tourKind"`
	ActionType string    `json:"actionType"`
	Target     string    `json:"target"`
	Room       string    `json:"room"`
	Timestamp  time.Time `json:"timestamp"`
	DwellMs    int64     `json:"dwellMs"`
	Metadata   string    `json:"metadata,omitempty"`
}

// MilestoneRecord is a cached milestone row in ClickHouse.
type MilestoneRecord struct {
	SessionID        string    `json:"sessionId"`
	PropertyID       string    `json:"propertyId"`
	Kind             string    `json:"kind"`
	ValueScore       uint8     `json:"valueScore"`
	Room             string    `json:"room"`
	DwellSeconds     float64   `json:"dwellSeconds"`
	InteractionCount uint32    `json:"interactionCount"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

type ActionCountByTime struct {
	Time       time.Time `json:"time"`
	ActionType *string   `json:"actionType,omitempty"`
	Count      uint64    `json:"count"`
}

type TopRoomResult struct {
	Room   string `json:"room"`
	Visits uint64 `json:"visits"`
}
