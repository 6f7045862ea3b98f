package models

import (
	"time"
)

// TourKind identifies the player technology behind a walkthrough.
type TourKind string

const (
	TourKindVirtual3D TourKind = "virtual_3d"
	TourKindRealsee   TourKind = "realsee"
	TourKindVideo     TourKind = "video"
)

// Valid reports whether k is one of the supported tour kinds.
func (k TourKind) Valid() bool {
	switch k {
	case TourKindVirtual3D, TourKindRealsee, TourKindVideo:
		return true
	default:
		return false
	}
}

// UnknownRoom tags actions recorded while the visitor is not inside any room.
const UnknownRoom = "unknown"

// Well-known action types. Clients may send others.
const (
	ActionRoomEnter = "room_enter"
	ActionRoomExit  = "room_exit"
	ActionClick     = "click"
	ActionShare     = "share"
)

// Completion reasons sent by the client state machine.
const (
	CompletionReasonUser    = "user_exit"
	CompletionReasonUnmount = "component_unmount"
)

type UserInfo struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty" binding:"omitempty,email"`
	Phone  string `json:"phone,omitempty"`
}

// AttributionParams carries ad click/browser identifiers and UTM tags captured
// on the landing page.
type AttributionParams struct {
	ClickID     string `json:"fbclid,omitempty"`
	BrowserID   string `json:"fbp,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
}

// TourAction is one entry of the append-only action log.
// DwellSeconds is set on room_exit actions only; Metadata is free-form client data.
type TourAction struct {
	Type         string         `json:"type" binding:"required"`
	Target       string         `json:"target,omitempty"`
	Room         string         `json:"room"`
	Timestamp    time.Time      `json:"timestamp"`
	DwellSeconds *float64       `json:"dwell_seconds,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HasRoom reports whether the action carries a usable room hint.
func (a TourAction) HasRoom() bool {
	return a.Room != "" && a.Room != UnknownRoom
}

type RoomVisit struct {
	Room      string       `json:"room"`
	EnteredAt time.Time    `json:"entered_at"`
	ExitedAt  *time.Time   `json:"exited_at,omitempty"`
	Actions   []TourAction `json:"actions,omitempty"`
}

// Open reports whether the visitor is still inside this room.
func (v RoomVisit) Open() bool {
	return v.ExitedAt == nil
}

// Dwell returns the time spent in the room, measured up to now while open.
func (v RoomVisit) Dwell(now time.Time) time.Duration {
	if v.ExitedAt != nil {
		return v.ExitedAt.Sub(v.EnteredAt)
	}
	return now.Sub(v.EnteredAt)
}

type TourSession struct {
	SessionID        string            `json:"session_id"`
	PropertyID       string            `json:"property_id"`
	TourKind         TourKind          `json:"tour_type"`
	UserID           string            `json:"user_id,omitempty"`
	UserInfo         *UserInfo         `json:"user_info,omitempty"`
	StartedAt        time.Time         `json:"start_time"`
	EndedAt          *time.Time        `json:"end_time,omitempty"`
	DurationSeconds  int               `json:"total_duration"`
	RoomsVisited     []RoomVisit       `json:"rooms_visited"`
	ActionsTaken     []TourAction      `json:"actions_taken"`
	Completed        bool              `json:"completed"`
	CompletionReason string            `json:"completion_reason,omitempty"`
	EngagementScore  int               `json:"engagement_score"`
	LeadQualityScore int               `json:"lead_quality_score"`
	EventSent        bool              `json:"event_sent"`
	EventID          string            `json:"event_id,omitempty"`
	Attribution      AttributionParams `json:"attribution"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DistinctRooms counts the rooms that appear in the visit list.
func (s *TourSession) DistinctRooms() int {
	seen := make(map[string]struct{}, len(s.RoomsVisited))
	for _, v := range s.RoomsVisited {
		seen[v.Room] = struct{}{}
	}
	return len(seen)
}

type MilestoneKind string

const (
	MilestoneRoomFocus        MilestoneKind = "room_focus"
	MilestoneInteractionBurst MilestoneKind = "interaction_burst"
	MilestoneCompletion       MilestoneKind = "completion"
	MilestoneReturnVisit      MilestoneKind = "return_visit"
	MilestoneShareAction      MilestoneKind = "share_action"
)

// Valid reports whether k is a known milestone kind.
func (k MilestoneKind) Valid() bool {
	switch k {
	case MilestoneRoomFocus, MilestoneInteractionBurst, MilestoneCompletion,
		MilestoneReturnVisit, MilestoneShareAction:
		return true
	default:
		return false
	}
}

// Milestone is a scored behavioral event derived from the action log.
// Room and DwellSeconds are set for room_focus, InteractionCount for
// interaction_burst.
type Milestone struct {
	Kind             MilestoneKind `json:"type"`
	Value            int           `json:"value_score"`
	Timestamp        time.Time     `json:"timestamp"`
	Room             string        `json:"room,omitempty"`
	DwellSeconds     float64       `json:"time_spent,omitempty"`
	InteractionCount int           `json:"interaction_count,omitempty"`
}
