package models

import "time"

type CreateSessionRequest struct {
	SessionID   string             `json:"session_id" binding:"required"`
	PropertyID  string             `json:"property_id" binding:"required"`
	TourKind    TourKind           `json:"tour_type" binding:"required,oneof=virtual_3d realsee video"`
	UserInfo    *UserInfo          `json:"user_info,omitempty"`
	Attribution *AttributionParams `json:"attribution,omitempty"`
	StartedAt   time.Time          `json:"start_time"`
}

// EngagementData is the serialized action log submitted at completion.
type EngagementData struct {
	TotalDuration int          `json:"total_duration" binding:"gte=0"`
	RoomsVisited  []RoomVisit  `json:"rooms_visited"`
	ActionsTaken  []TourAction `json:"actions_taken"`
}

type CompleteSessionRequest struct {
	SessionID        string             `json:"-"`
	EngagementData   EngagementData     `json:"engagement_data"`
	UserInfo         *UserInfo          `json:"user_info,omitempty"`
	CompletionReason string             `json:"completion_reason" binding:"required"`
	Attribution      *AttributionParams `json:"attribution,omitempty"`
	EndedAt          time.Time          `json:"end_time"`
}

type SessionScores struct {
	EngagementScore  int `json:"engagement_score"`
	LeadQualityScore int `json:"lead_quality_score"`
}

// DispatchResult reports the outcome of sending the attribution event.
type DispatchResult struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CompleteSessionResponse struct {
	Success    bool            `json:"success"`
	Session    SessionScores   `json:"session"`
	Milestones []Milestone     `json:"milestones"`
	Dispatch   *DispatchResult `json:"dispatch,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// MilestoneData is the kind-specific payload of a client-reported milestone.
type MilestoneData struct {
	Room             string         `json:"room,omitempty"`
	TimeSpent        float64        `json:"time_spent,omitempty"`
	InteractionCount int            `json:"interaction_count,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type RecordMilestoneRequest struct {
	SessionID     string             `json:"-"`
	MilestoneType MilestoneKind      `json:"milestone_type" binding:"required"`
	MilestoneData MilestoneData      `json:"milestone_data"`
	UserInfo      *UserInfo          `json:"user_info,omitempty"`
	PropertyID    string             `json:"property_id" binding:"required"`
	Attribution   *AttributionParams `json:"attribution,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

type RecordMilestoneResponse struct {
	Success   bool `json:"success"`
	Milestone struct {
		ValueScore int `json:"value_score"`
	} `json:"milestone"`
	Error string `json:"error,omitempty"`
}

type SummaryFilter struct {
	PropertyID string
	Start      time.Time
	End        time.Time
	Limit      int
}

// SessionSummary is the aggregate view consumed by reporting surfaces.
type SessionSummary struct {
	TotalSessions          int64         `json:"total_sessions"`
	CompletedSessions      int64         `json:"completed_sessions"`
	CompletionRate         float64       `json:"completion_rate"`
	AverageEngagementScore float64       `json:"average_engagement_score"`
	EventsSent             int64         `json:"events_sent"`
	EventRate              float64       `json:"event_rate"`
	RecentSessions         []TourSession `json:"recent_sessions"`
}
