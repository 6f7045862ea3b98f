package engagement

import (
	"strings"

	"tourtrack/api/models"
)

// Tier is the coarse engagement bucket that selects the attribution event.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

const (
	highTierThreshold   = 80
	mediumTierThreshold = 50
)

// EventName is the attribution event sent for the tier.
func (t Tier) EventName() string {
	switch t {
	case TierHigh:
		return "VirtualTourHighIntent"
	case TierMedium:
		return "VirtualTourMediumIntent"
	default:
		return "VirtualTourLowIntent"
	}
}

// NominalValue is the declared event value reported to the ad platform.
// It plays no part in internal scoring.
func (t Tier) NominalValue() int {
	switch t {
	case TierHigh:
		return 100
	case TierMedium:
		return 50
	default:
		return 10
	}
}

// TotalScore adds milestone values to the session's stored engagement score.
func TotalScore(session *models.TourSession, milestones []models.Milestone) int {
	total := session.EngagementScore
	for _, m := range milestones {
		total += m.Value
	}
	return total
}

// TierFor maps a session and its milestones onto a tier.
func TierFor(session *models.TourSession, milestones []models.Milestone) Tier {
	total := TotalScore(session, milestones)
	switch {
	case total >= highTierThreshold || session.Completed:
		return TierHigh
	case total >= mediumTierThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// BaseEngagementScore summarizes how thoroughly a visitor explored the tour,
// on a 0-100 scale: duration up to 40, distinct rooms up to 30, actions up to
// 20 and 10 for finishing.
func BaseEngagementScore(durationSeconds, distinctRooms, actions int, completed bool) int {
	score := min(max(durationSeconds, 0)/6, 40)
	score += min(distinctRooms*8, 30)
	score += min(actions*2, 20)
	if completed {
		score += 10
	}
	return min(score, 100)
}

// LeadQualityScore rates how actionable the visitor is as a lead, 0-65:
// contact details account for up to 50, engagement for up to 15.
func LeadQualityScore(user *models.UserInfo, engagementScore int) int {
	score := 0
	if user != nil {
		if strings.TrimSpace(user.Email) != "" {
			score += 20
		}
		if strings.TrimSpace(user.Phone) != "" {
			score += 20
		}
		if strings.TrimSpace(user.Name) != "" {
			score += 10
		}
	}
	score += min(max(engagementScore, 0), 100) * 15 / 100
	return min(score, 65)
}
