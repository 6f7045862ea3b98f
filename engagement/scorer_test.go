package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tourtrack/api/models"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name      string
		base      int
		values    []int
		completed bool
		want      Tier
	}{
		{"low", 10, []int{5}, false, TierLow},
		{"medium at 50", 20, []int{30}, false, TierMedium},
		{"medium below 80", 40, []int{39}, false, TierMedium},
		{"high at 80", 50, []int{30}, false, TierHigh},
		{"completed is always high", 0, nil, true, TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.TourSession{EngagementScore: tt.base, Completed: tt.completed}
			var ms []models.Milestone
			for _, v := range tt.values {
				ms = append(ms, models.Milestone{Value: v})
			}
			assert.Equal(t, tt.want, TierFor(s, ms))
		})
	}
}

func TestTierEvents(t *testing.T) {
	assert.Equal(t, 100, TierHigh.NominalValue())
	assert.Equal(t, 50, TierMedium.NominalValue())
	assert.Equal(t, 10, TierLow.NominalValue())
	assert.NotEqual(t, TierHigh.EventName(), TierMedium.EventName())
	assert.NotEqual(t, TierMedium.EventName(), TierLow.EventName())
}

func TestBaseEngagementScore(t *testing.T) {
	assert.Equal(t, 0, BaseEngagementScore(0, 0, 0, false))
	assert.Equal(t, 10+16+12, BaseEngagementScore(60, 2, 6, false))
	assert.Equal(t, 100, BaseEngagementScore(3600, 10, 100, true))
	assert.Equal(t, 0, BaseEngagementScore(-50, 0, 0, false))
}

func TestLeadQualityScore(t *testing.T) {
	assert.Equal(t, 0, LeadQualityScore(nil, 0))
	assert.Equal(t, 15, LeadQualityScore(nil, 100))
	assert.Equal(t, 65, LeadQualityScore(&models.UserInfo{Email: "a@b.co", Phone: "1", Name: "A"}, 100))
	assert.Equal(t, 27, LeadQualityScore(&models.UserInfo{Email: "a@b.co"}, 50))
}
