package engagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourtrack/api/models"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func action(kind, room string, sec float64) models.TourAction {
	return models.TourAction{Type: kind, Room: room, Timestamp: at(sec)}
}

func kinds(ms []models.Milestone) []models.MilestoneKind {
	out := make([]models.MilestoneKind, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Kind)
	}
	return out
}

func TestRoomMultiplier(t *testing.T) {
	assert.Equal(t, 2.0, RoomMultiplier("master_bedroom"))
	assert.Equal(t, 1.5, RoomMultiplier("guest_bedroom"))
	assert.Equal(t, 1.8, RoomMultiplier("Kitchen_Open"))
	assert.Equal(t, 1.2, RoomMultiplier("living_room"))
	assert.Equal(t, 1.0, RoomMultiplier("master_bathroom"))
	assert.Equal(t, 1.0, RoomMultiplier("garage"))
}

func TestReconstructRoomTimes(t *testing.T) {
	actions := []models.TourAction{
		action("room_enter", "hall", 0),
		action("click", "hall", 10),
		action("click", "hall", 10), // same timestamp, measured to the next distinct one
		action("room_enter", "kitchen", 25),
		action("click", models.UnknownRoom, 40),
		action("room_enter", "hall", 50),
		action("room_exit", "hall", 55),
	}
	rooms := ReconstructRoomTimes(actions)
	require.Len(t, rooms, 2)
	assert.Equal(t, "hall", rooms[0].Room)
	assert.Equal(t, 10*time.Second+15*time.Second+15*time.Second+5*time.Second, rooms[0].Dwell)
	assert.Equal(t, "kitchen", rooms[1].Room)
	assert.Equal(t, 15*time.Second, rooms[1].Dwell)
}

func TestRoomExitIsNotCreditedWithNextRoom(t *testing.T) {
	// Entering a room writes the previous room's exit at the same instant.
	actions := []models.TourAction{
		action("room_enter", "kitchen", 0),
		action("room_exit", "kitchen", 10),
		action("room_enter", "garage", 10),
		action("room_exit", "garage", 65),
	}
	rooms := ReconstructRoomTimes(actions)
	require.Len(t, rooms, 2)
	assert.Equal(t, 10*time.Second, rooms[0].Dwell)
	assert.Equal(t, 55*time.Second, rooms[1].Dwell)

	assert.Empty(t, Detect(&models.TourSession{ActionsTaken: actions}))
}

func TestRoomFocusThreshold(t *testing.T) {
	tests := []struct {
		name  string
		dwell float64
		want  int
	}{
		{"59 seconds", 59, 0},
		{"exactly 60 seconds", 60, 0},
		{"61 seconds", 61, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.TourSession{ActionsTaken: []models.TourAction{
				action("room_enter", "kitchen", 0),
				action("room_exit", "kitchen", tt.dwell),
			}}
			ms := Detect(s)
			assert.Len(t, ms, tt.want)
			if tt.want == 1 {
				assert.Equal(t, models.MilestoneRoomFocus, ms[0].Kind)
				assert.Equal(t, "kitchen", ms[0].Room)
				// min(61/10, 20) * 1.8 = 10.98
				assert.Equal(t, 11, ms[0].Value)
				assert.InDelta(t, 61, ms[0].DwellSeconds, 0.001)
			}
		})
	}
}

func TestRoomFocusValueCapped(t *testing.T) {
	assert.Equal(t, 40, RoomFocusValue("master_bedroom", 10*time.Minute))
	assert.Equal(t, 20, RoomFocusValue("garage", 10*time.Minute))
}

func TestBurstDetection(t *testing.T) {
	s := &models.TourSession{ActionsTaken: []models.TourAction{
		action("click", "", 0),
		action("click", "", 5),
		action("click", "", 10),
		action("click", "", 15),
		action("click", "", 20),
		action("click", "", 100),
	}}
	ms := Detect(s)
	require.Len(t, ms, 1)
	assert.Equal(t, models.MilestoneInteractionBurst, ms[0].Kind)
	assert.Equal(t, 5, ms[0].InteractionCount)
	assert.Equal(t, 25, ms[0].Value)
	assert.Equal(t, at(0), ms[0].Timestamp)
}

func TestBurstsDoNotOverlap(t *testing.T) {
	var actions []models.TourAction
	for i := 0; i < 10; i++ {
		actions = append(actions, action("click", "", float64(i)))
	}
	for i := 0; i < 4; i++ {
		actions = append(actions, action("click", "", 40+float64(i)))
	}
	ms := Detect(&models.TourSession{ActionsTaken: actions})
	require.Len(t, ms, 1)
	assert.Equal(t, 10, ms[0].InteractionCount)
	assert.Equal(t, 50, ms[0].Value)
}

func TestDetectSortsUnorderedLog(t *testing.T) {
	s := &models.TourSession{ActionsTaken: []models.TourAction{
		action("click", "", 20),
		action("click", "", 0),
		action("click", "", 15),
		action("click", "", 5),
		action("click", "", 10),
	}}
	ms := Detect(s)
	require.Len(t, ms, 1)
	assert.Equal(t, at(0), ms[0].Timestamp)
	assert.Equal(t, models.TourAction{Type: "click", Timestamp: at(20)}, s.ActionsTaken[0], "input must not be reordered")
}

func TestDetectIsDeterministic(t *testing.T) {
	s := endToEndSession()
	first := Detect(s)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Detect(s))
	}
}

func TestCompletionMilestone(t *testing.T) {
	end := at(300)
	ms := Detect(&models.TourSession{Completed: true, StartedAt: t0, EndedAt: &end})
	require.Len(t, ms, 1)
	assert.Equal(t, models.MilestoneCompletion, ms[0].Kind)
	assert.Equal(t, 30, ms[0].Value)
	assert.Equal(t, end, ms[0].Timestamp)

	assert.Empty(t, Detect(&models.TourSession{}))
	assert.Nil(t, Detect(nil))
}

// endToEndSession: master_bedroom for 90s, kitchen for 30s, six actions
// inside the first 20 seconds.
func endToEndSession() *models.TourSession {
	end := at(120)
	return &models.TourSession{
		SessionID:       "s-e2e",
		PropertyID:      "prop-1",
		TourKind:        models.TourKindVirtual3D,
		StartedAt:       t0,
		EndedAt:         &end,
		Completed:       true,
		EngagementScore: 30,
		ActionsTaken: []models.TourAction{
			action("room_enter", "master_bedroom", 0),
			action("click", "master_bedroom", 4),
			action("click", "master_bedroom", 8),
			action("click", "master_bedroom", 12),
			action("share", "master_bedroom", 16),
			action("click", "master_bedroom", 20),
			action("room_enter", "kitchen", 90),
			action("room_exit", "kitchen", 120),
		},
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := endToEndSession()
	ms := Detect(s)

	assert.Equal(t, []models.MilestoneKind{
		models.MilestoneRoomFocus,
		models.MilestoneInteractionBurst,
		models.MilestoneCompletion,
	}, kinds(ms))
	assert.Equal(t, "master_bedroom", ms[0].Room)
	assert.Equal(t, 18, ms[0].Value) // min(90/10, 20) * 2.0
	assert.Equal(t, 6, ms[1].InteractionCount)

	total := TotalScore(s, ms)
	assert.GreaterOrEqual(t, total, 30+ms[0].Value+25+30)
	assert.Equal(t, TierHigh, TierFor(s, ms))
}

func TestValueForReported(t *testing.T) {
	assert.Equal(t, 11, ValueForReported(models.MilestoneRoomFocus, models.MilestoneData{Room: "kitchen", TimeSpent: 61}))
	assert.Equal(t, 35, ValueForReported(models.MilestoneInteractionBurst, models.MilestoneData{InteractionCount: 7}))
	assert.Equal(t, 30, ValueForReported(models.MilestoneCompletion, models.MilestoneData{}))
	assert.Equal(t, 1, ValueForReported(models.MilestoneRoomFocus, models.MilestoneData{Room: "hall"}))
}
