// Package engagement derives milestones, scores and attribution events from a
// completed tour session's action log. Everything here except the Dispatcher
// is pure and safe for concurrent use.
package engagement

import (
	"math"
	"sort"
	"strings"
	"time"

	"tourtrack/api/models"
)

const (
	// RoomFocusThreshold is the reconstructed dwell a room needs before it
	// counts as a focus milestone.
	RoomFocusThreshold = 60 * time.Second
	// BurstWindow is the sliding window used for interaction bursts.
	BurstWindow = 30 * time.Second
	// BurstMinActions is the number of actions a window needs to qualify.
	BurstMinActions = 5

	roomFocusBaseCap  = 20.0
	burstValuePerHit  = 5
	burstValueCap     = 50
	completionValue   = 30
	shareActionValue  = 15
	returnVisitValue  = 10
	minMilestoneValue = 1
	maxMilestoneValue = 100
)

type roomMultiplier struct {
	match  string
	factor float64
}

// Longer names come first so that "master_bedroom" is not matched as "bedroom".
var roomMultipliers = []roomMultiplier{
	{"master_bedroom", 2.0},
	{"living_room", 1.2},
	{"bathroom", 1.0},
	{"bedroom", 1.5},
	{"kitchen", 1.8},
	{"terrace", 1.4},
	{"balcony", 1.3},
}

// RoomMultiplier returns the value multiplier for a room by substring match.
func RoomMultiplier(room string) float64 {
	name := strings.ToLower(room)
	for _, m := range roomMultipliers {
		if strings.Contains(name, m.match) {
			return m.factor
		}
	}
	return 1.0
}

// RoomTime is the reconstructed dwell for one room.
type RoomTime struct {
	Room      string
	Dwell     time.Duration
	FirstSeen time.Time
}

// ReconstructRoomTimes walks the action log in order and attributes the gap
// between an action carrying a room hint and the next differently-timestamped
// action to that room. A room_exit closes the room and is credited nothing.
// Rooms are returned in order of first appearance.
func ReconstructRoomTimes(actions []models.TourAction) []RoomTime {
	ordered := sortedActions(actions)

	var rooms []RoomTime
	index := make(map[string]int)
	for i, a := range ordered {
		if !a.HasRoom() {
			continue
		}
		pos, ok := index[a.Room]
		if !ok {
			pos = len(rooms)
			index[a.Room] = pos
			rooms = append(rooms, RoomTime{Room: a.Room, FirstSeen: a.Timestamp})
		}
		// The visitor has left the room; what follows belongs elsewhere.
		if a.Type == models.ActionRoomExit {
			continue
		}
		for j := i + 1; j < len(ordered); j++ {
			if !ordered[j].Timestamp.Equal(a.Timestamp) {
				rooms[pos].Dwell += ordered[j].Timestamp.Sub(a.Timestamp)
				break
			}
		}
	}
	return rooms
}

// RoomFocusValue scores a room focus milestone for the given dwell.
func RoomFocusValue(room string, dwell time.Duration) int {
	base := math.Min(dwell.Seconds()/10, roomFocusBaseCap)
	return clampValue(int(math.Round(base * RoomMultiplier(room))))
}

// BurstValue scores an interaction burst of count actions.
func BurstValue(count int) int {
	v := count * burstValuePerHit
	if v > burstValueCap {
		v = burstValueCap
	}
	return clampValue(v)
}

// Detect derives the session's milestones: room focus (in order of first
// appearance), then interaction bursts (in time order), then completion.
// The output depends only on the session's own data.
func Detect(session *models.TourSession) []models.Milestone {
	if session == nil {
		return nil
	}
	ordered := sortedActions(session.ActionsTaken)

	var milestones []models.Milestone
	for _, rt := range ReconstructRoomTimes(ordered) {
		if rt.Dwell <= RoomFocusThreshold {
			continue
		}
		milestones = append(milestones, models.Milestone{
			Kind:         models.MilestoneRoomFocus,
			Value:        RoomFocusValue(rt.Room, rt.Dwell),
			Timestamp:    rt.FirstSeen,
			Room:         rt.Room,
			DwellSeconds: rt.Dwell.Seconds(),
		})
	}

	milestones = append(milestones, detectBursts(ordered)...)

	if session.Completed {
		ts := session.StartedAt
		if session.EndedAt != nil {
			ts = *session.EndedAt
		}
		milestones = append(milestones, models.Milestone{
			Kind:      models.MilestoneCompletion,
			Value:     completionValue,
			Timestamp: ts,
		})
	}
	return milestones
}

// detectBursts scans ordered actions for non-overlapping windows holding at
// least BurstMinActions actions. A qualifying window consumes its actions.
func detectBursts(ordered []models.TourAction) []models.Milestone {
	var bursts []models.Milestone
	i := 0
	for i < len(ordered) {
		start := ordered[i].Timestamp
		j := i
		for j < len(ordered) && ordered[j].Timestamp.Sub(start) < BurstWindow {
			j++
		}
		count := j - i
		if count >= BurstMinActions {
			bursts = append(bursts, models.Milestone{
				Kind:             models.MilestoneInteractionBurst,
				Value:            BurstValue(count),
				Timestamp:        start,
				InteractionCount: count,
			})
			i = j
			continue
		}
		i++
	}
	return bursts
}

// ValueForReported scores a milestone reported by a client. Room focus and
// burst values are recomputed from the payload; other kinds use fixed values.
func ValueForReported(kind models.MilestoneKind, data models.MilestoneData) int {
	switch kind {
	case models.MilestoneRoomFocus:
		return RoomFocusValue(data.Room, time.Duration(data.TimeSpent*float64(time.Second)))
	case models.MilestoneInteractionBurst:
		return BurstValue(data.InteractionCount)
	case models.MilestoneCompletion:
		return completionValue
	case models.MilestoneShareAction:
		return shareActionValue
	case models.MilestoneReturnVisit:
		return returnVisitValue
	default:
		return minMilestoneValue
	}
}

func sortedActions(actions []models.TourAction) []models.TourAction {
	ordered := make([]models.TourAction, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

func clampValue(v int) int {
	if v < minMilestoneValue {
		return minMilestoneValue
	}
	if v > maxMilestoneValue {
		return maxMilestoneValue
	}
	return v
}
