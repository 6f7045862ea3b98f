// handlers/stats_handlers.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tourtrack/api/models"
	"tourtrack/api/utils"
)

// ActionStats answers reporting queries over the archived action log.
type ActionStats interface {
	GetActionCountsOverTime(ctx context.Context, interval string, start, end time.Time, actionType, propertyID string) ([]models.ActionCountByTime, error)
	GetAverageRoomDwell(ctx context.Context, room string, start, end time.Time) (float64, error)
	GetTopRooms(ctx context.Context, start, end time.Time, propertyID string, limit uint64) ([]models.TopRoomResult, error)
}

type StatsHandlers struct {
	Stats ActionStats
	Now   func() time.Time
}

func NewStatsHandlers(stats ActionStats) *StatsHandlers {
	return &StatsHandlers{Stats: stats, Now: time.Now}
}

// timeRange parses start/end and writes a 400 on failure.
func (h *StatsHandlers) timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *StatsHandlers) GetActionCountsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetActionCountsOverTime(ctx, interval, start, end, c.Query("actionType"), c.Query("propertyId"))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error getting action counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve action statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetAverageRoomDwell(c *gin.Context) {
	room := c.Query("room")
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Stats.GetAverageRoomDwell(ctx, room, start, end)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("room", room).Msg("error getting average room dwell")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve average dwell statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":                room,
		"startDate":           start.Format(time.RFC3339),
		"endDate":             end.Format(time.RFC3339),
		"averageDwellSeconds": avg,
	})
}

func (h *StatsHandlers) GetTopRooms(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopRooms(ctx, start, end, c.Query("propertyId"), limit)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error getting top rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top room statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}
