package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tourtrack/api/models"
	"tourtrack/api/utils"
)

// TourService is the server side of the tour session lifecycle.
type TourService interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.TourSession, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	CompleteSession(ctx context.Context, req models.CompleteSessionRequest) (*models.CompleteSessionResponse, error)
	RecordMilestone(ctx context.Context, req models.RecordMilestoneRequest) (int, error)
	RetryDispatch(ctx context.Context, sessionID string) (models.DispatchResult, error)
	Summary(ctx context.Context, filter models.SummaryFilter) (*models.SessionSummary, error)
}

type TourHandlers struct {
	Service TourService
	Timeout time.Duration
}

func NewTourHandlers(svc TourService, timeout time.Duration) *TourHandlers {
	return &TourHandlers{Service: svc, Timeout: timeout}
}

func (h *TourHandlers) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.Timeout)
}

func (h *TourHandlers) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	session, err := h.Service.CreateSession(ctx, req)
	if err != nil {
		fail(c, err, "Failed to create tour session")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session_id": session.SessionID})
}

func (h *TourHandlers) SessionExists(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	exists, err := h.Service.SessionExists(ctx, c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to verify tour session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (h *TourHandlers) CompleteSession(c *gin.Context) {
	var req models.CompleteSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.SessionID = c.Param("id")

	ctx, cancel := h.ctx(c)
	defer cancel()

	resp, err := h.Service.CompleteSession(ctx, req)
	if err != nil {
		fail(c, err, "Failed to complete tour session")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TourHandlers) RecordMilestone(c *gin.Context) {
	var req models.RecordMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.SessionID = c.Param("id")

	ctx, cancel := h.ctx(c)
	defer cancel()

	value, err := h.Service.RecordMilestone(ctx, req)
	if err != nil {
		fail(c, err, "Failed to record milestone")
		return
	}
	var resp models.RecordMilestoneResponse
	resp.Success = true
	resp.Milestone.ValueScore = value
	c.JSON(http.StatusOK, resp)
}

func (h *TourHandlers) RetryDispatch(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Service.RetryDispatch(ctx, c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to dispatch attribution event")
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func (h *TourHandlers) GetSummary(c *gin.Context) {
	filter := models.SummaryFilter{PropertyID: c.Query("property_id")}

	if c.Query("start") != "" || c.Query("end") != "" {
		start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Start, filter.End = start, end
	}

	if limitParam := c.Query("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		filter.Limit = limit
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	summary, err := h.Service.Summary(ctx, filter)
	if err != nil {
		fail(c, err, "Failed to retrieve tour summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}
