package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tourtrack/api/service"
	"tourtrack/api/store"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSessionExists), errors.Is(err, store.ErrSessionCompleted):
		return http.StatusConflict
	case errors.Is(err, service.ErrSessionNotCompleted):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidSession), errors.Is(err, service.ErrInvalidMilestone):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes a {"success": false} body. Internal errors are
// reported with the generic message only.
func fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	logger := log.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(msg)
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}
	logger.Warn().Err(err).Msg(msg)
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
}
