package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"buddy-chat/internal/chaterr"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *int {
	if userID := c.GetInt("userID"); userID != 0 {
		return &userID
	}
	return nil
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// respondError maps a classified error onto an HTTP status. Unclassified
// errors become a 500 with a generic message.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var e *chaterr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case chaterr.KindAuth:
			status = http.StatusUnauthorized
		case chaterr.KindValidation:
			status = http.StatusBadRequest
		case chaterr.KindRelationship:
			status = http.StatusForbidden
		case chaterr.KindTransport:
			status = http.StatusServiceUnavailable
		}
		switch e.Code {
		case chaterr.ErrRateLimited.Code, chaterr.ErrTooManyConnections.Code:
			status = http.StatusTooManyRequests
		}
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": chaterr.PublicMessage(err)})
}
