package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"buddy-chat/internal/models"
)

// StatusBroadcaster persists a presence change and fans it out to buddies.
type StatusBroadcaster interface {
	BroadcastStatus(ctx context.Context, userID int, status models.Status) (int, error)
}

// ConnectionCounter reports live websocket users.
type ConnectionCounter interface {
	Count() int
}

// PresenceHandler serves explicit status changes and server stats.
type PresenceHandler struct {
	presence StatusBroadcaster
	counter  ConnectionCounter
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence StatusBroadcaster, counter ConnectionCounter) *PresenceHandler {
	return &PresenceHandler{presence: presence, counter: counter}
}

// SetStatus switches the user between online, away and busy.
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status models.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Selectable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	userID := c.GetInt("userID")
	notified, err := h.presence.BroadcastStatus(c.Request.Context(), userID, req.Status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status, "notified": notified})
}

// Stats reports the number of connected users.
func (h *PresenceHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, models.ServerStatsEvent{
		Type:        models.TypeServerStats,
		Connections: h.counter.Count(),
		Timestamp:   time.Now().UTC(),
	})
}
