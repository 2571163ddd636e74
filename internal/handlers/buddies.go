package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buddy-chat/internal/messaging"
	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/telemetry"
)

// BuddyHandler manages buddy lists and buddy requests.
type BuddyHandler struct {
	users   repositories.UserRepository
	buddies repositories.BuddyRepository
	blocks  repositories.BlockRepository
	pusher  messaging.Pusher
	audit   *telemetry.AuditEmitter
}

// NewBuddyHandler builds a BuddyHandler.
func NewBuddyHandler(users repositories.UserRepository, buddies repositories.BuddyRepository, blocks repositories.BlockRepository, pusher messaging.Pusher, audit *telemetry.AuditEmitter) *BuddyHandler {
	return &BuddyHandler{users: users, buddies: buddies, blocks: blocks, pusher: pusher, audit: audit}
}

// ListBuddies returns the buddy list with each buddy's stored status.
func (h *BuddyHandler) ListBuddies(c *gin.Context) {
	userID := c.GetInt("userID")

	buddies, err := h.buddies.ListBuddies(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load buddies"})
		return
	}
	if buddies == nil {
		buddies = []models.Buddy{}
	}
	c.JSON(http.StatusOK, gin.H{"buddies": buddies})
}

// RemoveBuddy deletes both directions of a buddy edge.
func (h *BuddyHandler) RemoveBuddy(c *gin.Context) {
	buddyID, ok := intParam(c, "user_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.buddies.RemoveBuddy(c.Request.Context(), userID, buddyID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove buddy"})
		return
	}

	h.audit.Emit(c.Request.Context(), "buddy_removed", "buddy removed", requestIDFromContext(c), &userID, map[string]any{"buddy_id": buddyID})
	c.Status(http.StatusNoContent)
}

// ListRequests returns pending requests addressed to the user.
func (h *BuddyHandler) ListRequests(c *gin.Context) {
	userID := c.GetInt("userID")

	requests, err := h.buddies.ListIncomingRequests(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load requests"})
		return
	}
	if requests == nil {
		requests = []models.BuddyRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// SendRequest invites another user to become a buddy.
func (h *BuddyHandler) SendRequest(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add yourself"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.users.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	// a block in either direction rules out a buddy edge
	for _, pair := range [][2]int{{req.UserID, userID}, {userID, req.UserID}} {
		blocked, err := h.blocks.IsBlocked(ctx, pair[0], pair[1])
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check block"})
			return
		}
		if blocked {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot send request to this user"})
			return
		}
	}

	created, err := h.buddies.CreateRequest(ctx, userID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrAlreadyBuddies), errors.Is(err, repositories.ErrRequestExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		}
		return
	}

	h.audit.Emit(ctx, "buddy_request_sent", "buddy request sent", requestIDFromContext(c), &userID, map[string]any{"to_user_id": req.UserID})
	c.JSON(http.StatusCreated, created)
}

// AcceptRequest accepts a pending request and creates the mirrored edge.
func (h *BuddyHandler) AcceptRequest(c *gin.Context) {
	requestID, ok := intParam(c, "request_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	accepted, err := h.buddies.AcceptRequest(ctx, requestID, userID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		case errors.Is(err, repositories.ErrBlockedPair):
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot accept request from this user"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept request"})
		}
		return
	}

	h.announce(c, userID, accepted.FromUserID)
	h.announce(c, accepted.FromUserID, userID)
	h.audit.Emit(ctx, "buddy_request_accepted", "buddy request accepted", requestIDFromContext(c), &userID, map[string]any{"request_id": requestID, "from_user_id": accepted.FromUserID})
	c.JSON(http.StatusOK, accepted)
}

// RejectRequest declines a pending request.
func (h *BuddyHandler) RejectRequest(c *gin.Context) {
	requestID, ok := intParam(c, "request_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.buddies.RejectRequest(c.Request.Context(), requestID, userID); err != nil {
		if errors.Is(err, repositories.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject request"})
		return
	}

	h.audit.Emit(c.Request.Context(), "buddy_request_rejected", "buddy request rejected", requestIDFromContext(c), &userID, map[string]any{"request_id": requestID})
	c.Status(http.StatusNoContent)
}

// announce pushes the stored status of subjectID to viewerID so a freshly
// accepted buddy shows up with the right presence.
func (h *BuddyHandler) announce(c *gin.Context, subjectID, viewerID int) {
	subject, err := h.users.GetUser(c.Request.Context(), subjectID)
	if err != nil {
		zap.L().Debug("announce lookup failed", zap.Int("user_id", subjectID), zap.Error(err))
		return
	}
	_ = h.pusher.Push(viewerID, models.BuddyStatusEvent{
		Type:      models.TypeBuddyStatusChange,
		UserID:    subject.ID,
		Status:    subject.Status,
		Timestamp: time.Now().UTC(),
	})
}
