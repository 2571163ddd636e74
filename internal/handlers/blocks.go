package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/telemetry"
)

// BlockHandler manages the user's block list.
type BlockHandler struct {
	blocks repositories.BlockRepository
	audit  *telemetry.AuditEmitter
}

// NewBlockHandler builds a BlockHandler.
func NewBlockHandler(blocks repositories.BlockRepository, audit *telemetry.AuditEmitter) *BlockHandler {
	return &BlockHandler{blocks: blocks, audit: audit}
}

func (h *BlockHandler) ListBlocked(c *gin.Context) {
	userID := c.GetInt("userID")

	blocks, err := h.blocks.ListBlocked(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load blocks"})
		return
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks})
}

// Block blocks a user. Any buddy edge and pending request between the two is dropped.
func (h *BlockHandler) Block(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if req.UserID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
		return
	}

	if err := h.blocks.Block(c.Request.Context(), userID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block user"})
		return
	}

	h.audit.Emit(c.Request.Context(), "user_blocked", "user blocked", requestIDFromContext(c), &userID, map[string]any{"blocked_id": req.UserID})
	c.Status(http.StatusNoContent)
}

func (h *BlockHandler) Unblock(c *gin.Context) {
	blockedID, ok := intParam(c, "user_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if err := h.blocks.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock user"})
		return
	}

	h.audit.Emit(c.Request.Context(), "user_unblocked", "user unblocked", requestIDFromContext(c), &userID, map[string]any{"blocked_id": blockedID})
	c.Status(http.StatusNoContent)
}
