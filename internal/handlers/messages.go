package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/messaging"
	"buddy-chat/internal/models"
	"buddy-chat/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MessageRouter routes and acknowledges private messages.
type MessageRouter interface {
	Route(ctx context.Context, senderID, recipientID int, raw string) (messaging.DeliveryReceipt, error)
	MarkRead(ctx context.Context, readerID, messageID int) (models.Message, error)
}

// RateChecker applies per-(ip, type) limits.
type RateChecker interface {
	CheckMessageRate(ip, msgType string) bool
}

// MessageHandler exposes the conversation pull API and REST-triggered delivery.
type MessageHandler struct {
	messages repositories.MessageRepository
	router   MessageRouter
	limits   RateChecker
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, router MessageRouter, limits RateChecker) *MessageHandler {
	return &MessageHandler{messages: messages, router: router, limits: limits}
}

// GetConversation returns up to limit messages between the user and :user_id,
// oldest first. Pass before=<message id> to page backwards.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	otherID, ok := intParam(c, "user_id")
	if !ok {
		return
	}

	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxPageSize)
	}
	before := 0
	if v := c.Query("before"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
			return
		}
		before = n
	}

	userID := c.GetInt("userID")
	msgs, err := h.messages.GetConversation(c.Request.Context(), userID, otherID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a private message through the router, exactly like a
// private_message frame on the websocket.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		ToUserID int    `json:"toUserId" binding:"required,gt=0"`
		Message  string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.limits != nil && !h.limits.CheckMessageRate(c.ClientIP(), models.TypePrivateMessage) {
		respondError(c, chaterr.ErrRateLimited)
		return
	}

	userID := c.GetInt("userID")
	receipt, err := h.router.Route(c.Request.Context(), userID, req.ToUserID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// MarkRead flags a received message as read and notifies its sender.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.router.MarkRead(c.Request.Context(), userID, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark message read"})
		return
	}
	c.JSON(http.StatusOK, msg)
}
