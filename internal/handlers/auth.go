package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buddy-chat/internal/auth"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/telemetry"
)

// TokenIssuer mints signed credentials.
type TokenIssuer interface {
	Issue(userID int, email, class string) (string, time.Time, error)
}

// AuthHandler serves login and logout.
type AuthHandler struct {
	users     repositories.UserRepository
	tokens    TokenIssuer
	blacklist auth.Blacklist
	audit     *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(users repositories.UserRepository, tokens TokenIssuer, blacklist auth.Blacklist, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, blacklist: blacklist, audit: audit}
}

// Login exchanges email and password for a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		zap.L().Error("login lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log in"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.Verified {
		c.JSON(http.StatusForbidden, gin.H{"error": "account not verified"})
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID, user.Email, auth.ClassSession)
	if err != nil {
		zap.L().Error("issue token failed", zap.Int("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log in"})
		return
	}

	h.audit.Emit(c.Request.Context(), "login", "user logged in", requestIDFromContext(c), &user.ID, nil)
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt, "user": user})
}

// Logout revokes the presented token until it would have expired anyway.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString("token")
	claims, _ := c.Get("claims")
	until := time.Now().Add(24 * time.Hour)
	if cl, ok := claims.(*auth.Claims); ok && cl.ExpiresAt != nil {
		until = cl.ExpiresAt.Time
	}

	if err := h.blacklist.Revoke(c.Request.Context(), token, until); err != nil {
		zap.L().Error("revoke token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log out"})
		return
	}

	h.audit.Emit(c.Request.Context(), "logout", "user logged out", requestIDFromContext(c), userIDFromContext(c), nil)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
