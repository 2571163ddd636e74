// Package messaging routes private messages between buddies and fans out presence changes.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/models"
	"buddy-chat/internal/observability"
	"buddy-chat/internal/repositories"
	"buddy-chat/internal/security"
)

// Pusher delivers an event to the live connection of a user.
// It returns chaterr.ErrNotConnected when the user has none.
type Pusher interface {
	Push(userID int, event any) error
}

// ContentPolicy rejects unsafe message text.
type ContentPolicy interface {
	ValidateContent(text string) error
}

// DeliveryReceipt describes a persisted message.
type DeliveryReceipt struct {
	MessageID int       `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	// Delivered is true when the recipient had a live connection at push time.
	Delivered bool `json:"delivered"`
}

// Router persists private messages and pushes them to both parties.
type Router struct {
	buddies  repositories.BuddyRepository
	blocks   repositories.BlockRepository
	messages repositories.MessageRepository
	policy   ContentPolicy
	pusher   Pusher
	maxChars int
	tracer   trace.Tracer
}

// NewRouter constructs a Router. maxChars <= 0 disables the length check.
func NewRouter(
	buddies repositories.BuddyRepository,
	blocks repositories.BlockRepository,
	messages repositories.MessageRepository,
	policy ContentPolicy,
	pusher Pusher,
	maxChars int,
) *Router {
	return &Router{
		buddies:  buddies,
		blocks:   blocks,
		messages: messages,
		policy:   policy,
		pusher:   pusher,
		maxChars: maxChars,
		tracer:   otel.Tracer("buddy-chat/messaging"),
	}
}

// Route validates, persists and delivers one message from senderID to recipientID.
func (r *Router) Route(ctx context.Context, senderID, recipientID int, raw string) (DeliveryReceipt, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.Int("im.sender_id", senderID),
		attribute.Int("im.recipient_id", recipientID),
	))
	defer span.End()

	receipt, err := r.route(ctx, senderID, recipientID, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(chaterr.KindOf(err)))
		observability.ObserveRoute(resultLabel(err), started)
		return DeliveryReceipt{}, err
	}
	span.SetAttributes(
		attribute.Int("im.message_id", receipt.MessageID),
		attribute.Bool("im.delivered", receipt.Delivered),
	)
	if receipt.Delivered {
		observability.ObserveRoute("delivered", started)
	} else {
		observability.ObserveRoute("stored", started)
	}
	return receipt, nil
}

func (r *Router) route(ctx context.Context, senderID, recipientID int, raw string) (DeliveryReceipt, error) {
	if recipientID <= 0 || recipientID == senderID {
		return DeliveryReceipt{}, chaterr.ErrMalformed
	}
	if strings.TrimSpace(raw) == "" {
		return DeliveryReceipt{}, chaterr.ErrMalformed
	}
	if r.maxChars > 0 && utf8.RuneCountInString(raw) > r.maxChars {
		return DeliveryReceipt{}, chaterr.ErrMessageTooLong
	}
	if err := r.policy.ValidateContent(raw); err != nil {
		return DeliveryReceipt{}, err
	}

	if err := r.CheckRelationship(ctx, senderID, recipientID); err != nil {
		return DeliveryReceipt{}, err
	}

	msg, err := r.messages.CreateMessage(ctx, senderID, recipientID, security.Sanitize(raw))
	if err != nil {
		zap.L().Error("persist message failed",
			zap.Int("from_user_id", senderID),
			zap.Int("to_user_id", recipientID),
			zap.Error(err))
		return DeliveryReceipt{}, chaterr.Wrap(chaterr.ErrPersistenceFailed, err)
	}

	if err := r.pusher.Push(senderID, models.NewPrivateMessageEvent(msg, models.DirectionOutgoing)); err != nil {
		logPushError("sender ack", senderID, err)
	}

	delivered := true
	if err := r.pusher.Push(recipientID, models.NewPrivateMessageEvent(msg, models.DirectionIncoming)); err != nil {
		delivered = false
		logPushError("recipient delivery", recipientID, err)
	}

	return DeliveryReceipt{MessageID: msg.ID, Timestamp: msg.CreatedAt, Delivered: delivered}, nil
}

// CheckRelationship succeeds when the users are buddies and recipientID has not blocked senderID.
// The block edge is consulted first: blocking deletes the buddy edge, and the
// sender should learn it was blocked rather than merely unfriended.
func (r *Router) CheckRelationship(ctx context.Context, senderID, recipientID int) error {
	blocked, err := r.blocks.IsBlocked(ctx, recipientID, senderID)
	if err != nil {
		return chaterr.Wrap(chaterr.ErrPersistenceFailed, err)
	}
	if blocked {
		return chaterr.ErrBlocked
	}

	buddies, err := r.buddies.AreBuddies(ctx, senderID, recipientID)
	if err != nil {
		return chaterr.Wrap(chaterr.ErrPersistenceFailed, err)
	}
	if !buddies {
		return chaterr.ErrNotBuddies
	}
	return nil
}

// MarkRead flags a message as read by its recipient and tells the original sender.
func (r *Router) MarkRead(ctx context.Context, readerID, messageID int) (models.Message, error) {
	msg, err := r.messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return models.Message{}, err
	}

	event := models.MessageReadEvent{
		Type:      models.TypeMessageRead,
		MessageID: msg.ID,
		ReaderID:  readerID,
		Timestamp: time.Now().UTC(),
	}
	if err := r.pusher.Push(msg.FromUserID, event); err != nil {
		logPushError("read receipt", msg.FromUserID, err)
	}
	return msg, nil
}

func logPushError(what string, userID int, err error) {
	if errors.Is(err, chaterr.ErrNotConnected) {
		return
	}
	zap.L().Debug("push failed", zap.String("what", what), zap.Int("user_id", userID), zap.Error(err))
}

func resultLabel(err error) string {
	var e *chaterr.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "error"
}
