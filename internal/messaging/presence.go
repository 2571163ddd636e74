package messaging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"buddy-chat/internal/models"
	"buddy-chat/internal/observability"
	"buddy-chat/internal/repositories"
)

// Notifier stores presence changes and announces them to connected buddies.
type Notifier struct {
	users   repositories.UserRepository
	buddies repositories.BuddyRepository
	pusher  Pusher
	now     func() time.Time
}

func NewNotifier(users repositories.UserRepository, buddies repositories.BuddyRepository, pusher Pusher) *Notifier {
	return &Notifier{users: users, buddies: buddies, pusher: pusher, now: time.Now}
}

// BroadcastStatus persists status for userID, then pushes a buddy_status_change to
// every buddy with a live connection. It returns how many buddies were reached.
// Delivery is best-effort per buddy; only storage and buddy lookup errors are returned.
func (n *Notifier) BroadcastStatus(ctx context.Context, userID int, status models.Status) (int, error) {
	if err := n.users.UpdateStatus(ctx, userID, status); err != nil {
		return 0, err
	}

	buddyIDs, err := n.buddies.ListBuddyIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	event := models.BuddyStatusEvent{
		Type:      models.TypeBuddyStatusChange,
		UserID:    userID,
		Status:    status,
		Timestamp: n.now().UTC(),
	}
	delivered := 0
	for _, buddyID := range buddyIDs {
		if err := n.pusher.Push(buddyID, event); err != nil {
			logPushError("presence", buddyID, err)
			continue
		}
		delivered++
	}

	observability.IncPresenceBroadcast(string(status), delivered)
	zap.L().Debug("presence broadcast",
		zap.Int("user_id", userID),
		zap.String("status", string(status)),
		zap.Int("buddies", len(buddyIDs)),
		zap.Int("delivered", delivered))
	return delivered, nil
}
