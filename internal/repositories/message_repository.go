package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"buddy-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for private messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, fromUserID int, toUserID int, body string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetConversation(ctx context.Context, userID int, otherID int, beforeID int, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID int, readerID int) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, from_user_id, to_user_id, body, is_read, created_at`

// CreateMessage appends a message and returns the stored row with its id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, fromUserID int, toUserID int, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(`INSERT INTO messages (from_user_id, to_user_id, body) VALUES (?, ?, ?) RETURNING `+messageColumns),
		fromUserID, toUserID, body)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id=?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, errors.Wrap(err, "get message")
}

// GetConversation returns up to limit messages exchanged by the pair, oldest first.
// A positive beforeID pages backwards from that message.
func (r *MessageRepo) GetConversation(ctx context.Context, userID int, otherID int, beforeID int, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE ((from_user_id=? AND to_user_id=?) OR (from_user_id=? AND to_user_id=?))
        AND (? = 0 OR id < ?)
        ORDER BY id DESC
        LIMIT ?`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), userID, otherID, otherID, userID, beforeID, beforeID, limit); err != nil {
		return nil, errors.Wrap(err, "get conversation")
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead flips the read flag. Only the recipient may mark a message read.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int, readerID int) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_read = TRUE WHERE id=? AND to_user_id=?`), messageID, readerID)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "mark read")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, errors.Wrap(err, "mark read")
	}
	if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}
