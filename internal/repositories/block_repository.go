package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"buddy-chat/internal/models"
)

// BlockRepository abstracts directed block edges.
type BlockRepository interface {
	IsBlocked(ctx context.Context, blockerID int, blockedID int) (bool, error)
	Block(ctx context.Context, blockerID int, blockedID int) error
	Unblock(ctx context.Context, blockerID int, blockedID int) error
	ListBlocked(ctx context.Context, blockerID int) ([]models.Block, error)
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// IsBlocked reports whether blockerID has blocked blockedID.
func (r *BlockRepo) IsBlocked(ctx context.Context, blockerID int, blockedID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM blocks WHERE blocker_id=? AND blocked_id=?)`), blockerID, blockedID)
	return exists, errors.Wrap(err, "check block")
}

// Block records the edge and drops any buddy edge and pending request between the pair.
func (r *BlockRepo) Block(ctx context.Context, blockerID int, blockedID int) error {
	if blockerID == blockedID {
		return errors.New("cannot block self")
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin block")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO blocks (blocker_id, blocked_id) VALUES (?, ?) ON CONFLICT DO NOTHING`), blockerID, blockedID); err != nil {
		return errors.Wrap(err, "insert block")
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM buddies
        WHERE (user_id=? AND buddy_user_id=?) OR (user_id=? AND buddy_user_id=?)`), blockerID, blockedID, blockedID, blockerID); err != nil {
		return errors.Wrap(err, "drop buddy edge")
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE buddy_requests SET status=?
        WHERE status=? AND ((from_user_id=? AND to_user_id=?) OR (from_user_id=? AND to_user_id=?))`),
		models.RequestRejected, models.RequestPending, blockerID, blockedID, blockedID, blockerID); err != nil {
		return errors.Wrap(err, "drop pending requests")
	}
	err = tx.Commit()
	return errors.Wrap(err, "commit block")
}

// Unblock removes the edge. Buddy edges are not restored.
func (r *BlockRepo) Unblock(ctx context.Context, blockerID int, blockedID int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM blocks WHERE blocker_id=? AND blocked_id=?`), blockerID, blockedID)
	return errors.Wrap(err, "unblock")
}

// ListBlocked returns everyone blockerID has blocked.
func (r *BlockRepo) ListBlocked(ctx context.Context, blockerID int) ([]models.Block, error) {
	var blocks []models.Block
	err := r.db.SelectContext(ctx, &blocks, r.db.Rebind(`SELECT blocker_id, blocked_id, created_at FROM blocks WHERE blocker_id=? ORDER BY created_at DESC`), blockerID)
	return blocks, errors.Wrap(err, "list blocks")
}
