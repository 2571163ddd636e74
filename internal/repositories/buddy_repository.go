package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"buddy-chat/internal/models"
)

var (
	ErrRequestNotFound = errors.New("buddy request not found")
	ErrRequestExists   = errors.New("buddy request already pending")
	ErrAlreadyBuddies  = errors.New("users are already buddies")
	ErrBlockedPair     = errors.New("one of the users blocked the other")
)

// BuddyRepository abstracts buddy edges and buddy requests.
type BuddyRepository interface {
	AreBuddies(ctx context.Context, userID int, otherID int) (bool, error)
	ListBuddyIDs(ctx context.Context, userID int) ([]int, error)
	ListBuddies(ctx context.Context, userID int) ([]models.Buddy, error)
	RemoveBuddy(ctx context.Context, userID int, buddyID int) error
	CreateRequest(ctx context.Context, fromUserID int, toUserID int) (models.BuddyRequest, error)
	GetRequest(ctx context.Context, requestID int) (models.BuddyRequest, error)
	ListIncomingRequests(ctx context.Context, userID int) ([]models.BuddyRequest, error)
	AcceptRequest(ctx context.Context, requestID int, userID int) (models.BuddyRequest, error)
	RejectRequest(ctx context.Context, requestID int, userID int) error
}

// BuddyRepo is a sqlx implementation of BuddyRepository.
type BuddyRepo struct {
	db *sqlx.DB
}

// NewBuddyRepo constructs a BuddyRepo.
func NewBuddyRepo(db *sqlx.DB) *BuddyRepo {
	return &BuddyRepo{db: db}
}

// AreBuddies reports whether an edge exists in either direction.
func (r *BuddyRepo) AreBuddies(ctx context.Context, userID int, otherID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM buddies
        WHERE (user_id=? AND buddy_user_id=?) OR (user_id=? AND buddy_user_id=?))`), userID, otherID, otherID, userID)
	return exists, errors.Wrap(err, "check buddies")
}

// ListBuddyIDs returns the ids of everyone userID lists as a buddy.
func (r *BuddyRepo) ListBuddyIDs(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`SELECT buddy_user_id FROM buddies WHERE user_id=? ORDER BY buddy_user_id`), userID)
	return ids, errors.Wrap(err, "list buddy ids")
}

// ListBuddies returns the buddy list with the stored status of each buddy.
func (r *BuddyRepo) ListBuddies(ctx context.Context, userID int) ([]models.Buddy, error) {
	var buddies []models.Buddy
	err := r.db.SelectContext(ctx, &buddies, r.db.Rebind(`SELECT u.id, u.display_name, u.status, b.created_at
        FROM buddies b JOIN users u ON u.id = b.buddy_user_id
        WHERE b.user_id=?
        ORDER BY u.display_name ASC`), userID)
	return buddies, errors.Wrap(err, "list buddies")
}

// RemoveBuddy deletes both directions of the edge.
func (r *BuddyRepo) RemoveBuddy(ctx context.Context, userID int, buddyID int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM buddies
        WHERE (user_id=? AND buddy_user_id=?) OR (user_id=? AND buddy_user_id=?)`), userID, buddyID, buddyID, userID)
	return errors.Wrap(err, "remove buddy")
}

// CreateRequest records a pending invitation unless one is already pending between the pair.
func (r *BuddyRepo) CreateRequest(ctx context.Context, fromUserID int, toUserID int) (models.BuddyRequest, error) {
	if fromUserID == toUserID {
		return models.BuddyRequest{}, errors.New("cannot befriend self")
	}
	buddies, err := r.AreBuddies(ctx, fromUserID, toUserID)
	if err != nil {
		return models.BuddyRequest{}, err
	}
	if buddies {
		return models.BuddyRequest{}, ErrAlreadyBuddies
	}

	var pending bool
	if err := r.db.GetContext(ctx, &pending, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM buddy_requests
        WHERE status=? AND ((from_user_id=? AND to_user_id=?) OR (from_user_id=? AND to_user_id=?)))`),
		models.RequestPending, fromUserID, toUserID, toUserID, fromUserID); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "check pending request")
	}
	if pending {
		return models.BuddyRequest{}, ErrRequestExists
	}

	var id int
	if err := r.db.QueryRowxContext(ctx, r.db.Rebind(`INSERT INTO buddy_requests (from_user_id, to_user_id, status) VALUES (?, ?, ?) RETURNING id`),
		fromUserID, toUserID, models.RequestPending).Scan(&id); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "insert buddy request")
	}
	return r.GetRequest(ctx, id)
}

// GetRequest fetches a request by id.
func (r *BuddyRepo) GetRequest(ctx context.Context, requestID int) (models.BuddyRequest, error) {
	var req models.BuddyRequest
	err := r.db.GetContext(ctx, &req, r.db.Rebind(`SELECT id, from_user_id, to_user_id, status, created_at FROM buddy_requests WHERE id=?`), requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BuddyRequest{}, ErrRequestNotFound
	}
	return req, errors.Wrap(err, "get buddy request")
}

// ListIncomingRequests returns pending requests addressed to userID.
func (r *BuddyRepo) ListIncomingRequests(ctx context.Context, userID int) ([]models.BuddyRequest, error) {
	var reqs []models.BuddyRequest
	err := r.db.SelectContext(ctx, &reqs, r.db.Rebind(`SELECT id, from_user_id, to_user_id, status, created_at
        FROM buddy_requests WHERE to_user_id=? AND status=? ORDER BY id ASC`), userID, models.RequestPending)
	return reqs, errors.Wrap(err, "list buddy requests")
}

// AcceptRequest resolves a pending request addressed to userID and inserts the mirrored edge atomically.
func (r *BuddyRepo) AcceptRequest(ctx context.Context, requestID int, userID int) (models.BuddyRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "begin accept")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var req models.BuddyRequest
	err = tx.GetContext(ctx, &req, tx.Rebind(`SELECT id, from_user_id, to_user_id, status, created_at
        FROM buddy_requests WHERE id=? AND to_user_id=? AND status=?`), requestID, userID, models.RequestPending)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRequestNotFound
		return models.BuddyRequest{}, err
	}
	if err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "load buddy request")
	}

	var blocked bool
	err = tx.GetContext(ctx, &blocked, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM blocks
        WHERE (blocker_id=? AND blocked_id=?) OR (blocker_id=? AND blocked_id=?))`),
		req.FromUserID, req.ToUserID, req.ToUserID, req.FromUserID)
	if err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "check block edge")
	}
	if blocked {
		err = ErrBlockedPair
		return models.BuddyRequest{}, err
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE buddy_requests SET status=? WHERE id=?`), models.RequestAccepted, requestID); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "update buddy request")
	}
	edge := tx.Rebind(`INSERT INTO buddies (user_id, buddy_user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	if _, err = tx.ExecContext(ctx, edge, req.FromUserID, req.ToUserID); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "insert buddy edge")
	}
	if _, err = tx.ExecContext(ctx, edge, req.ToUserID, req.FromUserID); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "insert mirrored buddy edge")
	}
	if err = tx.Commit(); err != nil {
		return models.BuddyRequest{}, errors.Wrap(err, "commit accept")
	}

	req.Status = models.RequestAccepted
	return req, nil
}

// RejectRequest resolves a pending request addressed to userID without creating an edge.
func (r *BuddyRepo) RejectRequest(ctx context.Context, requestID int, userID int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE buddy_requests SET status=? WHERE id=? AND to_user_id=? AND status=?`),
		models.RequestRejected, requestID, userID, models.RequestPending)
	if err != nil {
		return errors.Wrap(err, "reject buddy request")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reject buddy request")
	}
	if count == 0 {
		return ErrRequestNotFound
	}
	return nil
}
