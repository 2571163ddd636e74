package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"buddy-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts account persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, displayName, email, passwordHash string, verified bool) (models.User, error)
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	UpdateStatus(ctx context.Context, userID int, status models.Status) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, display_name, email, password_hash, status, verified, created_at`

// CreateUser inserts an account and returns the stored row.
func (r *UserRepo) CreateUser(ctx context.Context, displayName, email, passwordHash string, verified bool) (models.User, error) {
	var id int
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`INSERT INTO users (display_name, email, password_hash, verified) VALUES (?, ?, ?, ?) RETURNING id`),
		displayName, email, passwordHash, verified).Scan(&id)
	if err != nil {
		return models.User{}, errors.Wrap(err, "insert user")
	}
	return r.GetUser(ctx, id)
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, errors.Wrap(err, "get user")
}

// GetUserByEmail fetches a user by login email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE email=?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, errors.Wrap(err, "get user by email")
}

// UpdateStatus writes the presence column.
func (r *UserRepo) UpdateStatus(ctx context.Context, userID int, status models.Status) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET status=? WHERE id=?`), string(status), userID)
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}
