package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"convohub/internal/models"
)

const userColumns = `id, name, email, avatar, is_online, last_seen, created_at`

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser provisions an account.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO users (id, name, email, avatar, is_online, last_seen, created_at)
        VALUES (:id, :name, :email, :avatar, :is_online, :last_seen, :created_at)`, user)
	if isUniqueViolation(err) {
		return models.User{}, ErrDuplicate
	}
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUsers resolves a batch of ids.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// FindByEmail fetches a user by email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsersExcept returns every user other than userID ordered by name.
func (r *UserRepo) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id<>$1 ORDER BY name ASC`, userID)
	return users, err
}

// SetOnline updates presence columns. A nil lastSeen leaves the column untouched.
func (r *UserRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online=$2, last_seen=COALESCE($3, last_seen) WHERE id=$1`, userID, online, lastSeen)
	return expectOne(res, err, ErrUserNotFound)
}

// TouchLastSeen stamps last_seen.
func (r *UserRepo) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return expectOne(res, err, ErrUserNotFound)
}

func expectOne(res sql.Result, err error, none error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return none
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
