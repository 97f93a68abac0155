package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"convohub/internal/models"
)

const inviteColumns = `id, email, invited_by, chat_id, token, expires_at, used, used_by, used_at, created_at`

// InviteRepo is a sqlx implementation of InviteRepository.
type InviteRepo struct {
	db *sqlx.DB
}

// NewInviteRepo constructs an InviteRepo.
func NewInviteRepo(db *sqlx.DB) *InviteRepo {
	return &InviteRepo{db: db}
}

// CreateInvite stores a fresh invite.
func (r *InviteRepo) CreateInvite(ctx context.Context, invite models.Invite) (models.Invite, error) {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO invites (id, email, invited_by, chat_id, token, expires_at, used, used_by, used_at, created_at)
        VALUES (:id, :email, :invited_by, :chat_id, :token, :expires_at, :used, :used_by, :used_at, :created_at)`, invite)
	if isUniqueViolation(err) {
		return models.Invite{}, ErrDuplicate
	}
	if err != nil {
		return models.Invite{}, fmt.Errorf("insert invite: %w", err)
	}
	return invite, nil
}

// FindByToken fetches an invite regardless of its state.
func (r *InviteRepo) FindByToken(ctx context.Context, token string) (models.Invite, error) {
	var invite models.Invite
	err := r.db.GetContext(ctx, &invite, `SELECT `+inviteColumns+` FROM invites WHERE token=$1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invite{}, ErrInviteNotFound
	}
	return invite, err
}

// FindActive returns the newest reusable invite for email and chat.
func (r *InviteRepo) FindActive(ctx context.Context, email, chatID string, now time.Time) (models.Invite, error) {
	var invite models.Invite
	err := r.db.GetContext(ctx, &invite, `SELECT `+inviteColumns+` FROM invites
        WHERE lower(email)=lower($1) AND chat_id=$2 AND NOT used AND expires_at > $3
        ORDER BY created_at DESC LIMIT 1`, email, chatID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invite{}, ErrInviteNotFound
	}
	return invite, err
}

// MarkUsed consumes the token exactly once.
func (r *InviteRepo) MarkUsed(ctx context.Context, token, userID string, at time.Time) (models.Invite, error) {
	var invite models.Invite
	err := r.db.GetContext(ctx, &invite, `UPDATE invites SET used=TRUE, used_by=$2, used_at=$3
        WHERE token=$1 AND NOT used AND expires_at > $3
        RETURNING `+inviteColumns, token, userID, at)
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.FindByToken(ctx, token); findErr != nil {
			return models.Invite{}, findErr
		}
		return models.Invite{}, ErrNotApplied
	}
	return invite, err
}
