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

const chatColumns = `c.id, c.is_group, c.name, c.admin_id, c.last_message_id, c.created_at, c.updated_at`

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateOrGetDirect inserts the direct chat unless one already exists for its key.
func (r *ChatRepo) CreateOrGetDirect(ctx context.Context, chat models.Chat) (models.Chat, bool, error) {
	created := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO chats (id, is_group, name, admin_id, direct_key, created_at, updated_at)
            VALUES ($1, FALSE, '', '', $2, $3, $3) ON CONFLICT (direct_key) DO NOTHING`, chat.ID, chat.DirectKey, chat.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert direct chat: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true
		return insertMembers(ctx, tx, chat.ID, chat.Members, chat.CreatedAt)
	})
	if err != nil {
		return models.Chat{}, false, err
	}

	var chatID string
	if err := r.db.GetContext(ctx, &chatID, `SELECT id FROM chats WHERE direct_key=$1`, chat.DirectKey); err != nil {
		return models.Chat{}, false, fmt.Errorf("load direct chat: %w", err)
	}
	result, err := r.GetChat(ctx, chatID)
	return result, created, err
}

// CreateGroup creates a group and its members atomically.
func (r *ChatRepo) CreateGroup(ctx context.Context, chat models.Chat) (models.Chat, error) {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, is_group, name, admin_id, created_at, updated_at)
            VALUES ($1, TRUE, $2, $3, $4, $4)`, chat.ID, chat.Name, chat.AdminID, chat.CreatedAt); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return insertMembers(ctx, tx, chat.ID, chat.Members, chat.CreatedAt)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chat.ID)
}

// GetChat fetches a chat by id with its members.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	members, err := loadMembers(ctx, r.db, []string{chatID})
	if err != nil {
		return models.Chat{}, err
	}
	chat.Members = members[chatID]
	return chat, nil
}

// ListChatsForUser returns the chats the user belongs to.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT `+chatColumns+` FROM chats c
        INNER JOIN chat_members m ON m.chat_id = c.id
        WHERE m.user_id=$1
        ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	members, err := loadMembers(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		chats[i].Members = members[chats[i].ID]
	}
	return chats, nil
}

// AddMember inserts the membership row; ErrNotApplied if it already exists.
func (r *ChatRepo) AddMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, $3)
            ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, userID, at)
		if isForeignKeyViolation(err) {
			return ErrChatNotFound
		}
		if err := expectOne(res, err, ErrNotApplied); err != nil {
			return err
		}
		return touchChat(ctx, tx, chatID, at)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// RemoveMember deletes a membership unless the user is the admin.
func (r *ChatRepo) RemoveMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM chat_members m USING chats c
            WHERE m.chat_id = c.id AND m.chat_id=$1 AND m.user_id=$2 AND c.admin_id<>$2`, chatID, userID)
		if err := expectOne(res, err, ErrNotApplied); err != nil {
			return err
		}
		return touchChat(ctx, tx, chatID, at)
	})
	if err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// Leave removes the user under a row lock and reassigns the admin if needed.
func (r *ChatRepo) Leave(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var adminID string
		err := tx.GetContext(ctx, &adminID, `SELECT admin_id FROM chats WHERE id=$1 FOR UPDATE`, chatID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatNotFound
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
		if err := expectOne(res, err, ErrNotApplied); err != nil {
			return err
		}
		if adminID == userID {
			var next string
			err := tx.GetContext(ctx, &next, `SELECT user_id FROM chat_members WHERE chat_id=$1 ORDER BY position ASC LIMIT 1`, chatID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			adminID = next
		}
		_, err = tx.ExecContext(ctx, `UPDATE chats SET admin_id=$2, updated_at=$3 WHERE id=$1`, chatID, adminID, at)
		return err
	})
	if err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// SetAdmin is a compare-and-set on admin_id; the target must be a member.
func (r *ChatRepo) SetAdmin(ctx context.Context, chatID, from, to string, at time.Time) (models.Chat, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET admin_id=$3, updated_at=$4
        WHERE id=$1 AND is_group AND admin_id=$2
        AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$3)`, chatID, from, to, at)
	if err := expectOne(res, err, ErrNotApplied); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// SetLastMessage points the chat at its newest message.
func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET last_message_id=$2, updated_at=$3 WHERE id=$1`, chatID, messageID, at)
	return expectOne(res, err, ErrChatNotFound)
}

// DeleteChat removes the chat; members, messages and reactions cascade.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	return expectOne(res, err, ErrChatNotFound)
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, chatID string, members []string, at time.Time) error {
	for _, id := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES ($1, $2, $3)
            ON CONFLICT (chat_id, user_id) DO NOTHING`, chatID, id, at); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

func touchChat(ctx context.Context, tx *sqlx.Tx, chatID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, chatID, at)
	return err
}

func loadMembers(ctx context.Context, q sqlx.QueryerContext, chatIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}
	rows, err := q.QueryxContext(ctx, `SELECT chat_id, user_id FROM chat_members WHERE chat_id = ANY($1) ORDER BY position ASC`, pq.Array(chatIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var chatID, userID string
		if err := rows.Scan(&chatID, &userID); err != nil {
			return nil, err
		}
		result[chatID] = append(result[chatID], userID)
	}
	return result, rows.Err()
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
