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

const messageColumns = `id, chat_id, sender_id, type, text, file_url, file_name, seen_by, deleted_for,
    is_edited, edited_at, is_deleted, deleted_at, is_pinned, pinned_at, pinned_by, reply_to, created_at`

type messageRow struct {
	ID         string         `db:"id"`
	ChatID     string         `db:"chat_id"`
	SenderID   string         `db:"sender_id"`
	Type       string         `db:"type"`
	Text       string         `db:"text"`
	FileURL    string         `db:"file_url"`
	FileName   string         `db:"file_name"`
	SeenBy     pq.StringArray `db:"seen_by"`
	DeletedFor pq.StringArray `db:"deleted_for"`
	IsEdited   bool           `db:"is_edited"`
	EditedAt   *time.Time     `db:"edited_at"`
	IsDeleted  bool           `db:"is_deleted"`
	DeletedAt  *time.Time     `db:"deleted_at"`
	IsPinned   bool           `db:"is_pinned"`
	PinnedAt   *time.Time     `db:"pinned_at"`
	PinnedBy   string         `db:"pinned_by"`
	ReplyTo    string         `db:"reply_to"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:         r.ID,
		ChatID:     r.ChatID,
		SenderID:   r.SenderID,
		Type:       models.MessageType(r.Type),
		Text:       r.Text,
		FileURL:    r.FileURL,
		FileName:   r.FileName,
		SeenBy:     append([]string{}, r.SeenBy...),
		DeletedFor: append([]string{}, r.DeletedFor...),
		Reactions:  []models.Reaction{},
		IsEdited:   r.IsEdited,
		EditedAt:   r.EditedAt,
		IsDeleted:  r.IsDeleted,
		DeletedAt:  r.DeletedAt,
		IsPinned:   r.IsPinned,
		PinnedAt:   r.PinnedAt,
		PinnedBy:   r.PinnedBy,
		ReplyTo:    r.ReplyTo,
		CreatedAt:  r.CreatedAt,
	}
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	models.Reaction
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a new message.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, chat_id, sender_id, type, text, file_url, file_name, seen_by, reply_to, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ChatID, msg.SenderID, string(msg.Type), msg.Text, msg.FileURL, msg.FileName, pq.Array(msg.SeenBy), msg.ReplyTo, msg.CreatedAt)
	if isForeignKeyViolation(err) {
		return models.Message{}, ErrChatNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return r.GetMessage(ctx, msg.ID)
}

// GetMessage retrieves a single message with its reactions.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs, err := r.withReactions(ctx, []messageRow{row})
	if err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// GetMessages resolves a batch of ids.
func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []string) (map[string]models.Message, error) {
	result := make(map[string]models.Message, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, pq.Array(messageIDs)); err != nil {
		return nil, err
	}
	msgs, err := r.withReactions(ctx, rows)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ID] = m
	}
	return result, nil
}

// CountMessages counts every message of the chat.
func (r *MessageRepo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE chat_id=$1`, chatID)
	return count, err
}

// ListMessages pages the chat newest first for the viewer.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID, viewerID string, skip, limit int) ([]models.Message, int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE chat_id=$1 AND NOT ($2 = ANY(deleted_for))`, chatID, viewerID); err != nil {
		return nil, 0, err
	}
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1 AND NOT ($2 = ANY(deleted_for))
        ORDER BY created_at DESC, id DESC
        OFFSET $3 LIMIT $4`, chatID, viewerID, skip, limit)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := r.withReactions(ctx, rows)
	return msgs, total, err
}

// ListPinned returns the chat's pinned messages visible to the viewer, newest pin first.
func (r *MessageRepo) ListPinned(ctx context.Context, chatID, viewerID string) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1 AND is_pinned AND NOT ($2 = ANY(deleted_for))
        ORDER BY pinned_at DESC`, chatID, viewerID)
	if err != nil {
		return nil, err
	}
	return r.withReactions(ctx, rows)
}

// AddSeen adds the user to seen_by once.
func (r *MessageRepo) AddSeen(ctx context.Context, messageID, userID string) (models.Message, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET seen_by = array_append(seen_by, $2)
        WHERE id=$1 AND NOT ($2 = ANY(seen_by))`, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// MarkAllSeen adds the user to seen_by of every message in the chat.
func (r *MessageRepo) MarkAllSeen(ctx context.Context, chatID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen_by = array_append(seen_by, $2)
        WHERE chat_id=$1 AND NOT ($2 = ANY(seen_by))`, chatID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EditMessage replaces the text once.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID, senderID, text string, at time.Time) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET text=$3, is_edited=TRUE, edited_at=$4
        WHERE id=$1 AND sender_id=$2 AND NOT is_edited AND NOT is_deleted`, messageID, senderID, text, at)
	return r.afterConditional(ctx, messageID, res, err)
}

// DeleteForUser appends the user to deleted_for once.
func (r *MessageRepo) DeleteForUser(ctx context.Context, messageID, userID string) (models.Message, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted_for = array_append(deleted_for, $2)
        WHERE id=$1 AND NOT ($2 = ANY(deleted_for))`, messageID, userID)
	if err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteForEveryone tombstones the message and strips the attachment.
func (r *MessageRepo) DeleteForEveryone(ctx context.Context, messageID, senderID, placeholder string, at time.Time) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE, deleted_at=$4, text=$3, file_url='', file_name=''
        WHERE id=$1 AND sender_id=$2 AND NOT is_deleted`, messageID, senderID, placeholder, at)
	return r.afterConditional(ctx, messageID, res, err)
}

// UpsertReaction replaces the user's reaction on an undeleted message.
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID string, reaction models.Reaction) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji, reacted_at)
        SELECT id, $2, $3, $4 FROM messages WHERE id=$1 AND NOT is_deleted
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji=EXCLUDED.emoji, reacted_at=EXCLUDED.reacted_at`,
		messageID, reaction.UserID, reaction.Emoji, reaction.ReactedAt)
	return r.afterConditional(ctx, messageID, res, err)
}

// RemoveReaction deletes the user's reaction if present.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID string) (models.Message, error) {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// SetPinned flips the pin state from !pinned to pinned.
func (r *MessageRepo) SetPinned(ctx context.Context, messageID string, pinned bool, by string, at time.Time) (models.Message, error) {
	var (
		res sql.Result
		err error
	)
	if pinned {
		res, err = r.db.ExecContext(ctx, `UPDATE messages SET is_pinned=TRUE, pinned_at=$2, pinned_by=$3
            WHERE id=$1 AND NOT is_pinned AND NOT is_deleted`, messageID, at, by)
	} else {
		res, err = r.db.ExecContext(ctx, `UPDATE messages SET is_pinned=FALSE, pinned_at=NULL, pinned_by=''
            WHERE id=$1 AND is_pinned`, messageID)
	}
	return r.afterConditional(ctx, messageID, res, err)
}

// DeleteChatMessages removes every message of the chat.
func (r *MessageRepo) DeleteChatMessages(ctx context.Context, chatID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id=$1`, chatID)
	return err
}

// afterConditional maps a zero-row conditional write to ErrMessageNotFound or
// ErrNotApplied and otherwise returns the fresh record.
func (r *MessageRepo) afterConditional(ctx context.Context, messageID string, res sql.Result, err error) (models.Message, error) {
	if err != nil {
		return models.Message{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if n == 0 {
		return msg, ErrNotApplied
	}
	return msg, nil
}

func (r *MessageRepo) withReactions(ctx context.Context, rows []messageRow) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(rows))
	if len(rows) == 0 {
		return msgs, nil
	}
	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		msgs = append(msgs, row.toModel())
		ids = append(ids, row.ID)
		index[row.ID] = i
	}
	var reactions []reactionRow
	if err := r.db.SelectContext(ctx, &reactions, `SELECT message_id, user_id, emoji, reacted_at FROM message_reactions
        WHERE message_id = ANY($1) ORDER BY reacted_at ASC`, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, re := range reactions {
		i := index[re.MessageID]
		msgs[i].Reactions = append(msgs[i].Reactions, re.Reaction)
	}
	return msgs, nil
}
