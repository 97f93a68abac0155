package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// NewPostgresStore bundles the sqlx repositories over db.
func NewPostgresStore(db *sqlx.DB) Store {
	return Store{
		Users:    NewUserRepo(db),
		Chats:    NewChatRepo(db),
		Messages: NewMessageRepo(db),
		Invites:  NewInviteRepo(db),
		Close:    func(context.Context) error { return db.Close() },
	}
}
