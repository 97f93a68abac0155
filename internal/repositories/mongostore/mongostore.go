// Package mongostore implements the repositories on MongoDB. Every state
// transition is a single conditional update so concurrent writers cannot both win.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"convohub/internal/repositories"
)

const (
	usersCollection    = "users"
	chatsCollection    = "chats"
	messagesCollection = "messages"
	invitesCollection  = "invites"
)

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New builds the repository bundle over db. Close disconnects client.
func New(client *mongo.Client, db *mongo.Database) repositories.Store {
	return repositories.Store{
		Users:    NewUserRepo(db.Collection(usersCollection)),
		Chats:    NewChatRepo(db.Collection(chatsCollection)),
		Messages: NewMessageRepo(db.Collection(messagesCollection)),
		Invites:  NewInviteRepo(db.Collection(invitesCollection)),
		Close:    client.Disconnect,
	}
}

// EnsureIndexes creates uniqueness, lookup and retention indexes. A
// retentionDays of zero disables the TTL indexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database, retentionDays int) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		},
		chatsCollection: {
			{Keys: bson.D{{Key: "members", Value: 1}, {Key: "updatedAt", Value: -1}}, Options: options.Index().SetName("members_updated")},
			{
				Keys: bson.D{{Key: "directKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("direct_key_unique").
					SetPartialFilterExpression(bson.M{"directKey": bson.M{"$type": "string"}}),
			},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("chat_created")},
		},
		invitesCollection: {
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true).SetName("token_unique")},
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "chatId", Value: 1}}, Options: options.Index().SetName("email_chat")},
		},
	}
	if retentionDays > 0 {
		ttl := int32(retentionDays * 24 * 60 * 60)
		for _, name := range []string{chatsCollection, messagesCollection} {
			indexes[name] = append(indexes[name], mongo.IndexModel{
				Keys:    bson.D{{Key: "createdAt", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(ttl).SetName("created_ttl"),
			})
		}
	}
	for name, specs := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func after() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// classifyMiss turns a conditional-update miss into not-found or not-applied
// by checking whether the document exists at all.
func classifyMiss(ctx context.Context, coll *mongo.Collection, id string, notFound error) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return repositories.ErrNotApplied
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
