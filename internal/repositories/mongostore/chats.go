package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"convohub/internal/models"
	"convohub/internal/repositories"
)

type ChatRepo struct {
	col *mongo.Collection
}

func NewChatRepo(col *mongo.Collection) *ChatRepo {
	return &ChatRepo{col: col}
}

// CreateOrGetDirect upserts on the direct key; the unique index settles races.
func (r *ChatRepo) CreateOrGetDirect(ctx context.Context, chat models.Chat) (models.Chat, bool, error) {
	onInsert := bson.M{
		"_id":       chat.ID,
		"isGroup":   false,
		"members":   chat.Members,
		"createdAt": chat.CreatedAt,
		"updatedAt": chat.CreatedAt,
	}
	var out models.Chat
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"directKey": chat.DirectKey},
		bson.M{"$setOnInsert": onInsert},
		after().SetUpsert(true),
	).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		err = r.col.FindOne(ctx, bson.M{"directKey": chat.DirectKey}).Decode(&out)
	}
	if err != nil {
		return models.Chat{}, false, err
	}
	return out, out.ID == chat.ID, nil
}

func (r *ChatRepo) CreateGroup(ctx context.Context, chat models.Chat) (models.Chat, error) {
	chat.UpdatedAt = chat.CreatedAt
	if _, err := r.col.InsertOne(ctx, chat); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Chat{}, repositories.ErrDuplicate
		}
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var c models.Chat
	if err := r.col.FindOne(ctx, bson.M{"_id": chatID}).Decode(&c); err != nil {
		if isNoDocuments(err) {
			return models.Chat{}, repositories.ErrChatNotFound
		}
		return models.Chat{}, err
	}
	return c, nil
}

func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	cur, err := r.col.Find(ctx, bson.M{"members": userID}, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	chats := []models.Chat{}
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *ChatRepo) AddMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	return r.conditional(ctx, chatID,
		bson.M{"_id": chatID, "members": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"members": userID}, "$set": bson.M{"updatedAt": at}},
	)
}

func (r *ChatRepo) RemoveMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	return r.conditional(ctx, chatID,
		bson.M{"_id": chatID, "members": userID, "admin": bson.M{"$ne": userID}},
		bson.M{"$pull": bson.M{"members": userID}, "$set": bson.M{"updatedAt": at}},
	)
}

// Leave pulls the member and, in the same pipeline update, promotes the first
// remaining member when the leaver held the admin role.
func (r *ChatRepo) Leave(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"members": bson.M{"$filter": bson.M{
				"input": "$members",
				"cond":  bson.M{"$ne": bson.A{"$$this", userID}},
			}},
			"updatedAt": at,
		}}},
		{{Key: "$set", Value: bson.M{
			"admin": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$admin", userID}},
				bson.M{"$ifNull": bson.A{bson.M{"$arrayElemAt": bson.A{"$members", 0}}, ""}},
				"$admin",
			}},
		}}},
	}
	return r.conditional(ctx, chatID, bson.M{"_id": chatID, "members": userID}, pipeline)
}

func (r *ChatRepo) SetAdmin(ctx context.Context, chatID, from, to string, at time.Time) (models.Chat, error) {
	return r.conditional(ctx, chatID,
		bson.M{"_id": chatID, "isGroup": true, "admin": from, "members": to},
		bson.M{"$set": bson.M{"admin": to, "updatedAt": at}},
	)
}

func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	res, err := r.col.UpdateByID(ctx, chatID, bson.M{"$set": bson.M{"lastMessage": messageID, "updatedAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repositories.ErrChatNotFound
	}
	return nil
}

func (r *ChatRepo) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": chatID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repositories.ErrChatNotFound
	}
	return nil
}

func (r *ChatRepo) conditional(ctx context.Context, chatID string, filter bson.M, update any) (models.Chat, error) {
	var c models.Chat
	err := r.col.FindOneAndUpdate(ctx, filter, update, after()).Decode(&c)
	if isNoDocuments(err) {
		return models.Chat{}, classifyMiss(ctx, r.col, chatID, repositories.ErrChatNotFound)
	}
	if err != nil {
		return models.Chat{}, err
	}
	return c, nil
}
