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

type MessageRepo struct {
	col *mongo.Collection
}

func NewMessageRepo(col *mongo.Collection) *MessageRepo {
	return &MessageRepo{col: col}
}

func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	// Array fields must exist for $addToSet and $pull to apply later.
	if msg.SeenBy == nil {
		msg.SeenBy = []string{}
	}
	if msg.DeletedFor == nil {
		msg.DeletedFor = []string{}
	}
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	if _, err := r.col.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Message{}, repositories.ErrDuplicate
		}
		return models.Message{}, err
	}
	return msg, nil
}

func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var m models.Message
	if err := r.col.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return models.Message{}, repositories.ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return m, nil
}

func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	msgs, err := r.find(ctx, bson.M{"_id": bson.M{"$in": messageIDs}}, options.Find())
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (r *MessageRepo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"chatId": chatID})
}

func (r *MessageRepo) ListMessages(ctx context.Context, chatID, viewerID string, skip, limit int) ([]models.Message, int64, error) {
	filter := bson.M{"chatId": chatID, "deletedFor": bson.M{"$ne": viewerID}}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	msgs, err := r.find(ctx, filter, opts)
	return msgs, total, err
}

func (r *MessageRepo) ListPinned(ctx context.Context, chatID, viewerID string) ([]models.Message, error) {
	filter := bson.M{"chatId": chatID, "isPinned": true, "deletedFor": bson.M{"$ne": viewerID}}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "pinnedAt", Value: -1}}))
}

func (r *MessageRepo) AddSeen(ctx context.Context, messageID, userID string) (models.Message, error) {
	return r.update(ctx, messageID, bson.M{"_id": messageID}, bson.M{"$addToSet": bson.M{"seenBy": userID}})
}

func (r *MessageRepo) MarkAllSeen(ctx context.Context, chatID, userID string) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"chatId": chatID, "seenBy": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"seenBy": userID}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepo) EditMessage(ctx context.Context, messageID, senderID, text string, at time.Time) (models.Message, error) {
	return r.update(ctx, messageID,
		bson.M{"_id": messageID, "senderId": senderID, "isEdited": false, "isDeleted": false},
		bson.M{"$set": bson.M{"text": text, "isEdited": true, "editedAt": at}},
	)
}

func (r *MessageRepo) DeleteForUser(ctx context.Context, messageID, userID string) (models.Message, error) {
	return r.update(ctx, messageID, bson.M{"_id": messageID}, bson.M{"$addToSet": bson.M{"deletedFor": userID}})
}

func (r *MessageRepo) DeleteForEveryone(ctx context.Context, messageID, senderID, placeholder string, at time.Time) (models.Message, error) {
	return r.update(ctx, messageID,
		bson.M{"_id": messageID, "senderId": senderID, "isDeleted": false},
		bson.M{
			"$set":   bson.M{"isDeleted": true, "deletedAt": at, "text": placeholder},
			"$unset": bson.M{"fileUrl": "", "fileName": ""},
		},
	)
}

// UpsertReaction drops the user's previous entry and appends the new one in a
// single pipeline update.
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID string, reaction models.Reaction) (models.Message, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"reactions": bson.M{"$concatArrays": bson.A{
				bson.M{"$filter": bson.M{
					"input": bson.M{"$ifNull": bson.A{"$reactions", bson.A{}}},
					"cond":  bson.M{"$ne": bson.A{"$$this.userId", reaction.UserID}},
				}},
				bson.A{bson.M{
					"userId":    bson.M{"$literal": reaction.UserID},
					"emoji":     bson.M{"$literal": reaction.Emoji},
					"reactedAt": reaction.ReactedAt,
				}},
			}},
		}}},
	}
	return r.update(ctx, messageID, bson.M{"_id": messageID, "isDeleted": false}, pipeline)
}

func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID string) (models.Message, error) {
	return r.update(ctx, messageID, bson.M{"_id": messageID}, bson.M{"$pull": bson.M{"reactions": bson.M{"userId": userID}}})
}

func (r *MessageRepo) SetPinned(ctx context.Context, messageID string, pinned bool, by string, at time.Time) (models.Message, error) {
	if pinned {
		return r.update(ctx, messageID,
			bson.M{"_id": messageID, "isPinned": false, "isDeleted": false},
			bson.M{"$set": bson.M{"isPinned": true, "pinnedAt": at, "pinnedBy": by}},
		)
	}
	return r.update(ctx, messageID,
		bson.M{"_id": messageID, "isPinned": true},
		bson.M{"$set": bson.M{"isPinned": false}, "$unset": bson.M{"pinnedAt": "", "pinnedBy": ""}},
	)
}

func (r *MessageRepo) DeleteChatMessages(ctx context.Context, chatID string) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"chatId": chatID})
	return err
}

// update applies a conditional FindOneAndUpdate. On a miss the current record
// is returned alongside ErrNotApplied.
func (r *MessageRepo) update(ctx context.Context, messageID string, filter bson.M, update any) (models.Message, error) {
	var m models.Message
	err := r.col.FindOneAndUpdate(ctx, filter, update, after()).Decode(&m)
	if isNoDocuments(err) {
		current, getErr := r.GetMessage(ctx, messageID)
		if getErr != nil {
			return models.Message{}, getErr
		}
		return current, repositories.ErrNotApplied
	}
	if err != nil {
		return models.Message{}, err
	}
	return m, nil
}

func (r *MessageRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
