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

type InviteRepo struct {
	col *mongo.Collection
}

func NewInviteRepo(col *mongo.Collection) *InviteRepo {
	return &InviteRepo{col: col}
}

func (r *InviteRepo) CreateInvite(ctx context.Context, invite models.Invite) (models.Invite, error) {
	if _, err := r.col.InsertOne(ctx, invite); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Invite{}, repositories.ErrDuplicate
		}
		return models.Invite{}, err
	}
	return invite, nil
}

func (r *InviteRepo) FindByToken(ctx context.Context, token string) (models.Invite, error) {
	var inv models.Invite
	err := r.col.FindOne(ctx, bson.M{"token": token}).Decode(&inv)
	if isNoDocuments(err) {
		return models.Invite{}, repositories.ErrInviteNotFound
	}
	return inv, err
}

func (r *InviteRepo) FindActive(ctx context.Context, email, chatID string, now time.Time) (models.Invite, error) {
	filter := bson.M{
		"email":     email,
		"chatId":    chatIDFilter(chatID),
		"used":      false,
		"expiresAt": bson.M{"$gt": now},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetCollation(caseInsensitive)
	var inv models.Invite
	err := r.col.FindOne(ctx, filter, opts).Decode(&inv)
	if isNoDocuments(err) {
		return models.Invite{}, repositories.ErrInviteNotFound
	}
	return inv, err
}

// MarkUsed flips used only while the invite is unused and unexpired.
func (r *InviteRepo) MarkUsed(ctx context.Context, token, userID string, at time.Time) (models.Invite, error) {
	var inv models.Invite
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"token": token, "used": false, "expiresAt": bson.M{"$gt": at}},
		bson.M{"$set": bson.M{"used": true, "usedBy": userID, "usedAt": at}},
		after(),
	).Decode(&inv)
	if isNoDocuments(err) {
		if _, findErr := r.FindByToken(ctx, token); findErr != nil {
			return models.Invite{}, findErr
		}
		return models.Invite{}, repositories.ErrNotApplied
	}
	return inv, err
}

// chatIDFilter matches direct invites, which are stored without a chatId.
func chatIDFilter(chatID string) any {
	if chatID == "" {
		return nil
	}
	return chatID
}
