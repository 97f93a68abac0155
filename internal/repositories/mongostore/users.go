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

var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type UserRepo struct {
	col *mongo.Collection
}

func NewUserRepo(col *mongo.Collection) *UserRepo {
	return &UserRepo{col: col}
}

func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if _, err := r.col.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, repositories.ErrDuplicate
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		if isNoDocuments(err) {
			return models.User{}, repositories.ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.col.FindOne(ctx, bson.M{"email": email}, options.FindOne().SetCollation(caseInsensitive)).Decode(&u)
	if isNoDocuments(err) {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, err
}

func (r *UserRepo) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$ne": userID}}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepo) SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	set := bson.M{"isOnline": online}
	if lastSeen != nil {
		set["lastSeen"] = *lastSeen
	}
	res, err := r.col.UpdateByID(ctx, userID, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repositories.ErrUserNotFound
	}
	return nil
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	res, err := r.col.UpdateByID(ctx, userID, bson.M{"$set": bson.M{"lastSeen": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repositories.ErrUserNotFound
	}
	return nil
}
