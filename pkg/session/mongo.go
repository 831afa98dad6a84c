package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tutorbff/pkg/generator"
)

type mongoRecord struct {
	Ref       string    `bson:"_id"`
	Session   Session   `bson:"session"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("bff_sessions"),
		now:        time.Now,
	}
}

// EnsureIndexes creates the TTL index that lets MongoDB drop expired sessions.
func (r *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	if err != nil {
		return fmt.Errorf("session: mongo index: %w", err)
	}
	return nil
}

func (r *MongoStore) Create(ctx context.Context, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	if s.ExpiresAt == 0 {
		return "", fmt.Errorf("session: expires_at is required")
	}

	for {
		ref, err := generator.GenerateToken(generator.TokenBytes)
		if err != nil {
			return "", err
		}
		_, err = r.collection.InsertOne(ctx, mongoRecord{
			Ref:       ref,
			Session:   s,
			ExpiresAt: time.UnixMilli(s.ExpiresAt),
		})
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("session: mongo insert: %w", err)
		}
		return ref, nil
	}
}

func (r *MongoStore) Get(ctx context.Context, ref string) (*Session, error) {
	var rec mongoRecord
	err := r.collection.FindOne(ctx, bson.M{
		"_id":        ref,
		"expires_at": bson.M{"$gt": r.now()},
	}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: mongo find: %w", err)
	}
	return &rec.Session, nil
}

func (r *MongoStore) Update(ctx context.Context, ref string, s Session) (string, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": ref},
		bson.M{"$set": bson.M{
			"session":    s,
			"expires_at": time.UnixMilli(s.ExpiresAt),
		}},
	)
	if err != nil {
		return "", fmt.Errorf("session: mongo update: %w", err)
	}
	if res.MatchedCount == 0 {
		return "", ErrNotFound
	}
	return ref, nil
}

func (r *MongoStore) Delete(ctx context.Context, ref string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": ref}); err != nil {
		return fmt.Errorf("session: mongo delete: %w", err)
	}
	return nil
}
