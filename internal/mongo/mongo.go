package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var ErrEmptyConnectionURI = errors.New("empty mongo connection URI")

const connectTimeout = 10 * time.Second

// LoadDB connects to uri and returns the named database. The caller owns the
// client and must disconnect it.
func LoadDB(ctx context.Context, uri, name string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" {
		return nil, nil, ErrEmptyConnectionURI
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo: ping: %w", err)
	}

	return client, client.Database(name), nil
}
