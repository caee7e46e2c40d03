package snapshot

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSource is the Source implementation backed by a live collection.
type MongoSource struct {
	Collection *mongo.Collection
}

func (m *MongoSource) Find(ctx context.Context, batchSize int32) (DocumentCursor, error) {
	opts := options.Find().SetBatchSize(batchSize)
	cur, err := m.Collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	return cur, nil
}
