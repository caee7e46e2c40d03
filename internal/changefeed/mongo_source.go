package changefeed

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// filterPipeline excludes the internal system.indexes namespace and
// invalidate events server-side, before the feed is ever opened (spec §6
// External interfaces, §9 design note b: snapshot loader and change-feed
// processor share this same filter — the snapshot loader has no feed to
// filter, so in practice only the change-feed side installs it, but the
// pipeline literal lives here as the single source of truth).
func filterPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "$and", Value: bson.A{
				bson.D{{Key: "ns.coll", Value: bson.D{{Key: "$ne", Value: "system.indexes"}}}},
				bson.D{{Key: "operationType", Value: bson.D{{Key: "$ne", Value: "invalidate"}}}},
			}},
		}}},
	}
}

// MongoSource is the Source implementation backed by a live collection's
// change stream.
type MongoSource struct {
	Collection *mongo.Collection
}

func (m *MongoSource) Watch(ctx context.Context, resumeToken []byte) (Feed, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeToken) > 0 {
		opts.SetResumeAfter(bson.Raw(resumeToken))
	}

	cs, err := m.Collection.Watch(ctx, filterPipeline(), opts)
	if err != nil {
		return nil, fmt.Errorf("opening change stream: %w", err)
	}
	return &mongoFeed{cs: cs}, nil
}

type rawChangeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   bson.M `bson:"documentKey"`
	FullDocument  bson.M `bson:"fullDocument"`
}

type mongoFeed struct {
	cs *mongo.ChangeStream
}

func (f *mongoFeed) Next(ctx context.Context) (*Event, error) {
	if !f.cs.Next(ctx) {
		if err := f.cs.Err(); err != nil {
			return nil, fmt.Errorf("reading change stream: %w", err)
		}
		return nil, ctx.Err()
	}

	var raw rawChangeEvent
	if err := f.cs.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding change event: %w", err)
	}

	return &Event{
		OpType:       raw.OperationType,
		DocumentKey:  raw.DocumentKey,
		FullDocument: raw.FullDocument,
		CursorToken:  []byte(f.cs.ResumeToken()),
	}, nil
}

func (f *mongoFeed) Close(ctx context.Context) error {
	return f.cs.Close(ctx)
}
