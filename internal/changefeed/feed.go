// Package changefeed is the change-feed processor (spec §4.3): the state
// machine that opens or resumes the source's change feed, classifies and
// filters events, emits envelopes through the egress sink, and persists
// the resume cursor after every processed event.
package changefeed

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Event is a change-feed notification, narrowed to the fields the
// processor acts on (spec §3 Change event).
type Event struct {
	OpType       string
	DocumentKey  bson.M
	FullDocument bson.M
	CursorToken  []byte
}

// Feed is a single open change-feed cursor.
type Feed interface {
	// Next blocks until the next event is available, ctx is done, or the
	// feed faults. A non-nil error means the read itself failed — the
	// caller is responsible for classifying and retrying it.
	Next(ctx context.Context) (*Event, error)
	Close(ctx context.Context) error
}

// Source opens a change feed, optionally resuming after resumeToken.
type Source interface {
	Watch(ctx context.Context, resumeToken []byte) (Feed, error)
}
