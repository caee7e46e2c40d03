// Package cursor implements the resume-cursor store (spec §4.5): an
// opaque blob, loaded once at change-feed open and overwritten after
// every processed event, with two interchangeable backings selected at
// assembly time.
package cursor

import "context"

// Store loads and saves the opaque cursor token. Implementations must
// make Save resilient to partial writes: either the new token becomes
// fully visible or the previous token remains readable.
type Store interface {
	// Load returns the persisted token and true, or nil and false if no
	// cursor has ever been saved. A non-nil error means the load itself
	// faulted (as opposed to the cursor legitimately being absent); the
	// change-feed processor treats that as "start from now" after
	// logging, per spec §4.5.
	Load(ctx context.Context) (token []byte, present bool, err error)
	// Save persists token, replacing any previously saved token.
	Save(ctx context.Context, token []byte) error
}
