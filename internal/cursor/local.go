package cursor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// LocalStore persists the cursor blob to a single file on the local
// filesystem, chosen when remote (AWS) credentials are absent (spec §6).
type LocalStore struct {
	path string
}

// NewLocalStore returns a Store backed by the file at path. The default
// path, per spec §6, is "./resume-token.json".
func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

func (s *LocalStore) Load(_ context.Context) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cursor file %q: %w", s.path, err)
	}
	return b, true, nil
}

// Save writes token via write-tmp-then-rename so a concurrent reader (or
// a crash mid-write) never observes a partially written token: either the
// rename completes and the new token is fully visible, or it doesn't and
// the previous token is still there (spec §4.5 atomicity).
func (s *LocalStore) Save(_ context.Context, token []byte) error {
	if err := renameio.WriteFile(s.path, token, 0o644); err != nil {
		return fmt.Errorf("writing cursor file %q: %w", s.path, err)
	}
	return nil
}
