package cursor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStore_LoadAbsent(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing.json"))
	token, present, err := s.Load(context.Background())
	require.NoError(t, err)
	require.False(t, present)
	require.Nil(t, token)
}

func TestLocalStore_SaveThenLoad(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "resume-token.json"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []byte(`{"_data":"T1"}`)))
	token, present, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte(`{"_data":"T1"}`), token)

	require.NoError(t, s.Save(ctx, []byte(`{"_data":"T2"}`)))
	token, present, err = s.Load(ctx)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte(`{"_data":"T2"}`), token)
}
