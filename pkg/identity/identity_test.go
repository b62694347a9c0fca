package identity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-orra-service-key.json")
	s := NewFileStore(path)

	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(context.Background(), "s_abc123"))

	id, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s_abc123", id)

	// a hosting framework reads this file directly, so the on-disk key name
	// is part of the wire contract, not an implementation detail.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Equal(t, "s_abc123", onDisk["service_id"])
}

func TestFileStoreCorruptFileIsNoIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-orra-service-key.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := NewFileStore(path)
	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCustomStoreRequiresBothCallbacks(t *testing.T) {
	_, err := NewCustomStore(nil, func(context.Context) (string, bool, error) { return "", false, nil })
	require.Error(t, err)

	_, err = NewCustomStore(func(context.Context, string) error { return nil }, nil)
	require.Error(t, err)

	s, err := NewCustomStore(
		func(context.Context, string) error { return nil },
		func(context.Context) (string, bool, error) { return "s_1", true, nil },
	)
	require.NoError(t, err)
	id, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s_1", id)
}
