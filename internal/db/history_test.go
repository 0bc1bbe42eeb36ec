package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()

	database, err := NewDatabase(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewHistoryStore(database)
	require.NoError(t, err)
	return store
}

func TestHistoryRoundTrip(t *testing.T) {
	store := openTestStore(t)

	id, err := store.RecordStart("192.0.2.7:7000", "http://192.0.2.1:4242/movie.mp4")
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, store.RecordEnd(id, 120.5, 118.0, true))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "192.0.2.7:7000", r.Device)
	assert.Equal(t, "http://192.0.2.1:4242/movie.mp4", r.URL)
	assert.Equal(t, 120.5, r.Duration)
	assert.Equal(t, 118.0, r.Position)
	assert.True(t, r.Completed)
	require.NotNil(t, r.EndedAt)
}

func TestHistoryOpenSession(t *testing.T) {
	store := openTestStore(t)

	id, err := store.RecordStart("192.0.2.7:7000", "http://example/a.mp4")
	require.NoError(t, err)

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Nil(t, records[0].EndedAt, "session is still open")
	assert.False(t, records[0].Completed)
}

func TestHistoryRecentOrderAndLimit(t *testing.T) {
	store := openTestStore(t)

	for _, url := range []string{"http://a", "http://b", "http://c"} {
		_, err := store.RecordStart("dev", url)
		require.NoError(t, err)
	}

	records, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "http://c", records[0].URL)
	assert.Equal(t, "http://b", records[1].URL)
}

func TestSchemaIsIdempotent(t *testing.T) {
	database, err := NewDatabase(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer database.Close()

	_, err = NewHistoryStore(database)
	require.NoError(t, err)
	_, err = NewHistoryStore(database)
	require.NoError(t, err)
}
