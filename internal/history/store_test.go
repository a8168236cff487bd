package history_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respiro/gateway/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRequestRoundTrip(t *testing.T) {
	s := openStore(t)

	s.AddRequest("status", 200, 12.5, false, nil)
	s.AddRequest("status", 200, 0.1, true, nil)
	s.AddRequest("forecast", 503, 30.0, false, errors.New("upstream: status 500: boom"))

	records, err := s.RecentRequests(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "forecast", records[0].Resource)
	assert.Equal(t, 503, records[0].Status)
	assert.Equal(t, "upstream: status 500: boom", records[0].Error)
	assert.False(t, records[0].CacheHit)

	assert.Equal(t, "status", records[1].Resource)
	assert.True(t, records[1].CacheHit)
	assert.Empty(t, records[1].Error)
}

func TestActionRoundTrip(t *testing.T) {
	s := openStore(t)

	s.AddAction("forecast-cycle", true, 4200, nil)
	s.AddAction("enforcement", false, 150, errors.New("agent crashed"))

	records, err := s.RecentActions(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "enforcement", records[0].Action)
	assert.False(t, records[0].OK)
	assert.Equal(t, "agent crashed", records[0].Error)

	assert.Equal(t, "forecast-cycle", records[1].Action)
	assert.True(t, records[1].OK)
}

func TestRecentLimit(t *testing.T) {
	s := openStore(t)

	for i := 0; i < 10; i++ {
		s.AddRequest("logs", 200, 1, false, nil)
	}

	records, err := s.RecentRequests(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = s.RecentRequests(0)
	require.NoError(t, err)
	assert.Len(t, records, 10, "non-positive limit falls back to the default")
}

func TestPrune(t *testing.T) {
	s := openStore(t)

	s.AddRequest("status", 200, 1, false, nil)
	s.AddAction("forecast-cycle", true, 1, nil)

	// Nothing is older than a day yet.
	n, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// A negative age makes the cutoff land in the future, so everything
	// qualifies.
	n, err = s.Prune(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err := s.RecentRequests(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
