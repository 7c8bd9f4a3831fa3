package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/lightseeker/internal/seeker"
	"github.com/roman-kulish/lightseeker/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionRecorder(t *testing.T) {
	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), storageFile))
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := store.CreateSession(ctx, "/dev/null", map[string]string{"test": "true"})
	require.NoError(t, err)

	r := newSessionRecorder(store, session.ID, discardLogger())
	r.RecordSite(ctx, seeker.Site{Attempt: 1, Score: seeker.Score{Samples: 0}})
	r.RecordSite(ctx, seeker.Site{
		Attempt:  2,
		Offset:   0.4,
		Score:    seeker.Score{Samples: 40, Mean: 0.3, Flatness: 0.01},
		Scored:   true,
		Accepted: true,
	})

	cancel()
	r.RecordEvent(ctx, storage.EventLanding, "accepted site")

	sites, err := store.SiteEvaluations(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, sites, 2)

	assert.Equal(t, 1, sites[0].Attempt)
	assert.Nil(t, sites[0].Flatness)
	assert.False(t, sites[0].Accepted)

	assert.Equal(t, 2, sites[1].Attempt)
	assert.Equal(t, 40, sites[1].Samples)
	require.NotNil(t, sites[1].Flatness)
	assert.InDelta(t, 0.01, *sites[1].Flatness, 1e-12)
	assert.True(t, sites[1].Accepted)

	events, err := store.Events(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventLanding, events[0].Kind)
	assert.Equal(t, "accepted site", events[0].Detail)
}
