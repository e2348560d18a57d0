package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/db"
	"appforge/internal/events"
	"appforge/internal/migrate"
)

func TestAppendAndQuery(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	ctx := context.Background()

	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	require.NoError(t, w.Append(ctx, events.ProjectCreated, "p1", "u1", events.EventPayload{"name": "Todo"}))
	require.NoError(t, w.Append(ctx, events.GenerationStarted, "p1", "u1", nil))
	require.NoError(t, w.Append(ctx, events.ProjectCreated, "p2", "u2", nil))

	latest, err := w.Latest(ctx, 10, "p1", "")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, events.GenerationStarted, latest[0].Type)
	assert.Equal(t, "2024-01-01T00:00:00Z", latest[1].TS)
	assert.JSONEq(t, `{"name":"Todo"}`, latest[1].Payload)

	created, err := w.Latest(ctx, 10, "", events.ProjectCreated)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	after, err := w.After(ctx, latest[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "p2", after[1].ProjectID)

	id, err := w.LatestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, after[1].ID, id)
}

func TestWriterWithoutDB(t *testing.T) {
	var w events.Writer
	ctx := context.Background()
	assert.NoError(t, w.Append(ctx, events.ProjectCreated, "p1", "u1", nil))
	list, err := w.Latest(ctx, 5, "", "")
	assert.NoError(t, err)
	assert.Empty(t, list)
}
