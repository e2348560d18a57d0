package appforgesdk_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/chat"
	"appforge/internal/engine"
	"appforge/internal/events"
	"appforge/internal/repo"
	"appforge/internal/server"
	"appforge/internal/storage"
	appforgesdk "appforge/sdk/go"
)

func TestClientAgainstServer(t *testing.T) {
	r := repo.New(storage.NewMemory(0), "projects", nil)
	e := engine.New(r, events.Writer{}, engine.Options{StepDelay: time.Millisecond})
	defer e.Close()
	handler, err := server.New(server.Config{Engine: e, Chat: chat.New(0, 0), Auth: server.AuthConfig{AllowUserHeader: true}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ctx := context.Background()
	c := appforgesdk.New(ts.URL)
	c.UserID = "sdk-user"

	p, err := c.CreateProject(ctx, appforgesdk.CreateProjectInput{Name: "SDK App", TechStack: "vue-typescript", Generate: true})
	require.NoError(t, err)
	assert.Equal(t, "sdk-user", p.UserID)

	prog, err := c.WaitGenerated(ctx, p.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "completed", prog.Status)

	tree, err := c.Tree(ctx, p.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, tree)

	list, err := c.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = c.Retry(ctx, p.ID)
	var apiErr *appforgesdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_retryable", apiErr.Code)

	require.NoError(t, c.DeleteProject(ctx, p.ID))
	_, err = c.GetProject(ctx, p.ID)
	assert.True(t, appforgesdk.IsNotFound(err))
}
