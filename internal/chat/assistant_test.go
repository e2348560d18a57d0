package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/chat"
)

func TestReplyRouting(t *testing.T) {
	a := chat.New(0, 0)

	build := a.Reply("Please BUILD me a todo app")
	assert.True(t, build.TriggersGeneration)
	assert.Contains(t, build.Text, "```typescript")

	create := a.Reply("create a landing page")
	assert.True(t, create.TriggersGeneration)

	debug := a.Reply("I get an Error on startup")
	assert.False(t, debug.TriggersGeneration)
	assert.Contains(t, debug.Text, "debug that issue")

	other := a.Reply("add dark mode")
	assert.False(t, other.TriggersGeneration)
	assert.True(t, strings.HasPrefix(other.Text, "I understand you want to add dark mode."))
}

func TestStreamEmitsEveryPrefix(t *testing.T) {
	a := chat.New(0, 0)
	var got []string
	require.NoError(t, a.Stream(context.Background(), "héllo", func(s string) { got = append(got, s) }))
	assert.Equal(t, []string{"h", "hé", "hél", "héll", "héllo"}, got)
}

func TestStreamStopsOnCancel(t *testing.T) {
	a := chat.New(0, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := a.Stream(ctx, "abcdefgh", func(s string) {
		got = append(got, s)
		if len(got) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, got, 3)

	_, err = a.Respond(ctx, "build it", func(string) { t.Fatal("emit after cancellation") })
	assert.ErrorIs(t, err, context.Canceled)
}
