package blanco

import (
	"context"
	"encoding/hex"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "jo", truncate("joyeux anniversaire", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
	assert.Empty(t, truncate("", 2))
}

func TestChunkItems(t *testing.T) {
	t.Parallel()
	assert.Nil(t, chunkItems[int](5))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkItems(2, 1, 2, 3, 4, 5))
	assert.Equal(t, [][]string{{"a", "b"}}, chunkItems(5, "a", "b"))
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1/12", formatDate(1, 12))
	assert.Equal(t, "<@123>", mentionUser("123"))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	for _, n := range []int{16, 32, 7} {
		s, err := generateRandomHexString(n)
		require.NoError(t, err)
		assert.Len(t, s, n+n%2)
		_, err = hex.DecodeString(s)
		require.NoError(t, err)
	}

	a, err := generateRandomHexString(32)
	require.NoError(t, err)
	b, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Secret  string `json:"secret" log:"[redacted]"`
		Skipped string `json:"-"`
		Empty   string `json:"empty"`
		Nested  *inner `json:"nested"`
		Nil     *inner `json:"nil"`
		private string
	}
	v := structToSlogValue(
		sample{Secret: "hunter2", Skipped: "x", Nested: &inner{Name: "blanco"}, private: "p"},
	)
	out := v.String()
	assert.Contains(t, out, "secret=[redacted]")
	assert.Contains(t, out, "name=blanco")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "Skipped")
	assert.NotContains(t, out, "empty")
	assert.NotContains(t, out, "nil")

	assert.Equal(t, slog.KindAny, structToSlogValue(nil).Kind())
	assert.Equal(t, slog.KindAny, structToSlogValue((*inner)(nil)).Kind())
	assert.Equal(t, "7", structToSlogValue(7).String())
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test_name", t.Name())
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	require.True(t, ok)
	assert.Same(t, logger, got)

	got, ok = ContextLogger(WithLogger(context.Background(), nil))
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestInteractionLogAttrs(t *testing.T) {
	t.Parallel()
	i := newCommandInteraction("guild-1", "user-1", subcommandData("birthday", "show"))
	attrs := interactionLogAttrs(i)
	assert.Contains(t, attrs, "command")
	assert.Contains(t, attrs, "birthday")
	assert.Contains(t, attrs, "guild-1")
	assert.Contains(t, attrs, "channel-1")

	click := newButtonClick("user-1", "x:yes")
	assert.NotContains(t, interactionLogAttrs(click), "command")
}

func TestDiscordInteractionOptions(t *testing.T) {
	t.Parallel()
	opts := discordInteractionOptions(
		[]*discordgo.ApplicationCommandInteractionDataOption{
			intOption("day", 1),
			intOption("month", 2),
		},
	)
	require.Len(t, opts, 2)
	assert.Equal(t, int64(2), opts["month"].IntValue())

	i := newCommandInteraction("guild-1", "user-1", subcommandData("birthday", "set", intOption("day", 3)))
	assert.Equal(t, int64(3), subcommandOptions(i)["day"].IntValue())

	noSub := newCommandInteraction("guild-1", "user-1", discordgo.ApplicationCommandInteractionData{Name: "x"})
	assert.Empty(t, subcommandOptions(noSub))
}

func TestNewInteractionLog(t *testing.T) {
	t.Parallel()
	i := newCommandInteraction("guild-1", "user-1", subcommandData("birthday", "set", intOption("day", 3)))
	interactionLog, err := newInteractionLog(i, getDiscordUser(i))
	require.NoError(t, err)
	assert.Equal(t, i.ID, interactionLog.InteractionID)
	assert.Equal(t, "birthday/set", interactionLog.Command)
	assert.Equal(t, "user-1", interactionLog.UserID)
	assert.Equal(t, "guild-1", interactionLog.GuildID)
	assert.Contains(t, interactionLog.Payload, `"day"`)

	click := newButtonClick("user-1", "interaction-1:yes")
	interactionLog, err = newInteractionLog(click, nil)
	require.NoError(t, err)
	assert.Equal(t, "interaction-1:yes", interactionLog.Command)
	assert.Empty(t, interactionLog.UserID)
}
