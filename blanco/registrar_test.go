package blanco

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func simpleDefinition(name string, description string) *CommandDefinition {
	return &CommandDefinition{
		Name:        name,
		Description: description,
		Handler: func(ctx context.Context, handler InteractionHandler) error {
			return replySuccess(ctx, handler, name)
		},
	}
}

func newTestRegistrar(directory CommandDirectory, concurrency int) (*Registrar, *CommandRegistry) {
	registry := NewCommandRegistry()
	return NewRegistrar(directory, registry, nil, concurrency), registry
}

// TestReconcileNoLeaks isn't parallel, so parallel tests aren't running
// while it checks for leaked goroutines
func TestReconcileNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	directory := newFakeCommandDirectory()
	directory.seed(&discordgo.ApplicationCommand{Name: "stale", Description: "stale"})
	registrar, _ := newTestRegistrar(directory, 2)

	defs := []*CommandDefinition{
		simpleDefinition("a", "a"),
		simpleDefinition("b", "b"),
		simpleDefinition("c", "c"),
	}
	report, err := registrar.Reconcile(context.Background(), defs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, report.Created)
	assert.Equal(t, []string{"stale"}, report.Deleted)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	t.Run(
		"creates into an empty directory", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			registrar, registry := newTestRegistrar(directory, 0)

			report, err := registrar.Reconcile(
				context.Background(),
				[]*CommandDefinition{simpleDefinition("a", "a"), simpleDefinition("b", "b")},
			)
			require.NoError(t, err)
			require.NoError(t, report.Err())
			assert.Equal(t, []string{"a", "b"}, report.Created)
			assert.Empty(t, report.Updated)
			assert.Empty(t, report.Deleted)
			assert.Equal(t, []string{"a", "b"}, directory.names())
			assert.Equal(t, 2, registry.Len())
		},
	)

	t.Run(
		"second pass makes no calls", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			registrar, registry := newTestRegistrar(directory, 0)
			defs := []*CommandDefinition{
				simpleDefinition("a", "a"),
				simpleDefinition("b", "b"),
				(&birthdayCommand{}).Definition(),
			}

			_, err := registrar.Reconcile(context.Background(), defs)
			require.NoError(t, err)
			directory.resetOperations()

			report, err := registrar.Reconcile(context.Background(), defs)
			require.NoError(t, err)
			assert.Equal(t, []string{"fetch"}, directory.operations())
			assert.Equal(t, []string{"a", "b", "birthday"}, report.Unchanged)
			assert.Empty(t, report.Created)
			assert.Empty(t, report.Updated)
			assert.Empty(t, report.Deleted)
			assert.Equal(t, 3, registry.Len())
		},
	)

	t.Run(
		"creates, edits and deletes", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			directory.seed(&discordgo.ApplicationCommand{Name: "a", Description: "a"})
			directory.seed(&discordgo.ApplicationCommand{Name: "b", Description: "old"})
			directory.seed(&discordgo.ApplicationCommand{Name: "z", Description: "z"})
			registrar, registry := newTestRegistrar(directory, 0)

			report, err := registrar.Reconcile(
				context.Background(),
				[]*CommandDefinition{
					simpleDefinition("b", "new"),
					simpleDefinition("c", "c"),
				},
			)
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, report.Created)
			assert.Equal(t, []string{"b"}, report.Updated)
			assert.Equal(t, []string{"a", "z"}, report.Deleted)
			assert.Equal(t, []string{"b", "c"}, directory.names())

			_, ok := registry.Get("a")
			assert.False(t, ok)
			_, ok = registry.Get("b")
			assert.True(t, ok)

			// every create/edit finishes before the first delete
			ops := directory.operations()
			lastWrite, firstDelete := -1, len(ops)
			for i, op := range ops {
				switch {
				case strings.HasPrefix(op, "create:"), strings.HasPrefix(op, "edit:"):
					lastWrite = i
				case strings.HasPrefix(op, "delete:") && i < firstDelete:
					firstDelete = i
				}
			}
			assert.Less(t, lastWrite, firstDelete, "operations: %v", ops)
		},
	)

	t.Run(
		"fetch failure", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			directory.fetchErr = errors.New("unavailable")
			registrar, registry := newTestRegistrar(directory, 0)

			report, err := registrar.Reconcile(
				context.Background(),
				[]*CommandDefinition{simpleDefinition("a", "a")},
			)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.Equal(t, []string{"fetch"}, directory.operations())
			assert.Equal(t, 0, registry.Len())
		},
	)

	t.Run(
		"individual failures don't stop the pass", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			directory.seed(&discordgo.ApplicationCommand{Name: "b", Description: "old"})
			directory.seed(&discordgo.ApplicationCommand{Name: "y", Description: "y"})
			directory.seed(&discordgo.ApplicationCommand{Name: "z", Description: "z"})
			directory.createErr["a"] = errors.New("rate limited")
			directory.deleteErr["y"] = errors.New("not allowed")
			registrar, registry := newTestRegistrar(directory, 0)

			report, err := registrar.Reconcile(
				context.Background(),
				[]*CommandDefinition{
					simpleDefinition("a", "a"),
					simpleDefinition("b", "new"),
					simpleDefinition("c", "c"),
				},
			)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "y"}, report.Failed)
			assert.Equal(t, []string{"c"}, report.Created)
			assert.Equal(t, []string{"b"}, report.Updated)
			assert.Equal(t, []string{"z"}, report.Deleted)
			require.Error(t, report.Err())
			assert.Contains(t, report.Err().Error(), "rate limited")
			assert.Contains(t, report.Err().Error(), "not allowed")

			// registered even though its creation failed
			_, ok := registry.Get("a")
			assert.True(t, ok)
			assert.Equal(t, []string{"b", "c", "y"}, directory.names())
		},
	)

	t.Run(
		"duplicate names", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			registrar, registry := newTestRegistrar(directory, 0)
			first := simpleDefinition("a", "first")

			report, err := registrar.Reconcile(
				context.Background(),
				[]*CommandDefinition{first, simpleDefinition("a", "second")},
			)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, report.Created)

			got, ok := registry.Get("a")
			require.True(t, ok)
			assert.Same(t, first, got)

			cmds, err := directory.Fetch(context.Background())
			require.NoError(t, err)
			require.Len(t, cmds, 1)
			assert.Equal(t, "first", cmds[0].Description)
		},
	)

	t.Run(
		"concurrency limit", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			registrar, _ := newTestRegistrar(directory, 1)

			var defs []*CommandDefinition
			for i := 0; i < 10; i++ {
				name := fmt.Sprintf("cmd%d", i)
				defs = append(defs, simpleDefinition(name, name))
			}
			report, err := registrar.Reconcile(context.Background(), defs)
			require.NoError(t, err)
			assert.Len(t, report.Created, 10)
			assert.Equal(t, int64(1), directory.maxInFlight.Load())
		},
	)

	t.Run(
		"canceled context", func(t *testing.T) {
			t.Parallel()
			directory := newFakeCommandDirectory()
			registrar, _ := newTestRegistrar(directory, 0)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			report, err := registrar.Reconcile(ctx, []*CommandDefinition{simpleDefinition("a", "a")})
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, report.Created)
		},
	)
}
