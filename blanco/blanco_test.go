package blanco

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBlanco returns a bot with a mocked discord session, whose
// commands are synchronized with an in-memory directory. Interactions
// are wrapped in stubInteractionHandler.
func newTestBlanco(t *testing.T) (*Blanco, mockDiscordSession) {
	t.Helper()
	gin.DefaultWriter = io.Discard

	bot, err := New(DefaultTestConfig(t))
	require.NoError(t, err)

	session := newMockDiscordSession()
	bot.discord.session = session
	bot.commandDirectory = session.directory
	bot.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return newStubHandler(t, i, bot.collector)
	}
	return bot, session
}

// startBot runs the bot until the test finishes
func startBot(t *testing.T, bot *Blanco) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	botErr := make(chan error, 1)
	go func() {
		botErr <- bot.Run(ctx)
	}()

	select {
	case <-bot.signalReady:
		t.Cleanup(
			func() {
				cancel()
				select {
				case err := <-botErr:
					assert.NoError(t, err)
				case <-time.After(time.Minute):
					t.Error("timed out waiting for shutdown")
				}
			},
		)
	case err := <-botErr:
		cancel()
		t.Fatalf("error starting bot: %v", err)
	}
}

func TestRun(t *testing.T) {
	bot, session := newTestBlanco(t)
	startBot(t, bot)
	ctx := context.Background()

	assert.True(t, session.opened.Load())
	assert.Equal(t, []string{"birthday"}, session.directory.names())
	_, ok := bot.registry.Get("birthday")
	assert.True(t, ok)
	require.NotNil(t, bot.LastReconcile())
	assert.Equal(t, []string{"birthday"}, bot.LastReconcile().Created)

	handle := func(i *discordgo.InteractionCreate) *stubInteractionHandler {
		h, _ := bot.getInteractionHandlerFunc(ctx, i).(*stubInteractionHandler)
		go bot.handleInteraction(ctx, h)
		return h
	}

	show := handle(newCommandInteraction("guild-1", "user-1", subcommandData("birthday", "show")))
	assert.Equal(t, "No birthday registered.", responseDescription(t, waitForRespond(t, show)))

	set := handle(
		newCommandInteraction(
			"guild-1",
			"user-1",
			subcommandData("birthday", "set", intOption("day", 14), intOption("month", 7)),
		),
	)
	prompt := waitForRespond(t, set)
	yes := promptButtons(t, prompt)[0].CustomID

	click := handle(newButtonClick("user-1", yes))
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredMessageUpdate,
		waitForRespond(t, click).Type,
	)
	assert.Equal(t, "Your birthday has been added!", editDescription(t, waitForEdit(t, set)))

	show = handle(newCommandInteraction("guild-1", "user-2", subcommandData("birthday", "show", boolOption("all", true))))
	assert.Equal(
		t,
		"Here are the registered birthdays:\n- <@user-1>: 14/7",
		responseDescription(t, waitForRespond(t, show)),
	)

	require.Eventually(
		t,
		func() bool {
			var count int64
			if err := bot.db.Model(&InteractionLog{}).Count(&count).Error; err != nil {
				return false
			}
			return count == 4
		},
		5*time.Second,
		50*time.Millisecond,
	)

	var logged InteractionLog
	require.NoError(t, bot.db.Where("command = ?", "birthday/set").Take(&logged).Error)
	assert.Equal(t, "user-1", logged.UserID)
}

func TestRunReconcilesExistingCommands(t *testing.T) {
	bot, session := newTestBlanco(t)
	session.directory.seed(&discordgo.ApplicationCommand{Name: "ping", Description: "Pong!"})
	stale := (&birthdayCommand{}).Definition().ApplicationCommand()
	stale.Description = "Old description"
	session.directory.seed(stale)

	startBot(t, bot)

	report := bot.LastReconcile()
	require.NotNil(t, report)
	assert.Equal(t, []string{"birthday"}, report.Updated)
	assert.Equal(t, []string{"ping"}, report.Deleted)
	assert.Equal(t, []string{"birthday"}, session.directory.names())
}

func TestRunStartupFailure(t *testing.T) {
	bot, session := newTestBlanco(t)
	session.directory.fetchErr = errors.New("discord unavailable")

	err := bot.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord unavailable")
	assert.False(t, session.opened.Load())
	assert.Equal(t, 0, bot.registry.Len())
}

func TestRunOpenFailure(t *testing.T) {
	bot, session := newTestBlanco(t)
	session.openErr = errors.New("gateway unavailable")
	bot.discord.session = session
	bot.config.API.Enabled = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	bot.api.listener = ln

	err = bot.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")

	require.NotNil(t, bot.db)
	sqlDB, err := bot.db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "database should be closed")

	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	assert.Error(t, err, "api listener should be closed")
}

func TestReconcileIsSerialized(t *testing.T) {
	bot, session := newTestBlanco(t)
	session.directory.fetchDelay = 50 * time.Millisecond

	reports := make(chan *ReconcileReport, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := bot.Reconcile(context.Background())
			assert.NoError(t, err)
			reports <- report
		}()
	}
	wg.Wait()
	close(reports)

	var created, unchanged []string
	for report := range reports {
		require.NotNil(t, report)
		created = append(created, report.Created...)
		unchanged = append(unchanged, report.Unchanged...)
	}
	assert.Equal(t, []string{"birthday"}, created)
	assert.Equal(t, []string{"birthday"}, unchanged)
	assert.Equal(t, []string{"fetch", "create:birthday", "fetch"}, session.directory.operations())
	assert.Equal(t, []string{"birthday"}, session.directory.names())
}

func TestRunInvalidConfig(t *testing.T) {
	bot, _ := newTestBlanco(t)
	bot.config.Discord.Token = ""
	require.Error(t, bot.Run(context.Background()))
}

func TestSync(t *testing.T) {
	bot, session := newTestBlanco(t)

	report, err := bot.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"birthday"}, report.Created)
	assert.Equal(t, []string{"birthday"}, session.directory.names())
	assert.Nil(t, bot.db, "sync doesn't open the database")

	report, err = bot.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"birthday"}, report.Unchanged)
	assert.Same(t, report, bot.LastReconcile())
}

func TestNew_InvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "oracle"
	bot, err := New(cfg)
	require.ErrorIs(t, err, ErrUnknownDatabaseType)
	assert.NotNil(t, bot)
}

func TestHandleRecover(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)
	bot := &Blanco{}

	bot.handleRecover(ctx, errors.New("boom"))
	bot.handleRecover(ctx, "bang")
	bot.handleRecover(ctx, 42)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "recovered from panic"))
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "bang")
	assert.Contains(t, out, "panic_arg=42")
	assert.Contains(t, out, "stack_trace")
}

func TestCommandDefinitionsAreCached(t *testing.T) {
	bot, _ := newTestBlanco(t)
	first := bot.commandDefinitions()
	require.Len(t, first, 1)
	assert.Same(t, first[0], bot.commandDefinitions()[0])
}
