package blanco

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// CommandDirectory is the remote set of application commands, for one
// application (and optionally one guild)
type CommandDirectory interface {
	Fetch(ctx context.Context) ([]*discordgo.ApplicationCommand, error)
	Create(ctx context.Context, cmd *discordgo.ApplicationCommand) (*discordgo.ApplicationCommand, error)
	Edit(
		ctx context.Context,
		commandID string,
		cmd *discordgo.ApplicationCommand,
	) (*discordgo.ApplicationCommand, error)
	Delete(ctx context.Context, commandID string) error
}

// discordCommandDirectory is a CommandDirectory backed by discord's REST API
type discordCommandDirectory struct {
	session DiscordSessionHandler
	appID   string
	guildID string
}

func newDiscordCommandDirectory(
	session DiscordSessionHandler,
	config *DiscordConfig,
) *discordCommandDirectory {
	return &discordCommandDirectory{
		session: session,
		appID:   config.ApplicationID,
		guildID: config.GuildID,
	}
}

func (d *discordCommandDirectory) Fetch(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommands(d.appID, d.guildID, discordgo.WithContext(ctx))
}

func (d *discordCommandDirectory) Create(
	ctx context.Context,
	cmd *discordgo.ApplicationCommand,
) (*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandCreate(d.appID, d.guildID, cmd, discordgo.WithContext(ctx))
}

func (d *discordCommandDirectory) Edit(
	ctx context.Context,
	commandID string,
	cmd *discordgo.ApplicationCommand,
) (*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandEdit(
		d.appID,
		d.guildID,
		commandID,
		cmd,
		discordgo.WithContext(ctx),
	)
}

func (d *discordCommandDirectory) Delete(ctx context.Context, commandID string) error {
	return d.session.ApplicationCommandDelete(d.appID, d.guildID, commandID, discordgo.WithContext(ctx))
}

// ReconcileReport lists the command names affected by a reconciliation
// pass, by outcome
type ReconcileReport struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Deleted   []string `json:"deleted"`
	Failed    []string `json:"failed"`

	mu     sync.Mutex
	errors []error
}

func (r *ReconcileReport) record(outcome *[]string, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.Failed = append(r.Failed, name)
		r.errors = append(r.errors, fmt.Errorf("%s: %w", name, err))
		return
	}
	*outcome = append(*outcome, name)
}

// Err joins every per-command error of the pass
func (r *ReconcileReport) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errors...)
}

func (r *ReconcileReport) sort() {
	for _, s := range [][]string{r.Created, r.Updated, r.Unchanged, r.Deleted, r.Failed} {
		sort.Strings(s)
	}
}

func (r *ReconcileReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("created", r.Created),
		slog.Any("updated", r.Updated),
		slog.Int("unchanged", len(r.Unchanged)),
		slog.Any("deleted", r.Deleted),
		slog.Any("failed", r.Failed),
	)
}

// Registrar brings the remote command set in line with the local
// definitions, and fills the registry used to route interactions.
type Registrar struct {
	directory CommandDirectory
	registry  *CommandRegistry
	logger    *slog.Logger

	// maximum concurrent remote calls, 0=unlimited
	concurrency int
}

func NewRegistrar(
	directory CommandDirectory,
	registry *CommandRegistry,
	logger *slog.Logger,
	concurrency int,
) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		directory:   directory,
		registry:    registry,
		logger:      logger.With(loggerNameKey, "registrar"),
		concurrency: concurrency,
	}
}

// Reconcile fetches the remote commands once, then creates or edits each
// local definition that's missing or different remotely, registers every
// local definition, and finally deletes remote commands with no local
// counterpart. Creates/edits run concurrently and finish before any
// delete starts.
//
// Only a failure to fetch the remote commands is returned as an error.
// Failures of individual calls are logged and listed in the report,
// without stopping the other calls. Once started, a pass runs to
// completion even if ctx is canceled.
func (r *Registrar) Reconcile(
	ctx context.Context,
	defs []*CommandDefinition,
) (*ReconcileReport, error) {
	ctx = context.WithoutCancel(ctx)
	logger := r.logger

	remoteCommands, err := r.directory.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching remote commands: %w", err)
	}
	remote := make(map[string]*discordgo.ApplicationCommand, len(remoteCommands))
	for _, cmd := range remoteCommands {
		remote[cmd.Name] = cmd
	}
	logger.InfoContext(ctx, "fetched remote commands", "count", len(remote))

	report := &ReconcileReport{}
	local := make(map[string]*CommandDefinition, len(defs))

	g := r.group()
	for _, def := range defs {
		if _, seen := local[def.Name]; seen {
			logger.WarnContext(
				ctx,
				"duplicate command definition ignored",
				"command", def.Name,
			)
			continue
		}
		local[def.Name] = def

		def := def
		cmd := def.ApplicationCommand()
		existing, exists := remote[def.Name]
		switch {
		case !exists:
			g.Go(
				func() error {
					_, createErr := r.directory.Create(ctx, cmd)
					r.logOutcome(ctx, "created", def.Name, createErr)
					report.record(&report.Created, def.Name, createErr)
					return createErr
				},
			)
		case commandChanged(existing, cmd):
			g.Go(
				func() error {
					_, editErr := r.directory.Edit(ctx, existing.ID, cmd)
					r.logOutcome(ctx, "edited", def.Name, editErr)
					report.record(&report.Updated, def.Name, editErr)
					return editErr
				},
			)
		default:
			logger.DebugContext(ctx, "command unchanged", "command", def.Name)
			report.record(&report.Unchanged, def.Name, nil)
		}
	}
	// per-command errors are already in the report
	_ = g.Wait()

	for _, def := range defs {
		if local[def.Name] != def {
			continue
		}
		if regErr := r.registry.Register(def); regErr != nil {
			logger.WarnContext(ctx, "command not registered", tint.Err(regErr))
		}
	}

	g = r.group()
	for name, cmd := range remote {
		name, cmd := name, cmd
		if _, keep := local[name]; keep {
			continue
		}
		g.Go(
			func() error {
				deleteErr := r.directory.Delete(ctx, cmd.ID)
				r.logOutcome(ctx, "deleted", name, deleteErr)
				report.record(&report.Deleted, name, deleteErr)
				return deleteErr
			},
		)
	}
	_ = g.Wait()

	report.sort()
	logger.InfoContext(ctx, "commands reconciled", "report", report)
	return report, nil
}

func (r *Registrar) group() *errgroup.Group {
	g := new(errgroup.Group)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	return g
}

func (r *Registrar) logOutcome(ctx context.Context, action string, name string, err error) {
	if err != nil {
		r.logger.ErrorContext(
			ctx,
			"unable to reconcile command",
			"command", name,
			"action", action,
			tint.Err(err),
		)
		return
	}
	r.logger.InfoContext(ctx, "command "+action, "command", name)
}
