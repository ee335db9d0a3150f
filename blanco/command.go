package blanco

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
)

var ErrDuplicateCommand = errors.New("duplicate command name")

// CommandHandlerFunc handles a single slash command (or subcommand)
// invocation. A returned error is logged and the user receives a generic
// error reply, unless a reply was already sent.
type CommandHandlerFunc func(ctx context.Context, handler InteractionHandler) error

// CommandDefinition is a locally declared slash command. A command either
// has a Handler, or Subcommands (each with its own handler).
type CommandDefinition struct {
	Name        string
	Description string
	Options     []*discordgo.ApplicationCommandOption
	Subcommands []*SubcommandDefinition

	// RequiredPermissions are added to the router's default permissions
	RequiredPermissions []int64

	// ExcludedPermissions are removed after RequiredPermissions are added,
	// to relax a default permission for this command
	ExcludedPermissions []int64

	Handler CommandHandlerFunc
}

type SubcommandDefinition struct {
	Name        string
	Description string
	Options     []*discordgo.ApplicationCommandOption
	Handler     CommandHandlerFunc
}

// Subcommand returns the subcommand with the given name
func (c *CommandDefinition) Subcommand(name string) (*SubcommandDefinition, bool) {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			return sub, true
		}
	}
	return nil, false
}

// EffectivePermissions returns (base ∪ RequiredPermissions) − ExcludedPermissions,
// in ascending order, without duplicates.
func (c *CommandDefinition) EffectivePermissions(base []int64) []int64 {
	perms := make([]int64, 0, len(base)+len(c.RequiredPermissions))
	for _, p := range append(slices.Clone(base), c.RequiredPermissions...) {
		if slices.Contains(c.ExcludedPermissions, p) || slices.Contains(perms, p) {
			continue
		}
		perms = append(perms, p)
	}
	slices.Sort(perms)
	return perms
}

// ApplicationCommand renders the definition as a command payload.
// Commands are always restricted to guilds.
func (c *CommandDefinition) ApplicationCommand() *discordgo.ApplicationCommand {
	dmPermission := false
	contexts := []discordgo.InteractionContextType{discordgo.InteractionContextGuild}

	cmd := &discordgo.ApplicationCommand{
		Type:         discordgo.ChatApplicationCommand,
		Name:         c.Name,
		Description:  c.Description,
		DMPermission: &dmPermission,
		Contexts:     &contexts,
		Options:      slices.Clone(c.Options),
	}
	for _, sub := range c.Subcommands {
		cmd.Options = append(
			cmd.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        sub.Name,
				Description: sub.Description,
				Options:     sub.Options,
			},
		)
	}
	return cmd
}

// CommandRegistry holds the definitions of every synchronized command, by
// name. It's filled once, while commands are reconciled at startup, and
// read by the router afterward.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]*CommandDefinition
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: map[string]*CommandDefinition{}}
}

// Register adds def to the registry. If a different definition with the
// same name is already registered, ErrDuplicateCommand is returned and the
// existing definition is kept.
func (r *CommandRegistry) Register(def *CommandDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.commands[def.Name]; exists {
		if existing == def {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, def.Name)
	}
	r.commands[def.Name] = def
	return nil
}

func (r *CommandRegistry) Get(name string) (*CommandDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.commands[name]
	return def, ok
}

func (r *CommandRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// All returns every registered definition, sorted by name
func (r *CommandRegistry) All() []*CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*CommandDefinition, 0, len(r.commands))
	for _, def := range r.commands {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// defaultCommandPermissions are required by every command, unless excluded
var defaultCommandPermissions = []int64{
	discordgo.PermissionViewChannel,
	discordgo.PermissionSendMessages,
	discordgo.PermissionEmbedLinks,
}

var permissionNames = map[int64]string{
	discordgo.PermissionCreateInstantInvite: "Create Invite",
	discordgo.PermissionKickMembers:         "Kick Members",
	discordgo.PermissionBanMembers:          "Ban Members",
	discordgo.PermissionAdministrator:       "Administrator",
	discordgo.PermissionManageChannels:      "Manage Channels",
	discordgo.PermissionAddReactions:        "Add Reactions",
	discordgo.PermissionViewAuditLogs:       "View Audit Log",
	discordgo.PermissionViewChannel:         "View Channel",
	discordgo.PermissionSendMessages:        "Send Messages",
	discordgo.PermissionSendTTSMessages:     "Send TTS Messages",
	discordgo.PermissionManageMessages:      "Manage Messages",
	discordgo.PermissionEmbedLinks:          "Embed Links",
	discordgo.PermissionAttachFiles:         "Attach Files",
	discordgo.PermissionReadMessageHistory:  "Read Message History",
	discordgo.PermissionMentionEveryone:     "Mention Everyone",
	discordgo.PermissionUseExternalEmojis:   "Use External Emojis",
	discordgo.PermissionVoiceConnect:        "Connect",
	discordgo.PermissionVoiceSpeak:          "Speak",
	discordgo.PermissionChangeNickname:      "Change Nickname",
	discordgo.PermissionManageNicknames:     "Manage Nicknames",
	discordgo.PermissionManageRoles:         "Manage Roles",
	discordgo.PermissionManageWebhooks:      "Manage Webhooks",
}

func permissionName(p int64) string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Permission(%d)", p)
}

// missingPermissions returns the members of required that aren't set in
// granted. Administrator grants everything.
func missingPermissions(granted int64, required []int64) []int64 {
	if granted&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var missing []int64
	for _, p := range required {
		if granted&p != p {
			missing = append(missing, p)
		}
	}
	return missing
}
