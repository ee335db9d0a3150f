package blanco

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func testCommand() *discordgo.ApplicationCommand {
	minDay := float64(1)
	return (&CommandDefinition{
		Name:        "birthday",
		Description: "Manage birthdays",
		Subcommands: []*SubcommandDefinition{
			{
				Name:        "set",
				Description: "Set your birthday",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "day",
						Description: "Day",
						Required:    true,
						MinValue:    &minDay,
						MaxValue:    31,
					},
				},
			},
		},
	}).ApplicationCommand()
}

func TestCommandChanged(t *testing.T) {
	t.Parallel()

	t.Run(
		"identical", func(t *testing.T) {
			t.Parallel()
			assert.False(t, commandChanged(testCommand(), testCommand()))
		},
	)

	t.Run(
		"server-assigned fields are ignored", func(t *testing.T) {
			t.Parallel()
			remote := testCommand()
			remote.ID = "123"
			remote.ApplicationID = "456"
			remote.Version = "789"
			remote.DMPermission = nil
			assert.False(t, commandChanged(remote, testCommand()))
		},
	)

	t.Run(
		"description changed", func(t *testing.T) {
			t.Parallel()
			remote := testCommand()
			remote.Description = "Birthdays"
			assert.True(t, commandChanged(remote, testCommand()))
		},
	)

	t.Run(
		"dm permission changed remotely", func(t *testing.T) {
			t.Parallel()
			remote := testCommand()
			allowed := true
			remote.DMPermission = &allowed
			assert.True(t, commandChanged(remote, testCommand()))
		},
	)

	t.Run(
		"option added locally", func(t *testing.T) {
			t.Parallel()
			local := testCommand()
			local.Options = append(
				local.Options,
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove your birthday",
				},
			)
			assert.True(t, commandChanged(testCommand(), local))
		},
	)

	t.Run(
		"nested option changed", func(t *testing.T) {
			t.Parallel()
			local := testCommand()
			local.Options[0].Options[0].MaxValue = 30
			assert.True(t, commandChanged(testCommand(), local))
		},
	)

	t.Run(
		"contexts changed", func(t *testing.T) {
			t.Parallel()
			remote := testCommand()
			contexts := []discordgo.InteractionContextType{
				discordgo.InteractionContextGuild,
				discordgo.InteractionContextBotDM,
			}
			remote.Contexts = &contexts
			assert.True(t, commandChanged(remote, testCommand()))
		},
	)
}

func TestPropertiesChanged(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		remote  map[string]any
		local   map[string]any
		changed bool
	}{
		{
			name:    "camel and snake case keys",
			remote:  map[string]any{"default_member_permissions": "8"},
			local:   map[string]any{"defaultMemberPermissions": float64(8)},
			changed: false,
		},
		{
			name:    "empty list matches missing",
			remote:  map[string]any{"name": "x"},
			local:   map[string]any{"name": "x", "options": []any{}},
			changed: false,
		},
		{
			name:    "null matches empty list",
			remote:  map[string]any{"options": []any{}},
			local:   map[string]any{"options": nil},
			changed: false,
		},
		{
			name:    "null against a value",
			remote:  map[string]any{"nsfw": true},
			local:   map[string]any{"nsfw": nil},
			changed: true,
		},
		{
			name:    "missing dm permission",
			remote:  map[string]any{},
			local:   map[string]any{"dm_permission": false},
			changed: false,
		},
		{
			name:    "missing property",
			remote:  map[string]any{},
			local:   map[string]any{"description": "x"},
			changed: true,
		},
		{
			name:    "remote-only properties",
			remote:  map[string]any{"id": "1", "version": "2", "name": "x"},
			local:   map[string]any{"name": "x"},
			changed: false,
		},
		{
			name:    "list length",
			remote:  map[string]any{"choices": []any{"a"}},
			local:   map[string]any{"choices": []any{"a", "b"}},
			changed: true,
		},
		{
			name:    "object against scalar",
			remote:  map[string]any{"name_localizations": "x"},
			local:   map[string]any{"nameLocalizations": map[string]any{"fr": "anniversaire"}},
			changed: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				remote, _ := normalizeKeys(tc.remote).(map[string]any)
				local, _ := normalizeKeys(tc.local).(map[string]any)
				assert.Equal(t, tc.changed, propertiesChanged(remote, local))
			},
		)
	}
}

func TestLooseEqual(t *testing.T) {
	t.Parallel()
	assert.True(t, looseEqual("8", float64(8)))
	assert.True(t, looseEqual(true, "true"))
	assert.True(t, looseEqual("x", "x"))
	assert.False(t, looseEqual("x", "y"))
	assert.False(t, looseEqual(nil, "x"))
	assert.False(t, looseEqual(float64(1), float64(2)))
}
