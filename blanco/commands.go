package blanco

// commandDefinitions returns every slash command the bot provides. These
// are the commands reconciled with Discord. Definitions are built once,
// so later reconciliation passes register the same pointers.
func (b *Blanco) commandDefinitions() []*CommandDefinition {
	b.commandsOnce.Do(
		func() {
			b.commands = []*CommandDefinition{
				newBirthdayCommand(b.birthdays, b.config.Discord.ConfirmationTimeout).Definition(),
			}
		},
	)
	return b.commands
}
