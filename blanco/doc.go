// Package blanco implements a Discord bot that manages guild members'
// birthdays through slash commands.
//
// On startup, the bot reconciles its locally defined slash commands with
// the ones registered on Discord: new commands are created, changed ones
// are edited, and remote commands with no local definition are deleted.
// Each synchronized command is registered for dispatch before the gateway
// opens.
//
// Key components of the package include:
//
//   - Blanco: The main struct, which wires the session, database and API.
//   - Registrar: Reconciles local command definitions with Discord.
//   - Router: Dispatches interactions to command and subcommand handlers,
//     after checking the bot's permissions.
//   - Birthdays: Creates, updates and removes birthdays.
//   - API: An optional HTTP API for status and administration.
//
// The bot supports one command, with three subcommands:
//
//   - /birthday show: Shows a member's birthday, or every birthday in the server.
//   - /birthday set: Sets the caller's birthday, after confirmation.
//   - /birthday remove: Removes the caller's birthday, after confirmation.
package blanco
