// Package cmd implements the command-line interface for inboxtriage.
//
// This package provides the following commands:
//   - triage: Classify all unread Gmail messages and mark the non-essential ones as read
//   - serve: Start the MCP server to provide the triage pipeline to AI assistants
//   - version: Display version information
//
// The triage command is the default command when no subcommand is specified.
package cmd
