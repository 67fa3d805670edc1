package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inboxtriage/inboxtriage/internal/logging"
)

// rootCmd represents the base command for the inboxtriage application
var rootCmd = &cobra.Command{
	Use:   "inboxtriage",
	Short: "Marks non-essential unread Gmail messages as read",
	Long: `inboxtriage walks every unread message in your Gmail mailbox, asks a
language model whether the message is worth your time, and marks the ones
that are not as read. Messages it cannot fetch, parse or classify are
always left unread.

It can run as:
  - A standalone CLI tool (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

var (
	logLevel  string
	logFormat string
	logFile   string
)

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// newLogger builds the process logger from the global logging flags. The
// returned closer is non-nil when logs go to a file.
func newLogger() (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:  logLevel,
		Format: logFormat,
		File:   logFile,
	})
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxtriage version %s\n" .Version}}`)

	// If no subcommand is provided, run the triage command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "triage")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")

	rootCmd.AddCommand(newTriageCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
