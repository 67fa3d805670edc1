package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/inboxtriage/inboxtriage/internal/google"
	"github.com/inboxtriage/inboxtriage/internal/instrumentation"
	"github.com/inboxtriage/inboxtriage/internal/logging"
	"github.com/inboxtriage/inboxtriage/internal/triage"
)

func newServeCmd() *cobra.Command {
	var opts triageOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an MCP server exposing the triage pipeline as a tool",
		Long: `Start a Model Context Protocol server on standard input/output. AI
assistants can invoke the triage pipeline through the triage_run tool.

The server never starts an interactive authorization flow; run the triage
command once beforehand so a Google token is cached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			// stdout carries the protocol, so logs go to stderr or a file.
			logger, closer, err := newLogger()
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			logger = logging.WithService(logger, "mcp")

			instrConfig := instrumentation.DefaultConfig()
			instrConfig.ServiceVersion = version
			provider, err := instrumentation.NewProvider(cmd.Context(), instrConfig)
			if err != nil {
				return fmt.Errorf("initializing instrumentation: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					logger.Warn("instrumentation shutdown failed", logging.Err(err))
				}
			}()

			mcpSrv := mcpserver.NewMCPServer("inboxtriage", version,
				mcpserver.WithToolCapabilities(true),
			)
			registerTriageTool(mcpSrv, &opts, logger, provider.Metrics())
			registerClassifyTool(mcpSrv, &opts)

			return runStdioServer(mcpSrv)
		},
	}

	opts.addFlags(cmd)
	return cmd
}

// registerTriageTool exposes one triage run as an MCP tool. Flags set at
// serve time provide the defaults; the caller may only toggle dryRun.
func registerTriageTool(s *mcpserver.MCPServer, opts *triageOptions, logger *slog.Logger, metrics *instrumentation.Metrics) {
	tool := mcp.NewTool("triage_run",
		mcp.WithDescription("Classify all unread Gmail messages and mark the non-essential ones as read. Messages that fail to fetch, parse or classify are left unread."),
		mcp.WithBoolean("dryRun",
			mcp.Description("Classify without marking anything as read (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runOpts := *opts
		if dryRun, ok := request.GetArguments()["dryRun"].(bool); ok {
			runOpts.dryRun = dryRun
		}

		googleProvider := &google.Provider{
			CredentialsFile: runOpts.credentialsFile,
			TokenFile:       runOpts.tokenFile,
			Logger:          logger,
		}
		if !googleProvider.HasToken() {
			return mcp.NewToolResultError("No cached Google token found. Run the triage command once to authorize."), nil
		}

		pipeline, err := runOpts.newPipeline(ctx, logger, metrics)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to assemble triage pipeline: %v", err)), nil
		}

		stats, err := pipeline.Run(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Triage run aborted: %v", err)), nil
		}
		return mcp.NewToolResultText(statsReport(stats, runOpts.dryRun)), nil
	})
}

// registerClassifyTool exposes a single classification as an MCP tool.
// It never touches the mailbox: the caller supplies the message fields
// and gets the decision back.
func registerClassifyTool(s *mcpserver.MCPServer, opts *triageOptions) {
	tool := mcp.NewTool("triage_classify",
		mcp.WithDescription("Classify a single email without touching the mailbox. Returns whether the message would be marked as read by a triage run."),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Email subject"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("To header value (names and addresses)"),
		),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("From header value (name and address)"),
		),
		mcp.WithString("cc",
			mcp.Description("Cc header value, if any"),
		),
		mcp.WithString("labels",
			mcp.Description("Comma-separated Gmail labels (e.g. 'UNREAD, CATEGORY_PROMOTIONS')"),
		),
		mcp.WithString("body",
			mcp.Description("Plaintext body of the email"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, err := recordFromArgs(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		safe, err := opts.newClassifier().Classify(ctx, rec)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Classification failed: %v", err)), nil
		}
		if safe {
			return mcp.NewToolResultText("Not worth the owner's time: a triage run would mark this message as read."), nil
		}
		return mcp.NewToolResultText("Worth the owner's time: a triage run would leave this message unread."), nil
	})
}

// recordFromArgs builds a classification record from tool arguments. The
// same headers the parser requires are required here.
func recordFromArgs(args map[string]any) (*triage.Record, error) {
	rec := &triage.Record{}
	for _, required := range []struct {
		key string
		dst *string
	}{
		{"subject", &rec.Subject},
		{"to", &rec.To},
		{"from", &rec.From},
	} {
		value, ok := args[required.key].(string)
		if !ok || value == "" {
			return nil, fmt.Errorf("'%s' field is required", required.key)
		}
		*required.dst = value
	}

	if cc, ok := args["cc"].(string); ok {
		rec.Cc = cc
	}
	if body, ok := args["body"].(string); ok {
		rec.Body = body
	}
	if labels, ok := args["labels"].(string); ok {
		rec.Labels = splitLabels(labels)
	}
	return rec, nil
}

// splitLabels parses a comma-separated label list, dropping empty entries.
func splitLabels(s string) []string {
	var labels []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
