package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/inboxtriage/inboxtriage/internal/gmail"
	"github.com/inboxtriage/inboxtriage/internal/google"
	"github.com/inboxtriage/inboxtriage/internal/instrumentation"
	"github.com/inboxtriage/inboxtriage/internal/logging"
	"github.com/inboxtriage/inboxtriage/internal/openai"
	"github.com/inboxtriage/inboxtriage/internal/triage"
)

// openAIKeyEnv holds the API key for the classification oracle.
const openAIKeyEnv = "OPENAI_API_KEY"

// triageOptions collects everything needed to assemble one pipeline run.
type triageOptions struct {
	firstName       string
	lastName        string
	credentialsFile string
	tokenFile       string
	model           string
	maxBodyLen      int
	concurrency     int
	pageRetries     int
	dryRun          bool
}

func (o *triageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.firstName, "first-name", "", "First name of the mailbox owner, used in the classification prompt")
	cmd.Flags().StringVar(&o.lastName, "last-name", "", "Last name of the mailbox owner, used in the classification prompt")
	cmd.Flags().StringVar(&o.credentialsFile, "credentials-file", "credentials.json", "OAuth client secret file from the Google Cloud console")
	cmd.Flags().StringVar(&o.tokenFile, "token-file", "token.json", "File the authorized user token is cached in")
	cmd.Flags().StringVar(&o.model, "model", "gpt-4o", "Chat completion model used to classify messages")
	cmd.Flags().IntVar(&o.maxBodyLen, "max-body-len", triage.DefaultMaxBodyLen, "Maximum number of body characters sent to the model")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 1, "Number of messages of one page processed in parallel")
	cmd.Flags().IntVar(&o.pageRetries, "page-retries", 0, "Retries per failed page fetch before the run ends early")
}

func (o *triageOptions) validate() error {
	if o.firstName == "" || o.lastName == "" {
		return errors.New("--first-name and --last-name are required")
	}
	if os.Getenv(openAIKeyEnv) == "" {
		return fmt.Errorf("the %s environment variable must be set", openAIKeyEnv)
	}
	return nil
}

// newClassifier builds the classification oracle from the option set.
func (o *triageOptions) newClassifier() *triage.Classifier {
	return &triage.Classifier{
		Client:     openai.New(os.Getenv(openAIKeyEnv)),
		Model:      o.model,
		Identity:   triage.Identity{FirstName: o.firstName, LastName: o.lastName},
		MaxBodyLen: o.maxBodyLen,
	}
}

// newPipeline wires the Gmail client and the oracle into a pipeline. The
// Gmail client serves as source, parser and marker at once.
func (o *triageOptions) newPipeline(ctx context.Context, logger *slog.Logger, metrics *instrumentation.Metrics) (*triage.Pipeline, error) {
	googleProvider := &google.Provider{
		CredentialsFile: o.credentialsFile,
		TokenFile:       o.tokenFile,
		Logger:          logger,
	}
	httpClient, err := googleProvider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticating with Google: %w", err)
	}

	gmailClient, err := gmail.NewClient(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return &triage.Pipeline{
		Source:  gmailClient,
		Parser:  gmailClient,
		Oracle:  o.newClassifier(),
		Marker:  gmailClient,
		Logger:  logger,
		Metrics: metrics,
		Config: triage.Config{
			Concurrency: o.concurrency,
			PageRetries: o.pageRetries,
			DryRun:      o.dryRun,
		},
	}, nil
}

// statsReport renders the end-of-run summary printed to stdout.
func statsReport(stats triage.Stats, dryRun bool) string {
	report := fmt.Sprintf("Fetched %d unread messages across %d pages\n",
		stats.TotalFetched, stats.PagesFetched)
	if dryRun {
		report += fmt.Sprintf("Would have marked %d messages as read (dry run)\n", stats.WouldMarkRead)
		return report
	}
	report += fmt.Sprintf("Marked %d messages as read\n", stats.TotalMarkedRead)
	report += fmt.Sprintf("Final number of unread messages: %d\n", stats.FinalUnread())
	return report
}

func newTriageCmd() *cobra.Command {
	var (
		opts        triageOptions
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Classify all unread messages and mark the non-essential ones as read",
		Long: `Walk every unread message in the mailbox page by page. Each message is
sent to the configured language model, which decides whether it is worth
the owner's time. Messages judged not worth it have their unread label
removed; everything else, including any message that fails to fetch,
parse or classify, stays unread.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			logger, closer, err := newLogger()
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			logger = logging.WithService(logger, "triage")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			instrConfig := instrumentation.DefaultConfig()
			instrConfig.ServiceVersion = version
			provider, err := instrumentation.NewProvider(ctx, instrConfig)
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

			if metricsAddr != "" && provider.Enabled() {
				stopMetrics := serveMetrics(metricsAddr, provider, logger)
				defer stopMetrics()
			}

			pipeline, err := opts.newPipeline(ctx, logger, provider.Metrics())
			if err != nil {
				return err
			}

			stats, runErr := pipeline.Run(ctx)
			fmt.Fprint(cmd.OutOrStdout(), statsReport(stats, opts.dryRun))
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Classify messages but do not mark anything as read")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. ':9090') for the duration of the run")
	return cmd
}

// serveMetrics exposes the Prometheus scrape endpoint for the duration of
// the run. The returned function stops the server.
func serveMetrics(addr string, provider *instrumentation.Provider, logger *slog.Logger) func() {
	handler := provider.PrometheusHandler()
	if handler == nil {
		logger.Warn("metrics address set but the prometheus exporter is not configured; set METRICS_EXPORTER=prometheus")
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Err(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", logging.Err(err))
		}
	}
}
