// saifguard is an HTTP service exposing a security-audit agent backed
// by Gemini, with document analysis, GCP project auditing, and grounded
// web search tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"saifguard/internal/agent"
	"saifguard/internal/asset"
	"saifguard/internal/bigquery"
	"saifguard/internal/config"
	"saifguard/internal/llm"
	"saifguard/internal/logging"
	"saifguard/internal/report"
	"saifguard/internal/server"
	"saifguard/internal/store"
	"saifguard/internal/tools"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command. Running without a subcommand
// starts the server.
var rootCmd = &cobra.Command{
	Use:   "saifguard",
	Short: "SAIFGuard - security audit agent service",
	Long: `SAIFGuard is an HTTP service around a Gemini security-audit agent.

The agent analyzes documents stored in GCS, audits GCP projects through
Cloud Asset Inventory, and answers questions with Google Search
grounding. Findings are reported as severity-ordered markdown; the
audit pipeline additionally streams structured rows into BigQuery.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// serveCmd runs the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent HTTP server",
	Long: `Serves the agent API:

  GET  /healthcheck  liveness probe
  POST /invoke       {"user_id","message"} -> streamed text/plain answer
  POST /audit        {"project_id"} -> report pipeline run`,
	RunE: runServe,
}

// auditCmd runs the report pipeline once and exits.
var auditCmd = &cobra.Command{
	Use:   "audit [project-id]",
	Short: "Audit a GCP project and upload findings to BigQuery",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "saifguard.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps is everything a command needs wired up.
type deps struct {
	cfg      *config.Config
	store    *store.LocalStore
	agent    *agent.Agent
	pipeline *report.Pipeline
	stop     func()
}

func logOptions(cfg *config.Config) logging.Options {
	o := logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}
	if verbose {
		o.DebugMode = true
		o.Level = "debug"
	}
	return o
}

// buildDeps loads config and wires the whole service together.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Initialize(cfg.Storage.DataDir, logOptions(cfg)); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	chatClient, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building LLM client: %w", err)
	}

	// Report generation runs hotter and with a hard token cap.
	reportOpts := llm.OptionsFromConfig(cfg)
	reportOpts.Temperature = 0.3
	reportOpts.MaxOutputTokens = 1000
	reportClient, err := llm.NewWithOptions(ctx, cfg, reportOpts)
	if err != nil {
		return nil, fmt.Errorf("building report LLM client: %w", err)
	}

	inventory, err := asset.New(ctx, asset.Config{
		PageSize: cfg.Inventory.PageSize,
		Timeout:  cfg.GetInventoryTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("building asset inventory client: %w", err)
	}

	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewGoogleSearchTool(chatClient))
	registry.MustRegister(tools.NewAnalyzeDocumentTool(chatClient))
	registry.MustRegister(tools.NewAuditProjectTool(reportClient, inventory, tools.AuditProjectConfig{
		DebugDumps: cfg.Inventory.DebugDumps,
		DumpDir:    cfg.Storage.DataDir,
	}))

	st, err := store.NewLocalStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ag := agent.New(chatClient, registry, st, agent.Config{
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		SessionTTL:    cfg.GetSessionTTL(),
	})

	// The pipeline needs a BigQuery destination; without one, only the
	// conversational surface is served.
	var pipeline *report.Pipeline
	if cfg.BigQuery.Dataset != "" && cfg.BigQuery.Table != "" {
		bq, err := bigquery.New(ctx, bigquery.Config{
			Project: cfg.LLM.Project,
			Dataset: cfg.BigQuery.Dataset,
			Table:   cfg.BigQuery.Table,
			Timeout: cfg.GetBigQueryTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("building BigQuery client: %w", err)
		}
		pipeline = report.New(reportClient, inventory, bq, st)
	} else {
		logger.Info("bigquery destination not configured, /audit disabled")
	}

	// Config edits re-apply logging options without a restart.
	stopWatch, err := config.Watch(configPath,
		func(updated *config.Config) {
			logging.SetOptions(logOptions(updated))
			logger.Info("config reloaded", zap.String("level", updated.Logging.Level))
		},
		func(err error) {
			logger.Warn("config watch error", zap.Error(err))
		},
	)
	if err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
		stopWatch = func() {}
	}

	return &deps{
		cfg:      cfg,
		store:    st,
		agent:    ag,
		pipeline: pipeline,
		stop: func() {
			stopWatch()
			st.Close()
			logging.CloseAll()
		},
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.stop()

	var runner server.AuditRunner
	if d.pipeline != nil {
		runner = d.pipeline
	}
	srv := server.New(d.agent, runner, server.Config{
		Addr:            d.cfg.Server.Addr,
		ReadTimeout:     d.cfg.GetReadTimeout(),
		ShutdownTimeout: d.cfg.GetShutdownTimeout(),
	})

	// Lazy expiry handles active users; the sweep reclaims sessions of
	// users who never come back.
	if ttl := d.cfg.GetSessionTTL(); ttl > 0 {
		go sweepSessions(ctx, d.store, ttl)
	}

	logger.Info("starting server",
		zap.String("addr", d.cfg.Server.Addr),
		zap.String("backend", d.cfg.LLM.Backend),
		zap.String("model", d.cfg.LLM.Model))

	return srv.Run(ctx)
}

// sweepSessions periodically expires idle sessions.
func sweepSessions(ctx context.Context, st *store.LocalStore, ttl time.Duration) {
	interval := ttl / 2
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.ExpireSessions(ttl); err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.stop()

	if d.pipeline == nil {
		return fmt.Errorf("bigquery dataset and table must be configured for audits")
	}

	projectID := args[0]
	logger.Info("running audit", zap.String("project", projectID))

	result, err := d.pipeline.Run(ctx, projectID)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	fmt.Printf("Report %s: %d findings uploaded for %s\n", result.ReportID, result.RowCount, result.ProjectID)
	return nil
}
