// Healerd is a self-healing remediation daemon.
//
// It consumes failure reports, selects or evolves a remediation for
// each one, dispatches the action to a sandboxed worker over NATS, and
// learns from the reported outcome.
//
// Usage:
//
//	# Start with defaults
//	healerd
//
//	# Start with a config file
//	healerd --config /etc/healerd/config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/config"
	"github.com/fyrsmithlabs/healerd/internal/dispatch"
	"github.com/fyrsmithlabs/healerd/internal/engine"
	"github.com/fyrsmithlabs/healerd/internal/evolution"
	"github.com/fyrsmithlabs/healerd/internal/logging"
	"github.com/fyrsmithlabs/healerd/internal/notify"
	"github.com/fyrsmithlabs/healerd/internal/search"
	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "healerd",
	Short: "Self-healing remediation daemon",
	Long: `healerd watches for service failure reports, matches them against a
learned population of remediations, evolves new candidates when nothing
fits, and keeps score of what actually worked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("healerd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// run wires the daemon and blocks until the context is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	logger.Info("starting healerd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	// Persistence backends: the embedded store is required, the remote
	// mirror is optional.
	chromemBackend, err := store.NewChromemBackend(store.ChromemConfig{
		Path:       cfg.Store.Path,
		Compress:   cfg.Store.Compress,
		Collection: cfg.Store.Collection,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening solution store: %w", err)
	}

	backends := []store.Backend{chromemBackend}
	if cfg.Qdrant.Enabled {
		qdrantBackend, err := store.NewQdrantBackend(ctx, store.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			UseTLS:     cfg.Qdrant.UseTLS,
		}, logger)
		if err != nil {
			logger.Warn("qdrant mirror unavailable, continuing without it", zap.Error(err))
		} else {
			backends = append(backends, qdrantBackend)
		}
	}

	st := store.New(backends, logger)
	defer st.Close()
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("loading population: %w", err)
	}

	evolver := evolution.NewEngine(evolution.NewHeuristicEvaluator(), logger)

	searcher := buildSearcher(ctx, cfg, logger)

	// NATS is optional; without it the daemon still answers nothing,
	// but can be driven through the Go API in tests and tooling.
	var (
		conn       *nats.Conn
		notifier   *notify.Notifier
		dispatcher dispatch.Dispatcher
	)
	if cfg.NATS.URL != "" {
		conn, err = nats.Connect(cfg.NATS.URL,
			nats.Name("healerd"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer conn.Close()

		notifier, err = notify.NewNotifier(conn, cfg.NATS.OutcomeSubject, logger)
		if err != nil {
			return err
		}
		dispatcher, err = dispatch.NewNATSDispatcher(conn, dispatch.Config{
			Subject: cfg.NATS.ExecuteSubject,
			Timeout: cfg.NATS.ExecuteTimeout.Duration(),
		}, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no nats url configured, running without intake and dispatch")
	}

	engineCfg := engine.Config{
		MutationRate:          cfg.Engine.MutationRate,
		CrossoverRate:         cfg.Engine.CrossoverRate,
		SelectionPressure:     cfg.Engine.SelectionPressure,
		PopulationCap:         cfg.Engine.PopulationCap,
		OnlineSearchThreshold: cfg.Engine.OnlineSearchThreshold,
		SimilarityThreshold:   cfg.Engine.SimilarityThreshold,
	}
	var engineNotifier engine.Notifier
	if notifier != nil {
		engineNotifier = notifier
	}
	var engineSearcher engine.OnlineSearcher
	if searcher != nil {
		engineSearcher = searcher
	}
	eng, err := engine.New(engineCfg, st, evolver, engineSearcher, engineNotifier, logger)
	if err != nil {
		return err
	}

	sched, err := engine.NewCycleScheduler(eng, logger,
		engine.WithInterval(cfg.Engine.CycleInterval.Duration()),
	)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	var consumer *notify.IntakeConsumer
	if conn != nil {
		handler := intakeHandler(eng, dispatcher, logger)
		consumer, err = notify.NewIntakeConsumer(conn, cfg.NATS.IntakeSubject, handler, logger)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("starting intake consumer: %w", err)
		}
		defer consumer.Stop()
	}

	logger.Info("healerd ready",
		zap.Int("population", st.Len()),
		zap.Bool("nats", conn != nil),
		zap.Bool("online_search", searcher != nil),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Final flush of the population before exit.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st.Persist(flushCtx)

	return nil
}

// buildSearcher assembles the online search stage from the configured
// providers. Returns nil when no provider is usable.
func buildSearcher(ctx context.Context, cfg *config.Config, logger *zap.Logger) *search.Searcher {
	var providers []search.Provider

	if cfg.Search.GitHubToken.IsSet() {
		gh, err := search.NewGitHubProvider(ctx, cfg.Search.GitHubToken.Value())
		if err != nil {
			logger.Warn("github provider unavailable", zap.Error(err))
		} else {
			providers = append(providers, gh)
		}
	}
	providers = append(providers, search.NewStackExchangeProvider(
		search.WithSite(cfg.Search.StackExchangeSite),
	))

	if len(providers) == 0 {
		return nil
	}
	return search.NewSearcher(search.Config{
		ProviderTimeout: cfg.Search.ProviderTimeout.Duration(),
		MaxQueries:      cfg.Search.MaxQueries,
	}, providers, logger)
}

// intakeHandler turns one failure report into an analyze, dispatch,
// learn round trip. Handler errors are logged, never fatal; one bad
// report must not take the daemon down.
func intakeHandler(eng *engine.Engine, dispatcher dispatch.Dispatcher, logger *zap.Logger) notify.Handler {
	return func(ctx context.Context, payload []byte) {
		var sig signature.ProblemSignature
		if err := json.Unmarshal(payload, &sig); err != nil {
			logger.Warn("discarding malformed failure report", zap.Error(err))
			return
		}

		sol, err := eng.AnalyzeProblem(ctx, sig)
		if err != nil {
			logger.Warn("analysis failed",
				zap.String("service", sig.Service),
				zap.Error(err),
			)
			return
		}

		logger.Info("remediation selected",
			zap.String("solution_id", sol.ID),
			zap.String("service", sig.Service),
			zap.String("error_type", sig.ErrorType),
		)

		if dispatcher == nil {
			return
		}
		outcome, err := dispatcher.Apply(ctx, sol)
		if err != nil {
			logger.Warn("dispatch failed, recording failure",
				zap.String("solution_id", sol.ID),
				zap.Error(err),
			)
			outcome = dispatch.Outcome{Success: false}
		}
		if err := eng.RecordOutcome(ctx, sol.ID, outcome.Success, outcome.Performance); err != nil {
			logger.Warn("failed to record outcome",
				zap.String("solution_id", sol.ID),
				zap.Error(err),
			)
		}
	}
}
