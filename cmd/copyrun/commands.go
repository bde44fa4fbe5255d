package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/copyrun/data/cache"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/discovery"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/infrastructure/db"
	"github.com/sawpanic/copyrun/internal/infrastructure/providers"
	httpapi "github.com/sawpanic/copyrun/internal/interfaces/http"
	"github.com/sawpanic/copyrun/internal/pipeline"
	"github.com/sawpanic/copyrun/internal/scheduler"
	"github.com/sawpanic/copyrun/internal/settle"
	"github.com/sawpanic/copyrun/internal/stream/books"
	"github.com/sawpanic/copyrun/internal/venue"
)

// app bundles the shared wiring every subcommand needs.
type app struct {
	cfg      config.AppConfig
	manager  *db.Manager
	breakers *providers.CircuitBreakerManager
	client   *venue.Client
	cache    cache.Cache
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flagGuards != "" {
		guards, err := config.LoadGuardsConfig(flagGuards)
		if err != nil {
			return nil, fmt.Errorf("load guards config: %w", err)
		}
		guards.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config invalid after guard overlay: %w", err)
		}
		log.Info().Str("profile", guards.Active).Msg("Risk guard profile applied")
	}

	manager, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	breakers := providers.NewCircuitBreakerManager()
	return &app{
		cfg:      cfg,
		manager:  manager,
		breakers: breakers,
		client:   venue.NewClient(cfg.Venue, breakers),
		cache:    cache.NewAuto(),
	}, nil
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		log.Warn().Err(err).Msg("Database close failed")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runServe starts everything: scheduler, book recorder and HTTP API.
// It blocks until SIGINT/SIGTERM, then drains.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	jobsCfg, err := scheduler.LoadConfig(flagJobsFile)
	if err != nil {
		return err
	}

	recorder := books.NewRecorder(a.manager.Repository().Markets, a.cfg.Books)
	runner := pipeline.NewRunner(a.manager.Repository(), a.client, a.cache, recorder, a.cfg)
	sched := scheduler.New(jobsCfg, runner)

	server, err := httpapi.NewServer(a.cfg.HTTP, a.manager.Repository(), a.manager.DB(), a.breakers)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() { errCh <- sched.Run(ctx) }()
	go func() { errCh <- recorder.Run(ctx) }()
	go func() { errCh <- server.Start() }()

	log.Info().Str("addr", server.Address()).Msg("copyrun serving")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			cancel()
			shutdownServer(server)
			return err
		}
	}

	shutdownServer(server)
	return nil
}

func shutdownServer(server *httpapi.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
}

// runEvaluate performs one classification plus scoring pass and exits.
func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	runner := pipeline.NewRunner(a.manager.Repository(), a.client, a.cache, nil, a.cfg)
	for _, job := range []string{pipeline.JobClassify, pipeline.JobScore, pipeline.JobLifecycle} {
		if err := runner.Run(ctx, job); err != nil {
			return fmt.Errorf("%s: %w", job, err)
		}
	}
	return nil
}

// runSettle applies one market resolution.
func runSettle(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	conditionID, _ := cmd.Flags().GetString("market")
	price, _ := cmd.Flags().GetFloat64("price")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	repos := a.manager.Repository()
	settler := settle.NewSettler(repos.Markets, repos.Paper)
	settled, err := settler.Apply(ctx, domain.Resolution{
		ConditionID: conditionID,
		Price:       price,
	}, time.Now().UTC())
	if err != nil {
		return err
	}

	log.Info().
		Str("condition_id", conditionID).
		Float64("price", price).
		Int("settled_trades", settled).
		Msg("Market settled")
	return nil
}

// runScore recomputes composite scores for one window.
func runScore(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	window, _ := cmd.Flags().GetInt("window")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Narrow the configured windows to the requested one for this pass.
	cfg := a.cfg
	cfg.Scoring.WindowsDays = []int{window}

	runner := pipeline.NewRunner(a.manager.Repository(), a.client, a.cache, nil, cfg)
	return runner.Run(ctx, pipeline.JobScore)
}

// runDiscover runs one wallet discovery pass.
func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	d := discovery.NewDiscoverer(a.client, a.manager.Repository(), a.cache, a.cfg.Discovery)
	stats, err := d.Run(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("markets=%d holders=%d traders=%d new_wallets=%d leaderboard=%d\n",
		stats.MarketsScanned, stats.HoldersSeen, stats.TradersSeen, stats.NewWallets, stats.Leaderboard)
	return nil
}

// runHealth checks store connectivity and exits nonzero on failure.
func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := a.manager.DB().PingContext(pingCtx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	fmt.Println("ok")
	return nil
}
