// Package pipeline owns the evaluation jobs the scheduler triggers:
// venue ingestion, market scoring, discovery, classification, mirror
// decisions, settlement, wallet scoring, anomaly detection, lifecycle
// evaluation and the periodic risk resets. Each job is idempotent and
// safe to rerun; every run lands in job_runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/data/cache"
	"github.com/sawpanic/copyrun/internal/anomaly"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/discovery"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/features"
	httpmetrics "github.com/sawpanic/copyrun/internal/interfaces/http"
	"github.com/sawpanic/copyrun/internal/lifecycle"
	"github.com/sawpanic/copyrun/internal/markets"
	"github.com/sawpanic/copyrun/internal/mirror"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/risk"
	"github.com/sawpanic/copyrun/internal/score"
	"github.com/sawpanic/copyrun/internal/settle"
	"github.com/sawpanic/copyrun/internal/stream/books"
	"github.com/sawpanic/copyrun/internal/venue"
)

// Job names known to the runner. The scheduler config refers to these.
const (
	JobIngestTrades    = "ingest_trades"
	JobIngestPositions = "ingest_positions"
	JobMarketScoring   = "market_scoring"
	JobDiscovery       = "discovery"
	JobClassify        = "classify"
	JobMirror          = "mirror"
	JobSettle          = "settle"
	JobScore           = "score"
	JobAnomaly         = "anomaly"
	JobLifecycle       = "lifecycle"
	JobBooksRefresh    = "books_refresh"
	JobRiskResetDaily  = "risk_reset_daily"
	JobRiskResetWeekly = "risk_reset_weekly"
)

// Runner wires the stage components and executes jobs by name.
type Runner struct {
	repos      *persistence.Repository
	client     *venue.Client
	cache      cache.Cache
	recorder   *books.Recorder
	cfg        config.AppConfig

	aggregator *features.Aggregator
	engine     *mirror.Engine
	settler    *settle.Settler
	scorer     *score.Scorer
	detector   *anomaly.Detector
	machine    *lifecycle.Machine
	ranker     *markets.Ranker
	discoverer *discovery.Discoverer
}

// NewRunner builds every stage component on top of the shared repos.
// recorder may be nil when the book feed is not running (one-shot CLI
// commands).
func NewRunner(repos *persistence.Repository, client *venue.Client, c cache.Cache, recorder *books.Recorder, cfg config.AppConfig) *Runner {
	checker := risk.NewChecker(cfg)
	return &Runner{
		repos:      repos,
		client:     client,
		cache:      c,
		recorder:   recorder,
		cfg:        cfg,
		aggregator: features.NewAggregator(repos.Trades, repos.Paper, repos.Markets, cfg),
		engine:     mirror.NewEngine(repos.Markets, repos.Paper, checker, cfg),
		settler:    settle.NewSettler(repos.Markets, repos.Paper),
		scorer:     score.NewScorer(repos.Features, repos.Paper, repos.Trades, repos.Classify, repos.Wallets, c, cfg),
		detector:   anomaly.NewDetector(repos.Features, repos.Paper, repos.Trades, repos.Classify, repos.Anomaly, cfg),
		machine:    lifecycle.NewMachine(repos.Wallets, repos.Features, repos.Paper, repos.Classify, cfg),
		ranker:     markets.NewRanker(cfg.Markets),
		discoverer: discovery.NewDiscoverer(client, repos, c, cfg.Discovery),
	}
}

// Run executes one named job, times it and records the outcome in
// job_runs and the metrics registry.
func (r *Runner) Run(ctx context.Context, jobName string) error {
	timer := httpmetrics.StartJobTimer(jobName)
	start := time.Now()

	detail, err := r.dispatch(ctx, jobName)
	timer.Stop(err)

	run := persistence.JobRun{
		JobName:    jobName,
		Status:     "ok",
		LastRunAt:  start.UTC(),
		DurationMS: time.Since(start).Milliseconds(),
		Detail:     detail,
	}
	if err != nil {
		run.Status = "error"
		run.LastError = err.Error()
	}
	if recErr := r.repos.Jobs.RecordRun(ctx, run); recErr != nil {
		log.Warn().Err(recErr).Str("job", jobName).Msg("Job run record failed")
	}

	if err != nil {
		log.Error().Err(err).Str("job", jobName).Msg("Job failed")
	}
	return err
}

func (r *Runner) dispatch(ctx context.Context, jobName string) (map[string]any, error) {
	now := time.Now().UTC()
	switch jobName {
	case JobIngestTrades:
		return r.ingestTrades(ctx, now)
	case JobIngestPositions:
		return r.ingestPositions(ctx, now)
	case JobMarketScoring:
		return r.scoreMarkets(ctx, now)
	case JobDiscovery:
		stats, err := r.discoverer.Run(ctx, now)
		return map[string]any{
			"markets_scanned": stats.MarketsScanned,
			"new_wallets":     stats.NewWallets,
		}, err
	case JobClassify:
		return r.classifyWallets(ctx, now)
	case JobMirror:
		return r.mirrorTick(ctx, now)
	case JobSettle:
		settled, err := r.settler.SweepResolved(ctx, 100, now)
		return map[string]any{"settled_trades": settled}, err
	case JobScore:
		return r.scoreWallets(ctx, now)
	case JobAnomaly:
		return r.anomalyTick(ctx, now)
	case JobLifecycle:
		return r.lifecycleTick(ctx, now)
	case JobBooksRefresh:
		return r.refreshBookSubscriptions(ctx)
	case JobRiskResetDaily:
		return nil, r.repos.Paper.ResetDailyPnL(ctx)
	case JobRiskResetWeekly:
		return nil, r.repos.Paper.ResetWeeklyPnL(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", jobName)
	}
}

// forEachActiveWallet pages the watchlist and applies fn, warn-and-
// continue per wallet. Returns wallets visited and failures.
func (r *Runner) forEachActiveWallet(ctx context.Context, fn func(w domain.Wallet) error) (visited, failed int, err error) {
	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		wallets, listErr := r.repos.Wallets.ListActive(ctx, pageSize, offset)
		if listErr != nil {
			return visited, failed, listErr
		}
		for _, w := range wallets {
			if ctx.Err() != nil {
				return visited, failed, ctx.Err()
			}
			visited++
			if fnErr := fn(w); fnErr != nil {
				failed++
				log.Warn().Err(fnErr).Str("wallet", w.ProxyWallet).Msg("Wallet pass failed")
			}
		}
		if len(wallets) < pageSize {
			return visited, failed, nil
		}
	}
}
