package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/domain"
	httpmetrics "github.com/sawpanic/copyrun/internal/interfaces/http"
	"github.com/sawpanic/copyrun/internal/markets"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/persona"
)

// ingestTrades pulls each active wallet's trades newer than its last
// stored trade. Inserts are conflict-ignored, so overlap with earlier
// pulls is harmless.
func (r *Runner) ingestTrades(ctx context.Context, now time.Time) (map[string]any, error) {
	inserted := 0
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		var sinceTS int64
		last, lastErr := r.repos.Trades.LastTradeAt(ctx, w.ProxyWallet)
		switch {
		case lastErr == nil:
			sinceTS = last.Unix()
		case errors.Is(lastErr, persistence.ErrNotFound):
			// New wallet, pull the venue's full retention.
		default:
			return fmt.Errorf("last trade: %w", lastErr)
		}

		trades, fetchErr := r.client.TradesByUser(ctx, w.ProxyWallet, sinceTS)
		if fetchErr != nil {
			return fetchErr
		}
		if len(trades) == 0 {
			return nil
		}
		n, insErr := r.repos.Trades.InsertTrades(ctx, trades)
		inserted += n
		return insErr
	})
	r.updateWalletGauge(ctx)
	return map[string]any{"wallets": visited, "failed": failed, "trades_inserted": inserted}, err
}

// ingestPositions snapshots each active wallet's current venue positions.
func (r *Runner) ingestPositions(ctx context.Context, now time.Time) (map[string]any, error) {
	inserted := 0
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		snaps, fetchErr := r.client.PositionsByUser(ctx, w.ProxyWallet, now)
		if fetchErr != nil {
			return fetchErr
		}
		if len(snaps) == 0 {
			return nil
		}
		n, insErr := r.repos.Trades.InsertPositions(ctx, snaps)
		inserted += n
		return insErr
	})
	return map[string]any{"wallets": visited, "failed": failed, "positions_inserted": inserted}, err
}

// scoreMarkets refreshes market metadata from the venue, enriches each
// eligible market with trade density and holder concentration, and
// upserts today's ranked list.
func (r *Runner) scoreMarkets(ctx context.Context, now time.Time) (map[string]any, error) {
	fetched, err := r.client.Markets(ctx, 4)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	var candidates []markets.Candidate
	for _, m := range fetched {
		if err := r.repos.Markets.Upsert(ctx, m); err != nil {
			log.Warn().Err(err).Str("condition_id", m.ConditionID).Msg("Market upsert failed")
			continue
		}
		if !r.ranker.Eligible(m, now) {
			continue
		}
		candidates = append(candidates, r.enrichCandidate(ctx, m))
	}

	scores := r.ranker.Rank(candidates, now.Format("2006-01-02"), now)
	if len(scores) > 0 {
		if err := r.repos.Markets.UpsertScores(ctx, scores); err != nil {
			return nil, fmt.Errorf("upsert market scores: %w", err)
		}
	}
	return map[string]any{"markets_fetched": len(fetched), "ranked": len(scores)}, nil
}

// enrichCandidate fills the venue-derived ranking inputs; failures
// degrade that component to zero rather than dropping the market.
func (r *Runner) enrichCandidate(ctx context.Context, m domain.Market) markets.Candidate {
	c := markets.Candidate{Market: m}

	recent, err := r.client.TradesByMarket(ctx, m.ConditionID, 200)
	if err != nil {
		log.Warn().Err(err).Str("condition_id", m.ConditionID).Msg("Trade density fetch failed")
	} else if len(recent) > 1 {
		span := time.Duration(recent[0].Timestamp-recent[len(recent)-1].Timestamp) * time.Second
		if span > 0 {
			c.TradesPerHour = float64(len(recent)) / span.Hours()
		}
	}

	holders, err := r.client.HoldersByMarket(ctx, m.ConditionID, 10)
	if err != nil {
		log.Warn().Err(err).Str("condition_id", m.ConditionID).Msg("Holder fetch failed")
	} else if len(holders) > 0 && m.Liquidity > 0 {
		var top float64
		for _, h := range holders {
			top += h.Amount
		}
		share := top / m.Liquidity
		if share > 1 {
			share = 1
		}
		c.TopHolderShare = share
	}
	return c
}

// classifyWallets runs the feature and persona cycle: per wallet, one
// feature row per configured window, then the classification cascade on
// the 30 day window, persisted as a persona, an exclusion, or neither.
func (r *Runner) classifyWallets(ctx context.Context, now time.Time) (map[string]any, error) {
	followable, excluded, unclassified := 0, 0, 0
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		var classifyFeatures domain.WalletFeatures
		for _, window := range r.cfg.Scoring.WindowsDays {
			f, cErr := r.aggregator.Compute(ctx, w.ProxyWallet, window, now)
			if cErr != nil {
				return fmt.Errorf("features %dd: %w", window, cErr)
			}
			if uErr := r.repos.Features.Upsert(ctx, f); uErr != nil {
				return fmt.Errorf("features upsert %dd: %w", window, uErr)
			}
			if window == 30 {
				classifyFeatures = f
			}
		}

		in, aErr := r.assembleInput(ctx, w, classifyFeatures, now)
		if aErr != nil {
			return aErr
		}
		out := persona.Classify(in, r.cfg)

		if out.Followable() {
			followable++
			return r.repos.Classify.SetPersona(ctx, persistence.PersonaRow{
				ProxyWallet:  w.ProxyWallet,
				Persona:      out.Persona,
				Mode:         out.Mode,
				Confidence:   out.Confidence,
				RiskFlags:    out.RiskFlags,
				Checks:       out.Checks,
				ClassifiedAt: now,
			})
		}
		if out.Excluded() {
			excluded++
			return r.repos.Classify.SetExclusion(ctx, persistence.ExclusionRow{
				ProxyWallet: w.ProxyWallet,
				Code:        out.Exclusion.Code,
				MetricValue: out.Exclusion.MetricValue,
				Threshold:   out.Exclusion.Threshold,
				Detail:      out.Exclusion.Detail,
				ExcludedAt:  now,
			})
		}
		// Matched no rule: keep tracking, drop any stale label.
		unclassified++
		return r.repos.Classify.ClearClassification(ctx, w.ProxyWallet)
	})
	return map[string]any{
		"wallets": visited, "failed": failed,
		"followable": followable, "excluded": excluded, "unclassified": unclassified,
	}, err
}

// assembleInput gathers the I/O-derived classification inputs so the
// cascade stays pure.
func (r *Runner) assembleInput(ctx context.Context, w domain.Wallet, f domain.WalletFeatures, now time.Time) (persona.Input, error) {
	in := persona.Input{
		Features:      f,
		WalletAgeDays: int(now.Sub(w.DiscoveredAt).Hours() / 24),
	}

	last, err := r.repos.Trades.LastTradeAt(ctx, w.ProxyWallet)
	switch {
	case err == nil:
		in.DaysSinceLastTrade = int(now.Sub(last).Hours() / 24)
	case errors.Is(err, persistence.ErrNotFound):
		in.DaysSinceLastTrade = in.WalletAgeDays
	default:
		return in, fmt.Errorf("last trade: %w", err)
	}

	for _, bot := range r.cfg.Stage1.KnownBots {
		if bot == w.ProxyWallet {
			in.KnownBot = true
			break
		}
	}

	sybil := r.cfg.Stage2.Sybil
	clusterSize, overlapPct, err := r.repos.Classify.SybilOverlap(ctx, w.ProxyWallet, sybil.TimingWindowSecs, sybil.LookbackDays)
	if err != nil {
		return in, fmt.Errorf("sybil overlap: %w", err)
	}
	in.SybilClusterSize = clusterSize
	in.SybilOverlapPct = overlapPct

	if f.AvgPositionSizeUSD > 0 {
		pct, err := r.repos.Features.SizeDecile(ctx, f.WindowDays, f.AvgPositionSizeUSD)
		if err != nil {
			return in, fmt.Errorf("size percentile: %w", err)
		}
		in.SizePercentile = pct
	}
	return in, nil
}

// mirrorTick drains the undecided source-trade queue. Each trade gets
// exactly one decision; a trade whose evaluation errors stays undecided
// and is retried next tick.
func (r *Runner) mirrorTick(ctx context.Context, now time.Time) (map[string]any, error) {
	undecided, err := r.repos.Trades.ListUndecided(ctx, r.cfg.Venue.IngestBatch)
	if err != nil {
		return nil, fmt.Errorf("list undecided: %w", err)
	}

	copied, skipped, errored := 0, 0, 0
	for _, t := range undecided {
		if ctx.Err() != nil {
			break
		}
		decision, dErr := r.engine.Decide(ctx, t, now)
		if dErr != nil {
			errored++
			log.Warn().Err(dErr).
				Str("wallet", t.ProxyWallet).
				Str("condition_id", t.ConditionID).
				Msg("Mirror decision failed, trade stays undecided")
			continue
		}
		httpmetrics.RecordMirrorDecision(string(decision.Outcome))
		if decision.Copied() {
			copied++
		} else {
			skipped++
		}
	}
	return map[string]any{
		"undecided": len(undecided),
		"copied":    copied, "skipped": skipped, "errored": errored,
	}, nil
}

// scoreWallets recomputes the composite score for every followed wallet
// and window.
func (r *Runner) scoreWallets(ctx context.Context, now time.Time) (map[string]any, error) {
	scored := 0
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		if _, pErr := r.repos.Classify.CurrentPersona(ctx, w.ProxyWallet); pErr != nil {
			if errors.Is(pErr, persistence.ErrNotFound) {
				return nil // excluded or unclassified, nothing to score
			}
			return pErr
		}
		for _, window := range r.cfg.Scoring.WindowsDays {
			ws, sErr := r.scorer.Score(ctx, w.ProxyWallet, window, now)
			if sErr != nil {
				return fmt.Errorf("score %dd: %w", window, sErr)
			}
			if uErr := r.repos.Scores.Upsert(ctx, ws); uErr != nil {
				return fmt.Errorf("score upsert %dd: %w", window, uErr)
			}
		}
		scored++
		return nil
	})
	return map[string]any{"wallets": visited, "failed": failed, "scored": scored}, err
}

// anomalyTick re-evaluates followed wallets for behavior changes and
// applies the resulting pauses or kills.
func (r *Runner) anomalyTick(ctx context.Context, now time.Time) (map[string]any, error) {
	flagged := 0
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		if _, pErr := r.repos.Classify.CurrentPersona(ctx, w.ProxyWallet); pErr != nil {
			if errors.Is(pErr, persistence.ErrNotFound) {
				return nil
			}
			return pErr
		}
		events, eErr := r.detector.Evaluate(ctx, w.ProxyWallet, now)
		if eErr != nil {
			return eErr
		}
		flagged += len(events)
		return nil
	})
	return map[string]any{"wallets": visited, "failed": failed, "anomalies": flagged}, err
}

// lifecycleTick advances every active wallet through the funnel.
func (r *Runner) lifecycleTick(ctx context.Context, now time.Time) (map[string]any, error) {
	states := make(map[string]int)
	visited, failed, err := r.forEachActiveWallet(ctx, func(w domain.Wallet) error {
		row, eErr := r.machine.Evaluate(ctx, w.ProxyWallet, now)
		if eErr != nil {
			return eErr
		}
		states[string(row.State)]++
		return nil
	})

	detail := map[string]any{"wallets": visited, "failed": failed}
	for state, n := range states {
		detail["state_"+state] = n
	}
	return detail, err
}

// refreshBookSubscriptions points the recorder at the markets that
// currently have open paper trades.
func (r *Runner) refreshBookSubscriptions(ctx context.Context) (map[string]any, error) {
	if r.recorder == nil {
		return nil, nil
	}
	ids, err := r.repos.Paper.OpenConditionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("open condition ids: %w", err)
	}
	r.recorder.SetMarkets(ids)
	httpmetrics.Metrics().OpenPositions.Set(float64(len(ids)))
	return map[string]any{"subscribed_markets": len(ids)}, nil
}

func (r *Runner) updateWalletGauge(ctx context.Context) {
	// A cheap page walk; the watchlist is small relative to trade volume.
	total := 0
	for offset := 0; ; offset += 500 {
		wallets, err := r.repos.Wallets.ListActive(ctx, 500, offset)
		if err != nil {
			return
		}
		total += len(wallets)
		if len(wallets) < 500 {
			break
		}
	}
	httpmetrics.Metrics().TrackedWallets.Set(float64(total))
}
