// Package features computes per-wallet, per-window behavioral statistics
// from raw trades, position snapshots and settled paper trades. Feature
// rows are recomputed whole each classification cycle and persisted as
// replacements, never patched.
package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// maxWindowTrades bounds how many raw trades one window loads.
const maxWindowTrades = 5000

// Aggregator computes WalletFeatures rows through the persistence repos.
type Aggregator struct {
	trades  persistence.TradesRepo
	paper   persistence.PaperRepo
	markets persistence.MarketsRepo
	cfg     config.AppConfig
}

// NewAggregator wires an aggregator.
func NewAggregator(trades persistence.TradesRepo, paper persistence.PaperRepo, markets persistence.MarketsRepo, cfg config.AppConfig) *Aggregator {
	return &Aggregator{trades: trades, paper: paper, markets: markets, cfg: cfg}
}

// Compute derives the wallet's feature row for the window ending at now.
// A wallet with zero trades in the window yields a zero-valued row, not
// an error.
func (a *Aggregator) Compute(ctx context.Context, proxyWallet string, windowDays int, now time.Time) (domain.WalletFeatures, error) {
	tr := persistence.TimeRange{From: now.AddDate(0, 0, -windowDays), To: now}

	trades, err := a.trades.ListByWallet(ctx, proxyWallet, tr, maxWindowTrades)
	if err != nil {
		return domain.WalletFeatures{}, fmt.Errorf("load trades for %s: %w", proxyWallet, err)
	}

	f := domain.WalletFeatures{
		ProxyWallet: proxyWallet,
		FeatureDate: now.UTC().Format("2006-01-02"),
		WindowDays:  windowDays,
		ComputedAt:  now.UTC(),
	}
	if len(trades) == 0 {
		return f, nil
	}

	settled, err := a.paper.SettledByWallet(ctx, proxyWallet, tr)
	if err != nil {
		return domain.WalletFeatures{}, fmt.Errorf("load settled paper for %s: %w", proxyWallet, err)
	}
	positions, err := a.trades.LatestPositions(ctx, proxyWallet)
	if err != nil {
		return domain.WalletFeatures{}, fmt.Errorf("load positions for %s: %w", proxyWallet, err)
	}

	fillTradeStats(&f, trades, windowDays)
	a.fillCategories(ctx, &f, trades)
	fillOutcomes(&f, trades, settled)
	fillOpenPositions(&f, positions)
	fillPnLSeries(&f, settled, a.cfg.Trading.BankrollUSD)

	f.AdjustedWinRate = domain.AdjustedWinRate(
		f.WinCount, f.LossCount, f.OpenLosingPositions,
		a.cfg.BagHold.LossWeightK, a.cfg.BagHold.OpenLosingCap)

	return f, nil
}

// fillTradeStats derives the volume and rhythm metrics from raw trades.
func fillTradeStats(f *domain.WalletFeatures, trades []domain.SourceTrade, windowDays int) {
	f.TradeCount = len(trades)

	markets := make(map[string]bool)
	hourBuckets := make(map[int64]int)
	var sizeSum float64
	buys := 0
	firstTS := map[string]int64{}
	lastTS := map[string]int64{}

	for _, t := range trades {
		markets[t.ConditionID] = true
		sizeSum += t.SizeUSD
		if t.SizeUSD > f.MaxTradeSizeUSD {
			f.MaxTradeSizeUSD = t.SizeUSD
		}
		hourBuckets[t.Timestamp/3600]++
		if t.Side == domain.SideBuy {
			buys++
		}
		if ts, ok := firstTS[t.ConditionID]; !ok || t.Timestamp < ts {
			firstTS[t.ConditionID] = t.Timestamp
		}
		if ts, ok := lastTS[t.ConditionID]; !ok || t.Timestamp > ts {
			lastTS[t.ConditionID] = t.Timestamp
		}
	}

	f.UniqueMarkets = len(markets)
	f.AvgPositionSizeUSD = sizeSum / float64(len(trades))
	f.TradesPerWeek = float64(len(trades)) / float64(windowDays) * 7.0
	f.TradesPerDay = float64(len(trades)) / float64(windowDays)
	f.BuySellBalance = float64(buys) / float64(len(trades))

	maxHour := 0
	for _, n := range hourBuckets {
		if n > maxHour {
			maxHour = n
		}
	}
	f.BurstinessTop1hRatio = float64(maxHour) / float64(len(trades))

	var holdSum float64
	held := 0
	for cid, first := range firstTS {
		if last := lastTS[cid]; last > first {
			holdSum += float64(last-first) / 3600.0
			held++
		}
	}
	if held > 0 {
		f.AvgHoldTimeHours = holdSum / float64(held)
	}
}

// fillCategories finds the wallet's dominant market theme. Market lookups
// that fail degrade to an uncategorized bucket rather than failing the
// whole feature row.
func (a *Aggregator) fillCategories(ctx context.Context, f *domain.WalletFeatures, trades []domain.SourceTrade) {
	counts := make(map[string]int)
	cache := make(map[string]string)
	for _, t := range trades {
		cat, ok := cache[t.ConditionID]
		if !ok {
			m, err := a.markets.Get(ctx, t.ConditionID)
			if err != nil {
				log.Warn().Err(err).Str("market", t.ConditionID).Msg("market lookup failed, counting as uncategorized")
			}
			cat = m.Category
			cache[t.ConditionID] = cat
		}
		counts[cat]++
	}

	best, bestN := "", 0
	for cat, n := range counts {
		if n > bestN {
			best, bestN = cat, n
		}
	}
	f.TopCategory = best
	if len(trades) > 0 {
		f.TopCategoryRatio = float64(bestN) / float64(len(trades))
	}
}

// fillOutcomes derives win/loss counts. Settled paper outcomes are the
// source of truth when present; otherwise the direction heuristic stands
// in: a SELL above 0.50 counts as a win. That heuristic is a known rough
// proxy and is kept deliberately.
func fillOutcomes(f *domain.WalletFeatures, trades []domain.SourceTrade, settled []domain.PaperTrade) {
	if len(settled) > 0 {
		var worstLoss, winSum float64
		var quickWins int
		for _, t := range settled {
			if t.Status == domain.StatusSettledWin {
				f.WinCount++
				winSum += *t.PnL
				if t.SettledAt != nil && t.SettledAt.Sub(t.CreatedAt) < time.Hour {
					quickWins++
				}
			} else {
				f.LossCount++
				if *t.PnL < worstLoss {
					worstLoss = *t.PnL
				}
			}
		}
		if f.WinCount > 0 && worstLoss < 0 {
			avgWin := winSum / float64(f.WinCount)
			if avgWin > 0 {
				f.WorstLossToAvgWin = -worstLoss / avgWin
			}
		}
		if f.WinCount > 0 {
			f.ExecutionPnLRatio = float64(quickWins) / float64(f.WinCount)
		}
	} else {
		quickWins := 0
		lastBuy := map[string]int64{}
		for i := len(trades) - 1; i >= 0; i-- { // oldest first
			t := trades[i]
			switch t.Side {
			case domain.SideBuy:
				lastBuy[t.ConditionID] = t.Timestamp
			case domain.SideSell:
				if t.Price > 0.5 {
					f.WinCount++
					if buyTS, ok := lastBuy[t.ConditionID]; ok && t.Timestamp-buyTS < 3600 {
						quickWins++
					}
				} else {
					f.LossCount++
				}
			}
		}
		if f.WinCount > 0 {
			f.ExecutionPnLRatio = float64(quickWins) / float64(f.WinCount)
		}
	}

	if total := f.WinCount + f.LossCount; total > 0 {
		f.RawWinRate = float64(f.WinCount) / float64(total)
	}
}

// fillOpenPositions aggregates the latest snapshot per market. Callers
// guarantee the slice holds at most one row per market.
func fillOpenPositions(f *domain.WalletFeatures, positions []domain.PositionSnapshot) {
	for _, p := range positions {
		if p.SizeUSD <= 0 {
			continue
		}
		f.OpenPositionsTotal++
		if p.CashPnL < 0 {
			f.OpenLosingPositions++
			f.OpenUnrealizedLossUSD += -p.CashPnL
		}
	}
}

// fillPnLSeries derives drawdown, the sharpe proxy and ROI from the
// settled paper series bucketed by day.
func fillPnLSeries(f *domain.WalletFeatures, settled []domain.PaperTrade, bankrollUSD float64) {
	if len(settled) == 0 {
		return
	}

	daily := make(map[string]float64)
	var total float64
	for _, t := range settled {
		total += *t.PnL
		if t.SettledAt != nil {
			daily[t.SettledAt.UTC().Format("2006-01-02")] += *t.PnL
		}
	}
	f.TotalPnLUSD = total
	if bankrollUSD > 0 {
		f.PaperROIPct = total / bankrollUSD * 100.0
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	var cum, peak, maxDD float64
	returns := make([]float64, 0, len(days))
	for _, d := range days {
		cum += daily[d]
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
		if bankrollUSD > 0 {
			returns = append(returns, daily[d]/bankrollUSD)
		}
	}
	if bankrollUSD > 0 {
		f.MaxDrawdownPct = maxDD / bankrollUSD * 100.0
	}

	if len(returns) >= 2 {
		var mean float64
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		var variance float64
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns) - 1)
		if sd := math.Sqrt(variance); sd > 0 {
			f.SharpeProxy = mean / sd
		}
	}
}
