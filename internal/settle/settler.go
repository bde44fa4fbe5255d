// Package settle closes open paper trades when their market resolves.
// Settlement is a one-way state machine (open → settled_win|settled_loss)
// applied atomically per market and idempotent under re-delivery.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// PnL computes the realized profit of a settled trade: the per-share move
// from entry to the terminal price (1.0 or 0.0), scaled by the USD stake.
// SELL is the mirror sign. Buying $25 at 0.60 settles +$10 on YES, -$15
// on NO.
func PnL(side domain.Side, entryPrice, sizeUSD, settlePrice float64) float64 {
	if side == domain.SideBuy {
		return (settlePrice - entryPrice) * sizeUSD
	}
	return (entryPrice - settlePrice) * sizeUSD
}

// Settler applies market resolutions to the paper book.
type Settler struct {
	markets persistence.MarketsRepo
	paper   persistence.PaperRepo
}

// NewSettler wires a settler.
func NewSettler(markets persistence.MarketsRepo, paper persistence.PaperRepo) *Settler {
	return &Settler{markets: markets, paper: paper}
}

// Apply records the resolution on the market row and settles its open
// paper trades. Safe to call again with the same event: the second pass
// matches zero open rows.
func (s *Settler) Apply(ctx context.Context, res domain.Resolution, now time.Time) (int, error) {
	if res.Price != 0 && res.Price != 1 {
		return 0, fmt.Errorf("resolution price must be terminal (0 or 1), got %.4f", res.Price)
	}

	if err := s.markets.MarkResolved(ctx, res.ConditionID, res.Price); err != nil {
		return 0, fmt.Errorf("mark market resolved: %w", err)
	}

	settled, err := s.paper.SettleMarket(ctx, res.ConditionID, res.Price, now)
	if err != nil {
		return 0, fmt.Errorf("settle market %s: %w", res.ConditionID, err)
	}

	for _, t := range settled {
		log.Info().
			Str("wallet", t.ProxyWallet).
			Str("market", t.ConditionID).
			Str("status", string(t.Status)).
			Float64("pnl", *t.PnL).
			Msg("settled paper trade")
	}
	return len(settled), nil
}

// SweepResolved settles every resolved market that still carries open
// paper trades. The settlement tick runs this; it is the catch-up path
// for resolutions recorded while settlement was down.
func (s *Settler) SweepResolved(ctx context.Context, limit int, now time.Time) (int, error) {
	markets, err := s.markets.ListResolvedWithOpenTrades(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list resolved markets: %w", err)
	}

	total := 0
	for _, m := range markets {
		settled, err := s.paper.SettleMarket(ctx, m.ConditionID, m.ResolutionPrice, now)
		if err != nil {
			// One bad market must not wedge the sweep.
			log.Warn().Err(err).Str("market", m.ConditionID).Msg("settlement failed, retrying next tick")
			continue
		}
		total += len(settled)
	}
	return total, nil
}
