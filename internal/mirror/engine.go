// Package mirror decides, for each observed source trade of a followed
// wallet, whether to copy it into the paper portfolio or skip it with a
// typed reason. The decision sequence is fixed and short-circuits on the
// first failing check; every decision leaves exactly one audit row.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/book"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/fees"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/risk"
)

// Decision is the outcome of one mirror evaluation.
type Decision struct {
	Outcome      domain.FidelityOutcome
	Reason       string
	PaperTradeID int64
	FillPrice    float64
	SizeUSD      float64
	FeePaid      float64
}

// Copied reports whether the decision created a paper trade.
func (d Decision) Copied() bool { return d.Outcome == domain.OutcomeCopied }

// Engine evaluates source trades against risk state, market metadata and
// order-book depth.
type Engine struct {
	markets persistence.MarketsRepo
	paper   persistence.PaperRepo
	checker *risk.Checker
	cfg     config.AppConfig
}

// NewEngine wires a mirror engine.
func NewEngine(markets persistence.MarketsRepo, paper persistence.PaperRepo, checker *risk.Checker, cfg config.AppConfig) *Engine {
	return &Engine{markets: markets, paper: paper, checker: checker, cfg: cfg}
}

// Decide evaluates one source trade. A returned error means the decision
// could not be made this cycle (the trade stays undecided and is retried);
// a skip is a successful decision with a typed reason.
func (e *Engine) Decide(ctx context.Context, t domain.SourceTrade, now time.Time) (Decision, error) {
	market, err := e.markets.Get(ctx, t.ConditionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			// Unknown market: treat as closed rather than guessing fees
			// and theme exposure for a market we cannot verify.
			return e.skip(ctx, t, domain.OutcomeSkippedMarketClosed, "market metadata unavailable")
		}
		return Decision{}, fmt.Errorf("load market %s: %w", t.ConditionID, err)
	}

	// 1. Market closed. This check also serializes mirroring against
	// settlement for the same market: a resolved market can never gain
	// new copies regardless of job interleaving.
	if market.Resolved {
		return e.skip(ctx, t, domain.OutcomeSkippedMarketClosed,
			fmt.Sprintf("market resolved at %.2f", market.ResolutionPrice))
	}
	if !market.EndDate.IsZero() && now.After(market.EndDate) {
		return e.skip(ctx, t, domain.OutcomeSkippedMarketClosed, "market past end date")
	}

	size := e.provisionalSize(t)

	// 2. Portfolio budget.
	portfolio, err := e.paper.GetRiskState(ctx, domain.PortfolioScope)
	if err != nil {
		return Decision{}, fmt.Errorf("load portfolio risk state: %w", err)
	}
	themeExposure, err := e.paper.OpenExposureByTheme(ctx, market.Category)
	if err != nil {
		return Decision{}, fmt.Errorf("load theme exposure: %w", err)
	}
	if rej := e.checker.CheckPortfolio(portfolio, themeExposure, size, now); rej != nil {
		return e.skip(ctx, t, rej.Outcome, rej.Reason)
	}

	// 3. Wallet budget.
	wallet, err := e.paper.GetRiskState(ctx, t.ProxyWallet)
	if err != nil {
		return Decision{}, fmt.Errorf("load wallet risk state: %w", err)
	}
	if rej := e.checker.CheckWallet(wallet, size, now); rej != nil {
		return e.skip(ctx, t, rej.Outcome, rej.Reason)
	}

	// 4. Detection lag.
	lag := now.Sub(time.Unix(t.Timestamp, 0))
	if lag > time.Duration(e.cfg.Trading.MaxDetectionLag) {
		return e.skip(ctx, t, domain.OutcomeSkippedDetectionLag,
			fmt.Sprintf("detected %s after the source trade, budget is %s", lag.Round(time.Second), e.cfg.Trading.MaxDetectionLag))
	}

	// Remaining headroom can only shrink the trade, never block it: the
	// budget checks above already admitted this size or smaller.
	if h := e.checker.Headroom(portfolio, wallet); size > h {
		size = h
	}

	// 5. Fill simulation.
	fillPrice, slippageApplied, err := e.simulateFill(ctx, t, size, now)
	if err != nil {
		if errors.Is(err, book.ErrInsufficientDepth) {
			return e.skip(ctx, t, domain.OutcomeSkippedNoFill,
				fmt.Sprintf("book depth cannot absorb $%.2f", size))
		}
		return Decision{}, err
	}

	// 6. Fee, crypto-15m markets only. The fee rate is folded into the
	// persisted entry price (worse on buys, worse on sells) so settlement
	// PnL pays it without a separate deduction.
	feeRate := fees.ForMarket(market.IsCrypto15m, fillPrice)
	fee := feeRate * size
	entryPrice := fillPrice + feeRate
	if t.Side == domain.SideSell {
		entryPrice = fillPrice - feeRate
	}

	// 7. Persist: trade, audit rows and exposure counters in one commit.
	paperTrade := domain.PaperTrade{
		ProxyWallet:     t.ProxyWallet,
		ConditionID:     t.ConditionID,
		Side:            t.Side,
		Outcome:         t.Outcome,
		OutcomeIndex:    t.OutcomeIndex,
		SizeUSD:         size,
		EntryPrice:      entryPrice,
		FeePaid:         fee,
		SlippageApplied: slippageApplied,
		SourceTradeID:   t.ID,
		Status:          domain.StatusOpen,
	}
	slip := domain.SlippageRecord{
		ProxyWallet:   t.ProxyWallet,
		ConditionID:   t.ConditionID,
		SourcePrice:   t.Price,
		OurPrice:      fillPrice,
		SlippageCents: domain.SlippageCents(t.Price, fillPrice),
		FeeApplied:    fee,
		SourceTradeID: t.ID,
	}

	tradeID, err := e.paper.CreateCopy(ctx, paperTrade, slip)
	if err != nil {
		return Decision{}, fmt.Errorf("persist copy: %w", err)
	}

	log.Info().
		Str("wallet", t.ProxyWallet).
		Str("market", t.ConditionID).
		Str("side", string(t.Side)).
		Float64("size_usd", size).
		Float64("fill", fillPrice).
		Float64("fee", fee).
		Msg("copied source trade")

	return Decision{
		Outcome:      domain.OutcomeCopied,
		PaperTradeID: tradeID,
		FillPrice:    fillPrice,
		SizeUSD:      size,
		FeePaid:      fee,
	}, nil
}

// provisionalSize is the trade size before headroom capping: the smaller
// of the flat per-trade amount and proportional sizing, bounded by the
// single-trade bankroll cap.
func (e *Engine) provisionalSize(t domain.SourceTrade) float64 {
	tc := e.cfg.Trading
	proportional := t.SizeUSD * tc.BankrollUSD / tc.DefaultTheirBankroll
	size := math.Min(tc.PerTradeUSD, proportional)
	if hardCap := tc.BankrollUSD * tc.SingleTradeCapFrac; size > hardCap {
		size = hardCap
	}
	return size
}

// simulateFill walks the latest fresh book snapshot, or falls back to the
// flat default slippage when no usable snapshot exists. Returns the fill
// price and the slippage actually applied on the fallback path.
func (e *Engine) simulateFill(ctx context.Context, t domain.SourceTrade, sizeUSD float64, now time.Time) (price, slippageApplied float64, err error) {
	snap, err := e.markets.LatestBook(ctx, t.ConditionID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return 0, 0, fmt.Errorf("load book for %s: %w", t.ConditionID, err)
		}
		return book.FallbackPrice(t.Side, t.Price, e.cfg.Trading.DefaultSlippage), e.cfg.Trading.DefaultSlippage, nil
	}
	if now.Sub(snap.SnapshotAt) > time.Duration(e.cfg.Trading.BookMaxAge) {
		return book.FallbackPrice(t.Side, t.Price, e.cfg.Trading.DefaultSlippage), e.cfg.Trading.DefaultSlippage, nil
	}

	fill, err := book.Walk(snap, t.Side, sizeUSD, 0)
	if err != nil {
		return 0, 0, err
	}
	return fill.VWAP, 0, nil
}

// skip records the typed skip event and returns the decision. Exposure
// counters are untouched by design.
func (e *Engine) skip(ctx context.Context, t domain.SourceTrade, outcome domain.FidelityOutcome, reason string) (Decision, error) {
	ev := domain.FidelityEvent{
		ProxyWallet:   t.ProxyWallet,
		ConditionID:   t.ConditionID,
		SourceTradeID: t.ID,
		Outcome:       outcome,
		Detail:        reason,
	}
	if err := e.paper.RecordSkip(ctx, ev); err != nil {
		return Decision{}, fmt.Errorf("record skip: %w", err)
	}

	log.Debug().
		Str("wallet", t.ProxyWallet).
		Str("market", t.ConditionID).
		Str("outcome", string(outcome)).
		Str("reason", reason).
		Msg("skipped source trade")

	return Decision{Outcome: outcome, Reason: reason}, nil
}
