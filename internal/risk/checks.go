// Package risk enforces the two-level copy budget: one portfolio
// aggregate and one aggregate per followed wallet. Checks are ordered
// hard gates returning typed rejections; a rejection is a policy outcome,
// not a failure, and every one is audited by the caller.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
)

// Rejection is a typed risk refusal. It carries the fidelity outcome the
// audit trail records and a human-readable dollars-versus-limit detail.
type Rejection struct {
	Outcome domain.FidelityOutcome
	Reason  string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(outcome domain.FidelityOutcome, format string, args ...any) *Rejection {
	return &Rejection{Outcome: outcome, Reason: fmt.Sprintf(format, args...)}
}

// Checker evaluates risk budgets against committed RiskState rows.
type Checker struct {
	cfg config.AppConfig
}

// NewChecker wires a checker.
func NewChecker(cfg config.AppConfig) *Checker {
	return &Checker{cfg: cfg}
}

// CheckPortfolio gates a prospective trade of tradeSizeUSD against the
// portfolio aggregate. Order: halt, daily loss, weekly loss, concurrent
// positions, exposure, theme exposure. First failure wins.
func (c *Checker) CheckPortfolio(state domain.RiskState, themeExposureUSD, tradeSizeUSD float64, now time.Time) *Rejection {
	b := c.cfg.Risk.Portfolio

	if state.HaltActive(now) {
		return reject(domain.OutcomeSkippedPortfolioRisk, "portfolio halted: %s", state.HaltReason)
	}
	if -state.DailyPnL >= b.MaxDailyLossUSD {
		return reject(domain.OutcomeSkippedDailyLoss,
			"portfolio daily loss $%.2f exceeds limit $%.2f", -state.DailyPnL, b.MaxDailyLossUSD)
	}
	if -state.WeeklyPnL >= b.MaxWeeklyLossUSD {
		return reject(domain.OutcomeSkippedPortfolioRisk,
			"portfolio weekly loss $%.2f exceeds limit $%.2f", -state.WeeklyPnL, b.MaxWeeklyLossUSD)
	}
	if state.OpenPositions >= b.MaxOpenPositions {
		return reject(domain.OutcomeSkippedPortfolioRisk,
			"portfolio has %d open positions, limit is %d", state.OpenPositions, b.MaxOpenPositions)
	}
	if state.TotalExposureUSD+tradeSizeUSD > b.MaxExposureUSD {
		return reject(domain.OutcomeSkippedPortfolioRisk,
			"portfolio exposure $%.2f exceeds limit $%.2f", state.TotalExposureUSD+tradeSizeUSD, b.MaxExposureUSD)
	}
	if themeExposureUSD+tradeSizeUSD > c.cfg.Risk.MaxThemeExposureUSD {
		return reject(domain.OutcomeSkippedPortfolioRisk,
			"theme exposure $%.2f exceeds limit $%.2f", themeExposureUSD+tradeSizeUSD, c.cfg.Risk.MaxThemeExposureUSD)
	}
	return nil
}

// CheckWallet gates the trade against the followed wallet's aggregate.
// Order: halt, daily loss, weekly loss, drawdown, concurrent positions,
// exposure.
func (c *Checker) CheckWallet(state domain.RiskState, tradeSizeUSD float64, now time.Time) *Rejection {
	b := c.cfg.Risk.PerWallet

	if state.HaltActive(now) {
		return reject(domain.OutcomeSkippedWalletRisk, "wallet halted: %s", state.HaltReason)
	}
	if -state.DailyPnL >= b.MaxDailyLossUSD {
		return reject(domain.OutcomeSkippedDailyLoss,
			"wallet daily loss $%.2f exceeds limit $%.2f", -state.DailyPnL, b.MaxDailyLossUSD)
	}
	if -state.WeeklyPnL >= b.MaxWeeklyLossUSD {
		return reject(domain.OutcomeSkippedWalletRisk,
			"wallet weekly loss $%.2f exceeds limit $%.2f", -state.WeeklyPnL, b.MaxWeeklyLossUSD)
	}
	if dd := state.DrawdownPct(c.cfg.Trading.BankrollUSD); dd > b.MaxDrawdownPct {
		return reject(domain.OutcomeSkippedWalletRisk,
			"wallet drawdown %.1f%% exceeds limit %.1f%%", dd, b.MaxDrawdownPct)
	}
	if state.OpenPositions >= b.MaxOpenPositions {
		return reject(domain.OutcomeSkippedWalletRisk,
			"wallet has %d open positions, limit is %d", state.OpenPositions, b.MaxOpenPositions)
	}
	if state.TotalExposureUSD+tradeSizeUSD > b.MaxExposureUSD {
		return reject(domain.OutcomeSkippedWalletRisk,
			"wallet exposure $%.2f exceeds limit $%.2f", state.TotalExposureUSD+tradeSizeUSD, b.MaxExposureUSD)
	}
	return nil
}

// Headroom is the largest trade both budgets still admit.
func (c *Checker) Headroom(portfolio, wallet domain.RiskState) float64 {
	p := c.cfg.Risk.Portfolio.MaxExposureUSD - portfolio.TotalExposureUSD
	w := c.cfg.Risk.PerWallet.MaxExposureUSD - wallet.TotalExposureUSD
	h := math.Min(p, w)
	if h < 0 {
		return 0
	}
	return h
}

// FidelityPct is the share of observed source trades that were copied,
// in percent. An empty history counts as perfect fidelity.
func FidelityPct(events []domain.FidelityEvent) float64 {
	if len(events) == 0 {
		return 100.0
	}
	copied := 0
	for _, ev := range events {
		if ev.Outcome == domain.OutcomeCopied {
			copied++
		}
	}
	return float64(copied) / float64(len(events)) * 100.0
}

// AvgSlippageCents averages the recent per-trade entry slippage.
func AvgSlippageCents(recs []domain.SlippageRecord) float64 {
	if len(recs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range recs {
		sum += r.SlippageCents
	}
	return sum / float64(len(recs))
}
