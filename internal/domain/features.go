package domain

import "time"

// WalletFeatures is one wallet's per-window statistics snapshot. Rows are
// recomputed each classification cycle and replaced keyed by
// wallet+date+window, never mutated in place.
type WalletFeatures struct {
	ProxyWallet string    `json:"proxy_wallet" db:"proxy_wallet"`
	FeatureDate string    `json:"feature_date" db:"feature_date"`
	WindowDays  int       `json:"window_days" db:"window_days"`
	ComputedAt  time.Time `json:"computed_at" db:"computed_at"`

	TradeCount    int     `json:"trade_count" db:"trade_count"`
	WinCount      int     `json:"win_count" db:"win_count"`
	LossCount     int     `json:"loss_count" db:"loss_count"`
	UniqueMarkets int     `json:"unique_markets" db:"unique_markets"`
	TradesPerWeek float64 `json:"trades_per_week" db:"trades_per_week"`

	AvgPositionSizeUSD float64 `json:"avg_position_size_usd" db:"avg_position_size_usd"`
	MaxTradeSizeUSD    float64 `json:"max_trade_size_usd" db:"max_trade_size_usd"`
	AvgHoldTimeHours   float64 `json:"avg_hold_time_hours" db:"avg_hold_time_hours"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct" db:"max_drawdown_pct"`
	SharpeProxy        float64 `json:"sharpe_proxy" db:"sharpe_proxy"`
	TotalPnLUSD        float64 `json:"total_pnl_usd" db:"total_pnl_usd"`

	OpenPositionsTotal    int     `json:"open_positions_total" db:"open_positions_total"`
	OpenLosingPositions   int     `json:"open_losing_positions" db:"open_losing_positions"`
	OpenUnrealizedLossUSD float64 `json:"open_unrealized_loss_usd" db:"open_unrealized_loss_usd"`

	RawWinRate      float64 `json:"raw_win_rate" db:"raw_win_rate"`
	AdjustedWinRate float64 `json:"adjusted_win_rate" db:"adjusted_win_rate"`

	// Execution share of PnL, used by the ExecutionMaster exclusion.
	ExecutionPnLRatio float64 `json:"execution_pnl_ratio" db:"execution_pnl_ratio"`
	// Worst single realized loss relative to the average win, used by the
	// TailRiskSeller exclusion. Zero when there are no wins or no losses.
	WorstLossToAvgWin float64 `json:"worst_loss_to_avg_win" db:"worst_loss_to_avg_win"`
	// Realized paper ROI over the window, percent of bankroll.
	PaperROIPct float64 `json:"paper_roi_pct" db:"paper_roi_pct"`

	// Style metrics. Baselined at approval time and compared by the
	// lifecycle drift check.
	TradesPerDay         float64 `json:"trades_per_day" db:"trades_per_day"`
	BuySellBalance       float64 `json:"buy_sell_balance" db:"buy_sell_balance"`
	BurstinessTop1hRatio float64 `json:"burstiness_top_1h_ratio" db:"burstiness_top_1h_ratio"`
	TopCategory          string  `json:"top_category" db:"top_category"`
	TopCategoryRatio     float64 `json:"top_category_ratio" db:"top_category_ratio"`
}

// AdjustedWinRate inflates the loss denominator by a fraction of open
// losing positions so that wallets sitting on unrealized losers score
// below wallets that close them. cap bounds how many open losers count.
func AdjustedWinRate(wins, losses, openLosing int, k float64, cap int) float64 {
	counted := openLosing
	if counted > cap {
		counted = cap
	}
	denom := float64(wins) + float64(losses) + float64(counted)*k
	if denom <= 0 {
		return 0
	}
	return float64(wins) / denom
}

// StyleSnapshot is the subset of features baselined when a wallet is
// approved for copying; the anomaly and lifecycle checks compare the
// current window against it.
type StyleSnapshot struct {
	TradesPerDay         float64 `json:"trades_per_day"`
	UniqueMarkets        int     `json:"unique_markets"`
	BurstinessTop1hRatio float64 `json:"burstiness_top_1h_ratio"`
	BuySellBalance       float64 `json:"buy_sell_balance"`
	TopCategoryRatio     float64 `json:"top_category_ratio"`
}

// StyleFromFeatures projects a feature row onto its style baseline.
func StyleFromFeatures(f WalletFeatures) StyleSnapshot {
	return StyleSnapshot{
		TradesPerDay:         f.TradesPerDay,
		UniqueMarkets:        f.UniqueMarkets,
		BurstinessTop1hRatio: f.BurstinessTop1hRatio,
		BuySellBalance:       f.BuySellBalance,
		TopCategoryRatio:     f.TopCategoryRatio,
	}
}
