package domain

import "time"

// PortfolioScope is the risk_states key for the whole-portfolio aggregate;
// every other row is keyed by the followed wallet's address.
const PortfolioScope = "portfolio"

// RiskState is one risk budget aggregate: either the portfolio row or a
// per-wallet row. Mutated only by the mirror engine and the settlement
// engine, inside the same transaction as the trade rows they write.
type RiskState struct {
	ScopeKey         string     `json:"scope_key" db:"scope_key"`
	TotalExposureUSD float64    `json:"total_exposure_usd" db:"total_exposure_usd"`
	DailyPnL         float64    `json:"daily_pnl" db:"daily_pnl"`
	WeeklyPnL        float64    `json:"weekly_pnl" db:"weekly_pnl"`
	PeakPnL          float64    `json:"peak_pnl" db:"peak_pnl"`
	CurrentPnL       float64    `json:"current_pnl" db:"current_pnl"`
	OpenPositions    int        `json:"open_positions" db:"open_positions"`
	Halted           bool       `json:"halted" db:"halted"`
	HaltReason       string     `json:"halt_reason" db:"halt_reason"`
	HaltedUntil      *time.Time `json:"halted_until,omitempty" db:"halted_until"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// HaltActive reports whether the halt blocks decisions at the given time.
// A halt with no expiry holds until explicitly cleared.
func (s RiskState) HaltActive(now time.Time) bool {
	if !s.Halted {
		return false
	}
	if s.HaltedUntil == nil {
		return true
	}
	return now.Before(*s.HaltedUntil)
}

// DrawdownPct is the percent decline from the peak PnL watermark.
func (s RiskState) DrawdownPct(bankrollUSD float64) float64 {
	if bankrollUSD <= 0 {
		return 0
	}
	dd := s.PeakPnL - s.CurrentPnL
	if dd <= 0 {
		return 0
	}
	return dd / bankrollUSD * 100.0
}

// FidelityEvent is one append-only audit row recording what the engine
// decided for one observed source trade and why.
type FidelityEvent struct {
	ID            int64           `json:"id" db:"id"`
	ProxyWallet   string          `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID   string          `json:"condition_id" db:"condition_id"`
	SourceTradeID int64           `json:"source_trade_id" db:"source_trade_id"`
	Outcome       FidelityOutcome `json:"outcome" db:"outcome"`
	Detail        string          `json:"detail" db:"detail"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SlippageRecord captures the price gap between the source wallet's fill
// and our simulated fill, in cents per share, plus the fee charged.
type SlippageRecord struct {
	ID            int64     `json:"id" db:"id"`
	ProxyWallet   string    `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID   string    `json:"condition_id" db:"condition_id"`
	SourcePrice   float64   `json:"source_price" db:"source_price"`
	OurPrice      float64   `json:"our_price" db:"our_price"`
	SlippageCents float64   `json:"slippage_cents" db:"slippage_cents"`
	FeeApplied    float64   `json:"fee_applied" db:"fee_applied"`
	SourceTradeID int64     `json:"source_trade_id" db:"source_trade_id"`
	PaperTradeID  int64     `json:"paper_trade_id" db:"paper_trade_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// SlippageCents is the absolute entry-price gap expressed in cents.
func SlippageCents(sourcePrice, ourPrice float64) float64 {
	d := ourPrice - sourcePrice
	if d < 0 {
		d = -d
	}
	return d * 100.0
}
