package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
)

func newChecker() *Checker {
	return NewChecker(config.DefaultAppConfig())
}

func TestCheckPortfolioAdmitsHealthyState(t *testing.T) {
	c := newChecker()
	rej := c.CheckPortfolio(domain.RiskState{ScopeKey: domain.PortfolioScope}, 0, 25.0, time.Now())
	assert.Nil(t, rej)
}

func TestCheckPortfolioRejections(t *testing.T) {
	c := newChecker()
	now := time.Now()
	later := now.Add(time.Hour)

	tests := []struct {
		name    string
		state   domain.RiskState
		theme   float64
		size    float64
		outcome domain.FidelityOutcome
	}{
		{
			name:    "halted",
			state:   domain.RiskState{Halted: true, HaltReason: "anomaly pause", HaltedUntil: &later},
			size:    25,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "daily loss",
			state:   domain.RiskState{DailyPnL: -15.0},
			size:    25,
			outcome: domain.OutcomeSkippedDailyLoss,
		},
		{
			name:    "weekly loss",
			state:   domain.RiskState{WeeklyPnL: -40.0},
			size:    25,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "open positions",
			state:   domain.RiskState{OpenPositions: 20},
			size:    25,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "exposure",
			state:   domain.RiskState{TotalExposureUSD: 130.0},
			size:    25,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "theme exposure",
			state:   domain.RiskState{},
			theme:   60.0,
			size:    25,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := c.CheckPortfolio(tt.state, tt.theme, tt.size, now)
			require.NotNil(t, rej)
			assert.Equal(t, tt.outcome, rej.Outcome)
			assert.NotEmpty(t, rej.Error())
		})
	}
}

func TestCheckPortfolioExpiredHaltPasses(t *testing.T) {
	c := newChecker()
	now := time.Now()
	past := now.Add(-time.Hour)
	state := domain.RiskState{Halted: true, HaltedUntil: &past}

	assert.Nil(t, c.CheckPortfolio(state, 0, 25.0, now))
}

func TestCheckPortfolioHaltWithoutExpiryHolds(t *testing.T) {
	c := newChecker()
	state := domain.RiskState{Halted: true, HaltReason: "manual"}

	rej := c.CheckPortfolio(state, 0, 25.0, time.Now())
	require.NotNil(t, rej)
	assert.Contains(t, rej.Reason, "manual")
}

func TestCheckWalletRejections(t *testing.T) {
	c := newChecker()
	now := time.Now()

	tests := []struct {
		name    string
		state   domain.RiskState
		outcome domain.FidelityOutcome
	}{
		{"daily loss", domain.RiskState{DailyPnL: -5.0}, domain.OutcomeSkippedDailyLoss},
		{"weekly loss", domain.RiskState{WeeklyPnL: -15.0}, domain.OutcomeSkippedWalletRisk},
		// 6% drawdown on a $1000 bankroll against the 5% cap.
		{"drawdown", domain.RiskState{PeakPnL: 100, CurrentPnL: 40}, domain.OutcomeSkippedWalletRisk},
		{"open positions", domain.RiskState{OpenPositions: 8}, domain.OutcomeSkippedWalletRisk},
		{"exposure", domain.RiskState{TotalExposureUSD: 40.0}, domain.OutcomeSkippedWalletRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := c.CheckWallet(tt.state, 25.0, now)
			require.NotNil(t, rej)
			assert.Equal(t, tt.outcome, rej.Outcome)
		})
	}
}

func TestHeadroom(t *testing.T) {
	c := newChecker()

	// Portfolio allows $10 more, the wallet $30: the tighter budget wins.
	h := c.Headroom(
		domain.RiskState{TotalExposureUSD: 140},
		domain.RiskState{TotalExposureUSD: 20},
	)
	assert.InDelta(t, 10.0, h, 1e-9)

	// Over-exposure never reports negative headroom.
	h = c.Headroom(
		domain.RiskState{TotalExposureUSD: 200},
		domain.RiskState{TotalExposureUSD: 0},
	)
	assert.Zero(t, h)
}

func TestFidelityPct(t *testing.T) {
	assert.Equal(t, 100.0, FidelityPct(nil))

	events := []domain.FidelityEvent{
		{Outcome: domain.OutcomeCopied},
		{Outcome: domain.OutcomeCopied},
		{Outcome: domain.OutcomeSkippedNoFill},
		{Outcome: domain.OutcomeCopied},
	}
	assert.InDelta(t, 75.0, FidelityPct(events), 1e-9)
}

func TestAvgSlippageCents(t *testing.T) {
	assert.Zero(t, AvgSlippageCents(nil))

	recs := []domain.SlippageRecord{
		{SlippageCents: 1.0},
		{SlippageCents: 2.0},
		{SlippageCents: 3.0},
	}
	assert.InDelta(t, 2.0, AvgSlippageCents(recs), 1e-9)
}
