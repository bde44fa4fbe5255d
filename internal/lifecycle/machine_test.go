package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

type fakeWallets struct {
	persistence.WalletsRepo
	row    persistence.LifecycleRow
	rowErr error
	saved  []persistence.LifecycleRow
	events []persistence.LifecycleEvent
}

func (f *fakeWallets) GetLifecycle(_ context.Context, _ string) (persistence.LifecycleRow, error) {
	return f.row, f.rowErr
}

func (f *fakeWallets) UpsertLifecycle(_ context.Context, row persistence.LifecycleRow) error {
	f.saved = append(f.saved, row)
	return nil
}

func (f *fakeWallets) AppendLifecycleEvent(_ context.Context, ev persistence.LifecycleEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeFeatures struct {
	persistence.FeaturesRepo
	row domain.WalletFeatures
}

func (f *fakeFeatures) Latest(_ context.Context, _ string, _ int) (domain.WalletFeatures, error) {
	return f.row, nil
}

type fakePaper struct {
	persistence.PaperRepo
	settled  []domain.PaperTrade
	fidelity []domain.FidelityEvent
	risk     domain.RiskState
}

func (f *fakePaper) SettledByWallet(_ context.Context, _ string, _ persistence.TimeRange) ([]domain.PaperTrade, error) {
	return f.settled, nil
}

func (f *fakePaper) FidelityByWallet(_ context.Context, _ string, _ persistence.TimeRange) ([]domain.FidelityEvent, error) {
	return f.fidelity, nil
}

func (f *fakePaper) GetRiskState(_ context.Context, _ string) (domain.RiskState, error) {
	return f.risk, nil
}

type fakeClassify struct {
	persistence.ClassifyRepo
	err error
}

func (f *fakeClassify) CurrentPersona(_ context.Context, _ string) (persistence.PersonaRow, error) {
	return persistence.PersonaRow{Persona: domain.PersonaConsistentGeneralist}, f.err
}

func settledTrades(n, wins int) []domain.PaperTrade {
	out := make([]domain.PaperTrade, 0, n)
	for i := 0; i < n; i++ {
		pnl := 5.0
		status := domain.StatusSettledWin
		if i >= wins {
			pnl = -2.0
			status = domain.StatusSettledLoss
		}
		out = append(out, domain.PaperTrade{Status: status, PnL: &pnl})
	}
	return out
}

func newMachine(w *fakeWallets, f *fakeFeatures, p *fakePaper, c *fakeClassify) *Machine {
	return NewMachine(w, f, p, c, config.DefaultAppConfig())
}

func TestCandidatePromotedToPaperTrading(t *testing.T) {
	w := &fakeWallets{rowErr: persistence.ErrNotFound}
	m := newMachine(w, &fakeFeatures{row: domain.WalletFeatures{TradeCount: 25}}, &fakePaper{}, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaperTrading, row.State)
	require.Len(t, w.events, 1)
	assert.True(t, w.events[0].Allow)
	assert.Equal(t, "promoted_to_paper_trading", w.events[0].Reason)
}

func TestCandidateHeldWithoutEnoughTrades(t *testing.T) {
	w := &fakeWallets{rowErr: persistence.ErrNotFound}
	m := newMachine(w, &fakeFeatures{row: domain.WalletFeatures{TradeCount: 5}}, &fakePaper{}, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateCandidate, row.State)
	require.Len(t, w.events, 1)
	assert.False(t, w.events[0].Allow)
}

func TestCandidateHeldWithoutPersona(t *testing.T) {
	w := &fakeWallets{rowErr: persistence.ErrNotFound}
	m := newMachine(w, &fakeFeatures{}, &fakePaper{}, &fakeClassify{err: persistence.ErrNotFound})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateCandidate, row.State)
	assert.Equal(t, "not_followable_persona_gate", w.events[0].Reason)
}

func TestPaperTradingApprovedWithBaseline(t *testing.T) {
	w := &fakeWallets{row: persistence.LifecycleRow{ProxyWallet: "0xabc", State: domain.StatePaperTrading}}
	p := &fakePaper{
		settled: settledTrades(20, 12), // 60% hit rate, net +$44 ROI 4.4%
	}
	feats := &fakeFeatures{row: domain.WalletFeatures{TradesPerDay: 2.5, UniqueMarkets: 9}}
	m := newMachine(w, feats, p, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, row.State)
	require.NotNil(t, row.BaselineStyle)
	assert.Equal(t, 2.5, row.BaselineStyle.TradesPerDay)
	assert.Equal(t, "approved_for_copying", w.events[0].Reason)
}

func TestPaperTradingHeldByGates(t *testing.T) {
	tests := []struct {
		name   string
		paper  *fakePaper
		reason string
	}{
		{
			name:   "too few settled",
			paper:  &fakePaper{settled: settledTrades(5, 4)},
			reason: "not_enough_settled_paper_trades",
		},
		{
			name:   "roi below floor",
			paper:  &fakePaper{settled: settledTrades(20, 8)}, // net +$16: ROI 1.6%
			reason: "paper_roi_below_threshold",
		},
		{
			name:   "hit rate below floor",
			paper:  &fakePaper{settled: settledTrades(20, 9)}, // ROI 2.3% but 45% hit rate
			reason: "paper_hit_rate_below_threshold",
		},
		{
			name: "fidelity below floor",
			paper: &fakePaper{
				settled: settledTrades(20, 12),
				fidelity: []domain.FidelityEvent{
					{Outcome: domain.OutcomeCopied},
					{Outcome: domain.OutcomeSkippedNoFill},
					{Outcome: domain.OutcomeSkippedWalletRisk},
					{Outcome: domain.OutcomeSkippedNoFill},
				},
			},
			reason: "copy_fidelity_below_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWallets{row: persistence.LifecycleRow{ProxyWallet: "0xabc", State: domain.StatePaperTrading}}
			m := newMachine(w, &fakeFeatures{}, tt.paper, &fakeClassify{})

			row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
			require.NoError(t, err)
			assert.Equal(t, domain.StatePaperTrading, row.State)
			assert.Equal(t, tt.reason, w.events[0].Reason)
		})
	}
}

func TestApprovedStoppedOnDrawdownBreach(t *testing.T) {
	w := &fakeWallets{row: persistence.LifecycleRow{ProxyWallet: "0xabc", State: domain.StateApproved}}
	// 12% drawdown on the $1000 bankroll against the 10% cap.
	p := &fakePaper{risk: domain.RiskState{PeakPnL: 100, CurrentPnL: -20}}
	m := newMachine(w, &fakeFeatures{}, p, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, row.State)
	assert.Equal(t, "live_drawdown_breach", w.events[0].Reason)
}

func TestApprovedStoppedOnStyleDrift(t *testing.T) {
	baseline := domain.StyleSnapshot{TradesPerDay: 2, UniqueMarkets: 10}
	w := &fakeWallets{row: persistence.LifecycleRow{
		ProxyWallet:   "0xabc",
		State:         domain.StateApproved,
		BaselineStyle: &baseline,
	}}
	// Trade rate tripled and market breadth collapsed.
	feats := &fakeFeatures{row: domain.WalletFeatures{TradesPerDay: 6, UniqueMarkets: 2}}
	m := newMachine(w, feats, &fakePaper{}, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, row.State)
	assert.Equal(t, "style_drift_breach", w.events[0].Reason)
}

func TestApprovedStoppedWhenPersonaRevoked(t *testing.T) {
	w := &fakeWallets{row: persistence.LifecycleRow{ProxyWallet: "0xabc", State: domain.StateApproved}}
	m := newMachine(w, &fakeFeatures{}, &fakePaper{}, &fakeClassify{err: persistence.ErrNotFound})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, row.State)
}

func TestStoppedIsTerminal(t *testing.T) {
	w := &fakeWallets{row: persistence.LifecycleRow{ProxyWallet: "0xabc", State: domain.StateStopped}}
	m := newMachine(w, &fakeFeatures{row: domain.WalletFeatures{TradeCount: 100}}, &fakePaper{}, &fakeClassify{})

	row, err := m.Evaluate(context.Background(), "0xabc", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, row.State)
	assert.Empty(t, w.events)
}

func TestStyleDrift(t *testing.T) {
	base := domain.StyleSnapshot{
		TradesPerDay:         2,
		UniqueMarkets:        10,
		BurstinessTop1hRatio: 0.2,
		BuySellBalance:       0.5,
		TopCategoryRatio:     0.4,
	}

	assert.Zero(t, StyleDrift(base, base))

	// Every component at its cap sums to the full weight budget.
	drifted := domain.StyleSnapshot{
		TradesPerDay:         10,
		UniqueMarkets:        0,
		BurstinessTop1hRatio: 1.5,
		BuySellBalance:       1.8,
		TopCategoryRatio:     1.5,
	}
	assert.InDelta(t, 1.0, StyleDrift(base, drifted), 1e-9)

	// A zero baseline with current activity counts as a full delta.
	assert.InDelta(t, 0.30, StyleDrift(domain.StyleSnapshot{}, domain.StyleSnapshot{TradesPerDay: 1}), 1e-9)
}
