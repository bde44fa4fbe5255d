package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/fees"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/risk"
	"github.com/sawpanic/copyrun/internal/settle"
)

type fakeMarkets struct {
	persistence.MarketsRepo
	market    domain.Market
	marketErr error
	book      domain.BookSnapshot
	bookErr   error
}

func (f *fakeMarkets) Get(_ context.Context, _ string) (domain.Market, error) {
	return f.market, f.marketErr
}

func (f *fakeMarkets) LatestBook(_ context.Context, _ string) (domain.BookSnapshot, error) {
	return f.book, f.bookErr
}

type fakePaper struct {
	persistence.PaperRepo
	states        map[string]domain.RiskState
	themeExposure float64
	skips         []domain.FidelityEvent
	copies        []domain.PaperTrade
	slips         []domain.SlippageRecord
}

func (f *fakePaper) GetRiskState(_ context.Context, scopeKey string) (domain.RiskState, error) {
	return f.states[scopeKey], nil
}

func (f *fakePaper) OpenExposureByTheme(_ context.Context, _ string) (float64, error) {
	return f.themeExposure, nil
}

func (f *fakePaper) RecordSkip(_ context.Context, ev domain.FidelityEvent) error {
	f.skips = append(f.skips, ev)
	return nil
}

func (f *fakePaper) CreateCopy(_ context.Context, t domain.PaperTrade, slip domain.SlippageRecord) (int64, error) {
	f.copies = append(f.copies, t)
	f.slips = append(f.slips, slip)
	return int64(len(f.copies)), nil
}

func openMarket(now time.Time) domain.Market {
	return domain.Market{
		ConditionID: "0xm1",
		Category:    "politics",
		EndDate:     now.AddDate(0, 0, 14),
	}
}

func freshBook(now time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		ConditionID: "0xm1",
		Asks:        []domain.BookLevel{{Price: 0.60, Size: 500}},
		Bids:        []domain.BookLevel{{Price: 0.58, Size: 500}},
		SnapshotAt:  now.Add(-30 * time.Second),
	}
}

func sourceTrade(now time.Time) domain.SourceTrade {
	return domain.SourceTrade{
		ID:          42,
		ProxyWallet: "0xabc",
		ConditionID: "0xm1",
		Side:        domain.SideBuy,
		Outcome:     "Yes",
		Price:       0.60,
		SizeUSD:     500.0,
		Timestamp:   now.Add(-time.Minute).Unix(),
	}
}

func newEngine(markets *fakeMarkets, paper *fakePaper) *Engine {
	cfg := config.DefaultAppConfig()
	return NewEngine(markets, paper, risk.NewChecker(cfg), cfg)
}

func TestDecideCopiesHealthyTrade(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{market: openMarket(now), book: freshBook(now)}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	require.True(t, d.Copied())

	require.Len(t, paper.copies, 1)
	pt := paper.copies[0]
	assert.Equal(t, "0xabc", pt.ProxyWallet)
	assert.Equal(t, domain.StatusOpen, pt.Status)
	assert.Equal(t, int64(42), pt.SourceTradeID)
	// min($25 flat, $500 * 1000/5000 proportional) = $25.
	assert.InDelta(t, 25.0, pt.SizeUSD, 1e-9)
	assert.InDelta(t, 0.60, pt.EntryPrice, 1e-9)
	assert.Zero(t, pt.FeePaid, "non-crypto market trades fee-free")

	require.Len(t, paper.slips, 1)
	assert.InDelta(t, 0.0, paper.slips[0].SlippageCents, 1e-9)
	assert.Empty(t, paper.skips)
}

func TestDecideProportionalSizing(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{market: openMarket(now), book: freshBook(now)}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	tr := sourceTrade(now)
	tr.SizeUSD = 50.0 // $50 of a $5000 bankroll mirrors to $10 of ours

	d, err := e.Decide(context.Background(), tr, now)
	require.NoError(t, err)
	require.True(t, d.Copied())
	assert.InDelta(t, 10.0, d.SizeUSD, 1e-9)
}

func TestDecideSkipsUnknownMarket(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{marketErr: persistence.ErrNotFound}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkippedMarketClosed, d.Outcome)
	require.Len(t, paper.skips, 1)
	assert.Equal(t, int64(42), paper.skips[0].SourceTradeID)
	assert.Empty(t, paper.copies)
}

func TestDecideSkipsResolvedMarket(t *testing.T) {
	now := time.Now()
	m := openMarket(now)
	m.Resolved = true
	m.ResolutionPrice = 1.0
	markets := &fakeMarkets{market: m}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkippedMarketClosed, d.Outcome)
}

func TestDecideSkipsOnRiskBudgets(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		states  map[string]domain.RiskState
		theme   float64
		outcome domain.FidelityOutcome
	}{
		{
			name:    "portfolio daily loss",
			states:  map[string]domain.RiskState{domain.PortfolioScope: {DailyPnL: -20}},
			outcome: domain.OutcomeSkippedDailyLoss,
		},
		{
			name:    "portfolio exposure",
			states:  map[string]domain.RiskState{domain.PortfolioScope: {TotalExposureUSD: 149}},
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "theme cap",
			states:  map[string]domain.RiskState{},
			theme:   70,
			outcome: domain.OutcomeSkippedPortfolioRisk,
		},
		{
			name:    "wallet halted",
			states:  map[string]domain.RiskState{"0xabc": {Halted: true, HaltReason: "anomaly:win_rate_drop"}},
			outcome: domain.OutcomeSkippedWalletRisk,
		},
		{
			name:    "wallet open positions",
			states:  map[string]domain.RiskState{"0xabc": {OpenPositions: 8}},
			outcome: domain.OutcomeSkippedWalletRisk,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markets := &fakeMarkets{market: openMarket(now), book: freshBook(now)}
			paper := &fakePaper{states: tt.states, themeExposure: tt.theme}
			e := newEngine(markets, paper)

			d, err := e.Decide(context.Background(), sourceTrade(now), now)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Empty(t, paper.copies)
			require.Len(t, paper.skips, 1)
		})
	}
}

func TestDecideSkipsStaleDetection(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{market: openMarket(now), book: freshBook(now)}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	tr := sourceTrade(now)
	tr.Timestamp = now.Add(-10 * time.Minute).Unix()

	d, err := e.Decide(context.Background(), tr, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkippedDetectionLag, d.Outcome)
}

func TestDecideSkipsWalletExposure(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{market: openMarket(now), book: freshBook(now)}
	// $40 of the $50 wallet budget is in use; a $25 trade does not fit.
	paper := &fakePaper{states: map[string]domain.RiskState{
		"0xabc": {TotalExposureUSD: 40},
	}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkippedWalletRisk, d.Outcome)
	assert.Empty(t, paper.copies)
}

func TestDecideFallsBackWithoutBook(t *testing.T) {
	now := time.Now()
	markets := &fakeMarkets{market: openMarket(now), bookErr: persistence.ErrNotFound}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	require.True(t, d.Copied())
	// Flat default slippage: buys pay up one cent.
	assert.InDelta(t, 0.61, d.FillPrice, 1e-9)
	require.Len(t, paper.copies, 1)
	assert.InDelta(t, 0.01, paper.copies[0].SlippageApplied, 1e-9)
	assert.InDelta(t, 1.0, paper.slips[0].SlippageCents, 1e-9)
}

func TestDecideFallsBackOnStaleBook(t *testing.T) {
	now := time.Now()
	stale := freshBook(now)
	stale.SnapshotAt = now.Add(-10 * time.Minute)
	markets := &fakeMarkets{market: openMarket(now), book: stale}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	require.True(t, d.Copied())
	assert.InDelta(t, 0.61, d.FillPrice, 1e-9)
}

func TestDecideSkipsThinBook(t *testing.T) {
	now := time.Now()
	thin := freshBook(now)
	thin.Asks = []domain.BookLevel{{Price: 0.60, Size: 5}} // $3 of depth
	markets := &fakeMarkets{market: openMarket(now), book: thin}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkippedNoFill, d.Outcome)
	assert.Empty(t, paper.copies)
}

func TestDecideChargesCrypto15mFee(t *testing.T) {
	now := time.Now()
	m := openMarket(now)
	m.IsCrypto15m = true
	markets := &fakeMarkets{market: m, book: freshBook(now)}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	d, err := e.Decide(context.Background(), sourceTrade(now), now)
	require.NoError(t, err)
	require.True(t, d.Copied())
	assert.Greater(t, d.FeePaid, 0.0)

	// The fee rate rides on the stored entry price, so settlement pays it
	// without a separate deduction.
	require.Len(t, paper.copies, 1)
	feeRate := fees.QuarticTaker(0.60)
	assert.InDelta(t, 0.60+feeRate, paper.copies[0].EntryPrice, 1e-9)
	assert.InDelta(t, feeRate*25.0, d.FeePaid, 1e-9)
}

func TestCrypto15mCopySettlesBelowFeeFree(t *testing.T) {
	now := time.Now()
	copied := func(crypto bool) domain.PaperTrade {
		m := openMarket(now)
		m.IsCrypto15m = crypto
		paper := &fakePaper{states: map[string]domain.RiskState{}}
		e := newEngine(&fakeMarkets{market: m, book: freshBook(now)}, paper)

		d, err := e.Decide(context.Background(), sourceTrade(now), now)
		require.NoError(t, err)
		require.True(t, d.Copied())
		return paper.copies[0]
	}

	withFee := copied(true)
	feeFree := copied(false)

	pnlWithFee := settle.PnL(domain.SideBuy, withFee.EntryPrice, withFee.SizeUSD, 1.0)
	pnlFeeFree := settle.PnL(domain.SideBuy, feeFree.EntryPrice, feeFree.SizeUSD, 1.0)
	assert.Less(t, pnlWithFee, pnlFeeFree)
	assert.InDelta(t, withFee.FeePaid, pnlFeeFree-pnlWithFee, 1e-9)
}

func TestDecideSellFoldsFeeIntoEntry(t *testing.T) {
	now := time.Now()
	m := openMarket(now)
	m.IsCrypto15m = true
	markets := &fakeMarkets{market: m, book: freshBook(now)}
	paper := &fakePaper{states: map[string]domain.RiskState{}}
	e := newEngine(markets, paper)

	tr := sourceTrade(now)
	tr.Side = domain.SideSell
	tr.Price = 0.58

	d, err := e.Decide(context.Background(), tr, now)
	require.NoError(t, err)
	require.True(t, d.Copied())

	// Sells give the fee rate up out of the proceeds.
	require.Len(t, paper.copies, 1)
	assert.InDelta(t, 0.58-fees.QuarticTaker(0.58), paper.copies[0].EntryPrice, 1e-9)
}

func TestProvisionalSizeHardCap(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Trading.PerTradeUSD = 900
	e := NewEngine(nil, nil, risk.NewChecker(cfg), cfg)

	// Proportional sizing would be $800, over the 50% bankroll cap.
	size := e.provisionalSize(domain.SourceTrade{SizeUSD: 4000})
	assert.InDelta(t, 500.0, size, 1e-9)
}
