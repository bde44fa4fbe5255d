package anomaly

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

type fakeFeatures struct {
	persistence.FeaturesRepo
	byWindow map[int]domain.WalletFeatures
}

func (f *fakeFeatures) Latest(_ context.Context, _ string, windowDays int) (domain.WalletFeatures, error) {
	row, ok := f.byWindow[windowDays]
	if !ok {
		return domain.WalletFeatures{}, persistence.ErrNotFound
	}
	return row, nil
}

type haltCall struct {
	scope  string
	reason string
	until  *time.Time
}

type fakePaper struct {
	persistence.PaperRepo
	halts []haltCall
}

func (f *fakePaper) SetHalt(_ context.Context, scopeKey, reason string, until *time.Time) error {
	f.halts = append(f.halts, haltCall{scope: scopeKey, reason: reason, until: until})
	return nil
}

type fakeTrades struct {
	persistence.TradesRepo
	lastTrade time.Time
	err       error
}

func (f *fakeTrades) LastTradeAt(_ context.Context, _ string) (time.Time, error) {
	return f.lastTrade, f.err
}

type fakeClassify struct {
	persistence.ClassifyRepo
	err error
}

func (f *fakeClassify) CurrentPersona(_ context.Context, _ string) (persistence.PersonaRow, error) {
	return persistence.PersonaRow{}, f.err
}

type fakeAnomaly struct {
	persistence.AnomalyRepo
	events []domain.AnomalyEvent
}

func (f *fakeAnomaly) Append(_ context.Context, ev domain.AnomalyEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// steadyWallet trips no comparison with the default thresholds.
func steadyWallet(now time.Time) (*fakeFeatures, *fakeTrades, *fakeClassify) {
	recent := domain.WalletFeatures{
		TradeCount:         10,
		WinCount:           6,
		LossCount:          4,
		RawWinRate:         0.60,
		TradesPerWeek:      10,
		AvgPositionSizeUSD: 100,
		MaxTradeSizeUSD:    140,
		MaxDrawdownPct:     4,
		PaperROIPct:        3,
	}
	baseline := recent
	baseline.TradeCount = 120
	return &fakeFeatures{byWindow: map[int]domain.WalletFeatures{7: recent, 90: baseline}},
		&fakeTrades{lastTrade: now.Add(-24 * time.Hour)},
		&fakeClassify{}
}

func flags(events []domain.AnomalyEvent) []domain.AnomalyFlag {
	out := make([]domain.AnomalyFlag, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Flag)
	}
	return out
}

func TestEvaluateQuietWallet(t *testing.T) {
	now := time.Now()
	features, trades, classify := steadyWallet(now)
	paper := &fakePaper{}
	store := &fakeAnomaly{}
	d := NewDetector(features, paper, trades, classify, store, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, paper.halts)
}

func TestEvaluateWinRateDropPauses(t *testing.T) {
	now := time.Now()
	features, trades, classify := steadyWallet(now)
	recent := features.byWindow[7]
	recent.RawWinRate = 0.40 // 20 points under the 0.60 baseline
	features.byWindow[7] = recent

	paper := &fakePaper{}
	store := &fakeAnomaly{}
	d := NewDetector(features, paper, trades, classify, store, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.FlagWinRateDrop, events[0].Flag)
	assert.Equal(t, domain.ActionPause, events[0].Action)

	require.Len(t, paper.halts, 1)
	assert.Equal(t, "0xabc", paper.halts[0].scope)
	require.NotNil(t, paper.halts[0].until, "a pause must carry an expiry")
	assert.Contains(t, paper.halts[0].reason, "win_rate_drop")
}

func TestEvaluateFrequencyChangeBothDirections(t *testing.T) {
	now := time.Now()
	cfg := config.DefaultAppConfig()

	run := func(recentTPW float64) []domain.AnomalyEvent {
		features, trades, classify := steadyWallet(now)
		recent := features.byWindow[7]
		recent.TradesPerWeek = recentTPW
		features.byWindow[7] = recent
		d := NewDetector(features, &fakePaper{}, trades, classify, &fakeAnomaly{}, cfg)
		events, err := d.Evaluate(context.Background(), "0xabc", now)
		require.NoError(t, err)
		return events
	}

	// Baseline is 10/week; both a 4x surge and a 4x collapse trip the flag.
	assert.Contains(t, flags(run(40)), domain.FlagFrequencyChange)
	assert.Contains(t, flags(run(2.5-0.1)), domain.FlagFrequencyChange)
	assert.Empty(t, run(12))
}

func TestEvaluatePositionSizeAnomaly(t *testing.T) {
	now := time.Now()
	features, trades, classify := steadyWallet(now)
	recent := features.byWindow[7]
	// One 6x bet trips the flag even though the week's average stays put.
	recent.MaxTradeSizeUSD = 600
	features.byWindow[7] = recent

	d := NewDetector(features, &fakePaper{}, trades, classify, &fakeAnomaly{}, config.DefaultAppConfig())
	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	assert.Contains(t, flags(events), domain.FlagPositionSizeAnomaly)
}

func TestEvaluateKillTriggersHoldWithoutExpiry(t *testing.T) {
	now := time.Now()
	features, trades, classify := steadyWallet(now)
	recent := features.byWindow[7]
	recent.PaperROIPct = -12 // under the -10% kill floor
	features.byWindow[7] = recent

	paper := &fakePaper{}
	d := NewDetector(features, paper, trades, classify, &fakeAnomaly{}, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.FlagPaperROICollapse, events[0].Flag)
	assert.Equal(t, domain.ActionKill, events[0].Action)

	require.Len(t, paper.halts, 1)
	assert.Nil(t, paper.halts[0].until, "a kill must hold until cleared")
}

func TestEvaluateHitRateCollapseNeedsSample(t *testing.T) {
	now := time.Now()
	cfg := config.DefaultAppConfig()

	run := func(wins, losses int) []domain.AnomalyEvent {
		features, trades, classify := steadyWallet(now)
		rate := float64(wins) / float64(wins+losses)
		recent := features.byWindow[7]
		recent.WinCount = wins
		recent.LossCount = losses
		recent.RawWinRate = rate
		features.byWindow[7] = recent
		// Keep the baseline aligned so only the kill trigger is in play.
		baseline := features.byWindow[90]
		baseline.RawWinRate = rate
		features.byWindow[90] = baseline
		d := NewDetector(features, &fakePaper{}, trades, classify, &fakeAnomaly{}, cfg)
		events, err := d.Evaluate(context.Background(), "0xabc", now)
		require.NoError(t, err)
		return events
	}

	// 30% over 40 trades kills; the same rate over 10 trades is too small
	// a sample.
	assert.Contains(t, flags(run(12, 28)), domain.FlagHitRateCollapse)
	assert.Empty(t, run(3, 7))
}

func TestEvaluatePersonaLostKills(t *testing.T) {
	now := time.Now()
	features, trades, _ := steadyWallet(now)
	paper := &fakePaper{}
	d := NewDetector(features, paper, trades, &fakeClassify{err: persistence.ErrNotFound}, &fakeAnomaly{}, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.FlagPersonaLost, events[0].Flag)
	assert.Equal(t, domain.ActionKill, events[0].Action)
}

func TestEvaluateInactivityKills(t *testing.T) {
	now := time.Now()
	features, _, classify := steadyWallet(now)
	trades := &fakeTrades{lastTrade: now.Add(-20 * 24 * time.Hour)}
	d := NewDetector(features, &fakePaper{}, trades, classify, &fakeAnomaly{}, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	assert.Contains(t, flags(events), domain.FlagInactivity)
}

func TestEvaluateAppendsEveryEvent(t *testing.T) {
	now := time.Now()
	features, trades, classify := steadyWallet(now)
	recent := features.byWindow[7]
	recent.RawWinRate = 0.40
	recent.MaxDrawdownPct = 15
	features.byWindow[7] = recent

	store := &fakeAnomaly{}
	d := NewDetector(features, &fakePaper{}, trades, classify, store, config.DefaultAppConfig())

	events, err := d.Evaluate(context.Background(), "0xabc", now)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, events, store.events)
}
