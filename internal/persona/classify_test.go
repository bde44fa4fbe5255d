package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
)

// healthyInput passes every stage-1 gate and every exclusion with the
// default thresholds; tests tighten individual fields from here.
func healthyInput() Input {
	return Input{
		Features: domain.WalletFeatures{
			TradeCount:        60,
			UniqueMarkets:     12,
			TradesPerWeek:     10,
			RawWinRate:        0.60,
			AdjustedWinRate:   0.58,
			PaperROIPct:       6.0,
			MaxDrawdownPct:    12.0,
			SharpeProxy:       1.1,
			ExecutionPnLRatio: 0.20,
			WorstLossToAvgWin: 2.0,
			AvgHoldTimeHours:  24,
		},
		WalletAgeDays:      120,
		DaysSinceLastTrade: 2,
		SizePercentile:     50,
	}
}

func TestClassifyTooYoung(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.WalletAgeDays = 10

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeTooYoung, out.Exclusion.Code)
	assert.Equal(t, 10.0, out.Exclusion.MetricValue)
}

func TestClassifyAgeExactlyAtMinimumPasses(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.WalletAgeDays = cfg.Stage1.MinWalletAgeDays

	out := Classify(in, cfg)
	if out.Excluded() {
		assert.NotEqual(t, domain.ExcludeTooYoung, out.Exclusion.Code)
	}
}

func TestClassifyStage1Gates(t *testing.T) {
	cfg := config.DefaultAppConfig()

	tests := []struct {
		name   string
		mutate func(*Input)
		code   domain.ExclusionCode
	}{
		{"too few trades", func(in *Input) { in.Features.TradeCount = 5 }, domain.ExcludeTooFewTrades},
		{"inactive", func(in *Input) { in.DaysSinceLastTrade = 30 }, domain.ExcludeInactive},
		{"known bot", func(in *Input) { in.KnownBot = true }, domain.ExcludeKnownBot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInput()
			tt.mutate(&in)
			out := Classify(in, cfg)
			require.True(t, out.Excluded())
			assert.Equal(t, tt.code, out.Exclusion.Code)
		})
	}
}

func TestClassifySniperInsider(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Stage1.MinWalletAgeDays = 10
	cfg.Stage1.MinTotalTrades = 10

	in := healthyInput()
	in.WalletAgeDays = 15
	in.Features.TradeCount = 12
	in.Features.RawWinRate = 0.90

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeSniperInsider, out.Exclusion.Code)
}

func TestClassifyNoiseTrader(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.TradesPerWeek = 80
	in.Features.PaperROIPct = 0.5

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeNoiseTrader, out.Exclusion.Code)
}

func TestClassifyTailRiskSeller(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.RawWinRate = 0.84
	in.Features.WorstLossToAvgWin = 12.0

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeTailRiskSeller, out.Exclusion.Code)
}

func TestClassifyExecutionMaster(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.ExecutionPnLRatio = 0.75

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeExecutionMaster, out.Exclusion.Code)
}

func TestClassifySybilCluster(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.SybilClusterSize = 4
	in.SybilOverlapPct = 85

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeSybilCluster, out.Exclusion.Code)
}

func TestClassifyInformedSpecialist(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.UniqueMarkets = 4
	in.Features.AdjustedWinRate = 0.70

	out := Classify(in, cfg)
	require.True(t, out.Followable())
	assert.Equal(t, domain.PersonaInformedSpecialist, out.Persona)
	assert.InDelta(t, 0.66, out.Confidence, 1e-9)
	assert.NotEmpty(t, out.Checks)
}

func TestClassifyConsistentGeneralist(t *testing.T) {
	cfg := config.DefaultAppConfig()
	out := Classify(healthyInput(), cfg)
	require.True(t, out.Followable())
	assert.Equal(t, domain.PersonaConsistentGeneralist, out.Persona)
}

func TestClassifyPatientAccumulator(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.UniqueMarkets = 6 // neither specialist nor generalist
	in.Features.AvgHoldTimeHours = 120
	in.Features.TradesPerWeek = 3
	in.SizePercentile = 95

	out := Classify(in, cfg)
	require.True(t, out.Followable())
	assert.Equal(t, domain.PersonaPatientAccumulator, out.Persona)
}

// A wallet qualifying for more than one persona takes the
// highest-priority archetype.
func TestClassifySpecialistOutranksAccumulator(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.UniqueMarkets = 4
	in.Features.AdjustedWinRate = 0.70
	in.Features.AvgHoldTimeHours = 120
	in.Features.TradesPerWeek = 3
	in.SizePercentile = 95

	out := Classify(in, cfg)
	require.True(t, out.Followable())
	assert.Equal(t, domain.PersonaInformedSpecialist, out.Persona)
}

// An exclusion can never be outranked by a followable match.
func TestClassifyExclusionBeatsFollowable(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.UniqueMarkets = 4
	in.Features.AdjustedWinRate = 0.70
	in.Features.ExecutionPnLRatio = 0.75

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Equal(t, domain.ExcludeExecutionMaster, out.Exclusion.Code)
}

func TestClassifyUnclassified(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.SharpeProxy = 0.3 // below the generalist floor

	out := Classify(in, cfg)
	assert.Equal(t, domain.KindUnclassified, out.Kind)
	assert.Nil(t, out.Exclusion)
}

func TestBagHoldingFlagPenalizesConfidence(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.UniqueMarkets = 4
	in.Features.AdjustedWinRate = 0.70
	in.Features.RawWinRate = 0.75
	in.Features.OpenLosingPositions = 6

	out := Classify(in, cfg)
	require.True(t, out.Followable())
	assert.Contains(t, out.RiskFlags, "bag_holding_bias")
	assert.InDelta(t, 0.66*cfg.BagHold.ConfidencePenalty, out.Confidence, 1e-9)
}

func TestBagHoldingFlagDoesNotChangeExclusions(t *testing.T) {
	cfg := config.DefaultAppConfig()
	in := healthyInput()
	in.Features.TradesPerWeek = 80
	in.Features.PaperROIPct = 0.5
	in.Features.RawWinRate = 0.75
	in.Features.OpenUnrealizedLossUSD = 900

	out := Classify(in, cfg)
	require.True(t, out.Excluded())
	assert.Contains(t, out.RiskFlags, "bag_holding_bias")
}
