// Package persona classifies wallets into followable archetypes or typed
// exclusions. Classification is a fixed-order cascade of pure rules with
// early exit: stage 1 data-availability gates, then behavioral exclusions,
// then followable detection. The first rule that fires decides the wallet;
// an exclusion can therefore never be outranked by a followable match.
package persona

import (
	"fmt"
	"math"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
)

// Input is everything one classification pass needs. The pipeline layer
// gathers the I/O-derived fields (sybil overlap, size percentile, bot
// registry membership) so the cascade itself stays pure.
type Input struct {
	Features           domain.WalletFeatures
	WalletAgeDays      int
	DaysSinceLastTrade int
	KnownBot           bool
	SybilClusterSize   int
	SybilOverlapPct    float64
	// SizePercentile is the wallet's avg position size percentile across
	// all tracked wallets in the same window, 0..100.
	SizePercentile float64
}

// rule is one cascade step: a nil outcome passes control to the next rule.
type rule func(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome

// Classify runs the cascade and returns exactly one outcome. Boundary
// semantics: a value exactly at a stage-1 minimum passes (age == min age
// is old enough).
func Classify(in Input, cfg config.AppConfig) domain.ClassOutcome {
	rules := []rule{
		checkTooYoung,
		checkTooFewTrades,
		checkInactive,
		checkKnownBot,
		checkSniperInsider,
		checkNoiseTrader,
		checkTailRiskSeller,
		checkExecutionMaster,
		checkSybilCluster,
		checkInformedSpecialist,
		checkConsistentGeneralist,
		checkPatientAccumulator,
	}

	var audit []domain.RuleCheck
	for _, r := range rules {
		if out := r(in, cfg, &audit); out != nil {
			out.Checks = audit
			applyBagHoldingFlag(in, cfg, out)
			return *out
		}
	}

	out := domain.ClassOutcome{Kind: domain.KindUnclassified, Checks: audit}
	applyBagHoldingFlag(in, cfg, &out)
	return out
}

// applyBagHoldingFlag runs independently of the cascade outcome: a wallet
// showing a strong raw win rate while sitting on unrealized losers gets a
// non-blocking risk flag and a confidence penalty. The classification
// itself never changes.
func applyBagHoldingFlag(in Input, cfg config.AppConfig, out *domain.ClassOutcome) {
	f := in.Features
	bh := cfg.BagHold
	if f.RawWinRate < bh.FlagMinRawWinRate {
		return
	}
	if f.OpenLosingPositions < bh.FlagMinOpenLosing && f.OpenUnrealizedLossUSD < bh.FlagMinOpenLossUSD {
		return
	}
	out.RiskFlags = append(out.RiskFlags, "bag_holding_bias")
	if out.Kind == domain.KindFollowable {
		out.Confidence *= bh.ConfidencePenalty
	}
}

func record(audit *[]domain.RuleCheck, name string, passed bool, value, threshold float64, desc string) {
	*audit = append(*audit, domain.RuleCheck{
		Name: name, Passed: passed, Value: value, Threshold: threshold, Description: desc,
	})
}

func excluded(code domain.ExclusionCode, value, threshold float64, detail string) *domain.ClassOutcome {
	return &domain.ClassOutcome{
		Kind: domain.KindExcluded,
		Exclusion: &domain.Exclusion{
			Code: code, MetricValue: value, Threshold: threshold, Detail: detail,
		},
	}
}

func followable(p domain.Persona, confidence float64) *domain.ClassOutcome {
	return &domain.ClassOutcome{
		Kind:       domain.KindFollowable,
		Persona:    p,
		Mode:       p.DefaultMode(),
		Confidence: confidence,
	}
}

// --- Stage 1: data-availability gates ---

func checkTooYoung(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	min := cfg.Stage1.MinWalletAgeDays
	ok := in.WalletAgeDays >= min
	record(audit, "too_young", ok, float64(in.WalletAgeDays), float64(min), "wallet age in days")
	if ok {
		return nil
	}
	return excluded(domain.ExcludeTooYoung, float64(in.WalletAgeDays), float64(min),
		fmt.Sprintf("wallet is %d days old, minimum is %d", in.WalletAgeDays, min))
}

func checkTooFewTrades(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	min := cfg.Stage1.MinTotalTrades
	n := in.Features.TradeCount
	ok := n >= min
	record(audit, "too_few_trades", ok, float64(n), float64(min), "trades in window")
	if ok {
		return nil
	}
	return excluded(domain.ExcludeTooFewTrades, float64(n), float64(min),
		fmt.Sprintf("%d trades in window, minimum is %d", n, min))
}

func checkInactive(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	max := cfg.Stage1.MaxInactivityDays
	ok := in.DaysSinceLastTrade <= max
	record(audit, "inactive", ok, float64(in.DaysSinceLastTrade), float64(max), "days since last trade")
	if ok {
		return nil
	}
	return excluded(domain.ExcludeInactive, float64(in.DaysSinceLastTrade), float64(max),
		fmt.Sprintf("no trade for %d days, maximum is %d", in.DaysSinceLastTrade, max))
}

func checkKnownBot(in Input, _ config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	record(audit, "known_bot", !in.KnownBot, boolMetric(in.KnownBot), 0, "wallet in known-bot registry")
	if !in.KnownBot {
		return nil
	}
	return excluded(domain.ExcludeKnownBot, 1, 0, "wallet is in the known-bot registry")
}

// --- Stage 2: behavioral exclusions ---

// checkSniperInsider catches suspiciously lucky new wallets: young, very
// high win rate, very few trades.
func checkSniperInsider(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Stage2.Sniper
	f := in.Features
	hit := in.WalletAgeDays < c.MaxAgeDays && f.RawWinRate > c.MinWinRate && f.TradeCount < c.MaxTrades
	record(audit, "sniper_insider", !hit, f.RawWinRate, c.MinWinRate, "young wallet with implausible win rate")
	if !hit {
		return nil
	}
	return excluded(domain.ExcludeSniperInsider, f.RawWinRate, c.MinWinRate,
		fmt.Sprintf("age %dd, win rate %.0f%%, %d trades", in.WalletAgeDays, f.RawWinRate*100, f.TradeCount))
}

// checkNoiseTrader catches high churn with no edge.
func checkNoiseTrader(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Stage2.Noise
	f := in.Features
	hit := f.TradesPerWeek > c.MinTradesPerWeek && math.Abs(f.PaperROIPct) < c.MaxAbsROIPct
	record(audit, "noise_trader", !hit, f.TradesPerWeek, c.MinTradesPerWeek, "high churn without edge")
	if !hit {
		return nil
	}
	return excluded(domain.ExcludeNoiseTrader, f.TradesPerWeek, c.MinTradesPerWeek,
		fmt.Sprintf("%.1f trades/week with %.2f%% ROI", f.TradesPerWeek, f.PaperROIPct))
}

// checkTailRiskSeller catches wallets that look great until a single
// catastrophic loss.
func checkTailRiskSeller(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Stage2.TailRisk
	f := in.Features
	hit := f.RawWinRate > c.MinWinRate && f.WorstLossToAvgWin > c.MaxWorstLossToAvgWin
	record(audit, "tail_risk_seller", !hit, f.WorstLossToAvgWin, c.MaxWorstLossToAvgWin, "worst loss dwarfs the average win")
	if !hit {
		return nil
	}
	return excluded(domain.ExcludeTailRiskSeller, f.WorstLossToAvgWin, c.MaxWorstLossToAvgWin,
		fmt.Sprintf("win rate %.0f%% but worst loss is %.1fx the average win", f.RawWinRate*100, f.WorstLossToAvgWin))
}

// checkExecutionMaster catches wallets whose PnL comes from execution
// speed a follower cannot replicate.
func checkExecutionMaster(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Stage2.Execution
	f := in.Features
	hit := f.ExecutionPnLRatio > c.MaxExecutionPnLRatio
	record(audit, "execution_master", !hit, f.ExecutionPnLRatio, c.MaxExecutionPnLRatio, "PnL share from execution edge")
	if !hit {
		return nil
	}
	return excluded(domain.ExcludeExecutionMaster, f.ExecutionPnLRatio, c.MaxExecutionPnLRatio,
		fmt.Sprintf("%.0f%% of wins come from sub-hour execution", f.ExecutionPnLRatio*100))
}

// checkSybilCluster catches coordinated wallet clusters whose trade
// timings overlap too much to be independent signal.
func checkSybilCluster(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Stage2.Sybil
	hit := in.SybilClusterSize >= c.MinClusterSize && in.SybilOverlapPct > c.MinOverlapPct
	record(audit, "sybil_cluster", !hit, in.SybilOverlapPct, c.MinOverlapPct, "trade-timing overlap with cluster peers")
	if !hit {
		return nil
	}
	return excluded(domain.ExcludeSybilCluster, in.SybilOverlapPct, c.MinOverlapPct,
		fmt.Sprintf("cluster of %d wallets with %.0f%% timing overlap", in.SybilClusterSize, in.SybilOverlapPct))
}

// --- Followable detection, priority order ---

func checkInformedSpecialist(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Personas.Specialist
	f := in.Features
	hit := f.UniqueMarkets <= c.MaxUniqueMarkets && f.AdjustedWinRate >= c.MinAdjustedWinRate
	record(audit, "informed_specialist", hit, f.AdjustedWinRate, c.MinAdjustedWinRate, "few markets, strong adjusted win rate")
	if !hit {
		return nil
	}
	// Confidence scales with the margin over the win-rate floor.
	conf := 0.5 + math.Min(0.5, (f.AdjustedWinRate-c.MinAdjustedWinRate)*2)
	return followable(domain.PersonaInformedSpecialist, conf)
}

func checkConsistentGeneralist(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Personas.Generalist
	f := in.Features
	hit := f.UniqueMarkets >= c.MinUniqueMarkets &&
		f.RawWinRate >= c.MinWinRate && f.RawWinRate <= c.MaxWinRate &&
		f.MaxDrawdownPct <= c.MaxDrawdownPct &&
		f.SharpeProxy >= c.MinSharpeProxy
	record(audit, "consistent_generalist", hit, f.SharpeProxy, c.MinSharpeProxy, "broad, steady, drawdown-bounded")
	if !hit {
		return nil
	}
	conf := 0.5 + math.Min(0.5, (f.SharpeProxy-c.MinSharpeProxy)*0.25)
	return followable(domain.PersonaConsistentGeneralist, conf)
}

func checkPatientAccumulator(in Input, cfg config.AppConfig, audit *[]domain.RuleCheck) *domain.ClassOutcome {
	c := cfg.Personas.Accumulator
	f := in.Features
	hit := f.AvgHoldTimeHours >= c.MinHoldTimeHours &&
		f.TradesPerWeek <= c.MaxTradesPerWeek &&
		in.SizePercentile >= c.SizeTopDecilePct
	record(audit, "patient_accumulator", hit, in.SizePercentile, c.SizeTopDecilePct, "slow, large, long-held positions")
	if !hit {
		return nil
	}
	conf := 0.5 + math.Min(0.5, (in.SizePercentile-c.SizeTopDecilePct)/20)
	return followable(domain.PersonaPatientAccumulator, conf)
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
