// Package score computes the composite followability score (WScore) per
// wallet and window: five weighted sub-scores with multiplicative trust
// and obscurity adjustments, clamped to [0,1].
package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/copyrun/data/cache"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// driftHorizon is how long after a source entry the timing-skill drift
// is measured.
const driftHorizon = 24 * time.Hour

// Scorer derives WalletScore rows from settled paper trades and features.
type Scorer struct {
	features persistence.FeaturesRepo
	paper    persistence.PaperRepo
	trades   persistence.TradesRepo
	classify persistence.ClassifyRepo
	wallets  persistence.WalletsRepo
	cache    cache.Cache
	cfg      config.AppConfig
}

// NewScorer wires a scorer.
func NewScorer(
	features persistence.FeaturesRepo,
	paper persistence.PaperRepo,
	trades persistence.TradesRepo,
	classify persistence.ClassifyRepo,
	wallets persistence.WalletsRepo,
	c cache.Cache,
	cfg config.AppConfig,
) *Scorer {
	return &Scorer{
		features: features, paper: paper, trades: trades,
		classify: classify, wallets: wallets, cache: c, cfg: cfg,
	}
}

// Score computes and persists the wallet's score for the window ending
// at now.
func (s *Scorer) Score(ctx context.Context, proxyWallet string, windowDays int, now time.Time) (domain.WalletScore, error) {
	tr := persistence.TimeRange{From: now.AddDate(0, 0, -windowDays), To: now}

	feats, err := s.features.Latest(ctx, proxyWallet, windowDays)
	if err != nil {
		return domain.WalletScore{}, fmt.Errorf("load features for %s: %w", proxyWallet, err)
	}
	settled, err := s.paper.SettledByWallet(ctx, proxyWallet, tr)
	if err != nil {
		return domain.WalletScore{}, fmt.Errorf("load settled paper for %s: %w", proxyWallet, err)
	}
	drift, err := s.trades.PriceDriftAfter(ctx, proxyWallet, tr, driftHorizon)
	if err != nil {
		return domain.WalletScore{}, fmt.Errorf("load price drift for %s: %w", proxyWallet, err)
	}
	wallet, err := s.wallets.Get(ctx, proxyWallet)
	if err != nil {
		return domain.WalletScore{}, fmt.Errorf("load wallet %s: %w", proxyWallet, err)
	}

	sc := s.cfg.Scoring
	ws := domain.WalletScore{
		ProxyWallet: proxyWallet,
		ScoreDate:   now.UTC().Format("2006-01-02"),
		WindowDays:  windowDays,
		ComputedAt:  now.UTC(),
	}

	roi, hitRate := paperStats(settled, s.cfg.Trading.BankrollUSD)
	ws.PaperROIPct = roi
	ws.PaperHitRate = hitRate

	ws.EdgeScore = clamp01(roi / sc.MaxROIPct)
	ws.ConsistencyScore = consistency(settled, s.cfg.Trading.BankrollUSD, sc.MaxDailyStdev)
	ws.MarketSkillScore = marketSkill(settled)
	ws.TimingSkillScore = clamp01(0.5 + drift*5.0) // -10¢ → 0, 0 → 0.5, +10¢ → 1
	ws.BehaviorQualityScore = behaviorQuality(feats, s.cfg)

	ws.TrustMultiplier = s.trustMultiplier(wallet, now)
	ws.ObscurityBonus = 1.0
	if !s.onLeaderboard(wallet) {
		ws.ObscurityBonus = sc.ObscurityBonus
	}

	composite := sc.EdgeWeight*ws.EdgeScore +
		sc.ConsistencyWeight*ws.ConsistencyScore +
		sc.MarketSkillWeight*ws.MarketSkillScore +
		sc.TimingSkillWeight*ws.TimingSkillScore +
		sc.BehaviorWeight*ws.BehaviorQualityScore

	composite *= ws.TrustMultiplier * ws.ObscurityBonus

	// Hit-rate penalties bite after the multipliers.
	if len(settled) > 0 {
		switch {
		case hitRate < sc.HitRateHardFloor:
			composite *= 0.5
			ws.RiskFlags = append(ws.RiskFlags, "hit_rate_below_hard_floor")
		case hitRate < sc.HitRateSoftFloor:
			composite *= 0.8
			ws.RiskFlags = append(ws.RiskFlags, "hit_rate_below_soft_floor")
		}
	}

	ws.WScore = clamp01(composite)
	ws.RecommendedMode = s.recommendMode(ctx, proxyWallet, ws)
	return ws, nil
}

// recommendMode picks the follow mode from the dominant sub-score:
// strong timing mirrors immediately; strong edge with weak timing waits
// out the entry; everything else keeps the persona default.
func (s *Scorer) recommendMode(ctx context.Context, proxyWallet string, ws domain.WalletScore) domain.CopyMode {
	switch {
	case ws.TimingSkillScore >= 0.75:
		return domain.ModeMirror
	case ws.EdgeScore >= 0.70 && ws.TimingSkillScore < 0.50:
		return domain.ModeMirrorDelay
	}

	persona, err := s.classify.CurrentPersona(ctx, proxyWallet)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			// Persona lookup failing is not worth losing the score over.
			return domain.ModeMirror
		}
		return domain.ModeMirror
	}
	return persona.Mode
}

// trustMultiplier scales by wallet age: young wallets are discounted,
// veterans get a premium. Wallets under 30 days never reach scoring
// (stage 1 excludes them).
func (s *Scorer) trustMultiplier(w domain.Wallet, now time.Time) float64 {
	ageDays := int(now.Sub(w.DiscoveredAt).Hours() / 24)
	sc := s.cfg.Scoring
	switch {
	case ageDays < 90:
		return sc.TrustYoung
	case ageDays < 365:
		return sc.TrustEstablished
	default:
		return sc.TrustVeteran
	}
}

// onLeaderboard prefers the discovery job's cached leaderboard set and
// falls back to the wallet row.
func (s *Scorer) onLeaderboard(w domain.Wallet) bool {
	if s.cache != nil {
		if v, ok := s.cache.Get("leaderboard:" + w.ProxyWallet); ok {
			return string(v) == "1"
		}
	}
	return w.OnLeaderboard
}

func paperStats(settled []domain.PaperTrade, bankrollUSD float64) (roiPct, hitRate float64) {
	if len(settled) == 0 {
		return 0, 0
	}
	var total float64
	wins := 0
	for _, t := range settled {
		total += *t.PnL
		if t.Status == domain.StatusSettledWin {
			wins++
		}
	}
	if bankrollUSD > 0 {
		roiPct = total / bankrollUSD * 100.0
	}
	hitRate = float64(wins) / float64(len(settled))
	return roiPct, hitRate
}

// consistency is 1 − stdev(daily_return)/max_stdev, floored at zero.
func consistency(settled []domain.PaperTrade, bankrollUSD, maxStdev float64) float64 {
	if len(settled) < 2 || bankrollUSD <= 0 || maxStdev <= 0 {
		return 0
	}

	daily := make(map[string]float64)
	for _, t := range settled {
		if t.SettledAt != nil {
			daily[t.SettledAt.UTC().Format("2006-01-02")] += *t.PnL / bankrollUSD
		}
	}
	if len(daily) < 2 {
		return 0
	}

	var mean float64
	for _, r := range daily {
		mean += r
	}
	mean /= float64(len(daily))
	var variance float64
	for _, r := range daily {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(daily) - 1)

	return clamp01(1.0 - math.Sqrt(variance)/maxStdev)
}

// marketSkill is the fraction of distinct markets that were net
// profitable over the window.
func marketSkill(settled []domain.PaperTrade) float64 {
	if len(settled) == 0 {
		return 0
	}
	byMarket := make(map[string]float64)
	for _, t := range settled {
		byMarket[t.ConditionID] += *t.PnL
	}
	profitable := 0
	for _, pnl := range byMarket {
		if pnl > 0 {
			profitable++
		}
	}
	return float64(profitable) / float64(len(byMarket))
}

// behaviorQuality is 1 − noise ratio, where noise is churn relative to
// the noise-trader threshold.
func behaviorQuality(f domain.WalletFeatures, cfg config.AppConfig) float64 {
	if cfg.Stage2.Noise.MinTradesPerWeek <= 0 {
		return 1
	}
	noise := f.TradesPerWeek / cfg.Stage2.Noise.MinTradesPerWeek
	return clamp01(1.0 - noise)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
