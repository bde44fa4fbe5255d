// Package markets ranks venue markets by copy-trading usefulness. The
// MScore is a weighted sum of component scores; the top ranks feed wallet
// discovery.
package markets

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
)

// Ranker scores and ranks market candidates.
type Ranker struct {
	cfg config.MarketsConfig
}

// NewRanker wires a ranker.
func NewRanker(cfg config.MarketsConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Candidate pairs a market with the externally supplied signals the
// score needs.
type Candidate struct {
	Market domain.Market
	// TradesPerHour is the venue-wide recent trade density.
	TradesPerHour float64
	// TopHolderShare is the fraction of open interest held by the top
	// holders, 0..1. Lower concentration scores higher.
	TopHolderShare float64
}

// Eligible applies the coarse pre-filters ahead of scoring.
func (r *Ranker) Eligible(m domain.Market, now time.Time) bool {
	if m.Resolved {
		return false
	}
	if m.Liquidity < r.cfg.MinLiquidityUSD || m.Volume24h < r.cfg.MinVolume24hUSD {
		return false
	}
	if !m.EndDate.IsZero() {
		days := m.EndDate.Sub(now).Hours() / 24
		if days < 0 || days > float64(r.cfg.MaxDaysToExpiry) {
			return false
		}
	}
	return true
}

// Rank scores the candidates, sorts them and assigns ranks 1..n, keeping
// the configured top N.
func (r *Ranker) Rank(candidates []Candidate, scoreDate string, now time.Time) []domain.MarketScore {
	scores := make([]domain.MarketScore, 0, len(candidates))
	for _, c := range candidates {
		if !r.Eligible(c.Market, now) {
			continue
		}
		scores = append(scores, r.score(c, scoreDate, now))
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].MScore > scores[j].MScore })
	if len(scores) > r.cfg.TopN {
		scores = scores[:r.cfg.TopN]
	}
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

func (r *Ranker) score(c Candidate, scoreDate string, now time.Time) domain.MarketScore {
	s := domain.MarketScore{
		ConditionID: c.Market.ConditionID,
		ScoreDate:   scoreDate,
	}

	// Log-scaled liquidity and volume: $10k → ~0.5, $1M+ → 1.
	s.LiquidityScore = logScore(c.Market.Liquidity, r.cfg.MinLiquidityUSD)
	s.VolumeScore = logScore(c.Market.Volume24h, r.cfg.MinVolume24hUSD)
	s.DensityScore = math.Min(1, c.TradesPerHour/50.0)
	s.ConcentrationScore = 1 - clamp01(c.TopHolderShare)

	// Expiry sweet spot: enough runway to settle, not so long that
	// capital idles.
	if !c.Market.EndDate.IsZero() {
		days := c.Market.EndDate.Sub(now).Hours() / 24
		s.ExpiryScore = clamp01(1 - math.Abs(days-14)/float64(r.cfg.MaxDaysToExpiry))
	} else {
		s.ExpiryScore = 0.5
	}

	s.MScore = r.cfg.LiquidityWeight*s.LiquidityScore +
		r.cfg.VolumeWeight*s.VolumeScore +
		r.cfg.DensityWeight*s.DensityScore +
		r.cfg.ConcentrationWeight*s.ConcentrationScore +
		r.cfg.ExpiryWeight*s.ExpiryScore
	return s
}

// logScore maps value onto [0,1] with the floor at 0.5 and two orders of
// magnitude above it at 1.
func logScore(value, floor float64) float64 {
	if value <= 0 || floor <= 0 {
		return 0
	}
	return clamp01(0.5 + math.Log10(value/floor)/4)
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
