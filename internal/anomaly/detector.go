// Package anomaly compares a followed wallet's recent behavior to its
// historical baseline and halts its mirror decisions when the behavior
// breaks. Halts are committed RiskState writes, so the next mirror
// decision sees them immediately.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// Windows used for the baseline comparison: the short recent window
// against the long historical one.
const (
	recentWindowDays   = 7
	baselineWindowDays = 90
)

// Detector runs the weekly baseline comparison and the immediate kill
// triggers.
type Detector struct {
	features persistence.FeaturesRepo
	paper    persistence.PaperRepo
	trades   persistence.TradesRepo
	classify persistence.ClassifyRepo
	anomaly  persistence.AnomalyRepo
	cfg      config.AppConfig
}

// NewDetector wires a detector.
func NewDetector(
	features persistence.FeaturesRepo,
	paper persistence.PaperRepo,
	trades persistence.TradesRepo,
	classify persistence.ClassifyRepo,
	anomaly persistence.AnomalyRepo,
	cfg config.AppConfig,
) *Detector {
	return &Detector{
		features: features, paper: paper, trades: trades,
		classify: classify, anomaly: anomaly, cfg: cfg,
	}
}

// finding is one tripped comparison, before escalation.
type finding struct {
	flag      domain.AnomalyFlag
	current   float64
	baseline  float64
	threshold float64
	action    domain.AnomalyAction
	detail    string
}

// Evaluate compares the wallet's recent window against its baseline and
// applies any resulting pause or kill. Returns the events appended.
func (d *Detector) Evaluate(ctx context.Context, proxyWallet string, now time.Time) ([]domain.AnomalyEvent, error) {
	recent, err := d.features.Latest(ctx, proxyWallet, recentWindowDays)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load recent features for %s: %w", proxyWallet, err)
	}
	baseline, err := d.features.Latest(ctx, proxyWallet, baselineWindowDays)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load baseline features for %s: %w", proxyWallet, err)
	}

	findings := d.compare(recent, baseline)
	findings = append(findings, d.killTriggers(ctx, proxyWallet, recent, now)...)

	var events []domain.AnomalyEvent
	for _, f := range findings {
		ev := domain.AnomalyEvent{
			ProxyWallet:   proxyWallet,
			Flag:          f.flag,
			CurrentValue:  f.current,
			BaselineValue: f.baseline,
			Threshold:     f.threshold,
			Action:        f.action,
			Detail:        f.detail,
		}
		if err := d.anomaly.Append(ctx, ev); err != nil {
			return events, fmt.Errorf("append anomaly event: %w", err)
		}
		events = append(events, ev)

		if err := d.applyHalt(ctx, proxyWallet, f, now); err != nil {
			return events, err
		}

		log.Warn().
			Str("wallet", proxyWallet).
			Str("flag", string(f.flag)).
			Str("action", string(f.action)).
			Float64("current", f.current).
			Float64("baseline", f.baseline).
			Msg("anomaly detected")
	}
	return events, nil
}

// compare runs the four baseline comparisons. All flags pause.
func (d *Detector) compare(recent, baseline domain.WalletFeatures) []finding {
	a := d.cfg.Anomaly
	var out []finding

	if baseline.TradeCount > 0 {
		if drop := (baseline.RawWinRate - recent.RawWinRate) * 100; drop > a.WinRateDropPts {
			out = append(out, finding{
				flag: domain.FlagWinRateDrop, current: recent.RawWinRate * 100, baseline: baseline.RawWinRate * 100,
				threshold: a.WinRateDropPts, action: domain.ActionPause,
				detail: fmt.Sprintf("win rate dropped %.1f points", drop),
			})
		}

		if baseline.TradesPerWeek > 0 {
			ratio := recent.TradesPerWeek / baseline.TradesPerWeek
			if ratio > a.FrequencyRatio || (ratio > 0 && 1/ratio > a.FrequencyRatio) {
				out = append(out, finding{
					flag: domain.FlagFrequencyChange, current: recent.TradesPerWeek, baseline: baseline.TradesPerWeek,
					threshold: a.FrequencyRatio, action: domain.ActionPause,
					detail: fmt.Sprintf("trade frequency ratio %.1fx", ratio),
				})
			}
		}

		// The window's largest trade against the historical average, so a
		// single outsized bet trips the flag even when the average stays flat.
		if baseline.AvgPositionSizeUSD > 0 {
			if ratio := recent.MaxTradeSizeUSD / baseline.AvgPositionSizeUSD; ratio > a.PositionSizeRatio {
				out = append(out, finding{
					flag: domain.FlagPositionSizeAnomaly, current: recent.MaxTradeSizeUSD, baseline: baseline.AvgPositionSizeUSD,
					threshold: a.PositionSizeRatio, action: domain.ActionPause,
					detail: fmt.Sprintf("largest trade %.1fx the historical average size", ratio),
				})
			}
		}
	}

	if recent.MaxDrawdownPct > a.DrawdownSpikePct {
		out = append(out, finding{
			flag: domain.FlagDrawdownSpike, current: recent.MaxDrawdownPct, baseline: baseline.MaxDrawdownPct,
			threshold: a.DrawdownSpikePct, action: domain.ActionPause,
			detail: fmt.Sprintf("weekly drawdown %.1f%%", recent.MaxDrawdownPct),
		})
	}

	return out
}

// killTriggers are the hard stop conditions: persona lost, paper ROI
// collapse, hit-rate collapse, extended inactivity.
func (d *Detector) killTriggers(ctx context.Context, proxyWallet string, recent domain.WalletFeatures, now time.Time) []finding {
	a := d.cfg.Anomaly
	var out []finding

	if _, err := d.classify.CurrentPersona(ctx, proxyWallet); errors.Is(err, persistence.ErrNotFound) {
		out = append(out, finding{
			flag: domain.FlagPersonaLost, action: domain.ActionKill,
			detail: "wallet no longer classifies as followable",
		})
	}

	if recent.PaperROIPct < a.KillPaperROIPct {
		out = append(out, finding{
			flag: domain.FlagPaperROICollapse, current: recent.PaperROIPct,
			threshold: a.KillPaperROIPct, action: domain.ActionKill,
			detail: fmt.Sprintf("7-day paper ROI %.1f%%", recent.PaperROIPct),
		})
	}

	total := recent.WinCount + recent.LossCount
	if total >= a.KillHitRateMinN && recent.RawWinRate < a.KillHitRate {
		out = append(out, finding{
			flag: domain.FlagHitRateCollapse, current: recent.RawWinRate,
			threshold: a.KillHitRate, action: domain.ActionKill,
			detail: fmt.Sprintf("hit rate %.0f%% over %d trades", recent.RawWinRate*100, total),
		})
	}

	lastTrade, err := d.trades.LastTradeAt(ctx, proxyWallet)
	if err == nil {
		if idle := int(now.Sub(lastTrade).Hours() / 24); idle >= a.KillInactivityDays {
			out = append(out, finding{
				flag: domain.FlagInactivity, current: float64(idle),
				threshold: float64(a.KillInactivityDays), action: domain.ActionKill,
				detail: fmt.Sprintf("no trades for %d days", idle),
			})
		}
	} else if !errors.Is(err, persistence.ErrNotFound) {
		log.Warn().Err(err).Str("wallet", proxyWallet).Msg("last-trade lookup failed, skipping inactivity check")
	}

	return out
}

// applyHalt writes the wallet halt for the finding. Pauses expire after
// the configured duration; kills hold until explicitly cleared.
func (d *Detector) applyHalt(ctx context.Context, proxyWallet string, f finding, now time.Time) error {
	reason := fmt.Sprintf("anomaly:%s", f.flag)
	switch f.action {
	case domain.ActionPause:
		until := now.Add(time.Duration(d.cfg.Anomaly.PauseDuration))
		if err := d.paper.SetHalt(ctx, proxyWallet, reason, &until); err != nil {
			return fmt.Errorf("pause wallet %s: %w", proxyWallet, err)
		}
	case domain.ActionKill:
		if err := d.paper.SetHalt(ctx, proxyWallet, reason, nil); err != nil {
			return fmt.Errorf("kill wallet %s: %w", proxyWallet, err)
		}
	}
	return nil
}
