// Package lifecycle drives the copy-trading funnel per wallet:
// candidate → paper_trading → approved → stopped. Each tick evaluates the
// phase gates and appends one audit event per decision; stopped is
// terminal until an operator re-activates the wallet.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// evaluation window for the paper-phase gates.
const paperWindowDays = 30

// Machine evaluates lifecycle transitions.
type Machine struct {
	wallets  persistence.WalletsRepo
	features persistence.FeaturesRepo
	paper    persistence.PaperRepo
	classify persistence.ClassifyRepo
	cfg      config.AppConfig
}

// NewMachine wires a lifecycle machine.
func NewMachine(
	wallets persistence.WalletsRepo,
	features persistence.FeaturesRepo,
	paper persistence.PaperRepo,
	classify persistence.ClassifyRepo,
	cfg config.AppConfig,
) *Machine {
	return &Machine{wallets: wallets, features: features, paper: paper, classify: classify, cfg: cfg}
}

// Evaluate advances the wallet's lifecycle by at most one transition and
// returns the resulting row.
func (m *Machine) Evaluate(ctx context.Context, proxyWallet string, now time.Time) (persistence.LifecycleRow, error) {
	row, err := m.wallets.GetLifecycle(ctx, proxyWallet)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return persistence.LifecycleRow{}, fmt.Errorf("load lifecycle for %s: %w", proxyWallet, err)
		}
		row = persistence.LifecycleRow{ProxyWallet: proxyWallet, State: domain.StateCandidate}
	}
	row.LastSeenAt = now

	// A non-followable classification stops the wallet from any phase.
	_, personaErr := m.classify.CurrentPersona(ctx, proxyWallet)
	if errors.Is(personaErr, persistence.ErrNotFound) && row.State != domain.StateCandidate && row.State != domain.StateStopped {
		return m.transition(ctx, row, domain.StateStopped, "live", false, "not_followable_persona_gate", nil)
	}
	if personaErr != nil && !errors.Is(personaErr, persistence.ErrNotFound) {
		return persistence.LifecycleRow{}, fmt.Errorf("load persona for %s: %w", proxyWallet, personaErr)
	}

	switch row.State {
	case domain.StateCandidate:
		return m.evaluateCandidate(ctx, row, personaErr == nil, now)
	case domain.StatePaperTrading:
		return m.evaluatePaper(ctx, row, now)
	case domain.StateApproved:
		return m.evaluateApproved(ctx, row, now)
	default: // stopped
		return m.persist(ctx, row)
	}
}

func (m *Machine) evaluateCandidate(ctx context.Context, row persistence.LifecycleRow, hasPersona bool, now time.Time) (persistence.LifecycleRow, error) {
	if !hasPersona {
		return m.transition(ctx, row, row.State, "discovery", false, "not_followable_persona_gate", nil)
	}

	feats, err := m.features.Latest(ctx, row.ProxyWallet, paperWindowDays)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return persistence.LifecycleRow{}, fmt.Errorf("load features: %w", err)
	}
	metrics := map[string]float64{"trade_count": float64(feats.TradeCount)}
	if feats.TradeCount < m.cfg.Lifecycle.MinTradesForPaper {
		return m.transition(ctx, row, row.State, "discovery", false, "not_enough_trades_for_discovery", metrics)
	}
	return m.transition(ctx, row, domain.StatePaperTrading, "discovery", true, "promoted_to_paper_trading", metrics)
}

func (m *Machine) evaluatePaper(ctx context.Context, row persistence.LifecycleRow, now time.Time) (persistence.LifecycleRow, error) {
	tr := persistence.TimeRange{From: now.AddDate(0, 0, -paperWindowDays), To: now}
	lc := m.cfg.Lifecycle

	settled, err := m.paper.SettledByWallet(ctx, row.ProxyWallet, tr)
	if err != nil {
		return persistence.LifecycleRow{}, fmt.Errorf("load settled paper: %w", err)
	}
	events, err := m.paper.FidelityByWallet(ctx, row.ProxyWallet, tr)
	if err != nil {
		return persistence.LifecycleRow{}, fmt.Errorf("load fidelity: %w", err)
	}

	var totalPnL float64
	wins := 0
	for _, t := range settled {
		totalPnL += *t.PnL
		if t.Status == domain.StatusSettledWin {
			wins++
		}
	}
	roiPct := 0.0
	if m.cfg.Trading.BankrollUSD > 0 {
		roiPct = totalPnL / m.cfg.Trading.BankrollUSD * 100.0
	}
	hitRate := 0.0
	if len(settled) > 0 {
		hitRate = float64(wins) / float64(len(settled))
	}
	fidelity := fidelityPct(events)

	metrics := map[string]float64{
		"paper_trades": float64(len(settled)),
		"paper_roi":    roiPct,
		"hit_rate":     hitRate,
		"fidelity":     fidelity,
	}

	switch {
	case len(settled) < lc.MinPaperTrades:
		return m.transition(ctx, row, row.State, "paper", false, "not_enough_settled_paper_trades", metrics)
	case roiPct < lc.MinPaperROIPct:
		return m.transition(ctx, row, row.State, "paper", false, "paper_roi_below_threshold", metrics)
	case hitRate < lc.MinPaperHitRate:
		return m.transition(ctx, row, row.State, "paper", false, "paper_hit_rate_below_threshold", metrics)
	case fidelity < lc.MinCopyFidelityPct:
		return m.transition(ctx, row, row.State, "paper", false, "copy_fidelity_below_threshold", metrics)
	}

	// Approval snapshots the style baseline the drift check compares to.
	feats, err := m.features.Latest(ctx, row.ProxyWallet, paperWindowDays)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return persistence.LifecycleRow{}, fmt.Errorf("load features for baseline: %w", err)
	}
	style := domain.StyleFromFeatures(feats)
	row.BaselineStyle = &style
	return m.transition(ctx, row, domain.StateApproved, "paper", true, "approved_for_copying", metrics)
}

func (m *Machine) evaluateApproved(ctx context.Context, row persistence.LifecycleRow, now time.Time) (persistence.LifecycleRow, error) {
	state, err := m.paper.GetRiskState(ctx, row.ProxyWallet)
	if err != nil {
		return persistence.LifecycleRow{}, fmt.Errorf("load risk state: %w", err)
	}
	if dd := state.DrawdownPct(m.cfg.Trading.BankrollUSD); dd > m.cfg.Lifecycle.MaxLiveDrawdownPct {
		return m.transition(ctx, row, domain.StateStopped, "live", false, "live_drawdown_breach",
			map[string]float64{"drawdown_pct": dd})
	}

	if row.BaselineStyle != nil {
		feats, err := m.features.Latest(ctx, row.ProxyWallet, paperWindowDays)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return persistence.LifecycleRow{}, fmt.Errorf("load features for drift: %w", err)
		}
		drift := StyleDrift(*row.BaselineStyle, domain.StyleFromFeatures(feats))
		if drift > m.cfg.Lifecycle.MaxStyleDrift {
			return m.transition(ctx, row, domain.StateStopped, "live", false, "style_drift_breach",
				map[string]float64{"style_drift": drift})
		}
	}

	return m.persist(ctx, row)
}

// StyleDrift scores how far the wallet's current style has moved from its
// approval baseline: a weighted sum of normalized component deltas, each
// capped at 1.
func StyleDrift(baseline, current domain.StyleSnapshot) float64 {
	tpd := relDelta(baseline.TradesPerDay, current.TradesPerDay)
	mkts := relDelta(float64(baseline.UniqueMarkets), float64(current.UniqueMarkets))
	burst := math.Min(1, math.Abs(current.BurstinessTop1hRatio-baseline.BurstinessTop1hRatio))
	bal := math.Min(1, math.Abs(current.BuySellBalance-baseline.BuySellBalance))
	theme := math.Min(1, math.Abs(current.TopCategoryRatio-baseline.TopCategoryRatio))

	return 0.30*tpd + 0.20*mkts + 0.25*burst + 0.15*bal + 0.10*theme
}

// relDelta is |cur−base| relative to the baseline, capped at 1.
func relDelta(base, cur float64) float64 {
	if base <= 0 {
		if cur > 0 {
			return 1
		}
		return 0
	}
	return math.Min(1, math.Abs(cur-base)/base)
}

func fidelityPct(events []domain.FidelityEvent) float64 {
	if len(events) == 0 {
		return 100.0
	}
	copied := 0
	for _, ev := range events {
		if ev.Outcome == domain.OutcomeCopied {
			copied++
		}
	}
	return float64(copied) / float64(len(events)) * 100.0
}

// transition persists the (possibly unchanged) state and appends the
// audit event.
func (m *Machine) transition(ctx context.Context, row persistence.LifecycleRow, to domain.LifecycleState, phase string, allow bool, reason string, metrics map[string]float64) (persistence.LifecycleRow, error) {
	changed := row.State != to
	row.State = to

	out, err := m.persist(ctx, row)
	if err != nil {
		return out, err
	}

	ev := persistence.LifecycleEvent{
		ProxyWallet: row.ProxyWallet,
		Phase:       phase,
		Allow:       allow,
		Reason:      reason,
		Metrics:     metrics,
	}
	if err := m.wallets.AppendLifecycleEvent(ctx, ev); err != nil {
		return out, fmt.Errorf("append lifecycle event: %w", err)
	}

	if changed {
		log.Info().
			Str("wallet", row.ProxyWallet).
			Str("state", string(to)).
			Str("reason", reason).
			Msg("lifecycle transition")
	}
	return out, nil
}

func (m *Machine) persist(ctx context.Context, row persistence.LifecycleRow) (persistence.LifecycleRow, error) {
	if err := m.wallets.UpsertLifecycle(ctx, row); err != nil {
		return persistence.LifecycleRow{}, fmt.Errorf("persist lifecycle: %w", err)
	}
	return row, nil
}
