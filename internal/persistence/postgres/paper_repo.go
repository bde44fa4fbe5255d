package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// paperRepo implements PaperRepo for PostgreSQL. The copy and settlement
// paths each run as one transaction: a paper trade without its risk
// counter updates (or vice versa) must be impossible.
type paperRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPaperRepo creates a PostgreSQL paper-trading repository.
func NewPaperRepo(db *sqlx.DB, timeout time.Duration) persistence.PaperRepo {
	return &paperRepo{db: db, timeout: timeout}
}

const upsertRiskDelta = `
	INSERT INTO risk_states (scope_key, total_exposure_usd, open_positions, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (scope_key) DO UPDATE SET
		total_exposure_usd = risk_states.total_exposure_usd + $2,
		open_positions = risk_states.open_positions + $3,
		updated_at = NOW()`

// CreateCopy persists the open trade, its COPIED audit rows and the
// exposure deltas for both risk scopes in one transaction. Returns the
// new paper trade id.
func (r *paperRepo) CreateCopy(ctx context.Context, t domain.PaperTrade, slip domain.SlippageRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("create copy: begin", err)
	}
	defer tx.Rollback()

	var tradeID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO paper_trades (proxy_wallet, condition_id, side, outcome, outcome_index, size_usd, entry_price, fee_paid, slippage_applied, source_trade_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'open')
		RETURNING id`,
		t.ProxyWallet, t.ConditionID, t.Side, t.Outcome, t.OutcomeIndex,
		t.SizeUSD, t.EntryPrice, t.FeePaid, t.SlippageApplied, t.SourceTradeID).Scan(&tradeID)
	if err != nil {
		return 0, wrapErr("create copy: insert trade", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO copy_fidelity_events (proxy_wallet, condition_id, source_trade_id, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ProxyWallet, t.ConditionID, t.SourceTradeID, domain.OutcomeCopied, ""); err != nil {
		return 0, wrapErr("create copy: fidelity event", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO follower_slippage (proxy_wallet, condition_id, source_price, our_price, slippage_cents, fee_applied, source_trade_id, paper_trade_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		slip.ProxyWallet, slip.ConditionID, slip.SourcePrice, slip.OurPrice,
		slip.SlippageCents, slip.FeeApplied, slip.SourceTradeID, tradeID); err != nil {
		return 0, wrapErr("create copy: slippage row", err)
	}

	// Weighted-average entry into the aggregated position.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paper_positions (proxy_wallet, condition_id, side, total_size_usd, avg_entry_price, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (proxy_wallet, condition_id, side) DO UPDATE SET
			avg_entry_price = (paper_positions.avg_entry_price * paper_positions.total_size_usd + $5 * $4)
				/ (paper_positions.total_size_usd + $4),
			total_size_usd = paper_positions.total_size_usd + $4,
			last_updated_at = NOW()`,
		t.ProxyWallet, t.ConditionID, t.Side, t.SizeUSD, t.EntryPrice); err != nil {
		return 0, wrapErr("create copy: position", err)
	}

	for _, scope := range []string{domain.PortfolioScope, t.ProxyWallet} {
		if _, err := tx.ExecContext(ctx, upsertRiskDelta, scope, t.SizeUSD, 1); err != nil {
			return 0, wrapErr("create copy: risk state", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("create copy: commit", err)
	}
	return tradeID, nil
}

// RecordSkip appends the typed skip event. Nothing else changes: skips
// leave exposure untouched.
func (r *paperRepo) RecordSkip(ctx context.Context, ev domain.FidelityEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO copy_fidelity_events (proxy_wallet, condition_id, source_trade_id, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ProxyWallet, ev.ConditionID, ev.SourceTradeID, ev.Outcome, ev.Detail)
	return wrapErr("record skip", err)
}

// SettleMarket closes every still-open paper trade for the market at the
// terminal price, removes the market's positions and books the realized
// PnL into both risk scopes, all in one transaction. A second delivery of
// the same resolution matches zero rows and changes nothing.
func (r *paperRepo) SettleMarket(ctx context.Context, conditionID string, settlePrice float64, now time.Time) ([]domain.PaperTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("settle market: begin", err)
	}
	defer tx.Rollback()

	// Per-share move from entry to the terminal price, scaled by the USD
	// stake. BUY wins when the settle price exceeds the entry; SELL is
	// the mirror.
	query := `
		UPDATE paper_trades SET
			exit_price = $2,
			pnl = CASE WHEN side = 'BUY'
				THEN ($2 - entry_price) * size_usd
				ELSE (entry_price - $2) * size_usd END,
			status = CASE WHEN (CASE WHEN side = 'BUY'
				THEN ($2 - entry_price) * size_usd
				ELSE (entry_price - $2) * size_usd END) >= 0
				THEN 'settled_win' ELSE 'settled_loss' END,
			settled_at = $3
		WHERE condition_id = $1 AND status = 'open'
		RETURNING id, proxy_wallet, condition_id, side, outcome, outcome_index, size_usd, entry_price, fee_paid, slippage_applied, source_trade_id, status, exit_price, pnl, created_at, settled_at`

	var settled []domain.PaperTrade
	rows, err := tx.QueryxContext(ctx, query, conditionID, settlePrice, now)
	if err != nil {
		return nil, wrapErr("settle market: update trades", err)
	}
	for rows.Next() {
		var t domain.PaperTrade
		if err := rows.StructScan(&t); err != nil {
			rows.Close()
			return nil, wrapErr("settle market: scan", err)
		}
		settled = append(settled, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr("settle market: rows", err)
	}

	if len(settled) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM paper_positions WHERE condition_id = $1`, conditionID); err != nil {
		return nil, wrapErr("settle market: delete positions", err)
	}

	// Aggregate deltas per scope before touching risk_states.
	type delta struct {
		pnl      float64
		exposure float64
		count    int
	}
	deltas := map[string]*delta{domain.PortfolioScope: {}}
	for _, t := range settled {
		if deltas[t.ProxyWallet] == nil {
			deltas[t.ProxyWallet] = &delta{}
		}
		for _, d := range []*delta{deltas[domain.PortfolioScope], deltas[t.ProxyWallet]} {
			d.pnl += *t.PnL
			d.exposure -= t.SizeUSD
			d.count--
		}
	}

	for scope, d := range deltas {
		if _, err := tx.ExecContext(ctx, `
			UPDATE risk_states SET
				daily_pnl = daily_pnl + $2,
				weekly_pnl = weekly_pnl + $2,
				current_pnl = current_pnl + $2,
				peak_pnl = GREATEST(peak_pnl, current_pnl + $2),
				total_exposure_usd = total_exposure_usd + $3,
				open_positions = open_positions + $4,
				updated_at = NOW()
			WHERE scope_key = $1`,
			scope, d.pnl, d.exposure, d.count); err != nil {
			return nil, wrapErr("settle market: risk state", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("settle market: commit", err)
	}
	return settled, nil
}

func (r *paperRepo) OpenTrades(ctx context.Context, conditionID string) ([]domain.PaperTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, condition_id, side, outcome, outcome_index, size_usd, entry_price, fee_paid, slippage_applied, source_trade_id, status, exit_price, pnl, created_at, settled_at
		FROM paper_trades
		WHERE condition_id = $1 AND status = 'open'
		ORDER BY id`

	var trades []domain.PaperTrade
	if err := r.db.SelectContext(ctx, &trades, query, conditionID); err != nil {
		return nil, wrapErr("open trades", err)
	}
	return trades, nil
}

func (r *paperRepo) OpenConditionIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT condition_id
		FROM paper_trades
		WHERE status = 'open'
		ORDER BY condition_id`)
	if err != nil {
		return nil, wrapErr("open condition ids", err)
	}
	return ids, nil
}

func (r *paperRepo) SettledByWallet(ctx context.Context, proxyWallet string, tr persistence.TimeRange) ([]domain.PaperTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, condition_id, side, outcome, outcome_index, size_usd, entry_price, fee_paid, slippage_applied, source_trade_id, status, exit_price, pnl, created_at, settled_at
		FROM paper_trades
		WHERE proxy_wallet = $1 AND status <> 'open' AND settled_at >= $2 AND settled_at <= $3
		ORDER BY settled_at`

	var trades []domain.PaperTrade
	if err := r.db.SelectContext(ctx, &trades, query, proxyWallet, tr.From, tr.To); err != nil {
		return nil, wrapErr("settled by wallet", err)
	}
	return trades, nil
}

// OpenExposureByTheme sums open paper exposure across markets in the
// category; the portfolio theme cap checks against it.
func (r *paperRepo) OpenExposureByTheme(ctx context.Context, category string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(pt.size_usd), 0)
		FROM paper_trades pt
		JOIN markets m ON m.condition_id = pt.condition_id
		WHERE pt.status = 'open' AND m.category = $1`

	var total float64
	if err := r.db.GetContext(ctx, &total, query, category); err != nil {
		return 0, wrapErr("open exposure by theme", err)
	}
	return total, nil
}

// GetRiskState returns the scope's aggregate; a scope with no row yet is
// an empty budget, not an error.
func (r *paperRepo) GetRiskState(ctx context.Context, scopeKey string) (domain.RiskState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s domain.RiskState
	query := `
		SELECT scope_key, total_exposure_usd, daily_pnl, weekly_pnl, peak_pnl, current_pnl, open_positions, halted, halt_reason, halted_until, updated_at
		FROM risk_states WHERE scope_key = $1`
	err := r.db.GetContext(ctx, &s, query, scopeKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RiskState{ScopeKey: scopeKey}, nil
		}
		return domain.RiskState{}, wrapErr("get risk state", err)
	}
	return s, nil
}

func (r *paperRepo) SetHalt(ctx context.Context, scopeKey, reason string, until *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_states (scope_key, halted, halt_reason, halted_until, updated_at)
		VALUES ($1, TRUE, $2, $3, NOW())
		ON CONFLICT (scope_key) DO UPDATE SET
			halted = TRUE,
			halt_reason = $2,
			halted_until = $3,
			updated_at = NOW()`,
		scopeKey, reason, until)
	return wrapErr("set halt", err)
}

func (r *paperRepo) ClearHalt(ctx context.Context, scopeKey string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE risk_states SET halted = FALSE, halt_reason = '', halted_until = NULL, updated_at = NOW()
		WHERE scope_key = $1`, scopeKey)
	return wrapErr("clear halt", err)
}

// ResetDailyPnL zeroes the daily loss counters; the scheduler runs it at
// midnight UTC.
func (r *paperRepo) ResetDailyPnL(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE risk_states SET daily_pnl = 0, updated_at = NOW()`)
	return wrapErr("reset daily pnl", err)
}

// ResetWeeklyPnL zeroes the weekly loss counters; runs Monday midnight UTC.
func (r *paperRepo) ResetWeeklyPnL(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE risk_states SET weekly_pnl = 0, updated_at = NOW()`)
	return wrapErr("reset weekly pnl", err)
}

func (r *paperRepo) FidelityByWallet(ctx context.Context, proxyWallet string, tr persistence.TimeRange) ([]domain.FidelityEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, condition_id, source_trade_id, outcome, detail, created_at
		FROM copy_fidelity_events
		WHERE proxy_wallet = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY id`

	var events []domain.FidelityEvent
	if err := r.db.SelectContext(ctx, &events, query, proxyWallet, tr.From, tr.To); err != nil {
		return nil, wrapErr("fidelity by wallet", err)
	}
	return events, nil
}

func (r *paperRepo) RecentSlippage(ctx context.Context, proxyWallet string, n int) ([]domain.SlippageRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, condition_id, source_price, our_price, slippage_cents, fee_applied, source_trade_id, paper_trade_id, created_at
		FROM follower_slippage
		WHERE proxy_wallet = $1
		ORDER BY id DESC
		LIMIT $2`

	var recs []domain.SlippageRecord
	if err := r.db.SelectContext(ctx, &recs, query, proxyWallet, n); err != nil {
		return nil, wrapErr("recent slippage", err)
	}
	return recs, nil
}
