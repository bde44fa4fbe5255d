package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// tradesRepo implements TradesRepo for PostgreSQL.
type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a PostgreSQL source-trade repository.
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) persistence.TradesRepo {
	return &tradesRepo{db: db, timeout: timeout}
}

// InsertTrades appends raw trades, ignoring replays of rows already seen
// (tx_hash + wallet + market unique). Returns the number actually inserted.
func (r *tradesRepo) InsertTrades(ctx context.Context, trades []domain.SourceTrade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("insert trades: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO source_trades (proxy_wallet, condition_id, side, outcome, outcome_index, price, size_usd, ts, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, proxy_wallet, condition_id) DO NOTHING`)
	if err != nil {
		return 0, wrapErr("insert trades: prepare", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx,
			t.ProxyWallet, t.ConditionID, t.Side, t.Outcome, t.OutcomeIndex,
			t.Price, t.SizeUSD, t.Timestamp, t.TxHash)
		if err != nil {
			return 0, wrapErr("insert trades: exec", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("insert trades: commit", err)
	}
	return inserted, nil
}

// ListByWallet returns a wallet's trades inside the window, newest first.
func (r *tradesRepo) ListByWallet(ctx context.Context, proxyWallet string, tr persistence.TimeRange, limit int) ([]domain.SourceTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, condition_id, side, outcome, outcome_index, price, size_usd, ts AS timestamp, tx_hash, ingested_at
		FROM source_trades
		WHERE proxy_wallet = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	var trades []domain.SourceTrade
	if err := r.db.SelectContext(ctx, &trades, query, proxyWallet, tr.From.Unix(), tr.To.Unix(), limit); err != nil {
		return nil, wrapErr("list trades by wallet", err)
	}
	return trades, nil
}

// LastTradeAt returns the timestamp of the wallet's most recent trade.
func (r *tradesRepo) LastTradeAt(ctx context.Context, proxyWallet string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ts int64
	err := r.db.GetContext(ctx, &ts,
		`SELECT ts FROM source_trades WHERE proxy_wallet = $1 ORDER BY ts DESC LIMIT 1`, proxyWallet)
	if err != nil {
		return time.Time{}, wrapErr("last trade at", err)
	}
	return time.Unix(ts, 0).UTC(), nil
}

// ListUndecided returns followable wallets' source trades that have no
// fidelity event yet, oldest first. Each row surfaces exactly once: the
// mirror engine writes an event (COPIED or a skip) for every row it sees.
func (r *tradesRepo) ListUndecided(ctx context.Context, limit int) ([]domain.SourceTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT t.id, t.proxy_wallet, t.condition_id, t.side, t.outcome, t.outcome_index, t.price, t.size_usd, t.ts AS timestamp, t.tx_hash, t.ingested_at
		FROM source_trades t
		JOIN wallet_personas p ON p.proxy_wallet = t.proxy_wallet
		LEFT JOIN copy_fidelity_events f ON f.source_trade_id = t.id
		WHERE f.id IS NULL
		ORDER BY t.id
		LIMIT $1`

	var trades []domain.SourceTrade
	if err := r.db.SelectContext(ctx, &trades, query, limit); err != nil {
		return nil, wrapErr("list undecided trades", err)
	}
	return trades, nil
}

// PriceDriftAfter averages the favorable post-entry price move across the
// wallet's entries: for each trade, the last observed market price within
// the horizon, signed so positive always means the entry direction won.
func (r *tradesRepo) PriceDriftAfter(ctx context.Context, proxyWallet string, tr persistence.TimeRange, horizon time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(AVG(
			CASE WHEN t.side = 'BUY' THEN later.price - t.price ELSE t.price - later.price END
		), 0)
		FROM source_trades t
		JOIN LATERAL (
			SELECT l.price
			FROM source_trades l
			WHERE l.condition_id = t.condition_id AND l.ts > t.ts AND l.ts <= t.ts + $4
			ORDER BY l.ts DESC
			LIMIT 1
		) later ON TRUE
		WHERE t.proxy_wallet = $1 AND t.ts >= $2 AND t.ts <= $3`

	var drift float64
	err := r.db.GetContext(ctx, &drift, query,
		proxyWallet, tr.From.Unix(), tr.To.Unix(), int64(horizon.Seconds()))
	if err != nil {
		return 0, wrapErr("price drift after entry", err)
	}
	return drift, nil
}

// InsertPositions appends position snapshot rows.
func (r *tradesRepo) InsertPositions(ctx context.Context, snaps []domain.PositionSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapErr("insert positions: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO position_snapshots (proxy_wallet, condition_id, size_usd, avg_price, current_value, cash_pnl, percent_pnl, snapshot_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return 0, wrapErr("insert positions: prepare", err)
	}
	defer stmt.Close()

	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx,
			s.ProxyWallet, s.ConditionID, s.SizeUSD, s.AvgPrice,
			s.CurrentValue, s.CashPnL, s.PercentPnL, s.SnapshotAt); err != nil {
			return 0, wrapErr("insert positions: exec", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("insert positions: commit", err)
	}
	return len(snaps), nil
}

// LatestPositions returns the newest snapshot per market for the wallet.
// Historical snapshots never mix into open-exposure figures.
func (r *tradesRepo) LatestPositions(ctx context.Context, proxyWallet string) ([]domain.PositionSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (condition_id)
			id, proxy_wallet, condition_id, size_usd, avg_price, current_value, cash_pnl, percent_pnl, snapshot_at
		FROM position_snapshots
		WHERE proxy_wallet = $1
		ORDER BY condition_id, snapshot_at DESC`

	var snaps []domain.PositionSnapshot
	if err := r.db.SelectContext(ctx, &snaps, query, proxyWallet); err != nil {
		return nil, wrapErr("latest positions", err)
	}
	return snaps, nil
}
