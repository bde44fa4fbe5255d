package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// classifyRepo implements ClassifyRepo for PostgreSQL.
type classifyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClassifyRepo creates a PostgreSQL classification repository.
func NewClassifyRepo(db *sqlx.DB, timeout time.Duration) persistence.ClassifyRepo {
	return &classifyRepo{db: db, timeout: timeout}
}

// SetPersona persists the persona row and removes any current exclusion
// in the same transaction, so a wallet is never both at once. The history
// table gets an append-only copy.
func (r *classifyRepo) SetPersona(ctx context.Context, row persistence.PersonaRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	flags, err := json.Marshal(row.RiskFlags)
	if err != nil {
		return wrapErr("marshal risk flags", err)
	}
	if row.RiskFlags == nil {
		flags = []byte("[]")
	}
	checks, err := json.Marshal(row.Checks)
	if err != nil {
		return wrapErr("marshal checks", err)
	}
	if row.Checks == nil {
		checks = []byte("[]")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("set persona: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_exclusions WHERE proxy_wallet = $1`, row.ProxyWallet); err != nil {
		return wrapErr("set persona: clear exclusion", err)
	}

	query := `
		INSERT INTO wallet_personas (proxy_wallet, persona, mode, confidence, risk_flags, checks, classified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proxy_wallet) DO UPDATE SET
			persona = EXCLUDED.persona,
			mode = EXCLUDED.mode,
			confidence = EXCLUDED.confidence,
			risk_flags = EXCLUDED.risk_flags,
			checks = EXCLUDED.checks,
			classified_at = EXCLUDED.classified_at`
	if _, err := tx.ExecContext(ctx, query,
		row.ProxyWallet, row.Persona, row.Mode, row.Confidence, flags, checks, row.ClassifiedAt); err != nil {
		return wrapErr("set persona: upsert", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO classification_history (proxy_wallet, kind, label, metric_value, threshold, detail)
		 VALUES ($1, 'persona', $2, $3, 0, '')`,
		row.ProxyWallet, row.Persona, row.Confidence); err != nil {
		return wrapErr("set persona: history", err)
	}

	return wrapErr("set persona: commit", tx.Commit())
}

// SetExclusion persists the exclusion row and removes any current persona
// in the same transaction. Exclusions supersede each other: the wallet
// keeps exactly one current row.
func (r *classifyRepo) SetExclusion(ctx context.Context, row persistence.ExclusionRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("set exclusion: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_personas WHERE proxy_wallet = $1`, row.ProxyWallet); err != nil {
		return wrapErr("set exclusion: clear persona", err)
	}

	query := `
		INSERT INTO wallet_exclusions (proxy_wallet, code, metric_value, threshold, detail, excluded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proxy_wallet) DO UPDATE SET
			code = EXCLUDED.code,
			metric_value = EXCLUDED.metric_value,
			threshold = EXCLUDED.threshold,
			detail = EXCLUDED.detail,
			excluded_at = EXCLUDED.excluded_at`
	if _, err := tx.ExecContext(ctx, query,
		row.ProxyWallet, row.Code, row.MetricValue, row.Threshold, row.Detail, row.ExcludedAt); err != nil {
		return wrapErr("set exclusion: upsert", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO classification_history (proxy_wallet, kind, label, metric_value, threshold, detail)
		 VALUES ($1, 'exclusion', $2, $3, $4, $5)`,
		row.ProxyWallet, row.Code, row.MetricValue, row.Threshold, row.Detail); err != nil {
		return wrapErr("set exclusion: history", err)
	}

	return wrapErr("set exclusion: commit", tx.Commit())
}

// ClearClassification drops both current rows in one transaction. A
// wallet whose history no longer matches any rule goes back to plain
// tracking; the history table keeps the trail.
func (r *classifyRepo) ClearClassification(ctx context.Context, proxyWallet string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("clear classification: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_personas WHERE proxy_wallet = $1`, proxyWallet); err != nil {
		return wrapErr("clear classification: persona", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_exclusions WHERE proxy_wallet = $1`, proxyWallet); err != nil {
		return wrapErr("clear classification: exclusion", err)
	}

	return wrapErr("clear classification: commit", tx.Commit())
}

func (r *classifyRepo) CurrentPersona(ctx context.Context, proxyWallet string) (persistence.PersonaRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		ProxyWallet  string    `db:"proxy_wallet"`
		Persona      string    `db:"persona"`
		Mode         string    `db:"mode"`
		Confidence   float64   `db:"confidence"`
		RiskFlags    []byte    `db:"risk_flags"`
		Checks       []byte    `db:"checks"`
		ClassifiedAt time.Time `db:"classified_at"`
	}
	query := `SELECT proxy_wallet, persona, mode, confidence, risk_flags, checks, classified_at FROM wallet_personas WHERE proxy_wallet = $1`
	if err := r.db.GetContext(ctx, &row, query, proxyWallet); err != nil {
		return persistence.PersonaRow{}, wrapErr("current persona", err)
	}

	out := persistence.PersonaRow{
		ProxyWallet:  row.ProxyWallet,
		Persona:      domain.Persona(row.Persona),
		Mode:         domain.CopyMode(row.Mode),
		Confidence:   row.Confidence,
		ClassifiedAt: row.ClassifiedAt,
	}
	if err := json.Unmarshal(row.RiskFlags, &out.RiskFlags); err != nil {
		return persistence.PersonaRow{}, wrapErr("unmarshal risk flags", err)
	}
	if err := json.Unmarshal(row.Checks, &out.Checks); err != nil {
		return persistence.PersonaRow{}, wrapErr("unmarshal checks", err)
	}
	return out, nil
}

func (r *classifyRepo) CurrentExclusion(ctx context.Context, proxyWallet string) (persistence.ExclusionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.ExclusionRow
	query := `SELECT proxy_wallet, code, metric_value, threshold, detail, excluded_at FROM wallet_exclusions WHERE proxy_wallet = $1`
	if err := r.db.GetContext(ctx, &row, query, proxyWallet); err != nil {
		return persistence.ExclusionRow{}, wrapErr("current exclusion", err)
	}
	return row, nil
}

// SybilOverlap measures how much of the wallet's trade timing coincides
// with other wallets trading the same markets inside the timing window.
// Cluster size counts wallets sharing above-threshold overlap; overlapPct
// is the strongest pairwise overlap found.
func (r *classifyRepo) SybilOverlap(ctx context.Context, proxyWallet string, windowSecs, lookbackDays int) (int, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		WITH mine AS (
			SELECT condition_id, ts FROM source_trades
			WHERE proxy_wallet = $1 AND ts >= EXTRACT(EPOCH FROM NOW() - ($3 || ' days')::interval)::bigint
		),
		overlaps AS (
			SELECT o.proxy_wallet,
				COUNT(DISTINCT m.ts) AS matched,
				(SELECT COUNT(*) FROM mine) AS total
			FROM mine m
			JOIN source_trades o
				ON o.condition_id = m.condition_id
				AND o.proxy_wallet <> $1
				AND ABS(o.ts - m.ts) <= $2
			GROUP BY o.proxy_wallet
		)
		SELECT
			COALESCE(COUNT(*) FILTER (WHERE 100.0 * matched / NULLIF(total, 0) >= 50.0), 0),
			COALESCE(MAX(100.0 * matched / NULLIF(total, 0)), 0)
		FROM overlaps`

	var clusterSize int
	var overlapPct float64
	row := r.db.QueryRowxContext(ctx, query, proxyWallet, windowSecs, lookbackDays)
	if err := row.Scan(&clusterSize, &overlapPct); err != nil {
		return 0, 0, wrapErr("sybil overlap", err)
	}
	// The wallet itself is part of its cluster.
	if clusterSize > 0 {
		clusterSize++
	}
	return clusterSize, overlapPct, nil
}
