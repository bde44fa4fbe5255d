package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// marketsRepo implements MarketsRepo for PostgreSQL.
type marketsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMarketsRepo creates a PostgreSQL markets repository.
func NewMarketsRepo(db *sqlx.DB, timeout time.Duration) persistence.MarketsRepo {
	return &marketsRepo{db: db, timeout: timeout}
}

func (r *marketsRepo) Upsert(ctx context.Context, m domain.Market) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO markets (condition_id, title, slug, category, end_date, liquidity, volume_24h, resolved, resolution_price, is_crypto_15m, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (condition_id) DO UPDATE SET
			title = EXCLUDED.title,
			slug = EXCLUDED.slug,
			category = EXCLUDED.category,
			end_date = EXCLUDED.end_date,
			liquidity = EXCLUDED.liquidity,
			volume_24h = EXCLUDED.volume_24h,
			resolved = EXCLUDED.resolved,
			resolution_price = EXCLUDED.resolution_price,
			is_crypto_15m = EXCLUDED.is_crypto_15m,
			last_updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		m.ConditionID, m.Title, m.Slug, m.Category, m.EndDate,
		m.Liquidity, m.Volume24h, m.Resolved, m.ResolutionPrice, m.IsCrypto15m)
	return wrapErr("upsert market", err)
}

func (r *marketsRepo) Get(ctx context.Context, conditionID string) (domain.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var m domain.Market
	query := `
		SELECT condition_id, title, slug, category, end_date, liquidity, volume_24h, resolved, resolution_price, is_crypto_15m, first_seen_at, last_updated_at
		FROM markets WHERE condition_id = $1`
	if err := r.db.GetContext(ctx, &m, query, conditionID); err != nil {
		return domain.Market{}, wrapErr("get market", err)
	}
	return m, nil
}

// ListResolvedWithOpenTrades returns resolved markets that still carry
// open paper trades; the settlement tick drains this list.
func (r *marketsRepo) ListResolvedWithOpenTrades(ctx context.Context, limit int) ([]domain.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT m.condition_id, m.title, m.slug, m.category, m.end_date, m.liquidity, m.volume_24h, m.resolved, m.resolution_price, m.is_crypto_15m, m.first_seen_at, m.last_updated_at
		FROM markets m
		JOIN paper_trades pt ON pt.condition_id = m.condition_id AND pt.status = 'open'
		WHERE m.resolved
		LIMIT $1`

	var markets []domain.Market
	if err := r.db.SelectContext(ctx, &markets, query, limit); err != nil {
		return nil, wrapErr("list resolved with open trades", err)
	}
	return markets, nil
}

func (r *marketsRepo) MarkResolved(ctx context.Context, conditionID string, price float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE markets SET resolved = TRUE, resolution_price = $2, last_updated_at = NOW() WHERE condition_id = $1`,
		conditionID, price)
	return wrapErr("mark resolved", err)
}

func (r *marketsRepo) UpsertScores(ctx context.Context, scores []domain.MarketScore) error {
	if len(scores) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("upsert market scores: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_scores (condition_id, score_date, mscore, liquidity_score, volume_score, density_score, concentration_score, expiry_score, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (condition_id, score_date) DO UPDATE SET
			mscore = EXCLUDED.mscore,
			liquidity_score = EXCLUDED.liquidity_score,
			volume_score = EXCLUDED.volume_score,
			density_score = EXCLUDED.density_score,
			concentration_score = EXCLUDED.concentration_score,
			expiry_score = EXCLUDED.expiry_score,
			rank = EXCLUDED.rank`)
	if err != nil {
		return wrapErr("upsert market scores: prepare", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		if _, err := stmt.ExecContext(ctx,
			s.ConditionID, s.ScoreDate, s.MScore, s.LiquidityScore, s.VolumeScore,
			s.DensityScore, s.ConcentrationScore, s.ExpiryScore, s.Rank); err != nil {
			return wrapErr("upsert market scores: exec", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("upsert market scores: commit", err)
	}
	return nil
}

func (r *marketsRepo) TopRanked(ctx context.Context, scoreDate string, n int) ([]domain.MarketScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT condition_id, score_date, mscore, liquidity_score, volume_score, density_score, concentration_score, expiry_score, rank
		FROM market_scores
		WHERE score_date = $1
		ORDER BY rank
		LIMIT $2`

	var scores []domain.MarketScore
	if err := r.db.SelectContext(ctx, &scores, query, scoreDate, n); err != nil {
		return nil, wrapErr("top ranked markets", err)
	}
	return scores, nil
}

func (r *marketsRepo) InsertBookSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return wrapErr("marshal bids", err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return wrapErr("marshal asks", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO book_snapshots (condition_id, bids, asks, snapshot_at) VALUES ($1, $2, $3, $4)`,
		snap.ConditionID, bids, asks, snap.SnapshotAt)
	return wrapErr("insert book snapshot", err)
}

func (r *marketsRepo) LatestBook(ctx context.Context, conditionID string) (domain.BookSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		ConditionID string    `db:"condition_id"`
		Bids        []byte    `db:"bids"`
		Asks        []byte    `db:"asks"`
		SnapshotAt  time.Time `db:"snapshot_at"`
	}
	query := `
		SELECT condition_id, bids, asks, snapshot_at
		FROM book_snapshots
		WHERE condition_id = $1
		ORDER BY snapshot_at DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, conditionID); err != nil {
		return domain.BookSnapshot{}, wrapErr("latest book", err)
	}

	snap := domain.BookSnapshot{ConditionID: row.ConditionID, SnapshotAt: row.SnapshotAt}
	if err := json.Unmarshal(row.Bids, &snap.Bids); err != nil {
		return domain.BookSnapshot{}, wrapErr("unmarshal bids", err)
	}
	if err := json.Unmarshal(row.Asks, &snap.Asks); err != nil {
		return domain.BookSnapshot{}, wrapErr("unmarshal asks", err)
	}
	return snap, nil
}
