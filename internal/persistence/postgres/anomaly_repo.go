package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// anomalyRepo implements AnomalyRepo for PostgreSQL.
type anomalyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnomalyRepo creates a PostgreSQL anomaly-event repository.
func NewAnomalyRepo(db *sqlx.DB, timeout time.Duration) persistence.AnomalyRepo {
	return &anomalyRepo{db: db, timeout: timeout}
}

func (r *anomalyRepo) Append(ctx context.Context, ev domain.AnomalyEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomaly_events (proxy_wallet, flag, current_value, baseline_value, threshold, action, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ProxyWallet, ev.Flag, ev.CurrentValue, ev.BaselineValue, ev.Threshold, ev.Action, ev.Detail)
	return wrapErr("append anomaly event", err)
}

func (r *anomalyRepo) ListByWallet(ctx context.Context, proxyWallet string, limit int) ([]domain.AnomalyEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, flag, current_value, baseline_value, threshold, action, detail, created_at
		FROM anomaly_events
		WHERE proxy_wallet = $1
		ORDER BY id DESC
		LIMIT $2`

	var events []domain.AnomalyEvent
	if err := r.db.SelectContext(ctx, &events, query, proxyWallet, limit); err != nil {
		return nil, wrapErr("list anomaly events", err)
	}
	return events, nil
}

func (r *anomalyRepo) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.AnomalyEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, proxy_wallet, flag, current_value, baseline_value, threshold, action, detail, created_at
		FROM anomaly_events
		WHERE created_at >= $1
		ORDER BY id DESC
		LIMIT $2`

	var events []domain.AnomalyEvent
	if err := r.db.SelectContext(ctx, &events, query, since, limit); err != nil {
		return nil, wrapErr("list recent anomaly events", err)
	}
	return events, nil
}
