package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// walletsRepo implements WalletsRepo for PostgreSQL.
type walletsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWalletsRepo creates a PostgreSQL wallets repository.
func NewWalletsRepo(db *sqlx.DB, timeout time.Duration) persistence.WalletsRepo {
	return &walletsRepo{db: db, timeout: timeout}
}

// InsertIgnore adds a newly discovered wallet; rediscovery is a no-op.
func (r *walletsRepo) InsertIgnore(ctx context.Context, w domain.Wallet) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO wallets (proxy_wallet, pseudonym, discovered_from, discovered_market, is_active, on_leaderboard)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proxy_wallet) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		w.ProxyWallet, w.Pseudonym, w.DiscoveredFrom, w.DiscoveredMarket, w.IsActive, w.OnLeaderboard)
	return wrapErr("insert wallet", err)
}

func (r *walletsRepo) Get(ctx context.Context, proxyWallet string) (domain.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var w domain.Wallet
	query := `
		SELECT proxy_wallet, pseudonym, discovered_from, discovered_market, is_active, on_leaderboard, discovered_at, last_updated_at
		FROM wallets WHERE proxy_wallet = $1`
	if err := r.db.GetContext(ctx, &w, query, proxyWallet); err != nil {
		return domain.Wallet{}, wrapErr("get wallet", err)
	}
	return w, nil
}

func (r *walletsRepo) ListActive(ctx context.Context, limit, offset int) ([]domain.Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT proxy_wallet, pseudonym, discovered_from, discovered_market, is_active, on_leaderboard, discovered_at, last_updated_at
		FROM wallets
		WHERE is_active
		ORDER BY proxy_wallet
		LIMIT $1 OFFSET $2`

	var wallets []domain.Wallet
	if err := r.db.SelectContext(ctx, &wallets, query, limit, offset); err != nil {
		return nil, wrapErr("list active wallets", err)
	}
	return wallets, nil
}

func (r *walletsRepo) SetLeaderboard(ctx context.Context, proxyWallet string, on bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE wallets SET on_leaderboard = $2, last_updated_at = NOW() WHERE proxy_wallet = $1`,
		proxyWallet, on)
	return wrapErr("set leaderboard", err)
}

func (r *walletsRepo) GetLifecycle(ctx context.Context, proxyWallet string) (persistence.LifecycleRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		ProxyWallet   string    `db:"proxy_wallet"`
		State         string    `db:"state"`
		BaselineStyle []byte    `db:"baseline_style"`
		LastSeenAt    time.Time `db:"last_seen_at"`
		UpdatedAt     time.Time `db:"updated_at"`
	}
	query := `SELECT proxy_wallet, state, baseline_style, last_seen_at, updated_at FROM lifecycle_states WHERE proxy_wallet = $1`
	if err := r.db.GetContext(ctx, &row, query, proxyWallet); err != nil {
		return persistence.LifecycleRow{}, wrapErr("get lifecycle", err)
	}

	state, err := domain.ParseLifecycleState(row.State)
	if err != nil {
		return persistence.LifecycleRow{}, wrapErr("get lifecycle", err)
	}
	out := persistence.LifecycleRow{
		ProxyWallet: row.ProxyWallet,
		State:       state,
		LastSeenAt:  row.LastSeenAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.BaselineStyle) > 0 && string(row.BaselineStyle) != "null" {
		var style domain.StyleSnapshot
		if err := json.Unmarshal(row.BaselineStyle, &style); err != nil {
			return persistence.LifecycleRow{}, wrapErr("unmarshal baseline style", err)
		}
		out.BaselineStyle = &style
	}
	return out, nil
}

func (r *walletsRepo) UpsertLifecycle(ctx context.Context, row persistence.LifecycleRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var baseline []byte
	if row.BaselineStyle != nil {
		var err error
		baseline, err = json.Marshal(row.BaselineStyle)
		if err != nil {
			return wrapErr("marshal baseline style", err)
		}
	}

	query := `
		INSERT INTO lifecycle_states (proxy_wallet, state, baseline_style, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (proxy_wallet) DO UPDATE SET
			state = EXCLUDED.state,
			baseline_style = COALESCE(EXCLUDED.baseline_style, lifecycle_states.baseline_style),
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, row.ProxyWallet, row.State, baseline, row.LastSeenAt)
	return wrapErr("upsert lifecycle", err)
}

func (r *walletsRepo) AppendLifecycleEvent(ctx context.Context, ev persistence.LifecycleEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metrics, err := json.Marshal(ev.Metrics)
	if err != nil {
		return wrapErr("marshal lifecycle metrics", err)
	}
	if ev.Metrics == nil {
		metrics = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (proxy_wallet, phase, allow, reason, metrics) VALUES ($1, $2, $3, $4, $5)`,
		ev.ProxyWallet, ev.Phase, ev.Allow, ev.Reason, metrics)
	return wrapErr("append lifecycle event", err)
}
