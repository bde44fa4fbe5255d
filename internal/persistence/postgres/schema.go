package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements bootstraps the full copyrun schema. Every statement is
// idempotent so the batch is safe to run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		condition_id     TEXT PRIMARY KEY,
		title            TEXT NOT NULL DEFAULT '',
		slug             TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		end_date         TIMESTAMPTZ,
		liquidity        DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_24h       DOUBLE PRECISION NOT NULL DEFAULT 0,
		resolved         BOOLEAN NOT NULL DEFAULT FALSE,
		resolution_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_crypto_15m    BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS wallets (
		proxy_wallet      TEXT PRIMARY KEY,
		pseudonym         TEXT NOT NULL DEFAULT '',
		discovered_from   TEXT NOT NULL,
		discovered_market TEXT NOT NULL DEFAULT '',
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		on_leaderboard    BOOLEAN NOT NULL DEFAULT FALSE,
		discovered_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS source_trades (
		id            BIGSERIAL PRIMARY KEY,
		proxy_wallet  TEXT NOT NULL,
		condition_id  TEXT NOT NULL,
		side          TEXT NOT NULL,
		outcome       TEXT NOT NULL DEFAULT '',
		outcome_index INTEGER NOT NULL DEFAULT 0,
		price         DOUBLE PRECISION NOT NULL,
		size_usd      DOUBLE PRECISION NOT NULL,
		ts            BIGINT NOT NULL,
		tx_hash       TEXT NOT NULL,
		ingested_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tx_hash, proxy_wallet, condition_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_source_trades_wallet_ts ON source_trades (proxy_wallet, ts DESC)`,

	`CREATE TABLE IF NOT EXISTS position_snapshots (
		id            BIGSERIAL PRIMARY KEY,
		proxy_wallet  TEXT NOT NULL,
		condition_id  TEXT NOT NULL,
		size_usd      DOUBLE PRECISION NOT NULL,
		avg_price     DOUBLE PRECISION NOT NULL,
		current_value DOUBLE PRECISION NOT NULL,
		cash_pnl      DOUBLE PRECISION NOT NULL,
		percent_pnl   DOUBLE PRECISION NOT NULL,
		snapshot_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_position_snapshots_wallet ON position_snapshots (proxy_wallet, condition_id, snapshot_at DESC)`,

	`CREATE TABLE IF NOT EXISTS book_snapshots (
		id           BIGSERIAL PRIMARY KEY,
		condition_id TEXT NOT NULL,
		bids         JSONB NOT NULL,
		asks         JSONB NOT NULL,
		snapshot_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_book_snapshots_market ON book_snapshots (condition_id, snapshot_at DESC)`,

	`CREATE TABLE IF NOT EXISTS wallet_features (
		proxy_wallet             TEXT NOT NULL,
		feature_date             TEXT NOT NULL,
		window_days              INTEGER NOT NULL,
		computed_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		trade_count              INTEGER NOT NULL DEFAULT 0,
		win_count                INTEGER NOT NULL DEFAULT 0,
		loss_count               INTEGER NOT NULL DEFAULT 0,
		unique_markets           INTEGER NOT NULL DEFAULT 0,
		trades_per_week          DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_position_size_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_trade_size_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_hold_time_hours      DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_drawdown_pct         DOUBLE PRECISION NOT NULL DEFAULT 0,
		sharpe_proxy             DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_pnl_usd            DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_positions_total     INTEGER NOT NULL DEFAULT 0,
		open_losing_positions    INTEGER NOT NULL DEFAULT 0,
		open_unrealized_loss_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw_win_rate             DOUBLE PRECISION NOT NULL DEFAULT 0,
		adjusted_win_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
		execution_pnl_ratio      DOUBLE PRECISION NOT NULL DEFAULT 0,
		worst_loss_to_avg_win    DOUBLE PRECISION NOT NULL DEFAULT 0,
		paper_roi_pct            DOUBLE PRECISION NOT NULL DEFAULT 0,
		trades_per_day           DOUBLE PRECISION NOT NULL DEFAULT 0,
		buy_sell_balance         DOUBLE PRECISION NOT NULL DEFAULT 0,
		burstiness_top_1h_ratio  DOUBLE PRECISION NOT NULL DEFAULT 0,
		top_category             TEXT NOT NULL DEFAULT '',
		top_category_ratio       DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (proxy_wallet, feature_date, window_days)
	)`,

	`CREATE TABLE IF NOT EXISTS wallet_personas (
		proxy_wallet  TEXT PRIMARY KEY,
		persona       TEXT NOT NULL,
		mode          TEXT NOT NULL,
		confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
		risk_flags    JSONB NOT NULL DEFAULT '[]',
		checks        JSONB NOT NULL DEFAULT '[]',
		classified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS wallet_exclusions (
		proxy_wallet TEXT PRIMARY KEY,
		code         TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold    DOUBLE PRECISION NOT NULL DEFAULT 0,
		detail       TEXT NOT NULL DEFAULT '',
		excluded_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS classification_history (
		id           BIGSERIAL PRIMARY KEY,
		proxy_wallet TEXT NOT NULL,
		kind         TEXT NOT NULL,
		label        TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold    DOUBLE PRECISION NOT NULL DEFAULT 0,
		detail       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS risk_states (
		scope_key          TEXT PRIMARY KEY,
		total_exposure_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		daily_pnl          DOUBLE PRECISION NOT NULL DEFAULT 0,
		weekly_pnl         DOUBLE PRECISION NOT NULL DEFAULT 0,
		peak_pnl           DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_positions     INTEGER NOT NULL DEFAULT 0,
		halted             BOOLEAN NOT NULL DEFAULT FALSE,
		halt_reason        TEXT NOT NULL DEFAULT '',
		halted_until       TIMESTAMPTZ,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS paper_trades (
		id               BIGSERIAL PRIMARY KEY,
		proxy_wallet     TEXT NOT NULL,
		condition_id     TEXT NOT NULL,
		side             TEXT NOT NULL,
		outcome          TEXT NOT NULL DEFAULT '',
		outcome_index    INTEGER NOT NULL DEFAULT 0,
		size_usd         DOUBLE PRECISION NOT NULL,
		entry_price      DOUBLE PRECISION NOT NULL,
		fee_paid         DOUBLE PRECISION NOT NULL DEFAULT 0,
		slippage_applied DOUBLE PRECISION NOT NULL DEFAULT 0,
		source_trade_id  BIGINT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'open',
		exit_price       DOUBLE PRECISION,
		pnl              DOUBLE PRECISION,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		settled_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_trades_market_status ON paper_trades (condition_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_trades_wallet ON paper_trades (proxy_wallet, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS paper_positions (
		id              BIGSERIAL PRIMARY KEY,
		proxy_wallet    TEXT NOT NULL,
		condition_id    TEXT NOT NULL,
		side            TEXT NOT NULL,
		total_size_usd  DOUBLE PRECISION NOT NULL,
		avg_entry_price DOUBLE PRECISION NOT NULL,
		last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (proxy_wallet, condition_id, side)
	)`,

	`CREATE TABLE IF NOT EXISTS copy_fidelity_events (
		id              BIGSERIAL PRIMARY KEY,
		proxy_wallet    TEXT NOT NULL,
		condition_id    TEXT NOT NULL,
		source_trade_id BIGINT NOT NULL UNIQUE,
		outcome         TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS follower_slippage (
		id              BIGSERIAL PRIMARY KEY,
		proxy_wallet    TEXT NOT NULL,
		condition_id    TEXT NOT NULL,
		source_price    DOUBLE PRECISION NOT NULL,
		our_price       DOUBLE PRECISION NOT NULL,
		slippage_cents  DOUBLE PRECISION NOT NULL,
		fee_applied     DOUBLE PRECISION NOT NULL DEFAULT 0,
		source_trade_id BIGINT NOT NULL,
		paper_trade_id  BIGINT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS wallet_scores (
		proxy_wallet           TEXT NOT NULL,
		score_date             TEXT NOT NULL,
		window_days            INTEGER NOT NULL,
		computed_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		wscore                 DOUBLE PRECISION NOT NULL,
		edge_score             DOUBLE PRECISION NOT NULL DEFAULT 0,
		consistency_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
		market_skill_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
		timing_skill_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
		behavior_quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		trust_multiplier       DOUBLE PRECISION NOT NULL DEFAULT 1,
		obscurity_bonus        DOUBLE PRECISION NOT NULL DEFAULT 1,
		paper_roi_pct          DOUBLE PRECISION NOT NULL DEFAULT 0,
		paper_hit_rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
		recommended_mode       TEXT NOT NULL DEFAULT 'mirror',
		risk_flags             JSONB NOT NULL DEFAULT '[]',
		PRIMARY KEY (proxy_wallet, score_date, window_days)
	)`,

	`CREATE TABLE IF NOT EXISTS market_scores (
		condition_id        TEXT NOT NULL,
		score_date          TEXT NOT NULL,
		mscore              DOUBLE PRECISION NOT NULL,
		liquidity_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
		density_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
		concentration_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		expiry_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
		rank                INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (condition_id, score_date)
	)`,

	`CREATE TABLE IF NOT EXISTS anomaly_events (
		id             BIGSERIAL PRIMARY KEY,
		proxy_wallet   TEXT NOT NULL,
		flag           TEXT NOT NULL,
		current_value  DOUBLE PRECISION NOT NULL DEFAULT 0,
		baseline_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold      DOUBLE PRECISION NOT NULL DEFAULT 0,
		action         TEXT NOT NULL DEFAULT 'none',
		detail         TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_events_wallet ON anomaly_events (proxy_wallet, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS lifecycle_states (
		proxy_wallet   TEXT PRIMARY KEY,
		state          TEXT NOT NULL DEFAULT 'candidate',
		baseline_style JSONB,
		last_seen_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS lifecycle_events (
		id           BIGSERIAL PRIMARY KEY,
		proxy_wallet TEXT NOT NULL,
		phase        TEXT NOT NULL,
		allow        BOOLEAN NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		metrics      JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		job_name    TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		last_run_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT '',
		detail      JSONB NOT NULL DEFAULT '{}'
	)`,
}

// Bootstrap creates every copyrun table that does not exist yet.
func Bootstrap(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}
