package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// featuresRepo implements FeaturesRepo for PostgreSQL.
type featuresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFeaturesRepo creates a PostgreSQL wallet-features repository.
func NewFeaturesRepo(db *sqlx.DB, timeout time.Duration) persistence.FeaturesRepo {
	return &featuresRepo{db: db, timeout: timeout}
}

// Upsert replaces the wallet's feature row for the date+window. Rows are
// recomputed whole each cycle, never patched.
func (r *featuresRepo) Upsert(ctx context.Context, f domain.WalletFeatures) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO wallet_features (
			proxy_wallet, feature_date, window_days, computed_at,
			trade_count, win_count, loss_count, unique_markets, trades_per_week,
			avg_position_size_usd, max_trade_size_usd, avg_hold_time_hours, max_drawdown_pct, sharpe_proxy, total_pnl_usd,
			open_positions_total, open_losing_positions, open_unrealized_loss_usd,
			raw_win_rate, adjusted_win_rate, execution_pnl_ratio, worst_loss_to_avg_win, paper_roi_pct,
			trades_per_day, buy_sell_balance, burstiness_top_1h_ratio, top_category, top_category_ratio
		) VALUES ($1,$2,$3,NOW(),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		ON CONFLICT (proxy_wallet, feature_date, window_days) DO UPDATE SET
			computed_at = NOW(),
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count,
			loss_count = EXCLUDED.loss_count,
			unique_markets = EXCLUDED.unique_markets,
			trades_per_week = EXCLUDED.trades_per_week,
			avg_position_size_usd = EXCLUDED.avg_position_size_usd,
			max_trade_size_usd = EXCLUDED.max_trade_size_usd,
			avg_hold_time_hours = EXCLUDED.avg_hold_time_hours,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			sharpe_proxy = EXCLUDED.sharpe_proxy,
			total_pnl_usd = EXCLUDED.total_pnl_usd,
			open_positions_total = EXCLUDED.open_positions_total,
			open_losing_positions = EXCLUDED.open_losing_positions,
			open_unrealized_loss_usd = EXCLUDED.open_unrealized_loss_usd,
			raw_win_rate = EXCLUDED.raw_win_rate,
			adjusted_win_rate = EXCLUDED.adjusted_win_rate,
			execution_pnl_ratio = EXCLUDED.execution_pnl_ratio,
			worst_loss_to_avg_win = EXCLUDED.worst_loss_to_avg_win,
			paper_roi_pct = EXCLUDED.paper_roi_pct,
			trades_per_day = EXCLUDED.trades_per_day,
			buy_sell_balance = EXCLUDED.buy_sell_balance,
			burstiness_top_1h_ratio = EXCLUDED.burstiness_top_1h_ratio,
			top_category = EXCLUDED.top_category,
			top_category_ratio = EXCLUDED.top_category_ratio`

	_, err := r.db.ExecContext(ctx, query,
		f.ProxyWallet, f.FeatureDate, f.WindowDays,
		f.TradeCount, f.WinCount, f.LossCount, f.UniqueMarkets, f.TradesPerWeek,
		f.AvgPositionSizeUSD, f.MaxTradeSizeUSD, f.AvgHoldTimeHours, f.MaxDrawdownPct, f.SharpeProxy, f.TotalPnLUSD,
		f.OpenPositionsTotal, f.OpenLosingPositions, f.OpenUnrealizedLossUSD,
		f.RawWinRate, f.AdjustedWinRate, f.ExecutionPnLRatio, f.WorstLossToAvgWin, f.PaperROIPct,
		f.TradesPerDay, f.BuySellBalance, f.BurstinessTop1hRatio, f.TopCategory, f.TopCategoryRatio)
	return wrapErr("upsert features", err)
}

func (r *featuresRepo) Latest(ctx context.Context, proxyWallet string, windowDays int) (domain.WalletFeatures, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var f domain.WalletFeatures
	query := `
		SELECT proxy_wallet, feature_date, window_days, computed_at,
			trade_count, win_count, loss_count, unique_markets, trades_per_week,
			avg_position_size_usd, max_trade_size_usd, avg_hold_time_hours, max_drawdown_pct, sharpe_proxy, total_pnl_usd,
			open_positions_total, open_losing_positions, open_unrealized_loss_usd,
			raw_win_rate, adjusted_win_rate, execution_pnl_ratio, worst_loss_to_avg_win, paper_roi_pct,
			trades_per_day, buy_sell_balance, burstiness_top_1h_ratio, top_category, top_category_ratio
		FROM wallet_features
		WHERE proxy_wallet = $1 AND window_days = $2
		ORDER BY feature_date DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &f, query, proxyWallet, windowDays); err != nil {
		return domain.WalletFeatures{}, wrapErr("latest features", err)
	}
	return f, nil
}

// SizeDecile returns the percentile rank of sizeUSD among the latest avg
// position sizes of all wallets in the window. Used by the patient-
// accumulator top-decile check.
func (r *featuresRepo) SizeDecile(ctx context.Context, windowDays int, sizeUSD float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		WITH latest AS (
			SELECT DISTINCT ON (proxy_wallet) avg_position_size_usd
			FROM wallet_features
			WHERE window_days = $1
			ORDER BY proxy_wallet, feature_date DESC
		)
		SELECT COALESCE(
			100.0 * COUNT(*) FILTER (WHERE avg_position_size_usd <= $2) / NULLIF(COUNT(*), 0),
			0)
		FROM latest`

	var pct float64
	if err := r.db.GetContext(ctx, &pct, query, windowDays, sizeUSD); err != nil {
		return 0, wrapErr("size decile", err)
	}
	return pct, nil
}
