package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// scoresRepo implements ScoresRepo for PostgreSQL.
type scoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoresRepo creates a PostgreSQL wallet-scores repository.
func NewScoresRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoresRepo {
	return &scoresRepo{db: db, timeout: timeout}
}

func (r *scoresRepo) Upsert(ctx context.Context, s domain.WalletScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	flags, err := json.Marshal(s.RiskFlags)
	if err != nil {
		return wrapErr("marshal score risk flags", err)
	}
	if s.RiskFlags == nil {
		flags = []byte("[]")
	}

	query := `
		INSERT INTO wallet_scores (
			proxy_wallet, score_date, window_days, computed_at, wscore,
			edge_score, consistency_score, market_skill_score, timing_skill_score, behavior_quality_score,
			trust_multiplier, obscurity_bonus, paper_roi_pct, paper_hit_rate, recommended_mode, risk_flags
		) VALUES ($1,$2,$3,NOW(),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (proxy_wallet, score_date, window_days) DO UPDATE SET
			computed_at = NOW(),
			wscore = EXCLUDED.wscore,
			edge_score = EXCLUDED.edge_score,
			consistency_score = EXCLUDED.consistency_score,
			market_skill_score = EXCLUDED.market_skill_score,
			timing_skill_score = EXCLUDED.timing_skill_score,
			behavior_quality_score = EXCLUDED.behavior_quality_score,
			trust_multiplier = EXCLUDED.trust_multiplier,
			obscurity_bonus = EXCLUDED.obscurity_bonus,
			paper_roi_pct = EXCLUDED.paper_roi_pct,
			paper_hit_rate = EXCLUDED.paper_hit_rate,
			recommended_mode = EXCLUDED.recommended_mode,
			risk_flags = EXCLUDED.risk_flags`

	_, err = r.db.ExecContext(ctx, query,
		s.ProxyWallet, s.ScoreDate, s.WindowDays, s.WScore,
		s.EdgeScore, s.ConsistencyScore, s.MarketSkillScore, s.TimingSkillScore, s.BehaviorQualityScore,
		s.TrustMultiplier, s.ObscurityBonus, s.PaperROIPct, s.PaperHitRate, s.RecommendedMode, flags)
	return wrapErr("upsert wallet score", err)
}

func (r *scoresRepo) Latest(ctx context.Context, proxyWallet string, windowDays int) (domain.WalletScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row scoreRow
	query := selectScoreColumns + `
		WHERE proxy_wallet = $1 AND window_days = $2
		ORDER BY score_date DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &row, query, proxyWallet, windowDays); err != nil {
		return domain.WalletScore{}, wrapErr("latest wallet score", err)
	}
	return row.toDomain()
}

func (r *scoresRepo) ListByDate(ctx context.Context, scoreDate string, windowDays, limit int) ([]domain.WalletScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []scoreRow
	query := selectScoreColumns + `
		WHERE score_date = $1 AND window_days = $2
		ORDER BY wscore DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &rows, query, scoreDate, windowDays, limit); err != nil {
		return nil, wrapErr("list wallet scores", err)
	}

	out := make([]domain.WalletScore, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

const selectScoreColumns = `
	SELECT proxy_wallet, score_date, window_days, computed_at, wscore,
		edge_score, consistency_score, market_skill_score, timing_skill_score, behavior_quality_score,
		trust_multiplier, obscurity_bonus, paper_roi_pct, paper_hit_rate, recommended_mode, risk_flags
	FROM wallet_scores`

type scoreRow struct {
	domain.WalletScore
	RiskFlagsJSON []byte `db:"risk_flags"`
}

func (r scoreRow) toDomain() (domain.WalletScore, error) {
	s := r.WalletScore
	if len(r.RiskFlagsJSON) > 0 {
		if err := json.Unmarshal(r.RiskFlagsJSON, &s.RiskFlags); err != nil {
			return domain.WalletScore{}, wrapErr("unmarshal score risk flags", err)
		}
	}
	return s, nil
}
