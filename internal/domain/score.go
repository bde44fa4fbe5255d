package domain

import "time"

// WalletScore is one composite followability score row. One row per
// wallet/date/window, superseded daily, never edited.
type WalletScore struct {
	ProxyWallet string    `json:"proxy_wallet" db:"proxy_wallet"`
	ScoreDate   string    `json:"score_date" db:"score_date"`
	WindowDays  int       `json:"window_days" db:"window_days"`
	ComputedAt  time.Time `json:"computed_at" db:"computed_at"`

	WScore float64 `json:"wscore" db:"wscore"`

	EdgeScore            float64 `json:"edge_score" db:"edge_score"`
	ConsistencyScore     float64 `json:"consistency_score" db:"consistency_score"`
	MarketSkillScore     float64 `json:"market_skill_score" db:"market_skill_score"`
	TimingSkillScore     float64 `json:"timing_skill_score" db:"timing_skill_score"`
	BehaviorQualityScore float64 `json:"behavior_quality_score" db:"behavior_quality_score"`

	TrustMultiplier float64 `json:"trust_multiplier" db:"trust_multiplier"`
	ObscurityBonus  float64 `json:"obscurity_bonus" db:"obscurity_bonus"`

	PaperROIPct     float64  `json:"paper_roi_pct" db:"paper_roi_pct"`
	PaperHitRate    float64  `json:"paper_hit_rate" db:"paper_hit_rate"`
	RecommendedMode CopyMode `json:"recommended_mode" db:"recommended_mode"`
	RiskFlags       []string `json:"risk_flags,omitempty"`
}

// MarketScore is one daily market-ranking row produced by the market
// scoring job; the top ranks drive wallet discovery.
type MarketScore struct {
	ConditionID        string  `json:"condition_id" db:"condition_id"`
	ScoreDate          string  `json:"score_date" db:"score_date"`
	MScore             float64 `json:"mscore" db:"mscore"`
	LiquidityScore     float64 `json:"liquidity_score" db:"liquidity_score"`
	VolumeScore        float64 `json:"volume_score" db:"volume_score"`
	DensityScore       float64 `json:"density_score" db:"density_score"`
	ConcentrationScore float64 `json:"concentration_score" db:"concentration_score"`
	ExpiryScore        float64 `json:"expiry_score" db:"expiry_score"`
	Rank               int     `json:"rank" db:"rank"`
}
