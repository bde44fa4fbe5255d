package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the full copyrun configuration tree. Every classification,
// risk, scoring and anomaly threshold is tunable here; nothing in the
// pipeline hardcodes a threshold.
type AppConfig struct {
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	Venue     VenueConfig     `yaml:"venue"`
	Stage1    Stage1Config    `yaml:"stage1"`
	Stage2    Stage2Config    `yaml:"stage2"`
	Personas  PersonaConfig   `yaml:"personas"`
	BagHold   BagHoldConfig   `yaml:"bag_holding"`
	Risk      RiskConfig      `yaml:"risk"`
	Trading   TradingConfig   `yaml:"trading"`
	Scoring   ScoringConfig   `yaml:"wallet_scoring"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Markets   MarketsConfig   `yaml:"market_scoring"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Books     BooksConfig     `yaml:"books"`
}

// DatabaseConfig mirrors the infrastructure/db connection settings.
type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// HTTPConfig configures the read-only API server. Local-only by default.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// VenueConfig configures the read-only venue API client.
type VenueConfig struct {
	DataAPIBase  string   `yaml:"data_api_base"`
	GammaAPIBase string   `yaml:"gamma_api_base"`
	RateRPS      float64  `yaml:"rate_rps"`
	RateBurst    int      `yaml:"rate_burst"`
	Timeout      Duration `yaml:"timeout"`
	PageSize     int      `yaml:"page_size"`
	IngestBatch  int      `yaml:"ingest_batch"`
}

// Stage1Config holds the cheap data-availability gates evaluated before
// any feature-derived rule.
type Stage1Config struct {
	MinWalletAgeDays  int      `yaml:"min_wallet_age_days"`
	MinTotalTrades    int      `yaml:"min_total_trades"`
	MaxInactivityDays int      `yaml:"max_inactivity_days"`
	KnownBots         []string `yaml:"known_bots"`
}

// Stage2Config holds the behavioral exclusion thresholds, evaluated in
// cascade order after stage 1 passes.
type Stage2Config struct {
	Sniper struct {
		MaxAgeDays int     `yaml:"max_age_days"`
		MinWinRate float64 `yaml:"min_win_rate"`
		MaxTrades  int     `yaml:"max_trades"`
	} `yaml:"sniper_insider"`
	Noise struct {
		MinTradesPerWeek float64 `yaml:"min_trades_per_week"`
		MaxAbsROIPct     float64 `yaml:"max_abs_roi_pct"`
	} `yaml:"noise_trader"`
	TailRisk struct {
		MinWinRate           float64 `yaml:"min_win_rate"`
		MaxWorstLossToAvgWin float64 `yaml:"max_worst_loss_to_avg_win"`
	} `yaml:"tail_risk_seller"`
	Execution struct {
		MaxExecutionPnLRatio float64 `yaml:"max_execution_pnl_ratio"`
	} `yaml:"execution_master"`
	Sybil struct {
		MinClusterSize    int     `yaml:"min_cluster_size"`
		MinOverlapPct     float64 `yaml:"min_overlap_pct"`
		TimingWindowSecs  int     `yaml:"timing_window_secs"`
		LookbackDays      int     `yaml:"lookback_days"`
	} `yaml:"sybil_cluster"`
}

// PersonaConfig holds the followable-archetype thresholds, evaluated in
// priority order after every exclusion passes.
type PersonaConfig struct {
	Specialist struct {
		MaxUniqueMarkets   int     `yaml:"max_unique_markets"`
		MinAdjustedWinRate float64 `yaml:"min_adjusted_win_rate"`
	} `yaml:"informed_specialist"`
	Generalist struct {
		MinUniqueMarkets int     `yaml:"min_unique_markets"`
		MinWinRate       float64 `yaml:"min_win_rate"`
		MaxWinRate       float64 `yaml:"max_win_rate"`
		MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
		MinSharpeProxy   float64 `yaml:"min_sharpe_proxy"`
	} `yaml:"consistent_generalist"`
	Accumulator struct {
		MinHoldTimeHours  float64 `yaml:"min_hold_time_hours"`
		MaxTradesPerWeek  float64 `yaml:"max_trades_per_week"`
		SizeTopDecilePct  float64 `yaml:"size_top_decile_pct"`
	} `yaml:"patient_accumulator"`
}

// BagHoldConfig tunes the adjusted-win-rate penalty and the non-blocking
// bag-holder risk flag.
type BagHoldConfig struct {
	LossWeightK         float64 `yaml:"loss_weight_k"`
	OpenLosingCap       int     `yaml:"open_losing_cap"`
	FlagMinRawWinRate   float64 `yaml:"flag_min_raw_win_rate"`
	FlagMinOpenLosing   int     `yaml:"flag_min_open_losing"`
	FlagMinOpenLossUSD  float64 `yaml:"flag_min_open_loss_usd"`
	ConfidencePenalty   float64 `yaml:"confidence_penalty"`
}

// RiskBudget is one loss/exposure budget, used at both scopes.
type RiskBudget struct {
	MaxExposureUSD   float64 `yaml:"max_exposure_usd"`
	MaxDailyLossUSD  float64 `yaml:"max_daily_loss_usd"`
	MaxWeeklyLossUSD float64 `yaml:"max_weekly_loss_usd"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
}

// RiskConfig holds the two-level risk budget plus the theme cap.
type RiskConfig struct {
	Portfolio           RiskBudget `yaml:"portfolio"`
	PerWallet           RiskBudget `yaml:"per_wallet"`
	MaxThemeExposureUSD float64    `yaml:"max_theme_exposure_usd"`
	MinCopyFidelityPct  float64    `yaml:"min_copy_fidelity_pct"`
	MaxAvgSlippageCents float64    `yaml:"max_avg_slippage_cents"`
}

// TradingConfig holds mirror-sizing and fill-simulation settings.
type TradingConfig struct {
	BankrollUSD          float64  `yaml:"bankroll_usd"`
	PerTradeUSD          float64  `yaml:"per_trade_usd"`
	SingleTradeCapFrac   float64  `yaml:"single_trade_cap_frac"`
	DefaultTheirBankroll float64  `yaml:"default_their_bankroll_usd"`
	DefaultSlippage      float64  `yaml:"default_slippage"`
	MaxDetectionLag      Duration `yaml:"max_detection_lag"`
	BookMaxAge           Duration `yaml:"book_max_age"`
}

// ScoringConfig holds the WScore weights and multipliers.
type ScoringConfig struct {
	WindowsDays       []int   `yaml:"windows_days"`
	EdgeWeight        float64 `yaml:"edge_weight"`
	ConsistencyWeight float64 `yaml:"consistency_weight"`
	MarketSkillWeight float64 `yaml:"market_skill_weight"`
	TimingSkillWeight float64 `yaml:"timing_skill_weight"`
	BehaviorWeight    float64 `yaml:"behavior_weight"`
	MaxROIPct         float64 `yaml:"max_roi_pct"`
	MaxDailyStdev     float64 `yaml:"max_daily_stdev"`
	TrustYoung        float64 `yaml:"trust_young"`
	TrustEstablished  float64 `yaml:"trust_established"`
	TrustVeteran      float64 `yaml:"trust_veteran"`
	ObscurityBonus    float64 `yaml:"obscurity_bonus"`
	HitRateSoftFloor  float64 `yaml:"hit_rate_soft_floor"`
	HitRateHardFloor  float64 `yaml:"hit_rate_hard_floor"`
}

// AnomalyConfig holds the weekly baseline-comparison thresholds and the
// immediate kill triggers.
type AnomalyConfig struct {
	WinRateDropPts     float64  `yaml:"win_rate_drop_pts"`
	DrawdownSpikePct   float64  `yaml:"drawdown_spike_pct"`
	FrequencyRatio     float64  `yaml:"frequency_ratio"`
	PositionSizeRatio  float64  `yaml:"position_size_ratio"`
	KillPaperROIPct    float64  `yaml:"kill_paper_roi_pct"`
	KillHitRate        float64  `yaml:"kill_hit_rate"`
	KillHitRateMinN    int      `yaml:"kill_hit_rate_min_trades"`
	KillInactivityDays int      `yaml:"kill_inactivity_days"`
	PauseDuration      Duration `yaml:"pause_duration"`
}

// LifecycleConfig tunes the candidate → paper → approved funnel.
type LifecycleConfig struct {
	MinTradesForPaper    int     `yaml:"min_trades_for_paper"`
	MinPaperTrades       int     `yaml:"min_paper_trades"`
	MinPaperROIPct       float64 `yaml:"min_paper_roi_pct"`
	MinPaperHitRate      float64 `yaml:"min_paper_hit_rate"`
	MinCopyFidelityPct   float64 `yaml:"min_copy_fidelity_pct"`
	MaxStyleDrift        float64 `yaml:"max_style_drift"`
	MaxLiveDrawdownPct   float64 `yaml:"max_live_drawdown_pct"`
}

// MarketsConfig holds the MScore weights and coarse pre-filters.
type MarketsConfig struct {
	MinLiquidityUSD     float64 `yaml:"min_liquidity_usd"`
	MinVolume24hUSD     float64 `yaml:"min_volume_24h_usd"`
	MaxDaysToExpiry     int     `yaml:"max_days_to_expiry"`
	LiquidityWeight     float64 `yaml:"liquidity_weight"`
	VolumeWeight        float64 `yaml:"volume_weight"`
	DensityWeight       float64 `yaml:"density_weight"`
	ConcentrationWeight float64 `yaml:"concentration_weight"`
	ExpiryWeight        float64 `yaml:"expiry_weight"`
	TopN                int     `yaml:"top_n"`
}

// DiscoveryConfig tunes wallet discovery off the top-ranked markets.
type DiscoveryConfig struct {
	TopMarkets       int `yaml:"top_markets"`
	HoldersPerMarket int `yaml:"holders_per_market"`
	MinRecentTrades  int `yaml:"min_recent_trades"`
	LeaderboardSize  int `yaml:"leaderboard_size"`
}

// BooksConfig tunes the order-book snapshot recorder.
type BooksConfig struct {
	WSURL            string   `yaml:"ws_url"`
	MaxSubscriptions int      `yaml:"max_subscriptions"`
	SnapshotInterval Duration `yaml:"snapshot_interval"`
	ReconnectBase    Duration `yaml:"reconnect_base"`
	ReconnectMax     Duration `yaml:"reconnect_max"`
}

// DefaultAppConfig returns the production defaults; the yaml file and env
// overrides layer on top.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			QueryTimeout:    Duration(30 * time.Second),
		},
		HTTP: HTTPConfig{Host: "127.0.0.1", Port: 8090},
		Venue: VenueConfig{
			DataAPIBase:  "https://data-api.polymarket.com",
			GammaAPIBase: "https://gamma-api.polymarket.com",
			RateRPS:      4.0,
			RateBurst:    8,
			Timeout:      Duration(15 * time.Second),
			PageSize:     500,
			IngestBatch:  50,
		},
		Stage1: Stage1Config{
			MinWalletAgeDays:  30,
			MinTotalTrades:    20,
			MaxInactivityDays: 14,
		},
		BagHold: BagHoldConfig{
			LossWeightK:        0.5,
			OpenLosingCap:      10,
			FlagMinRawWinRate:  0.70,
			FlagMinOpenLosing:  5,
			FlagMinOpenLossUSD: 500.0,
			ConfidencePenalty:  0.85,
		},
		Risk: RiskConfig{
			Portfolio: RiskBudget{
				MaxExposureUSD:   150.0,
				MaxDailyLossUSD:  15.0,
				MaxWeeklyLossUSD: 40.0,
				MaxDrawdownPct:   8.0,
				MaxOpenPositions: 20,
			},
			PerWallet: RiskBudget{
				MaxExposureUSD:   50.0,
				MaxDailyLossUSD:  5.0,
				MaxWeeklyLossUSD: 15.0,
				MaxDrawdownPct:   5.0,
				MaxOpenPositions: 8,
			},
			MaxThemeExposureUSD: 75.0,
			MinCopyFidelityPct:  80.0,
			MaxAvgSlippageCents: 3.0,
		},
		Trading: TradingConfig{
			BankrollUSD:          1000.0,
			PerTradeUSD:          25.0,
			SingleTradeCapFrac:   0.50,
			DefaultTheirBankroll: 5000.0,
			DefaultSlippage:      0.01,
			MaxDetectionLag:      Duration(5 * time.Minute),
			BookMaxAge:           Duration(2 * time.Minute),
		},
		Scoring: ScoringConfig{
			WindowsDays:       []int{7, 30, 90},
			EdgeWeight:        0.30,
			ConsistencyWeight: 0.25,
			MarketSkillWeight: 0.20,
			TimingSkillWeight: 0.15,
			BehaviorWeight:    0.10,
			MaxROIPct:         50.0,
			MaxDailyStdev:     0.10,
			TrustYoung:        0.8,
			TrustEstablished:  1.0,
			TrustVeteran:      1.1,
			ObscurityBonus:    1.2,
			HitRateSoftFloor:  0.52,
			HitRateHardFloor:  0.45,
		},
		Anomaly: AnomalyConfig{
			WinRateDropPts:     15.0,
			DrawdownSpikePct:   10.0,
			FrequencyRatio:     3.0,
			PositionSizeRatio:  5.0,
			KillPaperROIPct:    -10.0,
			KillHitRate:        0.40,
			KillHitRateMinN:    30,
			KillInactivityDays: 14,
			PauseDuration:      Duration(72 * time.Hour),
		},
		Lifecycle: LifecycleConfig{
			MinTradesForPaper:  20,
			MinPaperTrades:     15,
			MinPaperROIPct:     2.0,
			MinPaperHitRate:    0.50,
			MinCopyFidelityPct: 80.0,
			MaxStyleDrift:      0.40,
			MaxLiveDrawdownPct: 10.0,
		},
		Markets: MarketsConfig{
			MinLiquidityUSD:     10000.0,
			MinVolume24hUSD:     5000.0,
			MaxDaysToExpiry:     60,
			LiquidityWeight:     0.25,
			VolumeWeight:        0.25,
			DensityWeight:       0.20,
			ConcentrationWeight: 0.15,
			ExpiryWeight:        0.15,
			TopN:                25,
		},
		Discovery: DiscoveryConfig{
			TopMarkets:       10,
			HoldersPerMarket: 20,
			MinRecentTrades:  3,
			LeaderboardSize:  100,
		},
		Books: BooksConfig{
			WSURL:            "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			MaxSubscriptions: 30,
			SnapshotInterval: Duration(30 * time.Second),
			ReconnectBase:    Duration(time.Second),
			ReconnectMax:     Duration(2 * time.Minute),
		},
	}

	cfg.Stage2.Sniper.MaxAgeDays = 30
	cfg.Stage2.Sniper.MinWinRate = 0.85
	cfg.Stage2.Sniper.MaxTrades = 20
	cfg.Stage2.Noise.MinTradesPerWeek = 60.0
	cfg.Stage2.Noise.MaxAbsROIPct = 1.0
	cfg.Stage2.TailRisk.MinWinRate = 0.80
	cfg.Stage2.TailRisk.MaxWorstLossToAvgWin = 8.0
	cfg.Stage2.Execution.MaxExecutionPnLRatio = 0.60
	cfg.Stage2.Sybil.MinClusterSize = 3
	cfg.Stage2.Sybil.MinOverlapPct = 70.0
	cfg.Stage2.Sybil.TimingWindowSecs = 60
	cfg.Stage2.Sybil.LookbackDays = 30

	cfg.Personas.Specialist.MaxUniqueMarkets = 5
	cfg.Personas.Specialist.MinAdjustedWinRate = 0.62
	cfg.Personas.Generalist.MinUniqueMarkets = 8
	cfg.Personas.Generalist.MinWinRate = 0.52
	cfg.Personas.Generalist.MaxWinRate = 0.78
	cfg.Personas.Generalist.MaxDrawdownPct = 20.0
	cfg.Personas.Generalist.MinSharpeProxy = 0.8
	cfg.Personas.Accumulator.MinHoldTimeHours = 72.0
	cfg.Personas.Accumulator.MaxTradesPerWeek = 5.0
	cfg.Personas.Accumulator.SizeTopDecilePct = 90.0

	return cfg
}

// Load reads the yaml file at path (when it exists) over the defaults,
// then applies environment overrides, then validates. Configuration
// errors abort startup before any job runs.
func Load(path string) (AppConfig, error) {
	cfg := DefaultAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if host := os.Getenv("HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.HTTP.Port)
	}
	if base := os.Getenv("VENUE_DATA_API"); base != "" {
		cfg.Venue.DataAPIBase = base
	}
	if base := os.Getenv("VENUE_GAMMA_API"); base != "" {
		cfg.Venue.GammaAPIBase = base
	}
}

// Validate range-checks every threshold. Called once at startup; a
// malformed config is a fatal error, never a runtime fallback.
func (c AppConfig) Validate() error {
	if c.Trading.BankrollUSD <= 0 {
		return fmt.Errorf("trading.bankroll_usd must be positive, got %.2f", c.Trading.BankrollUSD)
	}
	if c.Trading.PerTradeUSD <= 0 || c.Trading.PerTradeUSD > c.Trading.BankrollUSD {
		return fmt.Errorf("trading.per_trade_usd must be in (0, bankroll], got %.2f", c.Trading.PerTradeUSD)
	}
	if c.Trading.SingleTradeCapFrac <= 0 || c.Trading.SingleTradeCapFrac > 1 {
		return fmt.Errorf("trading.single_trade_cap_frac must be in (0,1], got %.2f", c.Trading.SingleTradeCapFrac)
	}
	if c.Trading.DefaultSlippage < 0 || c.Trading.DefaultSlippage >= 0.5 {
		return fmt.Errorf("trading.default_slippage must be in [0,0.5), got %.4f", c.Trading.DefaultSlippage)
	}
	if c.Stage1.MinWalletAgeDays < 0 || c.Stage1.MinTotalTrades < 0 {
		return fmt.Errorf("stage1 thresholds must be non-negative")
	}
	if wr := c.Stage2.Sniper.MinWinRate; wr < 0 || wr > 1 {
		return fmt.Errorf("stage2.sniper_insider.min_win_rate must be in [0,1], got %.2f", wr)
	}
	if c.Personas.Generalist.MinWinRate >= c.Personas.Generalist.MaxWinRate {
		return fmt.Errorf("consistent_generalist win-rate band is empty: [%.2f, %.2f]",
			c.Personas.Generalist.MinWinRate, c.Personas.Generalist.MaxWinRate)
	}
	sum := c.Scoring.EdgeWeight + c.Scoring.ConsistencyWeight + c.Scoring.MarketSkillWeight +
		c.Scoring.TimingSkillWeight + c.Scoring.BehaviorWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("wallet_scoring weights must sum to 1.0, got %.4f", sum)
	}
	if len(c.Scoring.WindowsDays) == 0 {
		return fmt.Errorf("wallet_scoring.windows_days must name at least one window")
	}
	for _, w := range c.Scoring.WindowsDays {
		if w <= 0 {
			return fmt.Errorf("wallet_scoring window must be positive days, got %d", w)
		}
	}
	if c.BagHold.LossWeightK < 0 || c.BagHold.OpenLosingCap < 0 {
		return fmt.Errorf("bag_holding penalty parameters must be non-negative")
	}
	if c.BagHold.ConfidencePenalty <= 0 || c.BagHold.ConfidencePenalty > 1 {
		return fmt.Errorf("bag_holding.confidence_penalty must be in (0,1], got %.2f", c.BagHold.ConfidencePenalty)
	}
	for scope, b := range map[string]RiskBudget{"portfolio": c.Risk.Portfolio, "per_wallet": c.Risk.PerWallet} {
		if b.MaxExposureUSD <= 0 || b.MaxDailyLossUSD <= 0 || b.MaxWeeklyLossUSD <= 0 {
			return fmt.Errorf("risk.%s caps must be positive", scope)
		}
		if b.MaxOpenPositions <= 0 {
			return fmt.Errorf("risk.%s.max_open_positions must be positive", scope)
		}
	}
	if c.Anomaly.KillHitRate < 0 || c.Anomaly.KillHitRate > 1 {
		return fmt.Errorf("anomaly.kill_hit_rate must be in [0,1], got %.2f", c.Anomaly.KillHitRate)
	}
	msum := c.Markets.LiquidityWeight + c.Markets.VolumeWeight + c.Markets.DensityWeight +
		c.Markets.ConcentrationWeight + c.Markets.ExpiryWeight
	if msum < 0.999 || msum > 1.001 {
		return fmt.Errorf("market_scoring weights must sum to 1.0, got %.4f", msum)
	}
	return nil
}
