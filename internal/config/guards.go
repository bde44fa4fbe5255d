package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// GuardsConfig is the optional risk-guard profile file. It lets operators
// swap the whole risk surface between named profiles (conservative,
// standard, aggressive) without editing the main config.
type GuardsConfig struct {
	Active   string                  `yaml:"active_profile"`
	Profiles map[string]GuardProfile `yaml:"profiles"`
}

// GuardProfile is one named set of risk-cap overrides.
type GuardProfile struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Portfolio   GuardBudget   `yaml:"portfolio"`
	PerWallet   GuardBudget   `yaml:"per_wallet"`
	Slippage    GuardSlippage `yaml:"slippage"`
}

// GuardBudget overrides one risk budget; zero values leave the base
// config untouched.
type GuardBudget struct {
	MaxExposureUSD   float64 `yaml:"max_exposure_usd"`
	MaxDailyLossUSD  float64 `yaml:"max_daily_loss_usd"`
	MaxWeeklyLossUSD float64 `yaml:"max_weekly_loss_usd"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
}

// GuardSlippage overrides the fill/latency guard thresholds.
type GuardSlippage struct {
	MaxAvgSlippageCents float64 `yaml:"max_avg_slippage_cents"`
	MaxDetectionLagSecs int     `yaml:"max_detection_lag_secs"`
}

// LoadGuardsConfig loads the guard-profile file.
func LoadGuardsConfig(path string) (*GuardsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guards config: %w", err)
	}

	var cfg GuardsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse guards YAML: %w", err)
	}
	if cfg.Active == "" {
		return nil, fmt.Errorf("guards config names no active_profile")
	}
	if _, ok := cfg.Profiles[cfg.Active]; !ok {
		return nil, fmt.Errorf("active_profile %q not found in profiles", cfg.Active)
	}
	return &cfg, nil
}

// Apply overlays the active profile's non-zero overrides onto cfg.
func (g *GuardsConfig) Apply(cfg *AppConfig) {
	p := g.Profiles[g.Active]
	applyBudget(&cfg.Risk.Portfolio, p.Portfolio)
	applyBudget(&cfg.Risk.PerWallet, p.PerWallet)
	if p.Slippage.MaxAvgSlippageCents > 0 {
		cfg.Risk.MaxAvgSlippageCents = p.Slippage.MaxAvgSlippageCents
	}
	if p.Slippage.MaxDetectionLagSecs > 0 {
		cfg.Trading.MaxDetectionLag = Duration(time.Duration(p.Slippage.MaxDetectionLagSecs) * time.Second)
	}
}

func applyBudget(dst *RiskBudget, src GuardBudget) {
	if src.MaxExposureUSD > 0 {
		dst.MaxExposureUSD = src.MaxExposureUSD
	}
	if src.MaxDailyLossUSD > 0 {
		dst.MaxDailyLossUSD = src.MaxDailyLossUSD
	}
	if src.MaxWeeklyLossUSD > 0 {
		dst.MaxWeeklyLossUSD = src.MaxWeeklyLossUSD
	}
	if src.MaxDrawdownPct > 0 {
		dst.MaxDrawdownPct = src.MaxDrawdownPct
	}
	if src.MaxOpenPositions > 0 {
		dst.MaxOpenPositions = src.MaxOpenPositions
	}
}
