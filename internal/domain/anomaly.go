package domain

import "time"

// AnomalyFlag identifies which behavioral comparison fired.
type AnomalyFlag string

const (
	FlagWinRateDrop         AnomalyFlag = "win_rate_drop"
	FlagDrawdownSpike       AnomalyFlag = "drawdown_spike"
	FlagFrequencyChange     AnomalyFlag = "frequency_change"
	FlagPositionSizeAnomaly AnomalyFlag = "position_size_anomaly"
	FlagPaperROICollapse    AnomalyFlag = "paper_roi_collapse"
	FlagHitRateCollapse     AnomalyFlag = "hit_rate_collapse"
	FlagInactivity          AnomalyFlag = "inactivity"
	FlagPersonaLost         AnomalyFlag = "persona_lost"
)

// AnomalyAction is what the detector did about a flag.
type AnomalyAction string

const (
	ActionNone  AnomalyAction = "none"
	ActionPause AnomalyAction = "pause"
	ActionKill  AnomalyAction = "kill"
)

// AnomalyEvent is one append-only detector finding. Pauses and kills take
// effect through the wallet's RiskState halt before the next mirror
// decision is evaluated.
type AnomalyEvent struct {
	ID            int64         `json:"id" db:"id"`
	ProxyWallet   string        `json:"proxy_wallet" db:"proxy_wallet"`
	Flag          AnomalyFlag   `json:"flag" db:"flag"`
	CurrentValue  float64       `json:"current_value" db:"current_value"`
	BaselineValue float64       `json:"baseline_value" db:"baseline_value"`
	Threshold     float64       `json:"threshold" db:"threshold"`
	Action        AnomalyAction `json:"action" db:"action"`
	Detail        string        `json:"detail" db:"detail"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
