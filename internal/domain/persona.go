package domain

// Persona is a followable behavioral archetype. A wallet holds at most one
// current persona, and never a persona and an exclusion at the same time.
type Persona string

const (
	PersonaInformedSpecialist   Persona = "informed_specialist"
	PersonaConsistentGeneralist Persona = "consistent_generalist"
	PersonaPatientAccumulator   Persona = "patient_accumulator"
)

// DefaultMode maps each persona to its default copy mode.
func (p Persona) DefaultMode() CopyMode {
	switch p {
	case PersonaInformedSpecialist:
		return ModeMirrorDelay
	case PersonaPatientAccumulator:
		return ModeMirrorSlow
	default:
		return ModeMirror
	}
}

// ExclusionCode identifies which rule excluded a wallet.
type ExclusionCode string

const (
	ExcludeTooYoung        ExclusionCode = "too_young"
	ExcludeTooFewTrades    ExclusionCode = "too_few_trades"
	ExcludeInactive        ExclusionCode = "inactive"
	ExcludeKnownBot        ExclusionCode = "known_bot"
	ExcludeSniperInsider   ExclusionCode = "sniper_insider"
	ExcludeNoiseTrader     ExclusionCode = "noise_trader"
	ExcludeTailRiskSeller  ExclusionCode = "tail_risk_seller"
	ExcludeExecutionMaster ExclusionCode = "execution_master"
	ExcludeSybilCluster    ExclusionCode = "sybil_cluster"
)

// Exclusion carries the metric and threshold that triggered the rule so
// every exclusion is auditable after the fact.
type Exclusion struct {
	Code        ExclusionCode `json:"code"`
	MetricValue float64       `json:"metric_value"`
	Threshold   float64       `json:"threshold"`
	Detail      string        `json:"detail,omitempty"`
}

// RuleCheck is the audit record for one classification rule evaluation.
type RuleCheck struct {
	Name        string  `json:"name"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// ClassKind discriminates the three classification outcomes.
type ClassKind int

const (
	KindUnclassified ClassKind = iota
	KindFollowable
	KindExcluded
)

// ClassOutcome is the result of one classification pass: a followable
// persona, an exclusion, or neither. Followable and Excluded are mutually
// exclusive by construction.
type ClassOutcome struct {
	Kind       ClassKind   `json:"kind"`
	Persona    Persona     `json:"persona,omitempty"`
	Mode       CopyMode    `json:"mode,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Exclusion  *Exclusion  `json:"exclusion,omitempty"`
	RiskFlags  []string    `json:"risk_flags,omitempty"`
	Checks     []RuleCheck `json:"checks,omitempty"`
}

// Followable reports whether the outcome names a persona to copy.
func (o ClassOutcome) Followable() bool { return o.Kind == KindFollowable }

// Excluded reports whether the outcome is an exclusion.
func (o ClassOutcome) Excluded() bool { return o.Kind == KindExcluded }
