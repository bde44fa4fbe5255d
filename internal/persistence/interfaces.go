package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/copyrun/internal/domain"
)

// Sentinel errors shared by every repository implementation.
var (
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate row")
)

// TimeRange is a half-open query window [From, To].
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// MarketsRepo stores venue market metadata, daily market scores and
// order-book snapshots.
type MarketsRepo interface {
	Upsert(ctx context.Context, m domain.Market) error
	Get(ctx context.Context, conditionID string) (domain.Market, error)
	ListResolvedWithOpenTrades(ctx context.Context, limit int) ([]domain.Market, error)
	MarkResolved(ctx context.Context, conditionID string, price float64) error

	UpsertScores(ctx context.Context, scores []domain.MarketScore) error
	TopRanked(ctx context.Context, scoreDate string, n int) ([]domain.MarketScore, error)

	InsertBookSnapshot(ctx context.Context, snap domain.BookSnapshot) error
	LatestBook(ctx context.Context, conditionID string) (domain.BookSnapshot, error)
}

// WalletsRepo stores the tracked-wallet watchlist and lifecycle rows.
type WalletsRepo interface {
	InsertIgnore(ctx context.Context, w domain.Wallet) error
	Get(ctx context.Context, proxyWallet string) (domain.Wallet, error)
	ListActive(ctx context.Context, limit, offset int) ([]domain.Wallet, error)
	SetLeaderboard(ctx context.Context, proxyWallet string, on bool) error

	GetLifecycle(ctx context.Context, proxyWallet string) (LifecycleRow, error)
	UpsertLifecycle(ctx context.Context, row LifecycleRow) error
	AppendLifecycleEvent(ctx context.Context, ev LifecycleEvent) error
}

// TradesRepo stores raw source trades and position snapshots, both
// append-only with replay-safe inserts.
type TradesRepo interface {
	InsertTrades(ctx context.Context, trades []domain.SourceTrade) (int, error)
	ListByWallet(ctx context.Context, proxyWallet string, tr TimeRange, limit int) ([]domain.SourceTrade, error)
	LastTradeAt(ctx context.Context, proxyWallet string) (time.Time, error)
	// ListUndecided returns source trades of followed wallets that have no
	// fidelity event yet, oldest first. This is the at-most-once feed for
	// the mirror engine.
	ListUndecided(ctx context.Context, limit int) ([]domain.SourceTrade, error)
	// PriceDriftAfter returns the average favorable post-entry price move,
	// in price units, across the wallet's entries inside the range.
	PriceDriftAfter(ctx context.Context, proxyWallet string, tr TimeRange, horizon time.Duration) (float64, error)

	InsertPositions(ctx context.Context, snaps []domain.PositionSnapshot) (int, error)
	LatestPositions(ctx context.Context, proxyWallet string) ([]domain.PositionSnapshot, error)
}

// FeaturesRepo stores per-window wallet feature rows, replaced per cycle.
type FeaturesRepo interface {
	Upsert(ctx context.Context, f domain.WalletFeatures) error
	Latest(ctx context.Context, proxyWallet string, windowDays int) (domain.WalletFeatures, error)
	// SizeDecile returns the percentile rank (0..100) of sizeUSD among the
	// latest avg position sizes of all tracked wallets in the window.
	SizeDecile(ctx context.Context, windowDays int, sizeUSD float64) (float64, error)
}

// ClassifyRepo stores persona and exclusion rows. A wallet holds at most
// one current persona or one current exclusion, never both: persisting
// either kind deletes the other kind's current row in the same
// transaction.
type ClassifyRepo interface {
	SetPersona(ctx context.Context, row PersonaRow) error
	SetExclusion(ctx context.Context, row ExclusionRow) error
	// ClearClassification removes the wallet's current persona and
	// exclusion, leaving it tracked but unlabelled.
	ClearClassification(ctx context.Context, proxyWallet string) error
	CurrentPersona(ctx context.Context, proxyWallet string) (PersonaRow, error)
	CurrentExclusion(ctx context.Context, proxyWallet string) (ExclusionRow, error)
	// SybilOverlap reports, for the wallet, the size of the timing cluster
	// it belongs to and the overlap percentage with its nearest neighbor.
	SybilOverlap(ctx context.Context, proxyWallet string, windowSecs, lookbackDays int) (clusterSize int, overlapPct float64, err error)
}

// PaperRepo stores paper trades, aggregated paper positions, risk states
// and the append-only audit tables. Copy and settlement are transactional:
// partially-applied decisions must be impossible.
type PaperRepo interface {
	// CreateCopy persists an open paper trade, its COPIED fidelity event,
	// its slippage row, upserts the paper position and applies the
	// exposure deltas to both risk scopes in one transaction.
	CreateCopy(ctx context.Context, t domain.PaperTrade, slip domain.SlippageRecord) (int64, error)
	// RecordSkip appends the typed skip event; no other row changes.
	RecordSkip(ctx context.Context, ev domain.FidelityEvent) error
	// SettleMarket closes every still-open paper trade for the market at
	// settlePrice, removes the market's paper positions and applies the
	// realized PnL and released exposure to risk states, atomically.
	// Re-delivery settles zero rows. Returns the settled trades.
	SettleMarket(ctx context.Context, conditionID string, settlePrice float64, now time.Time) ([]domain.PaperTrade, error)

	OpenTrades(ctx context.Context, conditionID string) ([]domain.PaperTrade, error)
	// OpenConditionIDs lists the distinct markets with at least one open
	// paper trade; the book recorder subscribes to these.
	OpenConditionIDs(ctx context.Context) ([]string, error)
	SettledByWallet(ctx context.Context, proxyWallet string, tr TimeRange) ([]domain.PaperTrade, error)
	OpenExposureByTheme(ctx context.Context, category string) (float64, error)

	GetRiskState(ctx context.Context, scopeKey string) (domain.RiskState, error)
	SetHalt(ctx context.Context, scopeKey string, reason string, until *time.Time) error
	ClearHalt(ctx context.Context, scopeKey string) error
	ResetDailyPnL(ctx context.Context) error
	ResetWeeklyPnL(ctx context.Context) error

	FidelityByWallet(ctx context.Context, proxyWallet string, tr TimeRange) ([]domain.FidelityEvent, error)
	RecentSlippage(ctx context.Context, proxyWallet string, n int) ([]domain.SlippageRecord, error)
}

// ScoresRepo stores composite wallet scores, superseded daily.
type ScoresRepo interface {
	Upsert(ctx context.Context, s domain.WalletScore) error
	Latest(ctx context.Context, proxyWallet string, windowDays int) (domain.WalletScore, error)
	ListByDate(ctx context.Context, scoreDate string, windowDays, limit int) ([]domain.WalletScore, error)
}

// AnomalyRepo stores the append-only anomaly event log.
type AnomalyRepo interface {
	Append(ctx context.Context, ev domain.AnomalyEvent) error
	ListByWallet(ctx context.Context, proxyWallet string, limit int) ([]domain.AnomalyEvent, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.AnomalyEvent, error)
}

// JobsRepo records per-job run status for operational visibility.
type JobsRepo interface {
	RecordRun(ctx context.Context, run JobRun) error
	Get(ctx context.Context, jobName string) (JobRun, error)
	List(ctx context.Context) ([]JobRun, error)
}

// PersonaRow is a persisted classification outcome with its audit detail.
type PersonaRow struct {
	ProxyWallet  string          `json:"proxy_wallet" db:"proxy_wallet"`
	Persona      domain.Persona  `json:"persona" db:"persona"`
	Mode         domain.CopyMode `json:"mode" db:"mode"`
	Confidence   float64         `json:"confidence" db:"confidence"`
	RiskFlags    []string        `json:"risk_flags,omitempty"`
	Checks       []domain.RuleCheck `json:"checks,omitempty"`
	ClassifiedAt time.Time       `json:"classified_at" db:"classified_at"`
}

// ExclusionRow is a persisted exclusion with the metric and threshold
// that triggered it.
type ExclusionRow struct {
	ProxyWallet string               `json:"proxy_wallet" db:"proxy_wallet"`
	Code        domain.ExclusionCode `json:"code" db:"code"`
	MetricValue float64              `json:"metric_value" db:"metric_value"`
	Threshold   float64              `json:"threshold" db:"threshold"`
	Detail      string               `json:"detail" db:"detail"`
	ExcludedAt  time.Time            `json:"excluded_at" db:"excluded_at"`
}

// LifecycleRow is a wallet's current funnel state plus its approval-time
// style baseline.
type LifecycleRow struct {
	ProxyWallet   string                `json:"proxy_wallet" db:"proxy_wallet"`
	State         domain.LifecycleState `json:"state" db:"state"`
	BaselineStyle *domain.StyleSnapshot `json:"baseline_style,omitempty"`
	LastSeenAt    time.Time             `json:"last_seen_at" db:"last_seen_at"`
	UpdatedAt     time.Time             `json:"updated_at" db:"updated_at"`
}

// LifecycleEvent is one append-only funnel decision.
type LifecycleEvent struct {
	ID          int64     `json:"id" db:"id"`
	ProxyWallet string    `json:"proxy_wallet" db:"proxy_wallet"`
	Phase       string    `json:"phase" db:"phase"`
	Allow       bool      `json:"allow" db:"allow"`
	Reason      string    `json:"reason" db:"reason"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// JobRun is one scheduled job's latest outcome.
type JobRun struct {
	JobName    string    `json:"job_name" db:"job_name"`
	Status     string    `json:"status" db:"status"`
	LastRunAt  time.Time `json:"last_run_at" db:"last_run_at"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	LastError  string    `json:"last_error" db:"last_error"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Repository bundles every repo behind one wiring point.
type Repository struct {
	Markets  MarketsRepo
	Wallets  WalletsRepo
	Trades   TradesRepo
	Features FeaturesRepo
	Classify ClassifyRepo
	Paper    PaperRepo
	Scores   ScoresRepo
	Anomaly  AnomalyRepo
	Jobs     JobsRepo
}
