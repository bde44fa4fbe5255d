package domain

import "time"

// SourceTrade is one observed trade by a tracked wallet, as ingested from
// the venue data API. Append-only; TxHash+wallet+market dedupes replays.
type SourceTrade struct {
	ID           int64     `json:"id" db:"id"`
	ProxyWallet  string    `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID  string    `json:"condition_id" db:"condition_id"`
	Side         Side      `json:"side" db:"side"`
	Outcome      string    `json:"outcome" db:"outcome"`
	OutcomeIndex int       `json:"outcome_index" db:"outcome_index"`
	Price        float64   `json:"price" db:"price"`
	SizeUSD      float64   `json:"size_usd" db:"size_usd"`
	Timestamp    int64     `json:"timestamp" db:"timestamp"`
	TxHash       string    `json:"tx_hash" db:"tx_hash"`
	IngestedAt   time.Time `json:"ingested_at" db:"ingested_at"`
}

// PositionSnapshot is a point-in-time view of a wallet's open position in
// one market. Only the latest snapshot per market is meaningful for open
// exposure; older rows are history.
type PositionSnapshot struct {
	ID           int64     `json:"id" db:"id"`
	ProxyWallet  string    `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID  string    `json:"condition_id" db:"condition_id"`
	SizeUSD      float64   `json:"size_usd" db:"size_usd"`
	AvgPrice     float64   `json:"avg_price" db:"avg_price"`
	CurrentValue float64   `json:"current_value" db:"current_value"`
	CashPnL      float64   `json:"cash_pnl" db:"cash_pnl"`
	PercentPnL   float64   `json:"percent_pnl" db:"percent_pnl"`
	SnapshotAt   time.Time `json:"snapshot_at" db:"snapshot_at"`
}

// Market is venue metadata for one outcome market.
type Market struct {
	ConditionID     string    `json:"condition_id" db:"condition_id"`
	Title           string    `json:"title" db:"title"`
	Slug            string    `json:"slug" db:"slug"`
	Category        string    `json:"category" db:"category"`
	EndDate         time.Time `json:"end_date" db:"end_date"`
	Liquidity       float64   `json:"liquidity" db:"liquidity"`
	Volume24h       float64   `json:"volume_24h" db:"volume_24h"`
	Resolved        bool      `json:"resolved" db:"resolved"`
	ResolutionPrice float64   `json:"resolution_price" db:"resolution_price"`
	IsCrypto15m     bool      `json:"is_crypto_15m" db:"is_crypto_15m"`
	FirstSeenAt     time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at" db:"last_updated_at"`
}

// Resolution is a market-resolution event: the market settled with each
// share of the outcome worth Price (1.0 or 0.0).
type Resolution struct {
	ConditionID string  `json:"condition_id"`
	Price       float64 `json:"price"`
}

// PaperTrade is one simulated copy trade. Created open by the mirror
// engine; settled exactly once by the settlement engine.
type PaperTrade struct {
	ID              int64       `json:"id" db:"id"`
	ProxyWallet     string      `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID     string      `json:"condition_id" db:"condition_id"`
	Side            Side        `json:"side" db:"side"`
	Outcome         string      `json:"outcome" db:"outcome"`
	OutcomeIndex    int         `json:"outcome_index" db:"outcome_index"`
	SizeUSD         float64     `json:"size_usd" db:"size_usd"`
	EntryPrice      float64     `json:"entry_price" db:"entry_price"`
	FeePaid         float64     `json:"fee_paid" db:"fee_paid"`
	SlippageApplied float64     `json:"slippage_applied" db:"slippage_applied"`
	SourceTradeID   int64       `json:"source_trade_id" db:"source_trade_id"`
	Status          TradeStatus `json:"status" db:"status"`
	ExitPrice       *float64    `json:"exit_price,omitempty" db:"exit_price"`
	PnL             *float64    `json:"pnl,omitempty" db:"pnl"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	SettledAt       *time.Time  `json:"settled_at,omitempty" db:"settled_at"`
}

// Shares converts the USD notional into outcome shares at the entry price.
func (t PaperTrade) Shares() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.SizeUSD / t.EntryPrice
}

// PaperPosition aggregates open paper trades per wallet/market/side with a
// size-weighted average entry. Deleted when the market settles.
type PaperPosition struct {
	ID            int64     `json:"id" db:"id"`
	ProxyWallet   string    `json:"proxy_wallet" db:"proxy_wallet"`
	ConditionID   string    `json:"condition_id" db:"condition_id"`
	Side          Side      `json:"side" db:"side"`
	TotalSizeUSD  float64   `json:"total_size_usd" db:"total_size_usd"`
	AvgEntryPrice float64   `json:"avg_entry_price" db:"avg_entry_price"`
	LastUpdatedAt time.Time `json:"last_updated_at" db:"last_updated_at"`
}

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// NotionalUSD is the dollar depth this level offers.
func (l BookLevel) NotionalUSD() float64 { return l.Price * l.Size }

// BookSnapshot is a point-in-time order book for one market.
type BookSnapshot struct {
	ConditionID string      `json:"condition_id" db:"condition_id"`
	Bids        []BookLevel `json:"bids"`
	Asks        []BookLevel `json:"asks"`
	SnapshotAt  time.Time   `json:"snapshot_at" db:"snapshot_at"`
}

// Wallet is one tracked venue account.
type Wallet struct {
	ProxyWallet      string          `json:"proxy_wallet" db:"proxy_wallet"`
	Pseudonym        string          `json:"pseudonym" db:"pseudonym"`
	DiscoveredFrom   DiscoverySource `json:"discovered_from" db:"discovered_from"`
	DiscoveredMarket string          `json:"discovered_market" db:"discovered_market"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	OnLeaderboard    bool            `json:"on_leaderboard" db:"on_leaderboard"`
	DiscoveredAt     time.Time       `json:"discovered_at" db:"discovered_at"`
	LastUpdatedAt    time.Time       `json:"last_updated_at" db:"last_updated_at"`
}
