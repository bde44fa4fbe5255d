package venue

import (
	"time"

	"github.com/sawpanic/copyrun/internal/domain"
)

// tradeRow is the data-API trade payload.
type tradeRow struct {
	ProxyWallet  string  `json:"proxyWallet"`
	ConditionID  string  `json:"conditionId"`
	Side         string  `json:"side"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	Timestamp    int64   `json:"timestamp"`
	TxHash       string  `json:"transactionHash"`
}

func (r tradeRow) toDomain() domain.SourceTrade {
	return domain.SourceTrade{
		ProxyWallet:  r.ProxyWallet,
		ConditionID:  r.ConditionID,
		Side:         domain.ParseSide(r.Side),
		Outcome:      r.Outcome,
		OutcomeIndex: r.OutcomeIndex,
		Price:        r.Price,
		SizeUSD:      r.Size * r.Price,
		Timestamp:    r.Timestamp,
		TxHash:       r.TxHash,
	}
}

// positionRow is the data-API position payload.
type positionRow struct {
	ProxyWallet  string  `json:"proxyWallet"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
	PercentPnL   float64 `json:"percentPnl"`
}

func (r positionRow) toDomain(at time.Time) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		ProxyWallet:  r.ProxyWallet,
		ConditionID:  r.ConditionID,
		SizeUSD:      r.Size * r.AvgPrice,
		AvgPrice:     r.AvgPrice,
		CurrentValue: r.CurrentValue,
		CashPnL:      r.CashPnL,
		PercentPnL:   r.PercentPnL,
		SnapshotAt:   at,
	}
}

// marketRow is the gamma-API market payload.
type marketRow struct {
	ConditionID string  `json:"conditionId"`
	Question    string  `json:"question"`
	Slug        string  `json:"slug"`
	Category    string  `json:"category"`
	EndDate     string  `json:"endDate"`
	Liquidity   float64 `json:"liquidityNum"`
	Volume24h   float64 `json:"volume24hr"`
	Closed      bool    `json:"closed"`
}

func (r marketRow) toDomain() domain.Market {
	m := domain.Market{
		ConditionID: r.ConditionID,
		Title:       r.Question,
		Slug:        r.Slug,
		Category:    r.Category,
		Liquidity:   r.Liquidity,
		Volume24h:   r.Volume24h,
		Resolved:    r.Closed,
		IsCrypto15m: isCrypto15mSlug(r.Slug),
	}
	if t, err := time.Parse(time.RFC3339, r.EndDate); err == nil {
		m.EndDate = t
	}
	return m
}

// Holder is one top holder of a market outcome.
type Holder struct {
	ProxyWallet string  `json:"proxyWallet"`
	Pseudonym   string  `json:"pseudonym"`
	Amount      float64 `json:"amount"`
}

// LeaderboardEntry is one venue leaderboard row.
type LeaderboardEntry struct {
	ProxyWallet string  `json:"proxyWallet"`
	Pseudonym   string  `json:"pseudonym"`
	Profit      float64 `json:"amount"`
}
