package domain

import "fmt"

// Side is the direction of a trade on the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps a venue side string to a Side, defaulting to BUY for
// anything unrecognized (the data API omits side on some rows).
func ParseSide(s string) Side {
	if s == "SELL" || s == "sell" {
		return SideSell
	}
	return SideBuy
}

// TradeStatus is the settlement state of a paper trade. A trade moves
// open → settled_win | settled_loss exactly once and is immutable after.
type TradeStatus string

const (
	StatusOpen        TradeStatus = "open"
	StatusSettledWin  TradeStatus = "settled_win"
	StatusSettledLoss TradeStatus = "settled_loss"
)

// Terminal reports whether the status is a settled end state.
func (s TradeStatus) Terminal() bool {
	return s == StatusSettledWin || s == StatusSettledLoss
}

// FidelityOutcome records what the mirror engine decided for one observed
// source trade. Exactly one outcome is logged per observed trade.
type FidelityOutcome string

const (
	OutcomeCopied               FidelityOutcome = "COPIED"
	OutcomeSkippedPortfolioRisk FidelityOutcome = "SKIPPED_PORTFOLIO_RISK"
	OutcomeSkippedWalletRisk    FidelityOutcome = "SKIPPED_WALLET_RISK"
	OutcomeSkippedDailyLoss     FidelityOutcome = "SKIPPED_DAILY_LOSS"
	OutcomeSkippedMarketClosed  FidelityOutcome = "SKIPPED_MARKET_CLOSED"
	OutcomeSkippedDetectionLag  FidelityOutcome = "SKIPPED_DETECTION_LAG"
	OutcomeSkippedNoFill        FidelityOutcome = "SKIPPED_NO_FILL"
)

// CopyMode is how a followable wallet should be copied.
type CopyMode string

const (
	ModeMirror      CopyMode = "mirror"
	ModeMirrorDelay CopyMode = "mirror_delay"
	ModeMirrorSlow  CopyMode = "mirror_slow"
)

// DiscoverySource records how a wallet entered the watchlist.
type DiscoverySource string

const (
	SourceHolder       DiscoverySource = "HOLDER"
	SourceTraderRecent DiscoverySource = "TRADER_RECENT"
	SourceLeaderboard  DiscoverySource = "LEADERBOARD"
)

// LifecycleState is a wallet's position in the copy-trading funnel.
type LifecycleState string

const (
	StateCandidate    LifecycleState = "candidate"
	StatePaperTrading LifecycleState = "paper_trading"
	StateApproved     LifecycleState = "approved"
	StateStopped      LifecycleState = "stopped"
)

// ParseLifecycleState returns the state for s, or an error for unknown input.
func ParseLifecycleState(s string) (LifecycleState, error) {
	switch LifecycleState(s) {
	case StateCandidate, StatePaperTrading, StateApproved, StateStopped:
		return LifecycleState(s), nil
	}
	return "", fmt.Errorf("unknown lifecycle state %q", s)
}
