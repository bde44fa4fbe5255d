// Package book simulates fills against point-in-time order-book snapshots.
package book

import (
	"errors"
	"sort"

	"github.com/sawpanic/copyrun/internal/domain"
)

// ErrInsufficientDepth is returned when the visible book cannot absorb
// the requested notional. The mirror engine maps it to SKIPPED_NO_FILL;
// a partial fill is never simulated.
var ErrInsufficientDepth = errors.New("insufficient book depth")

// Fill is the outcome of walking the book for one simulated order.
type Fill struct {
	// VWAP is the size-weighted average price across consumed levels.
	VWAP float64
	// NotionalUSD is the dollar amount filled (equals the request).
	NotionalUSD float64
	// Shares is the number of outcome shares consumed.
	Shares float64
	// LevelsUsed is how many price levels the walk consumed.
	LevelsUsed int
}

// Walk simulates filling notionalUSD against the snapshot: buys consume
// asks from the cheapest up, sells consume bids from the best down. A
// limitPrice > 0 discards levels past the limit before walking. Returns
// ErrInsufficientDepth when the eligible levels cannot cover the request.
func Walk(snap domain.BookSnapshot, side domain.Side, notionalUSD, limitPrice float64) (Fill, error) {
	if notionalUSD <= 0 {
		return Fill{}, errors.New("notional must be positive")
	}

	levels := eligible(snap, side, limitPrice)
	if len(levels) == 0 {
		return Fill{}, ErrInsufficientDepth
	}

	remaining := notionalUSD
	var shares, cost float64
	used := 0
	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		avail := lvl.NotionalUSD()
		take := avail
		if take > remaining {
			take = remaining
		}
		shares += take / lvl.Price
		cost += take
		remaining -= take
		used++
		if remaining <= 1e-9 {
			remaining = 0
			break
		}
	}
	if remaining > 0 {
		return Fill{}, ErrInsufficientDepth
	}

	return Fill{
		VWAP:        cost / shares,
		NotionalUSD: notionalUSD,
		Shares:      shares,
		LevelsUsed:  used,
	}, nil
}

// DepthUSD reports the total eligible dollar depth on the side of the
// book an order of that side would consume.
func DepthUSD(snap domain.BookSnapshot, side domain.Side, limitPrice float64) float64 {
	var total float64
	for _, lvl := range eligible(snap, side, limitPrice) {
		total += lvl.NotionalUSD()
	}
	return total
}

// eligible returns the levels the walk may consume, best price first.
func eligible(snap domain.BookSnapshot, side domain.Side, limitPrice float64) []domain.BookLevel {
	var src []domain.BookLevel
	if side == domain.SideBuy {
		src = snap.Asks
	} else {
		src = snap.Bids
	}

	levels := make([]domain.BookLevel, 0, len(src))
	for _, lvl := range src {
		if limitPrice > 0 {
			if side == domain.SideBuy && lvl.Price > limitPrice {
				continue
			}
			if side == domain.SideSell && lvl.Price < limitPrice {
				continue
			}
		}
		levels = append(levels, lvl)
	}

	if side == domain.SideBuy {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}
	return levels
}

// FallbackPrice applies the flat default slippage when no usable snapshot
// exists: buys pay up, sells give up, clamped inside the valid range.
func FallbackPrice(side domain.Side, sourcePrice, slippage float64) float64 {
	var p float64
	if side == domain.SideBuy {
		p = sourcePrice + slippage
		if p > 0.99 {
			p = 0.99
		}
	} else {
		p = sourcePrice - slippage
		if p < 0.01 {
			p = 0.01
		}
	}
	return p
}
