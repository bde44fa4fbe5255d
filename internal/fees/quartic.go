// Package fees implements the venue's taker fee model. Only short-duration
// crypto markets charge a fee; every other market trades fee-free.
package fees

// QuarticTaker returns the per-dollar taker fee at the given share price:
// price * 0.25 * (price * (1 - price))^2. The curve peaks near 0.86% at
// price 0.60 and falls toward zero at both extremes.
func QuarticTaker(price float64) float64 {
	if price < 0 {
		price = 0
	}
	if price > 1 {
		price = 1
	}
	pq := price * (1 - price)
	return price * 0.25 * pq * pq
}

// ForMarket returns the fee rate the market charges at price: the quartic
// taker fee for flagged crypto-15-minute markets, zero otherwise.
func ForMarket(isCrypto15m bool, price float64) float64 {
	if !isCrypto15m {
		return 0
	}
	return QuarticTaker(price)
}

// OnNotional returns the fee in dollars for a trade of notionalUSD at
// price. Added to cost on buys, subtracted from proceeds on sells.
func OnNotional(isCrypto15m bool, price, notionalUSD float64) float64 {
	return ForMarket(isCrypto15m, price) * notionalUSD
}
