package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/infrastructure/providers"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.VenueConfig{
		DataAPIBase:  srv.URL,
		GammaAPIBase: srv.URL,
		RateRPS:      1000,
		RateBurst:    1000,
		Timeout:      config.Duration(2 * time.Second),
		PageSize:     2,
	}
	return NewClient(cfg, providers.NewCircuitBreakerManager())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestTradesByUserPagesUntilShortPage(t *testing.T) {
	pages := map[string][]map[string]any{
		"0": {
			{"proxyWallet": "0xabc", "conditionId": "0xm1", "side": "BUY", "price": 0.6, "size": 100.0, "timestamp": 1_700_000_400, "transactionHash": "0xt1"},
			{"proxyWallet": "0xabc", "conditionId": "0xm1", "side": "SELL", "price": 0.5, "size": 40.0, "timestamp": 1_700_000_300, "transactionHash": "0xt2"},
		},
		"2": {
			{"proxyWallet": "0xabc", "conditionId": "0xm2", "side": "BUY", "price": 0.3, "size": 10.0, "timestamp": 1_700_000_200, "transactionHash": "0xt3"},
		},
	}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("user"))
		writeJSON(t, w, pages[r.URL.Query().Get("offset")])
	}))

	trades, err := c.TradesByUser(context.Background(), "0xabc", 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	// Notional is size times price.
	assert.Equal(t, 60.0, trades[0].SizeUSD)
	assert.Equal(t, domain.SideSell, trades[1].Side)
	assert.Equal(t, "0xt3", trades[2].TxHash)
}

func TestTradesByUserStopsAtSinceTimestamp(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"proxyWallet": "0xabc", "conditionId": "0xm1", "side": "BUY", "price": 0.6, "size": 10.0, "timestamp": 1_700_000_500, "transactionHash": "0xt1"},
			{"proxyWallet": "0xabc", "conditionId": "0xm1", "side": "BUY", "price": 0.6, "size": 10.0, "timestamp": 1_600_000_000, "transactionHash": "0xt0"},
		})
	}))

	trades, err := c.TradesByUser(context.Background(), "0xabc", 1_700_000_000)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xt1", trades[0].TxHash)
}

func TestMarketsParsesGammaRows(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		if r.URL.Query().Get("offset") != "0" {
			writeJSON(t, w, []map[string]any{})
			return
		}
		writeJSON(t, w, []map[string]any{
			{"conditionId": "0xm1", "question": "Will it rain?", "slug": "will-it-rain", "category": "weather",
				"endDate": "2026-09-12T00:00:00Z", "liquidityNum": 50000.0, "volume24hr": 20000.0, "closed": false},
			{"conditionId": "0xm2", "question": "BTC up or down?", "slug": "bitcoin-up-or-down-august-29-3pm-et",
				"liquidityNum": 9000.0, "volume24hr": 4000.0, "closed": false},
		})
	}))

	markets, err := c.Markets(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "Will it rain?", markets[0].Title)
	assert.Equal(t, 2026, markets[0].EndDate.Year())
	assert.False(t, markets[0].IsCrypto15m)
	assert.True(t, markets[1].IsCrypto15m)
	assert.True(t, markets[1].EndDate.IsZero(), "unparseable end date stays zero")
}

func TestPositionsByUserStampsSnapshotTime(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"proxyWallet": "0xabc", "conditionId": "0xm1", "size": 200.0, "avgPrice": 0.4, "currentValue": 90.0, "cashPnl": 10.0, "percentPnl": 12.5},
		})
	}))

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	snaps, err := c.PositionsByUser(context.Background(), "0xabc", now)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 80.0, snaps[0].SizeUSD)
	assert.Equal(t, now, snaps[0].SnapshotAt)
}

func TestGetJSONSurfacesHTTPErrors(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := c.Leaderboard(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGetJSONSetsRequestHeaders(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeJSON(t, w, []map[string]any{})
	}))

	_, err := c.HoldersByMarket(context.Background(), "0xm1", 20)
	require.NoError(t, err)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	for i := 0; i < 20; i++ {
		_, err := c.Leaderboard(context.Background(), 10)
		require.Error(t, err)
	}
	assert.Less(t, hits, 20, "breaker should shed load once open")
}

func TestIsCrypto15mSlug(t *testing.T) {
	cases := []struct {
		slug string
		want bool
	}{
		{"bitcoin-up-or-down-august-29-3pm-et", true},
		{"ETH-UpDown-2026-08-29", true},
		{"will-the-fed-cut-rates-in-september", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.slug), func(t *testing.T) {
			assert.Equal(t, tc.want, isCrypto15mSlug(tc.slug))
		})
	}
}
