package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/data/cache"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/infrastructure/providers"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/venue"
)

type fakeMarkets struct {
	persistence.MarketsRepo
	ranked map[string][]domain.MarketScore
}

func (f *fakeMarkets) TopRanked(_ context.Context, scoreDate string, n int) ([]domain.MarketScore, error) {
	return f.ranked[scoreDate], nil
}

type fakeWallets struct {
	persistence.WalletsRepo
	known       map[string]domain.Wallet
	leaderboard map[string]bool
}

func (f *fakeWallets) Get(_ context.Context, proxyWallet string) (domain.Wallet, error) {
	w, ok := f.known[proxyWallet]
	if !ok {
		return domain.Wallet{}, persistence.ErrNotFound
	}
	return w, nil
}

func (f *fakeWallets) InsertIgnore(_ context.Context, w domain.Wallet) error {
	if _, ok := f.known[w.ProxyWallet]; !ok {
		f.known[w.ProxyWallet] = w
	}
	return nil
}

func (f *fakeWallets) SetLeaderboard(_ context.Context, proxyWallet string, on bool) error {
	f.leaderboard[proxyWallet] = on
	return nil
}

func testDiscoverer(t *testing.T, markets *fakeMarkets, wallets *fakeWallets, handler http.Handler) (*Discoverer, cache.Cache) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := venue.NewClient(config.VenueConfig{
		DataAPIBase:  srv.URL,
		GammaAPIBase: srv.URL,
		RateRPS:      1000,
		RateBurst:    1000,
		Timeout:      config.Duration(2 * time.Second),
		PageSize:     50,
	}, providers.NewCircuitBreakerManager())

	c := cache.New()
	repos := &persistence.Repository{Markets: markets, Wallets: wallets}
	cfg := config.DefaultAppConfig().Discovery
	cfg.TopMarkets = 5
	cfg.MinRecentTrades = 2
	return NewDiscoverer(client, repos, c, cfg), c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestRunDiscoversHoldersTradersAndLeaderboard(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	markets := &fakeMarkets{ranked: map[string][]domain.MarketScore{
		"2026-08-29": {{ConditionID: "0xm1"}},
	}}
	wallets := &fakeWallets{
		known:       map[string]domain.Wallet{"0xold": {ProxyWallet: "0xold"}},
		leaderboard: map[string]bool{},
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/holders":
			writeJSON(t, w, []map[string]any{
				{"proxyWallet": "0xwhale", "pseudonym": "whale", "amount": 9000.0},
				{"proxyWallet": "0xold", "amount": 500.0},
			})
		case "/trades":
			// 0xchurner trades twice and qualifies; 0xoneoff does not.
			writeJSON(t, w, []map[string]any{
				{"proxyWallet": "0xchurner", "conditionId": "0xm1", "side": "BUY", "price": 0.5, "size": 10.0, "timestamp": 1, "transactionHash": "0xt1"},
				{"proxyWallet": "0xchurner", "conditionId": "0xm1", "side": "SELL", "price": 0.5, "size": 10.0, "timestamp": 2, "transactionHash": "0xt2"},
				{"proxyWallet": "0xoneoff", "conditionId": "0xm1", "side": "BUY", "price": 0.5, "size": 10.0, "timestamp": 3, "transactionHash": "0xt3"},
			})
		case "/v1/leaderboard":
			writeJSON(t, w, []map[string]any{
				{"proxyWallet": "0xtopdog", "pseudonym": "topdog", "amount": 120000.0},
			})
		default:
			http.NotFound(w, r)
		}
	})

	d, c := testDiscoverer(t, markets, wallets, handler)
	stats, err := d.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MarketsScanned)
	assert.Equal(t, 2, stats.HoldersSeen)
	assert.Equal(t, 1, stats.TradersSeen)
	assert.Equal(t, 1, stats.Leaderboard)
	// 0xold was already on the watchlist.
	assert.Equal(t, 3, stats.NewWallets)

	assert.Contains(t, wallets.known, "0xwhale")
	assert.Contains(t, wallets.known, "0xchurner")
	assert.NotContains(t, wallets.known, "0xoneoff")
	assert.Equal(t, domain.SourceHolder, wallets.known["0xwhale"].DiscoveredFrom)
	assert.Equal(t, domain.SourceLeaderboard, wallets.known["0xtopdog"].DiscoveredFrom)
	assert.True(t, wallets.leaderboard["0xtopdog"])

	_, hit := c.Get("leaderboard:0xtopdog")
	assert.True(t, hit)
}

func TestRunFallsBackToYesterdaysRanking(t *testing.T) {
	now := time.Date(2026, 8, 29, 0, 5, 0, 0, time.UTC)
	markets := &fakeMarkets{ranked: map[string][]domain.MarketScore{
		"2026-08-28": {{ConditionID: "0xm1"}},
	}}
	wallets := &fakeWallets{known: map[string]domain.Wallet{}, leaderboard: map[string]bool{}}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{})
	})

	d, _ := testDiscoverer(t, markets, wallets, handler)
	stats, err := d.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MarketsScanned)
}

func TestRunSurvivesPerMarketFailures(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	markets := &fakeMarkets{ranked: map[string][]domain.MarketScore{
		"2026-08-29": {{ConditionID: "0xbroken"}},
	}}
	wallets := &fakeWallets{known: map[string]domain.Wallet{}, leaderboard: map[string]bool{}}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/leaderboard" {
			writeJSON(t, w, []map[string]any{})
			return
		}
		http.Error(w, "down", http.StatusInternalServerError)
	})

	d, _ := testDiscoverer(t, markets, wallets, handler)
	stats, err := d.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MarketsScanned)
	assert.Zero(t, stats.NewWallets)
}
