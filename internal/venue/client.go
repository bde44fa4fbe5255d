// Package venue is the read-only JSON client for the venue's data and
// gamma APIs. Every call passes the per-host rate limiter and a named
// circuit breaker; the client never authenticates and never places
// orders.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/infrastructure/providers"
	httpmetrics "github.com/sawpanic/copyrun/internal/interfaces/http"
	"github.com/sawpanic/copyrun/internal/net/ratelimit"
)

// maxPages bounds any single paged fetch.
const maxPages = 20

// Client fetches venue data with paging, rate limiting and breakers.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breakers   *providers.CircuitBreakerManager
	cfg        config.VenueConfig
}

// NewClient wires a venue client.
func NewClient(cfg config.VenueConfig, breakers *providers.CircuitBreakerManager) *Client {
	breakers.Register(providers.DefaultBreakerConfig("venue-data"))
	breakers.Register(providers.DefaultBreakerConfig("venue-gamma"))

	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout)},
		limiter:    ratelimit.NewLimiter(cfg.RateRPS, cfg.RateBurst),
		breakers:   breakers,
		cfg:        cfg,
	}
}

// TradesByUser pages the wallet's trades, newest first, stopping once a
// page dips below sinceTS.
func (c *Client) TradesByUser(ctx context.Context, proxyWallet string, sinceTS int64) ([]domain.SourceTrade, error) {
	var out []domain.SourceTrade
	for page := 0; page < maxPages; page++ {
		q := url.Values{
			"user":   {proxyWallet},
			"limit":  {strconv.Itoa(c.cfg.PageSize)},
			"offset": {strconv.Itoa(page * c.cfg.PageSize)},
		}
		var rows []tradeRow
		if err := c.getJSON(ctx, "venue-data", c.cfg.DataAPIBase+"/trades?"+q.Encode(), "trades_by_user", &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		done := false
		for _, r := range rows {
			if r.Timestamp < sinceTS {
				done = true
				break
			}
			out = append(out, r.toDomain())
		}
		if done || len(rows) < c.cfg.PageSize {
			break
		}
	}
	return out, nil
}

// PositionsByUser fetches the wallet's current positions as a snapshot
// stamped now.
func (c *Client) PositionsByUser(ctx context.Context, proxyWallet string, now time.Time) ([]domain.PositionSnapshot, error) {
	q := url.Values{"user": {proxyWallet}, "limit": {strconv.Itoa(c.cfg.PageSize)}}
	var rows []positionRow
	if err := c.getJSON(ctx, "venue-data", c.cfg.DataAPIBase+"/positions?"+q.Encode(), "positions_by_user", &rows); err != nil {
		return nil, err
	}
	out := make([]domain.PositionSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain(now))
	}
	return out, nil
}

// HoldersByMarket fetches the market's top outcome holders.
func (c *Client) HoldersByMarket(ctx context.Context, conditionID string, limit int) ([]Holder, error) {
	q := url.Values{"market": {conditionID}, "limit": {strconv.Itoa(limit)}}
	var holders []Holder
	if err := c.getJSON(ctx, "venue-data", c.cfg.DataAPIBase+"/holders?"+q.Encode(), "holders_by_market", &holders); err != nil {
		return nil, err
	}
	return holders, nil
}

// TradesByMarket fetches the market's most recent trades.
func (c *Client) TradesByMarket(ctx context.Context, conditionID string, limit int) ([]domain.SourceTrade, error) {
	q := url.Values{"market": {conditionID}, "limit": {strconv.Itoa(limit)}}
	var rows []tradeRow
	if err := c.getJSON(ctx, "venue-data", c.cfg.DataAPIBase+"/trades?"+q.Encode(), "trades_by_market", &rows); err != nil {
		return nil, err
	}
	out := make([]domain.SourceTrade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Markets pages active markets from the gamma API.
func (c *Client) Markets(ctx context.Context, pages int) ([]domain.Market, error) {
	if pages > maxPages {
		pages = maxPages
	}
	var out []domain.Market
	for page := 0; page < pages; page++ {
		q := url.Values{
			"closed": {"false"},
			"limit":  {strconv.Itoa(c.cfg.PageSize)},
			"offset": {strconv.Itoa(page * c.cfg.PageSize)},
		}
		var rows []marketRow
		if err := c.getJSON(ctx, "venue-gamma", c.cfg.GammaAPIBase+"/markets?"+q.Encode(), "markets", &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		if len(rows) < c.cfg.PageSize {
			break
		}
	}
	return out, nil
}

// Leaderboard fetches the public profit leaderboard.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	q := url.Values{"window": {"30d"}, "limit": {strconv.Itoa(limit)}}
	var entries []LeaderboardEntry
	if err := c.getJSON(ctx, "venue-data", c.cfg.DataAPIBase+"/v1/leaderboard?"+q.Encode(), "leaderboard", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// getJSON performs one rate-limited, breaker-guarded GET and decodes the
// body into target.
func (c *Client) getJSON(ctx context.Context, breakerName, rawURL, endpoint string, target any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if err := c.limiter.Wait(ctx, u.Host); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	start := time.Now()
	_, err = c.breakers.Execute(breakerName, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, body)
		}
		return nil, json.NewDecoder(resp.Body).Decode(target)
	})

	httpmetrics.RecordVenueRequest(endpoint, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("venue %s: %w", endpoint, err)
	}
	return nil
}
