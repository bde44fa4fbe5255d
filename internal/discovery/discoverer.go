// Package discovery grows the wallet watchlist from the venue's public
// surfaces: top holders and recent traders of the top-ranked markets,
// plus the profit leaderboard.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/data/cache"
	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
	"github.com/sawpanic/copyrun/internal/venue"
)

// leaderboardTTL bounds staleness of the cached membership set between
// discovery runs.
const leaderboardTTL = 24 * time.Hour

// Stats summarizes one discovery run for the job log.
type Stats struct {
	MarketsScanned int `json:"markets_scanned"`
	HoldersSeen    int `json:"holders_seen"`
	TradersSeen    int `json:"traders_seen"`
	NewWallets     int `json:"new_wallets"`
	Leaderboard    int `json:"leaderboard"`
}

// Discoverer runs the wallet discovery pass.
type Discoverer struct {
	client  *venue.Client
	markets persistence.MarketsRepo
	wallets persistence.WalletsRepo
	trades  persistence.TradesRepo
	cache   cache.Cache
	cfg     config.DiscoveryConfig
}

func NewDiscoverer(client *venue.Client, repos *persistence.Repository, c cache.Cache, cfg config.DiscoveryConfig) *Discoverer {
	return &Discoverer{
		client:  client,
		markets: repos.Markets,
		wallets: repos.Wallets,
		trades:  repos.Trades,
		cache:   c,
		cfg:     cfg,
	}
}

// Run scans the top-ranked markets for holders and recent traders, then
// refreshes leaderboard membership. Per-market failures are logged and
// skipped; the run fails only when the ranked list itself is missing.
func (d *Discoverer) Run(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats

	scoreDate := now.UTC().Format("2006-01-02")
	ranked, err := d.markets.TopRanked(ctx, scoreDate, d.cfg.TopMarkets)
	if err != nil {
		return stats, fmt.Errorf("load ranked markets: %w", err)
	}
	if len(ranked) == 0 {
		// Market scoring has not run yet today; use yesterday's list.
		scoreDate = now.UTC().AddDate(0, 0, -1).Format("2006-01-02")
		if ranked, err = d.markets.TopRanked(ctx, scoreDate, d.cfg.TopMarkets); err != nil {
			return stats, fmt.Errorf("load ranked markets: %w", err)
		}
	}

	for _, ms := range ranked {
		stats.MarketsScanned++
		if err := d.scanMarket(ctx, ms.ConditionID, now, &stats); err != nil {
			log.Warn().Err(err).
				Str("condition_id", ms.ConditionID).
				Msg("Discovery scan failed for market")
		}
	}

	if err := d.refreshLeaderboard(ctx, now, &stats); err != nil {
		log.Warn().Err(err).Msg("Leaderboard refresh failed")
	}

	log.Info().
		Int("markets", stats.MarketsScanned).
		Int("new_wallets", stats.NewWallets).
		Int("leaderboard", stats.Leaderboard).
		Msg("Discovery run finished")
	return stats, nil
}

func (d *Discoverer) scanMarket(ctx context.Context, conditionID string, now time.Time, stats *Stats) error {
	holders, err := d.client.HoldersByMarket(ctx, conditionID, d.cfg.HoldersPerMarket)
	if err != nil {
		return fmt.Errorf("holders: %w", err)
	}
	for _, h := range holders {
		stats.HoldersSeen++
		d.addWallet(ctx, domain.Wallet{
			ProxyWallet:      h.ProxyWallet,
			Pseudonym:        h.Pseudonym,
			DiscoveredFrom:   domain.SourceHolder,
			DiscoveredMarket: conditionID,
			IsActive:         true,
			DiscoveredAt:     now,
		}, stats)
	}

	recent, err := d.client.TradesByMarket(ctx, conditionID, 200)
	if err != nil {
		return fmt.Errorf("recent trades: %w", err)
	}
	counts := make(map[string]int)
	for _, t := range recent {
		counts[t.ProxyWallet]++
	}
	for wallet, n := range counts {
		if n < d.cfg.MinRecentTrades {
			continue
		}
		stats.TradersSeen++
		d.addWallet(ctx, domain.Wallet{
			ProxyWallet:      wallet,
			DiscoveredFrom:   domain.SourceTraderRecent,
			DiscoveredMarket: conditionID,
			IsActive:         true,
			DiscoveredAt:     now,
		}, stats)
	}
	return nil
}

// refreshLeaderboard adds leaderboard wallets to the watchlist, flips
// on_leaderboard for members and caches the membership set for the
// scorer's obscurity multiplier.
func (d *Discoverer) refreshLeaderboard(ctx context.Context, now time.Time, stats *Stats) error {
	entries, err := d.client.Leaderboard(ctx, d.cfg.LeaderboardSize)
	if err != nil {
		return err
	}

	for _, e := range entries {
		stats.Leaderboard++
		d.addWallet(ctx, domain.Wallet{
			ProxyWallet:    e.ProxyWallet,
			Pseudonym:      e.Pseudonym,
			DiscoveredFrom: domain.SourceLeaderboard,
			IsActive:       true,
			DiscoveredAt:   now,
		}, stats)

		if err := d.wallets.SetLeaderboard(ctx, e.ProxyWallet, true); err != nil {
			log.Warn().Err(err).Str("wallet", e.ProxyWallet).Msg("SetLeaderboard failed")
		}
		if d.cache != nil {
			d.cache.Set("leaderboard:"+e.ProxyWallet, []byte("1"), leaderboardTTL)
		}
	}
	return nil
}

func (d *Discoverer) addWallet(ctx context.Context, w domain.Wallet, stats *Stats) {
	if w.ProxyWallet == "" {
		return
	}
	w.LastUpdatedAt = w.DiscoveredAt

	_, err := d.wallets.Get(ctx, w.ProxyWallet)
	known := err == nil

	if err := d.wallets.InsertIgnore(ctx, w); err != nil {
		log.Warn().Err(err).Str("wallet", w.ProxyWallet).Msg("Watchlist insert failed")
		return
	}
	if !known {
		stats.NewWallets++
	}
}
