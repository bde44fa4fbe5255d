// Package books records order-book snapshots from the venue's public
// market-data websocket. The mirror engine reads the persisted
// snapshots to simulate fills; the recorder never sends orders and
// never authenticates.
package books

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/copyrun/internal/config"
	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

// wsMessage is the venue market-channel envelope. The feed sends a full
// "book" snapshot on subscribe and "price_change" deltas afterwards.
type wsMessage struct {
	EventType string    `json:"event_type"`
	Market    string    `json:"market"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Changes   []wsDelta `json:"changes"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsDelta struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

type subscribeRequest struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// bookState is the in-memory book for one market, price keyed.
type bookState struct {
	bids map[float64]float64
	asks map[float64]float64
}

// Recorder maintains live books for the subscribed markets and persists
// snapshots on an interval.
type Recorder struct {
	markets persistence.MarketsRepo
	cfg     config.BooksConfig

	mu     sync.RWMutex
	books  map[string]*bookState
	subs   []string
	closed chan struct{}
}

func NewRecorder(markets persistence.MarketsRepo, cfg config.BooksConfig) *Recorder {
	return &Recorder{
		markets: markets,
		cfg:     cfg,
		books:   make(map[string]*bookState),
		closed:  make(chan struct{}),
	}
}

// SetMarkets replaces the subscription set. Takes effect on the next
// (re)connect; callers refresh it from markets with open copy interest.
func (r *Recorder) SetMarkets(conditionIDs []string) {
	if len(conditionIDs) > r.cfg.MaxSubscriptions {
		conditionIDs = conditionIDs[:r.cfg.MaxSubscriptions]
	}
	r.mu.Lock()
	r.subs = append([]string(nil), conditionIDs...)
	r.mu.Unlock()
}

// Run connects, consumes book messages and persists snapshots until ctx
// is done. Disconnects reconnect with exponential backoff.
func (r *Recorder) Run(ctx context.Context) error {
	defer close(r.closed)

	backoff := time.Duration(r.cfg.ReconnectBase)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.runConn(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Book feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Duration(r.cfg.ReconnectMax) {
			backoff = time.Duration(r.cfg.ReconnectMax)
		}
	}
}

func (r *Recorder) runConn(ctx context.Context) error {
	r.mu.RLock()
	subs := append([]string(nil), r.subs...)
	r.mu.RUnlock()
	if len(subs) == 0 {
		// Nothing to record yet; poll for a subscription set.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(r.cfg.SnapshotInterval)):
			return nil
		}
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, r.cfg.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Type: "market", AssetsIDs: subs}); err != nil {
		return err
	}
	log.Info().Int("markets", len(subs)).Msg("Subscribed to book feed")

	// Reset state; the feed replays full snapshots after subscribe.
	r.mu.Lock()
	r.books = make(map[string]*bookState)
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			r.handleMessage(payload)
		}
	}()

	ticker := time.NewTicker(time.Duration(r.cfg.SnapshotInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-done:
			return err
		case <-ticker.C:
			r.persistSnapshots(ctx)
		}
	}
}

func (r *Recorder) handleMessage(payload []byte) {
	var msg wsMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Market == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.EventType {
	case "book":
		state := &bookState{
			bids: make(map[float64]float64, len(msg.Bids)),
			asks: make(map[float64]float64, len(msg.Asks)),
		}
		for _, l := range msg.Bids {
			if price, size, ok := parseLevel(l.Price, l.Size); ok && size > 0 {
				state.bids[price] = size
			}
		}
		for _, l := range msg.Asks {
			if price, size, ok := parseLevel(l.Price, l.Size); ok && size > 0 {
				state.asks[price] = size
			}
		}
		r.books[msg.Market] = state

	case "price_change":
		state, ok := r.books[msg.Market]
		if !ok {
			return
		}
		for _, ch := range msg.Changes {
			price, size, ok := parseLevel(ch.Price, ch.Size)
			if !ok {
				continue
			}
			side := state.bids
			if ch.Side == "SELL" || ch.Side == "sell" {
				side = state.asks
			}
			if size <= 0 {
				delete(side, price)
			} else {
				side[price] = size
			}
		}
	}
}

func (r *Recorder) persistSnapshots(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.RLock()
	snaps := make([]domain.BookSnapshot, 0, len(r.books))
	for conditionID, state := range r.books {
		snaps = append(snaps, domain.BookSnapshot{
			ConditionID: conditionID,
			Bids:        levelsOf(state.bids, true),
			Asks:        levelsOf(state.asks, false),
			SnapshotAt:  now,
		})
	}
	r.mu.RUnlock()

	for _, snap := range snaps {
		if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
			continue
		}
		if err := r.markets.InsertBookSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).
				Str("condition_id", snap.ConditionID).
				Msg("Book snapshot persist failed")
		}
	}
}

// levelsOf flattens one side, bids descending and asks ascending.
func levelsOf(side map[float64]float64, descending bool) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(side))
	for price, size := range side {
		out = append(out, domain.BookLevel{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func parseLevel(priceStr, sizeStr string) (price, size float64, ok bool) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, false
	}
	size, err = strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return price, size, true
}
