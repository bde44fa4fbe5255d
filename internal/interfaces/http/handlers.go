package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/copyrun/internal/domain"
	"github.com/sawpanic/copyrun/internal/persistence"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID})
}

func (s *Server) repoError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// handleHealth reports store connectivity, breaker states and process
// stats. Degraded means the API is up but a dependency is not.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Uptime    string    `json:"uptime"`
		Checks    map[string]string `json:"checks"`
		Breakers  any       `json:"breakers,omitempty"`
		Goroutines int      `json:"goroutines"`
	}

	resp := healthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Checks:     map[string]string{},
		Goroutines: runtime.NumGoroutine(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks["postgres"] = "fail: " + err.Error()
		} else {
			resp.Checks["postgres"] = "pass"
		}
	}
	if s.breakers != nil {
		statuses := s.breakers.Status()
		resp.Breakers = statuses
		for _, b := range statuses {
			if b.State == "open" {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	wallets, err := s.repos.Wallets.ListActive(r.Context(), limit, offset)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"wallets": wallets,
		"count":   len(wallets),
		"offset":  offset,
	})
}

// handleWallet aggregates everything known about one wallet: watchlist
// row, current persona or exclusion, lifecycle state, latest features
// and score.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	ctx := r.Context()

	wallet, err := s.repos.Wallets.Get(ctx, address)
	if err != nil {
		s.repoError(w, r, err)
		return
	}

	resp := map[string]any{"wallet": wallet}

	if persona, err := s.repos.Classify.CurrentPersona(ctx, address); err == nil {
		resp["persona"] = persona
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.repoError(w, r, err)
		return
	}
	if exclusion, err := s.repos.Classify.CurrentExclusion(ctx, address); err == nil {
		resp["exclusion"] = exclusion
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.repoError(w, r, err)
		return
	}
	if lifecycle, err := s.repos.Wallets.GetLifecycle(ctx, address); err == nil {
		resp["lifecycle"] = lifecycle
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.repoError(w, r, err)
		return
	}
	if features, err := s.repos.Features.Latest(ctx, address, 30); err == nil {
		resp["features_30d"] = features
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.repoError(w, r, err)
		return
	}
	if score, err := s.repos.Scores.Latest(ctx, address, 30); err == nil {
		resp["score_30d"] = score
	} else if !errors.Is(err, persistence.ErrNotFound) {
		s.repoError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleWalletFidelity returns the wallet's copy decision audit trail
// plus its recent slippage samples.
func (s *Server) handleWalletFidelity(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	days := queryInt(r, "days", 30)

	now := time.Now().UTC()
	tr := persistence.TimeRange{From: now.AddDate(0, 0, -days), To: now}

	events, err := s.repos.Paper.FidelityByWallet(r.Context(), address, tr)
	if err != nil {
		s.repoError(w, r, err)
		return
	}

	copied := 0
	for _, ev := range events {
		if ev.Outcome == domain.OutcomeCopied {
			copied++
		}
	}
	fidelityPct := 100.0
	if len(events) > 0 {
		fidelityPct = float64(copied) / float64(len(events)) * 100
	}

	slippage, err := s.repos.Paper.RecentSlippage(r.Context(), address, 50)
	if err != nil {
		s.repoError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"proxy_wallet": address,
		"window_days":  days,
		"fidelity_pct": fidelityPct,
		"events":       events,
		"slippage":     slippage,
	})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	scoreDate := r.URL.Query().Get("date")
	if scoreDate == "" {
		scoreDate = time.Now().UTC().Format("2006-01-02")
	}
	window := queryInt(r, "window", 30)
	limit := queryInt(r, "limit", 100)

	scores, err := s.repos.Scores.ListByDate(r.Context(), scoreDate, window, limit)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"score_date":  scoreDate,
		"window_days": window,
		"scores":      scores,
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	scoreDate := r.URL.Query().Get("date")
	if scoreDate == "" {
		scoreDate = time.Now().UTC().Format("2006-01-02")
	}
	limit := queryInt(r, "limit", 50)

	ranked, err := s.repos.Markets.TopRanked(r.Context(), scoreDate, limit)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"score_date": scoreDate,
		"markets":    ranked,
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 100)

	events, err := s.repos.Anomaly.ListRecent(r.Context(), time.Now().UTC().AddDate(0, 0, -days), limit)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"window_days": days,
		"anomalies":   events,
	})
}

// handleRisk shows a scope's live budget state. Default scope is the
// whole portfolio; pass ?wallet=<address> for one wallet.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	scopeKey := domain.PortfolioScope
	if wallet := r.URL.Query().Get("wallet"); wallet != "" {
		scopeKey = wallet
	}

	state, err := s.repos.Paper.GetRiskState(r.Context(), scopeKey)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	runs, err := s.repos.Jobs.List(r.Context())
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": runs})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "unknown endpoint")
}
