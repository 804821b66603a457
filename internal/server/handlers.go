package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.Summary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.CycleInfo())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := s.manager.History(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rebalances": records})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	record, err := s.manager.ForceRebalance(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"rebalanced": false,
			"reason":     "no executable trades",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rebalanced": true,
		"record":     record,
	})
}

func (s *Server) handleQuickSell(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	reason := r.URL.Query().Get("reason")
	s.manager.QuickSell(symbol, reason)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"symbol": symbol,
		"status": "flagged",
	})
}

func (s *Server) handleStrategyList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": s.strategies.Names()})
}

func (s *Server) handleStrategySignal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	strat, err := s.strategies.New(name, s.provider)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	signal, err := strat.Analyze(r.Context(), symbol)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, signal)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.log.Error().Int("status", status).Str("error", message).Msg("Request failed")
	s.writeJSON(w, status, map[string]string{"error": message})
}
