package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) registerHealthRoutes(mux *http.ServeMux) {
	// --- Health ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}

		checks := map[string]any{"status": "ok"}
		if s.health != nil {
			snapshot := s.health.Snapshot()
			checks["localProvider"] = snapshot
			if !snapshot.Healthy {
				checks["status"] = "degraded"
			}
		}
		if s.traces != nil {
			checks["traceBufferedSpans"] = s.traces.Buffered()
		}
		if s.routes != nil {
			checks["routes"] = s.routes.Len()
		}
		if s.costs != nil {
			report := s.costs.Report()
			checks["totalCostUsd"] = report.TotalUSD
			if report.Budget != nil {
				checks["budget"] = report.Budget
			}
		}

		w.Header().Set("Content-Type", "application/json")
		b, _ := json.MarshalIndent(checks, "", "  ")
		w.Write(b)
	})

	// --- Readiness ---
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		// Ready once the first probe has run; a down local provider still
		// leaves remote lanes serviceable.
		if s.health != nil && s.health.Snapshot().LastCheckedAt.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	// --- Costs ---
	mux.HandleFunc("/costs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		if s.costs == nil {
			writeError(w, http.StatusServiceUnavailable, "cost accounting not configured")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		b, _ := json.MarshalIndent(s.costs.Report(), "", "  ")
		w.Write(b)
	})
}
