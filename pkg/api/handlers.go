package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"store":  s.store != nil,
	})
}

type resultRow struct {
	Index string `json:"index"`
	// Values maps column to value. Empty or unparsable cells are null.
	Values map[string]*float64 `json:"values"`
}

type resultsResponse struct {
	Columns []string    `json:"columns"`
	Rows    []resultRow `json:"rows"`
}

// handleResults returns the cleaned Result Table.
func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.loadResults(w, r)
	if !ok {
		return
	}

	resp := resultsResponse{
		Columns: tbl.Columns(),
		Rows:    make([]resultRow, 0, tbl.Len()),
	}

	for i, label := range tbl.Index() {
		row := resultRow{Index: label, Values: make(map[string]*float64, len(resp.Columns))}

		for _, col := range resp.Columns {
			if v := tbl.Float(i, col); !math.IsNaN(v) && !math.IsInf(v, 0) {
				row.Values[col] = &v
			} else {
				row.Values[col] = nil
			}
		}

		resp.Rows = append(resp.Rows, row)
	}

	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	Column string   `json:"column"`
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Mean   *float64 `json:"mean"`
}

// handleSummary returns per-column statistics of the cleaned runtime columns.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.loadResults(w, r)
	if !ok {
		return
	}

	summaries, err := results.Summarize(tbl, results.RuntimeHeaders())
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{err.Error()})

		return
	}

	resp := make([]summaryResponse, 0, len(summaries))
	for _, sm := range summaries {
		resp = append(resp, summaryResponse{
			Column: sm.Column,
			Count:  sm.Count,
			Min:    finite(sm.Min),
			Max:    finite(sm.Max),
			Mean:   finite(sm.Mean),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// loadResults reads the results table and applies the row filters. The
// relevant and changes query flags override the configured filters.
func (s *server) loadResults(w http.ResponseWriter, r *http.Request) (*results.Table, bool) {
	filter := results.Filter{
		RelevantLOC:     s.cfg.Report.FilterRelevantLOC,
		DetectedChanges: s.cfg.Report.FilterDetectedChanges,
	}

	for param, dst := range map[string]*bool{
		"relevant": &filter.RelevantLOC,
		"changes":  &filter.DetectedChanges,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}

		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid " + param + " flag"})

			return nil, false
		}

		*dst = v
	}

	tbl, err := results.LoadCleaned(filepath.Join(s.cfg.Benchmark.ResultsDir, results.FileName), filter)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			writeJSON(w, http.StatusNotFound, errorResponse{"no results yet"})
		case errors.Is(err, results.ErrMissingColumn):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{err.Error()})
		default:
			s.log.WithError(err).Error("Failed to load results")
			writeJSON(w, http.StatusInternalServerError, errorResponse{"loading results"})
		}

		return nil, false
	}

	return tbl, true
}

// handleRuns lists stored runs filtered by the benchmark, commit and phase
// query parameters.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{
		BenchmarkID: q.Get("benchmark"),
		Commit:      q.Get("commit"),
		Phase:       q.Get("phase"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		filter.Limit = limit
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing runs"})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleComparisons(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	cmps, err := s.store.ListComparisons(r.Context(), r.URL.Query().Get("benchmark"))
	if err != nil {
		s.log.WithError(err).Error("Failed to list comparisons")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing comparisons"})

		return
	}

	writeJSON(w, http.StatusOK, cmps)
}

func (s *server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	ids, err := s.store.ListBenchmarkIDs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list benchmarks")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing benchmarks"})

		return
	}

	writeJSON(w, http.StatusOK, ids)
}

func (s *server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"storage is not enabled"})

		return false
	}

	return true
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}
