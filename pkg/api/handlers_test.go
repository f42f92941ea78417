package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsCSV = `,Runtime for parent commit (non-incremental),Runtime for commit (incremental),"Runtime for commit (incremental, reluctant)",Relevant changed LOC,Changed/Added/Removed functions
1:abc1234,10.5,2.1,2.0,12,3
2:def5678,11.0,0,2.2,4,1
3:0a1b2c3,9.8,1.9,1.7,0,0
`

func newTestServer(t *testing.T, withStore bool) (*server, http.Handler) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, results.FileName), []byte(resultsCSV), 0o644))

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		Benchmark: config.BenchmarkConfig{ResultsDir: dir},
		API:       config.APIConfig{Listen: "127.0.0.1:0"},
		Storage: config.StorageConfig{
			Enabled: withStore,
			Driver:  store.DriverSQLite,
			SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "api.db")},
		},
	}

	s := &server{
		log:   log,
		cfg:   cfg,
		files: newArtifactFiles(dir),
	}

	if withStore {
		s.store = store.NewStore(log, &cfg.Storage)
		require.NoError(t, s.store.Start(context.Background()))
		t.Cleanup(func() { _ = s.store.Stop() })
	}

	return s, s.buildRouter()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	return rec
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, false)

	rec := get(t, h, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","store":false}`, rec.Body.String())
}

func TestHandleResults(t *testing.T) {
	_, h := newTestServer(t, false)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIndex  []string
	}{
		{name: "failed runs dropped", query: "", wantStatus: http.StatusOK, wantIndex: []string{"1:abc1234", "3:0a1b2c3"}},
		{name: "relevant LOC filter", query: "?relevant=true", wantStatus: http.StatusOK, wantIndex: []string{"1:abc1234"}},
		{name: "detected changes filter", query: "?changes=1", wantStatus: http.StatusOK, wantIndex: []string{"1:abc1234"}},
		{name: "bad flag", query: "?relevant=maybe", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/v1/results"+tt.query)
			require.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp resultsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			index := make([]string, 0, len(resp.Rows))
			for _, row := range resp.Rows {
				index = append(index, row.Index)
			}

			assert.Equal(t, tt.wantIndex, index)
			require.NotNil(t, resp.Rows[0].Values[results.HeaderRuntimeParent])
			assert.InDelta(t, 10.5, *resp.Rows[0].Values[results.HeaderRuntimeParent], 1e-9)
		})
	}
}

func TestHandleResults_Missing(t *testing.T) {
	s, h := newTestServer(t, false)
	require.NoError(t, os.Remove(filepath.Join(s.cfg.Benchmark.ResultsDir, results.FileName)))

	rec := get(t, h, "/api/v1/results")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSummary(t *testing.T) {
	_, h := newTestServer(t, false)

	rec := get(t, h, "/api/v1/results/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 3)

	assert.Equal(t, results.HeaderRuntimeParent, resp[0].Column)
	assert.Equal(t, 2, resp[0].Count)
	assert.InDelta(t, 9.8, *resp[0].Min, 1e-9)
}

func TestHandleRuns(t *testing.T) {
	t.Run("store disabled", func(t *testing.T) {
		_, h := newTestServer(t, false)

		for _, path := range []string{"/api/v1/runs", "/api/v1/comparisons", "/api/v1/benchmarks"} {
			assert.Equal(t, http.StatusServiceUnavailable, get(t, h, path).Code, path)
		}
	})

	t.Run("lists and filters", func(t *testing.T) {
		s, h := newTestServer(t, true)
		ctx := context.Background()

		require.NoError(t, s.store.SaveRun(ctx, &store.Run{
			BenchmarkID: "b", Sequence: 1, Phase: "parent", CommitHash: "abc1234ff", Status: store.StatusSucceeded,
		}))
		require.NoError(t, s.store.SaveRun(ctx, &store.Run{
			BenchmarkID: "b", Sequence: 2, Phase: "parent", CommitHash: "def5678ff", Status: store.StatusFailed,
		}))

		rec := get(t, h, "/api/v1/runs?commit=def")
		require.Equal(t, http.StatusOK, rec.Code)

		var runs []store.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, store.StatusFailed, runs[0].Status)

		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/runs?limit=x").Code)

		rec = get(t, h, "/api/v1/benchmarks")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `["b"]`, rec.Body.String())
	})
}

func TestHandleFileRequest(t *testing.T) {
	_, h := newTestServer(t, false)

	rec := get(t, h, "/api/v1/files/"+results.FileName)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1:abc1234")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/files/nope.csv").Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, false)
	s.cfg.API.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}

	h := s.buildRouter()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/results").Code)
	}

	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/api/v1/results").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health").Code, "health is not rate limited")
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "forwarded chain", xff: "10.0.0.1, 10.0.0.2", remote: "1.2.3.4:5", want: "10.0.0.1"},
		{name: "remote addr", remote: "1.2.3.4:5", want: "1.2.3.4"},
		{name: "remote without port", remote: "1.2.3.4", want: "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote

			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, clientAddr(r))
		})
	}
}

func TestServerStartStop(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := NewServer(log, &config.Config{
		Benchmark: config.BenchmarkConfig{ResultsDir: t.TempDir()},
		API:       config.APIConfig{Listen: "127.0.0.1:0"},
	})

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}
