package store_test

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.StorageConfig{
		Enabled: true,
		Driver:  store.DriverSQLite,
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_SaveAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runs := []*store.Run{
		{BenchmarkID: "b1", Sequence: 2, Phase: "parent", CommitHash: "bbbb222", Status: store.StatusSucceeded, RuntimeSeconds: 12.5},
		{BenchmarkID: "b1", Sequence: 1, Phase: "parent", CommitHash: "aaaa111", Status: store.StatusSucceeded, RuntimeSeconds: 10},
		{BenchmarkID: "b1", Sequence: 1, Phase: "incremental", CommitHash: "aaaa111", Status: store.StatusFailed, Error: "exit 3"},
		{BenchmarkID: "b2", Sequence: 1, Phase: "parent", CommitHash: "cccc333", Status: store.StatusSucceeded},
	}

	for _, r := range runs {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	tests := []struct {
		name   string
		filter store.RunFilter
		want   []string
	}{
		{name: "all", filter: store.RunFilter{}, want: []string{"aaaa111/parent", "aaaa111/incremental", "bbbb222/parent", "cccc333/parent"}},
		{name: "by benchmark", filter: store.RunFilter{BenchmarkID: "b2"}, want: []string{"cccc333/parent"}},
		{name: "by commit prefix", filter: store.RunFilter{Commit: "aaaa"}, want: []string{"aaaa111/parent", "aaaa111/incremental"}},
		{name: "by phase", filter: store.RunFilter{BenchmarkID: "b1", Phase: "parent"}, want: []string{"aaaa111/parent", "bbbb222/parent"}},
		{name: "limit", filter: store.RunFilter{Limit: 1}, want: []string{"aaaa111/parent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(ctx, tt.filter)
			require.NoError(t, err)

			keys := make([]string, 0, len(got))
			for _, r := range got {
				keys = append(keys, r.CommitHash+"/"+r.Phase)
			}

			assert.Equal(t, tt.want, keys)
		})
	}

	ids, err := s.ListBenchmarkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids)
}

func TestStore_SaveRunReplaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &store.Run{BenchmarkID: "b", Sequence: 1, Phase: "parent", CommitHash: "abc", Status: store.StatusFailed, Error: "boom"}
	require.NoError(t, s.SaveRun(ctx, first))

	second := &store.Run{BenchmarkID: "b", Sequence: 1, Phase: "parent", CommitHash: "abc", Status: store.StatusSucceeded, RuntimeSeconds: 3}
	require.NoError(t, s.SaveRun(ctx, second))

	got, err := s.ListRuns(ctx, store.RunFilter{BenchmarkID: "b"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, store.StatusSucceeded, got[0].Status)
	assert.Empty(t, got[0].Error)
	assert.InDelta(t, 3, got[0].RuntimeSeconds, 1e-9)
}

func TestStore_Comparisons(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveComparison(ctx, &store.Comparison{
		BenchmarkID: "b", Sequence: 1, CommitHash: "abc", First: "parent", Second: "incremental",
		Status: store.StatusSucceeded, HasPrecision: true, Equal: 10, MorePrecise: 1, Total: 11,
	}))
	require.NoError(t, s.SaveComparison(ctx, &store.Comparison{
		BenchmarkID: "b", Sequence: 1, CommitHash: "abc", First: "parent", Second: "incremental",
		Status: store.StatusSucceeded, HasPrecision: true, Equal: 12, Total: 12,
	}))
	require.NoError(t, s.SaveComparison(ctx, &store.Comparison{
		BenchmarkID: "other", Sequence: 1, CommitHash: "def", Status: store.StatusFailed,
	}))

	got, err := s.ListComparisons(ctx, "b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12, got[0].Equal)
	assert.Equal(t, 0, got[0].MorePrecise)

	all, err := s.ListComparisons(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.StorageConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	assert.NoError(t, s.Stop())
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.PostgresConfig
		wantHost string
	}{
		{
			name:     "plain",
			cfg:      config.PostgresConfig{Host: "db", Port: 5432, User: "bench", Password: "secret", Database: "runs", SSLMode: "disable"},
			wantHost: "db:5432",
		},
		{
			name:     "password with spaces and quotes",
			cfg:      config.PostgresConfig{Host: "db", Port: 5432, User: "bench", Password: `it's a "pass" word@/?`, Database: "runs"},
			wantHost: "db:5432",
		},
		{
			name:     "driver default port",
			cfg:      config.PostgresConfig{Host: "db", User: "bench", Database: "runs"},
			wantHost: "db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(store.PostgresDSN(&tt.cfg))
			require.NoError(t, err)

			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, tt.cfg.User, u.User.Username())

			password, _ := u.User.Password()
			assert.Equal(t, tt.cfg.Password, password)
			assert.Equal(t, "/"+tt.cfg.Database, u.Path)
			assert.Equal(t, tt.cfg.SSLMode, u.Query().Get("sslmode"))
			assert.Equal(t, tt.wantHost, u.Host)
		})
	}
}
