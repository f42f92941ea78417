// Package store persists per-phase analyzer runs and precision comparisons
// in a relational database through gorm.
package store

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store provides persistence for benchmark runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// SaveRun inserts or replaces the run keyed by benchmark, sequence and phase.
	SaveRun(ctx context.Context, run *Run) error
	// SaveComparison inserts or replaces the comparison keyed by benchmark and sequence.
	SaveComparison(ctx context.Context, cmp *Comparison) error

	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListComparisons(ctx context.Context, benchmarkID string) ([]Comparison, error)
	ListBenchmarkIDs(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.StorageConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.StorageConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// dialector selects the gorm driver for cfg.Driver.
func dialector(cfg *config.StorageConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return sqlite.Open(cfg.SQLite.Path), nil
	case DriverPostgres:
		return postgres.Open(PostgresDSN(&cfg.Postgres)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// PostgresDSN builds a postgres:// URL so that credentials with spaces or
// quotes survive.
func PostgresDSN(cfg *config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host,
		Path:   "/" + cfg.Database,
	}

	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}

	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}

	return u.String()
}

// Start connects and migrates the runs and comparisons tables.
func (s *store) Start(ctx context.Context) error {
	d, err := dialector(s.cfg)
	if err != nil {
		return err
	}

	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening %s database: %w", s.cfg.Driver, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Run{}, &Comparison{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	s.db = db

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	s.db = nil

	return sqlDB.Close()
}

// replace deletes the rows matching query and inserts row in one transaction,
// so a re-run benchmark overwrites its earlier record.
func (s *store) replace(ctx context.Context, row any, query string, args ...any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(query, args...).Delete(row).Error; err != nil {
			return err
		}

		return tx.Create(row).Error
	})
}

func (s *store) SaveRun(ctx context.Context, run *Run) error {
	run.ID = 0

	if err := s.replace(ctx, run, "benchmark_id = ? AND sequence = ? AND phase = ?",
		run.BenchmarkID, run.Sequence, run.Phase); err != nil {
		return fmt.Errorf("saving run %s/%d/%s: %w", run.BenchmarkID, run.Sequence, run.Phase, err)
	}

	return nil
}

func (s *store) SaveComparison(ctx context.Context, cmp *Comparison) error {
	cmp.ID = 0

	if err := s.replace(ctx, cmp, "benchmark_id = ? AND sequence = ?",
		cmp.BenchmarkID, cmp.Sequence); err != nil {
		return fmt.Errorf("saving comparison %s/%d: %w", cmp.BenchmarkID, cmp.Sequence, err)
	}

	return nil
}

// ListRuns returns matching runs ordered by benchmark, sequence and insertion.
func (s *store) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	q := s.db.WithContext(ctx).Model(&Run{})

	if filter.BenchmarkID != "" {
		q = q.Where("benchmark_id = ?", filter.BenchmarkID)
	}

	if filter.Commit != "" {
		q = q.Where("commit_hash LIKE ?", filter.Commit+"%")
	}

	if filter.Phase != "" {
		q = q.Where("phase = ?", filter.Phase)
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var runs []Run
	if err := q.
		Order("benchmark_id ASC").
		Order("sequence ASC").
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func (s *store) ListComparisons(ctx context.Context, benchmarkID string) ([]Comparison, error) {
	q := s.db.WithContext(ctx).Model(&Comparison{})

	if benchmarkID != "" {
		q = q.Where("benchmark_id = ?", benchmarkID)
	}

	var cmps []Comparison
	if err := q.
		Order("benchmark_id ASC").
		Order("sequence ASC").
		Find(&cmps).Error; err != nil {
		return nil, fmt.Errorf("listing comparisons: %w", err)
	}

	return cmps, nil
}

func (s *store) ListBenchmarkIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Distinct("benchmark_id").
		Order("benchmark_id ASC").
		Pluck("benchmark_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing benchmark ids: %w", err)
	}

	return ids, nil
}
