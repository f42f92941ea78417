// Package api serves benchmark results over HTTP: the cleaned Result Table,
// stored runs and comparisons, and the raw artifacts of the results directory.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	// Start opens the store when persistence is enabled, binds the listen
	// address and serves in the background.
	Start(ctx context.Context) error
	// Stop drains in-flight requests and closes the store.
	Stop() error
}

// NewServer creates a new API server for the results directory of cfg.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		files: newArtifactFiles(cfg.Benchmark.ResultsDir, cfg.Report.OutputDir),
	}
}

type server struct {
	log   logrus.FieldLogger
	cfg   *config.Config
	store store.Store
	files *artifactFiles

	httpServer *http.Server
	serveErr   chan error
}

// Ensure interface compliance.
var _ Server = (*server)(nil)

func (s *server) Start(ctx context.Context) error {
	if s.cfg.Storage.Enabled {
		st := store.NewStore(s.log, &s.cfg.Storage)
		if err := st.Start(ctx); err != nil {
			return fmt.Errorf("starting store: %w", err)
		}

		s.store = st
	}

	// Bind first so that port conflicts fail the command.
	ln, err := net.Listen("tcp", s.cfg.API.Listen)
	if err != nil {
		s.closeStore()

		return fmt.Errorf("listening on %s: %w", s.cfg.API.Listen, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.serveErr = make(chan error, 1)

	s.log.WithFields(logrus.Fields{
		"listen":  ln.Addr().String(),
		"results": s.cfg.Benchmark.ResultsDir,
		"store":   s.store != nil,
	}).Info("API server listening")

	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		if err != nil {
			s.log.WithError(err).Error("HTTP server stopped unexpectedly")
		}

		s.serveErr <- err
	}()

	return nil
}

func (s *server) Stop() error {
	var errs []error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down http server: %w", err))
		}

		if err := <-s.serveErr; err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.closeStore(); err != nil {
		errs = append(errs, err)
	}

	s.log.Info("API server stopped")

	return errors.Join(errs...)
}

func (s *server) closeStore() error {
	if s.store == nil {
		return nil
	}

	err := s.store.Stop()
	s.store = nil

	if err != nil {
		return fmt.Errorf("stopping store: %w", err)
	}

	return nil
}
