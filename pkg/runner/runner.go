package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/stats"
	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
	"github.com/sirupsen/logrus"
)

// Artifact file names written into a run's output directory.
const (
	ConfigSummaryFile = "config.out"
	PrepareLogFile    = "prepare.log"
	AnalyzerLogFile   = "analyzer.log"
	CompareLogFile    = "compare.log"
	PrecisionLogFile  = "compare_prec.log"
)

// Runner runs the external analyzer against commits of one repository.
// Calls must not overlap: every run checks out into the same working tree.
type Runner interface {
	// AnalyzeCommit checks out a commit, prepares the build description and
	// runs the analyzer on it.
	AnalyzeCommit(ctx context.Context, req AnalyzeRequest) (*RunArtifacts, error)

	// CompareRuns compares the stored results of two earlier runs.
	CompareRuns(ctx context.Context, req CompareRequest) (*CompareArtifacts, error)

	// ResetIncrementalData removes the analyzer's incremental state directory.
	ResetIncrementalData(dir string) error
}

// AnalyzeRequest describes one analyzer run.
type AnalyzeRequest struct {
	Commit       string
	OutDir       string
	Conf         string
	ExtraOptions []string
}

// RunArtifacts names the files produced by one analyzer run.
type RunArtifacts struct {
	ConfigSummary   string
	PrepareLog      string
	AnalyzerLog     string
	PrepareDuration time.Duration
	AnalyzeDuration time.Duration
	// Usage is nil when sampling is disabled.
	Usage *stats.Usage
}

// CompareRequest describes a comparison of two saved runs.
type CompareRequest struct {
	OutDir    string
	Conf      string
	First     string
	Second    string
	DummyFile string
}

// CompareArtifacts names the files produced by a comparison.
type CompareArtifacts struct {
	CompareLog   string
	PrecisionLog string
}

// Config for the runner.
type Config struct {
	Analyzer config.AnalyzerConfig
	Owner    *fsutil.Owner
}

// NewRunner creates a runner bound to a repository working copy.
func NewRunner(log logrus.FieldLogger, cfg *Config, repo vcs.Repository) Runner {
	return &runner{
		log:  log.WithField("component", "runner"),
		cfg:  cfg,
		repo: repo,
	}
}

type runner struct {
	log  logrus.FieldLogger
	cfg  *Config
	repo vcs.Repository
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

func (r *runner) AnalyzeCommit(ctx context.Context, req AnalyzeRequest) (*RunArtifacts, error) {
	log := r.log.WithFields(logrus.Fields{
		"commit": req.Commit,
		"conf":   req.Conf,
	})

	// Both subprocesses run inside the repository, so every path handed to
	// them is resolved against our own working directory first.
	p, err := r.resolve(req.Conf)
	if err != nil {
		return nil, err
	}

	outDir, err := filepath.Abs(req.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output directory: %w", err)
	}

	if err := fsutil.MkdirAll(outDir, 0o755, r.cfg.Owner); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	if err := r.repo.Checkout(ctx, req.Commit); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", req.Commit, err)
	}

	artifacts := &RunArtifacts{
		ConfigSummary: filepath.Join(outDir, ConfigSummaryFile),
		PrepareLog:    filepath.Join(outDir, PrepareLogFile),
		AnalyzerLog:   filepath.Join(outDir, AnalyzerLogFile),
	}

	if err := r.writeConfigSummary(artifacts.ConfigSummary, p.conf, req.ExtraOptions); err != nil {
		return nil, err
	}

	log.Debug("Preparing build description")

	start := time.Now()

	if _, err := r.runLogged(ctx, artifacts.PrepareLog, p.repo, false, "sh", p.buildScript); err != nil {
		return nil, fmt.Errorf("preparing build description: %w", err)
	}

	artifacts.PrepareDuration = time.Since(start)

	args := make([]string, 0, len(req.ExtraOptions)+3)
	args = append(args, "--conf", p.conf)
	args = append(args, req.ExtraOptions...)
	args = append(args, p.repo)

	log.WithField("options", strings.Join(req.ExtraOptions, " ")).Info("Running analyzer")

	start = time.Now()

	// Incremental state is written relative to the working directory.
	usage, err := r.runLogged(ctx, artifacts.AnalyzerLog, p.repo, true, p.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("running analyzer: %w", err)
	}

	artifacts.AnalyzeDuration = time.Since(start)
	artifacts.Usage = usage

	fields := logrus.Fields{"took": units.HumanDuration(artifacts.AnalyzeDuration)}
	if usage != nil {
		fields["peak_memory"] = units.BytesSize(float64(usage.PeakMemory))
		fields["cpu"] = usage.CPU.Round(time.Millisecond)
	}

	log.WithFields(fields).Info("Analyzer finished")

	return artifacts, nil
}

// runPaths are the absolute paths of one analyzer invocation.
type runPaths struct {
	repo        string
	conf        string
	buildScript string
	binary      string
}

func (r *runner) resolve(conf string) (*runPaths, error) {
	a := &r.cfg.Analyzer

	var (
		p   runPaths
		err error
	)

	for _, f := range []struct {
		dst  *string
		path string
		what string
	}{
		{&p.repo, r.repo.Path(), "repository"},
		{&p.conf, a.ConfPath(conf), "analyzer configuration"},
		{&p.buildScript, a.BuildScriptPath(), "build script"},
	} {
		if *f.dst, err = filepath.Abs(f.path); err != nil {
			return nil, fmt.Errorf("resolving %s path: %w", f.what, err)
		}
	}

	if p.binary, err = executable(a.BinaryPath()); err != nil {
		return nil, err
	}

	return &p, nil
}

// executable makes a binary path absolute. Bare names are left for the
// PATH lookup.
func executable(name string) (string, error) {
	if !strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("resolving analyzer binary: %w", err)
	}

	return abs, nil
}

// writeConfigSummary appends the configuration document and the extra options
// to the summary file.
func (r *runner) writeConfigSummary(path, confPath string, options []string) error {
	conf, err := os.ReadFile(confPath)
	if err != nil {
		return fmt.Errorf("reading analyzer configuration: %w", err)
	}

	var sb strings.Builder

	sb.WriteString("config: ")
	sb.Write(conf)
	sb.WriteString("\nadded options:\n")

	for _, o := range options {
		sb.WriteString(o)
		sb.WriteString(" ")
	}

	if err := fsutil.AppendFile(path, []byte(sb.String()), r.cfg.Owner); err != nil {
		return fmt.Errorf("writing config summary: %w", err)
	}

	return nil
}

func (r *runner) CompareRuns(ctx context.Context, req CompareRequest) (*CompareArtifacts, error) {
	outDir, err := filepath.Abs(req.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output directory: %w", err)
	}

	if err := fsutil.MkdirAll(outDir, 0o755, r.cfg.Owner); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	binary, err := executable(r.cfg.Analyzer.BinaryPath())
	if err != nil {
		return nil, err
	}

	confPath, err := filepath.Abs(r.cfg.Analyzer.ConfPath(req.Conf))
	if err != nil {
		return nil, fmt.Errorf("resolving analyzer configuration path: %w", err)
	}

	artifacts := &CompareArtifacts{
		CompareLog:   filepath.Join(outDir, CompareLogFile),
		PrecisionLog: filepath.Join(outDir, PrecisionLogFile),
	}

	r.log.WithFields(logrus.Fields{
		"first":  req.First,
		"second": req.Second,
	}).Info("Comparing runs")

	if _, err := r.runLogged(ctx, artifacts.CompareLog, "", false,
		binary, CompareArgs(confPath, req, false)...); err != nil {
		return nil, fmt.Errorf("comparing runs: %w", err)
	}

	if _, err := r.runLogged(ctx, artifacts.PrecisionLog, "", false,
		binary, CompareArgs(confPath, req, true)...); err != nil {
		return nil, fmt.Errorf("comparing run precision: %w", err)
	}

	return artifacts, nil
}

// CompareArgs builds the analyzer arguments for a comparison. The precision
// variant additionally enables the hhh comparison.
func CompareArgs(confPath string, req CompareRequest, precision bool) []string {
	args := []string{
		"--conf", confPath,
		"--disable", "printstats",
		"--disable", "warn.warning",
		"--disable", "warn.race",
	}

	if precision {
		args = append(args, "--enable", "dbg.compare_runs.hhh")
	}

	return append(args,
		"--enable", "dbg.compare_runs.diff",
		"--disable", "dbg.compare_runs.eqsys",
		"--enable", "dbg.compare_runs.node",
		"--compare_runs", req.First, req.Second,
		req.DummyFile,
	)
}

func (r *runner) ResetIncrementalData(dir string) error {
	removed, err := fsutil.RemoveIfExists(dir)
	if err != nil {
		return fmt.Errorf("removing incremental data: %w", err)
	}

	if removed {
		r.log.WithField("dir", dir).Debug("Removed incremental data")
	}

	return nil
}

// runLogged runs name with args and writes its combined output to logPath.
// With sample set and sampling enabled, the resource usage of the process
// is returned.
func (r *runner) runLogged(
	ctx context.Context,
	logPath, dir string,
	sample bool,
	name string,
	args ...string,
) (*stats.Usage, error) {
	logFile, err := fsutil.Create(logPath, r.cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	r.log.WithFields(logrus.Fields{
		"cmd": name,
		"log": logPath,
	}).Debug("Starting command")

	if err := cmd.Start(); err != nil {
		return nil, r.commandError(ctx, name, err)
	}

	var sampler *stats.Sampler

	if sample && r.cfg.Analyzer.SampleInterval > 0 {
		reader, err := stats.NewProcessReader(ctx, r.log, cmd.Process.Pid)
		if err != nil {
			r.log.WithError(err).Debug("Resource sampling unavailable")
		} else {
			sampler = stats.NewSampler(r.log, reader, r.cfg.Analyzer.SampleInterval)
			sampler.Start(ctx)
		}
	}

	err = cmd.Wait()

	var usage *stats.Usage

	if sampler != nil {
		usage = sampler.Stop()

		// The exit status has the exact CPU time of the process itself.
		if ps := cmd.ProcessState; ps != nil {
			usage.CPU = max(usage.CPU, ps.UserTime()+ps.SystemTime())
		}
	}

	if err != nil {
		return nil, r.commandError(ctx, name, err)
	}

	return usage, nil
}

func (r *runner) commandError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", filepath.Base(name), ctxErr)
	}

	return newCommandError(name, err)
}

// ErrCommandFailed is matched by every CommandError.
var ErrCommandFailed = errors.New("command failed")

// CommandError reports a subprocess that could not be started or exited
// with a nonzero status.
type CommandError struct {
	Command  string
	ExitCode int
	Err      error
}

func newCommandError(name string, err error) *CommandError {
	ce := &CommandError{Command: name, ExitCode: -1, Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}

	return ce
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}

	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Unwrap exposes both ErrCommandFailed and the underlying exec error.
func (e *CommandError) Unwrap() []error {
	return []error{ErrCommandFailed, e.Err}
}
