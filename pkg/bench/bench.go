// Package bench drives the analyzer over a sequence of commits and assembles
// the Result Table from the extracted metrics.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/ethpandaops/commitbenchoor/pkg/commitsize"
	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/ethpandaops/commitbenchoor/pkg/logparse"
	"github.com/ethpandaops/commitbenchoor/pkg/report"
	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/ethpandaops/commitbenchoor/pkg/runner"
	"github.com/ethpandaops/commitbenchoor/pkg/store"
	"github.com/ethpandaops/commitbenchoor/pkg/sysinfo"
	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
	"github.com/sirupsen/logrus"
)

// errPhaseSkipped marks phases that did not run because an earlier one failed.
var errPhaseSkipped = errors.New("skipped after an earlier phase failed")

// Names inside a commit's output directory.
const (
	compareDir     = "compare"
	compareDataDir = "compare-data"
)

// Benchmark runs every configured phase for every selected commit.
type Benchmark interface {
	// Run benchmarks the selected commits in order. The Result Table and the
	// bar chart are rewritten after every commit, so an interrupted run
	// leaves the rows finished so far.
	Run(ctx context.Context) (*Summary, error)
}

// Config for the benchmark driver.
type Config struct {
	Benchmark config.BenchmarkConfig
	Report    config.ReportConfig
	// DummyFile is the input file handed to the analyzer for comparisons.
	DummyFile           string
	DiffExclude         []string
	IncrementalDataPath string
	Owner               *fsutil.Owner
	// System is written to the results directory and stamped on stored runs.
	System *sysinfo.Info
}

// NewConfig derives the driver configuration from the application config.
func NewConfig(cfg *config.Config, owner *fsutil.Owner, system *sysinfo.Info) *Config {
	return &Config{
		Benchmark:           cfg.Benchmark,
		Report:              cfg.Report,
		DummyFile:           cfg.Analyzer.DummyFile,
		DiffExclude:         cfg.Repository.DiffExclude,
		IncrementalDataPath: cfg.IncrementalDataPath(),
		Owner:               owner,
		System:              system,
	}
}

// NewBenchmark creates a driver. st may be nil when persistence is disabled.
func NewBenchmark(
	log logrus.FieldLogger,
	cfg *Config,
	repo vcs.Repository,
	r runner.Runner,
	st store.Store,
) Benchmark {
	return &benchmark{
		log:    log.WithField("component", "bench"),
		cfg:    cfg,
		repo:   repo,
		runner: r,
		store:  st,
	}
}

type benchmark struct {
	log    logrus.FieldLogger
	cfg    *Config
	repo   vcs.Repository
	runner runner.Runner
	store  store.Store
}

// Ensure interface compliance.
var _ Benchmark = (*benchmark)(nil)

// ID returns the benchmark identifier used for stored rows: the base name of
// the results directory.
func ID(resultsDir string) string {
	return filepath.Base(filepath.Clean(resultsDir))
}

// Label returns the Result Table index label of a commit.
func Label(sequence int, c vcs.Commit) string {
	return strconv.Itoa(sequence) + ":" + c.ShortHash()
}

// CommitDir returns the output directory of a commit.
func CommitDir(resultsDir string, sequence int, c vcs.Commit) string {
	return filepath.Join(resultsDir, strconv.Itoa(sequence)+"_"+c.ShortHash())
}

func (b *benchmark) Run(ctx context.Context) (*Summary, error) {
	// save_run directories are written by the analyzer from inside the
	// repository and read back by the comparison from here.
	resultsDir, err := filepath.Abs(b.cfg.Benchmark.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving results directory: %w", err)
	}

	b.cfg.Benchmark.ResultsDir = resultsDir

	summary := &Summary{
		ID:         ID(resultsDir),
		Started:    time.Now(),
		CSVPath:    filepath.Join(resultsDir, results.FileName),
		FigurePath: filepath.Join(resultsDir, report.FigureFile),
		System:     b.cfg.System,
	}

	if err := fsutil.MkdirAll(resultsDir, 0o755, b.cfg.Owner); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}

	if b.cfg.System != nil {
		if err := b.cfg.System.WriteJSON(filepath.Join(resultsDir, sysinfo.FileName), b.cfg.Owner); err != nil {
			b.log.WithError(err).Warn("Failed to write system info")
		}
	}

	commits, err := b.selectCommits(ctx)
	if err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"commits": len(commits),
		"phases":  len(b.cfg.Benchmark.Phases),
		"results": resultsDir,
	}).Info("Starting benchmark")

	data := b.newDataSet()

	canvas := report.NewCanvas(b.cfg.Report.Width, b.cfg.Report.Height)
	canvas.Owner = b.cfg.Owner

	for i, c := range commits {
		if err := ctx.Err(); err != nil {
			summary.Finished = time.Now()

			return summary, err
		}

		log := b.log.WithFields(logrus.Fields{
			"commit":   c.ShortHash(),
			"progress": fmt.Sprintf("%d/%d", i+1, len(commits)),
		})

		loc, err := b.relevantLOC(ctx, c)
		if err != nil {
			return summary, err
		}

		if b.cfg.Benchmark.OnlyRelevant && loc == 0 {
			log.Info("Skipping commit without relevant changes")

			summary.Skipped++

			continue
		}

		res, err := b.benchmarkCommit(ctx, log, len(summary.Commits), c, loc)
		if err != nil {
			summary.Finished = time.Now()

			return summary, err
		}

		summary.Commits = append(summary.Commits, *res)
		b.appendRow(data, res)

		if _, err := report.BarPlot(canvas, *data, summary.CSVPath, summary.FigurePath); err != nil {
			return summary, fmt.Errorf("writing results: %w", err)
		}
	}

	summary.Finished = time.Now()

	if err := summary.WriteMarkdown(filepath.Join(resultsDir, SummaryFile), b.cfg.Owner); err != nil {
		b.log.WithError(err).Warn("Failed to write summary")
	}

	b.log.WithFields(logrus.Fields{
		"benchmarked": len(summary.Commits),
		"skipped":     summary.Skipped,
		"failed_runs": summary.FailedRuns(),
		"took":        units.HumanDuration(summary.Finished.Sub(summary.Started)),
	}).Info("Benchmark finished")

	return summary, nil
}

// selectCommits resolves the explicit hash list or the configured range and
// drops merge and root commits, which have no single parent to diff against.
func (b *benchmark) selectCommits(ctx context.Context) ([]vcs.Commit, error) {
	sel := b.cfg.Benchmark.Commits

	var candidates []vcs.Commit

	if len(sel.Hashes) > 0 {
		candidates = make([]vcs.Commit, 0, len(sel.Hashes))

		for _, h := range sel.Hashes {
			c, err := b.repo.Commit(ctx, h)
			if err != nil {
				return nil, fmt.Errorf("resolving commit %s: %w", h, err)
			}

			candidates = append(candidates, *c)
		}
	} else {
		var err error

		candidates, err = b.repo.Commits(ctx, vcs.Range{From: sel.From, To: sel.To, Max: sel.Max})
		if err != nil {
			return nil, fmt.Errorf("listing commits: %w", err)
		}
	}

	commits := make([]vcs.Commit, 0, len(candidates))

	for _, c := range candidates {
		if c.IsMerge() || c.IsRoot() {
			b.log.WithField("commit", c.ShortHash()).Debug("Skipping merge or root commit")

			continue
		}

		commits = append(commits, c)
	}

	return commits, nil
}

func (b *benchmark) relevantLOC(ctx context.Context, c vcs.Commit) (int, error) {
	files, err := b.repo.ModifiedFiles(ctx, c.Hash)
	if err != nil {
		return 0, fmt.Errorf("diffing commit %s: %w", c.ShortHash(), err)
	}

	return commitsize.RelevantChangedLOC(b.repo.Path(), files, b.cfg.DiffExclude), nil
}

func (b *benchmark) benchmarkCommit(
	ctx context.Context,
	log logrus.FieldLogger,
	sequence int,
	c vcs.Commit,
	loc int,
) (*CommitResult, error) {
	res := &CommitResult{
		Sequence:    sequence,
		Commit:      c,
		Label:       Label(sequence, c),
		Dir:         CommitDir(b.cfg.Benchmark.ResultsDir, sequence, c),
		RelevantLOC: loc,
		Phases:      make([]PhaseResult, 0, len(b.cfg.Benchmark.Phases)),
	}

	log.WithField("relevant_loc", humanize.Comma(int64(loc))).Info("Benchmarking commit")

	failed := false

	for _, phase := range b.cfg.Benchmark.Phases {
		pr := PhaseResult{Phase: phase, Dir: filepath.Join(res.Dir, phase.ID)}

		if failed {
			pr.Skipped = true
			res.Phases = append(res.Phases, pr)
			b.saveRun(ctx, res, &pr)

			continue
		}

		if err := b.runPhase(ctx, log, c, &pr); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			log.WithError(err).WithField("phase", phase.ID).Warn("Phase failed")

			pr.Err = err
			failed = true
		}

		res.Phases = append(res.Phases, pr)
		b.saveRun(ctx, res, &pr)
	}

	if cmp := b.cfg.Benchmark.Compare; cmp != nil && cmp.Enabled && !failed {
		if err := b.compare(ctx, log, res); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			log.WithError(err).Warn("Comparison failed")

			res.CompareErr = err
		}

		b.saveComparison(ctx, res)
	}

	return res, nil
}

func (b *benchmark) runPhase(ctx context.Context, log logrus.FieldLogger, c vcs.Commit, pr *PhaseResult) error {
	phase := pr.Phase

	if phase.ResetIncrementalData {
		if err := b.runner.ResetIncrementalData(b.cfg.IncrementalDataPath); err != nil {
			return err
		}
	}

	target := c.Hash
	if phase.Target == config.TargetParent {
		target = c.Parents[0]
	}

	options := append([]string(nil), phase.Options...)
	if b.savesRun(phase.ID) {
		options = append(options, "--set", "save_run", filepath.Join(pr.Dir, compareDataDir))
	}

	log.WithFields(logrus.Fields{
		"phase":  phase.ID,
		"target": target,
	}).Debug("Running phase")

	artifacts, err := b.runner.AnalyzeCommit(ctx, runner.AnalyzeRequest{
		Commit:       target,
		OutDir:       pr.Dir,
		Conf:         phase.Conf,
		ExtraOptions: options,
	})
	if err != nil {
		return err
	}

	pr.Artifacts = artifacts

	rec, err := logparse.ExtractAnalyzerLog(artifacts.AnalyzerLog)
	if err != nil {
		return err
	}

	pr.Record = rec

	log.WithFields(logrus.Fields{
		"phase":   phase.ID,
		"runtime": rec.Runtime,
		"took":    units.HumanDuration(artifacts.PrepareDuration + artifacts.AnalyzeDuration),
	}).Info("Phase finished")

	return nil
}

// savesRun reports whether a phase's results are kept for the comparison.
func (b *benchmark) savesRun(phaseID string) bool {
	cmp := b.cfg.Benchmark.Compare
	if cmp == nil || !cmp.Enabled {
		return false
	}

	return phaseID == cmp.First || phaseID == cmp.Second
}

func (b *benchmark) compare(ctx context.Context, log logrus.FieldLogger, res *CommitResult) error {
	cmp := b.cfg.Benchmark.Compare

	first, ok := res.Phase(cmp.First)
	if !ok {
		return fmt.Errorf("unknown compare phase %q", cmp.First)
	}

	second, ok := res.Phase(cmp.Second)
	if !ok {
		return fmt.Errorf("unknown compare phase %q", cmp.Second)
	}

	artifacts, err := b.runner.CompareRuns(ctx, runner.CompareRequest{
		OutDir:    filepath.Join(res.Dir, compareDir),
		Conf:      cmp.Conf,
		First:     filepath.Join(first.Dir, compareDataDir),
		Second:    filepath.Join(second.Dir, compareDataDir),
		DummyFile: b.cfg.DummyFile,
	})
	if err != nil {
		return err
	}

	rec, err := logparse.ExtractPrecision(artifacts.PrecisionLog)
	if err != nil {
		return err
	}

	if rec == nil {
		log.Warn("Comparison log carries no precision summary")

		return nil
	}

	res.Precision = rec

	log.WithFields(logrus.Fields{
		"equal":        rec.Equal,
		"more_precise": rec.MorePrecise,
		"less_precise": rec.LessPrecise,
		"incomparable": rec.Incomparable,
	}).Info("Comparison finished")

	return nil
}

func (b *benchmark) saveRun(ctx context.Context, res *CommitResult, pr *PhaseResult) {
	if b.store == nil {
		return
	}

	run := &store.Run{
		BenchmarkID: ID(b.cfg.Benchmark.ResultsDir),
		Sequence:    res.Sequence,
		Phase:       pr.Phase.ID,
		CommitHash:  res.Commit.Hash,
		Conf:        pr.Phase.Conf,
		Options:     strings.Join(pr.Phase.Options, " "),
		Status:      store.StatusSucceeded,
		RelevantLOC: res.RelevantLOC,
		OutDir:      pr.Dir,
	}

	if b.cfg.System != nil {
		run.Hostname = b.cfg.System.Hostname
	}

	switch {
	case pr.Skipped:
		run.Status = store.StatusFailed
		run.Error = errPhaseSkipped.Error()
	case pr.Err != nil:
		run.Status = store.StatusFailed
		run.Error = pr.Err.Error()
	}

	if rec := pr.Record; rec != nil {
		run.Runtime = rec.Runtime
		run.RuntimeSeconds = rec.RuntimeSeconds
		run.Unchanged = rec.Unchanged
		run.Changed = rec.Changed
		run.Added = rec.Added
		run.Removed = rec.Removed
		run.RaceWarnings = rec.RaceWarnings
	}

	if a := pr.Artifacts; a != nil {
		run.PrepareMillis = a.PrepareDuration.Milliseconds()
		run.AnalyzeMillis = a.AnalyzeDuration.Milliseconds()

		if u := a.Usage; u != nil {
			run.PeakMemoryBytes = u.PeakMemory
			run.CPUMillis = u.CPU.Milliseconds()
			run.DiskReadBytes = u.DiskReadBytes
			run.DiskWriteBytes = u.DiskWriteBytes
		}
	}

	if err := b.store.SaveRun(ctx, run); err != nil {
		b.log.WithError(err).WithField("phase", pr.Phase.ID).Warn("Failed to store run")
	}
}

func (b *benchmark) saveComparison(ctx context.Context, res *CommitResult) {
	if b.store == nil {
		return
	}

	cmp := b.cfg.Benchmark.Compare

	row := &store.Comparison{
		BenchmarkID: ID(b.cfg.Benchmark.ResultsDir),
		Sequence:    res.Sequence,
		CommitHash:  res.Commit.Hash,
		First:       cmp.First,
		Second:      cmp.Second,
		Status:      store.StatusSucceeded,
	}

	if res.CompareErr != nil {
		row.Status = store.StatusFailed
	}

	if p := res.Precision; p != nil {
		row.HasPrecision = true
		row.Equal = p.Equal
		row.MorePrecise = p.MorePrecise
		row.LessPrecise = p.LessPrecise
		row.Incomparable = p.Incomparable
		row.Total = p.Total
	}

	if err := b.store.SaveComparison(ctx, row); err != nil {
		b.log.WithError(err).Warn("Failed to store comparison")
	}
}

// columns returns the Result Table columns in order: one runtime column per
// phase, the commit size and change columns, and the precision columns when
// a comparison is configured.
func (b *benchmark) columns() []string {
	cols := make([]string, 0, len(b.cfg.Benchmark.Phases)+8)

	for _, p := range b.cfg.Benchmark.Phases {
		cols = append(cols, p.Column)
	}

	cols = append(cols, results.HeaderRelevantLOC, results.HeaderChangedFunctions, results.HeaderRaceWarnings)

	if cmp := b.cfg.Benchmark.Compare; cmp != nil && cmp.Enabled {
		cols = append(cols, results.PrecisionHeaders()...)
	}

	return cols
}

func (b *benchmark) newDataSet() *report.DataSet {
	cols := b.columns()

	data := &report.DataSet{
		Columns: cols,
		Data:    make(map[string][]float64, len(cols)),
	}

	for _, p := range b.cfg.Benchmark.Phases {
		data.Plot = append(data.Plot, p.Column)
	}

	return data
}

// appendRow adds a commit to the data set. Failed and skipped phases record a
// runtime of 0, which later drops the row from cleaned tables.
func (b *benchmark) appendRow(data *report.DataSet, res *CommitResult) {
	data.Index = append(data.Index, res.Label)

	values := map[string]float64{
		results.HeaderRelevantLOC:      float64(res.RelevantLOC),
		results.HeaderChangedFunctions: 0,
		results.HeaderRaceWarnings:     0,
	}

	for _, pr := range res.Phases {
		values[pr.Phase.Column] = pr.RuntimeSeconds()

		if pr.Phase.ChangeInfo && pr.Record != nil {
			values[results.HeaderChangedFunctions] = float64(pr.Record.ChangedFunctions())
			values[results.HeaderRaceWarnings] = float64(pr.Record.RaceWarnings)
		}
	}

	for _, h := range results.PrecisionHeaders() {
		values[h] = math.NaN()
	}

	if p := res.Precision; p != nil {
		values[results.HeaderPrecisionEqual] = float64(p.Equal)
		values[results.HeaderPrecisionMorePrecise] = float64(p.MorePrecise)
		values[results.HeaderPrecisionLessPrecise] = float64(p.LessPrecise)
		values[results.HeaderPrecisionIncomparable] = float64(p.Incomparable)
		values[results.HeaderPrecisionTotal] = float64(p.Total)
	}

	for _, col := range data.Columns {
		data.Data[col] = append(data.Data[col], values[col])
	}
}
