package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return configPath
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
analyzer:
  dir: /opt/analyzer
  conf: zstd-race
repository:
  path: /src/zstd
  diff_exclude:
    - build
    - tests
benchmark:
  results_dir: ./original-results
  only_relevant: false
  commits:
    max: 10
report:
  bins: 20
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/opt/analyzer", cfg.Analyzer.Dir)
				assert.Equal(t, "zstd-race", cfg.Analyzer.Conf)
				assert.Equal(t, absPath(t, "./original-results"), cfg.Benchmark.ResultsDir)
				assert.Equal(t, []string{"build", "tests"}, cfg.Repository.DiffExclude)
				assert.Equal(t, 10, cfg.Benchmark.Commits.Max)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"COMMITBENCHOOR_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested field override - analyzer.dir",
			envVars: map[string]string{
				"COMMITBENCHOOR_ANALYZER_DIR": "/usr/local/analyzer",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/usr/local/analyzer", cfg.Analyzer.Dir)
				assert.Equal(t, "/usr/local/analyzer/goblint", cfg.Analyzer.BinaryPath())
			},
		},
		{
			name: "boolean override - only_relevant",
			envVars: map[string]string{
				"COMMITBENCHOOR_BENCHMARK_ONLY_RELEVANT": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Benchmark.OnlyRelevant)
			},
		},
		{
			name: "integer override - commits.max",
			envVars: map[string]string{
				"COMMITBENCHOOR_BENCHMARK_COMMITS_MAX": "3",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Benchmark.Commits.Max)
			},
		},
		{
			name: "slice override - diff_exclude",
			envVars: map[string]string{
				"COMMITBENCHOOR_REPOSITORY_DIFF_EXCLUDE": "lib,contrib",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"lib", "contrib"}, cfg.Repository.DiffExclude)
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"COMMITBENCHOOR_GLOBAL_LOG_LEVEL":       "trace",
				"COMMITBENCHOOR_BENCHMARK_RESULTS_DIR":  "/results/multi",
				"COMMITBENCHOOR_REPOSITORY_PATH":        "/src/other",
				"COMMITBENCHOOR_REPORT_BINS":            "7",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "trace", cfg.Global.LogLevel)
				assert.Equal(t, "/results/multi", cfg.Benchmark.ResultsDir)
				assert.Equal(t, "/src/other", cfg.Repository.Path)
				assert.Equal(t, 7, cfg.Report.Bins)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func absPath(t *testing.T, p string) string {
	t.Helper()

	abs, err := filepath.Abs(p)
	require.NoError(t, err)

	return abs
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: analyzer
  conf_dir: confs
  dummy_file: analyzer/tests/dummy.c
repository:
  path: ./target
  url: https://example.com/target.git
benchmark:
  results_dir: ./results
storage:
  sqlite:
    path: db/runs.db
`)

	root := t.TempDir()
	t.Chdir(root)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "target"), cfg.Repository.Path)
	assert.Equal(t, filepath.Join(root, "analyzer"), cfg.Analyzer.Dir)
	assert.Equal(t, filepath.Join(root, "analyzer", "goblint"), cfg.Analyzer.BinaryPath())
	assert.Equal(t, filepath.Join(root, "confs", "default.json"), cfg.Analyzer.ConfPath("default"))
	assert.Equal(t, filepath.Join(root, "analyzer", "scripts", DefaultBuildScript), cfg.Analyzer.BuildScriptPath())
	assert.Equal(t, filepath.Join(root, "analyzer", "tests", "dummy.c"), cfg.Analyzer.DummyFile)
	assert.Equal(t, filepath.Join(root, "results"), cfg.Benchmark.ResultsDir)
	assert.Equal(t, filepath.Join(root, "results"), cfg.Report.OutputDir)
	assert.Equal(t, filepath.Join(root, "db", "runs.db"), cfg.Storage.SQLite.Path)
	assert.Equal(t, filepath.Join(root, "target", DefaultIncrementalDataDir), cfg.IncrementalDataPath())
}

func TestLoad_BareBinaryUsesPath(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
  binary: goblint
repository:
  path: /src/zstd
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "goblint", cfg.Analyzer.BinaryPath())
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
repository:
  path: /src/zstd
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, absPath(t, DefaultResultsDir), cfg.Benchmark.ResultsDir)
	assert.Equal(t, DefaultConf, cfg.Analyzer.Conf)
	assert.Equal(t, DefaultReportBins, cfg.Report.Bins)
	assert.Equal(t, float64(DefaultHistogramStep), cfg.Report.HistogramStep)
	assert.Equal(t, results.HeaderRelevantLOC, cfg.Report.HistogramColumn)
	assert.Equal(t, results.RuntimeHeaders(), cfg.Report.Columns)
	assert.Equal(t, absPath(t, DefaultResultsDir), cfg.Report.OutputDir)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, "/src/zstd/incremental_data", cfg.IncrementalDataPath())

	require.Len(t, cfg.Benchmark.Phases, 3)

	for _, phase := range cfg.Benchmark.Phases {
		assert.Equal(t, DefaultConf, phase.Conf, "phase %s inherits analyzer conf", phase.ID)
	}

	parent, ok := cfg.Phase("parent")
	require.True(t, ok)
	assert.Equal(t, TargetParent, parent.Target)
	assert.True(t, parent.ResetIncrementalData)
	assert.Equal(t, results.HeaderRuntimeParent, parent.Column)
}

func TestLoad_CPUFreqAndSampling(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
  sample_interval: 250ms
repository:
  path: /src/zstd
benchmark:
  cpu_freq:
    enabled: true
    frequency: 2GHz
    turbo_boost: false
    cpus: [0, 2]
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Analyzer.SampleInterval)

	f := cfg.Benchmark.CPUFreq
	require.NotNil(t, f)
	assert.True(t, f.Enabled)
	assert.Equal(t, "2GHz", f.Frequency)
	assert.Equal(t, DefaultCPUGovernor, f.Governor)
	assert.Equal(t, []int{0, 2}, f.CPUs)
	assert.Equal(t, DefaultSysfsCPUPath, f.SysfsPath)
	assert.NotEmpty(t, f.StateDir)
	require.NotNil(t, f.TurboBoost)
	assert.False(t, *f.TurboBoost)
}

func TestLoad_SampleIntervalDefault(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
repository:
  path: /src/zstd
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleInterval, cfg.Analyzer.SampleInterval)
	assert.Nil(t, cfg.Benchmark.CPUFreq)
}

func TestLoad_EnvVarOverridesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
`)

	t.Setenv("COMMITBENCHOOR_GLOBAL_LOG_LEVEL", "warn")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
}

func TestLoad_CustomPhases(t *testing.T) {
	configPath := writeConfig(t, `
analyzer:
  dir: /opt/analyzer
  conf: base
repository:
  path: /src/zstd
benchmark:
  phases:
    - id: scratch
      column: Runtime scratch
      target: commit
      reset_incremental_data: true
    - id: incr
      column: Runtime incr
      target: commit
      conf: tuned
      change_info: true
      options: ["--enable", "incremental.load"]
  compare:
    enabled: true
    first: scratch
    second: incr
report:
  cutoffs:
    - min: 0
      max: 40
    - min: 200
      max: 260
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Benchmark.Phases, 2)
	assert.Equal(t, "base", cfg.Benchmark.Phases[0].Conf)
	assert.Equal(t, "tuned", cfg.Benchmark.Phases[1].Conf)
	assert.Equal(t, []string{"--enable", "incremental.load"}, cfg.Benchmark.Phases[1].Options)
	assert.True(t, cfg.Benchmark.Phases[1].ChangeInfo)

	require.NotNil(t, cfg.Benchmark.Compare)
	assert.Equal(t, "base", cfg.Benchmark.Compare.Conf)

	require.Len(t, cfg.Report.Cutoffs, 2)
	assert.Equal(t, CutoffRange{Min: 200, Max: 260}, cfg.Report.Cutoffs[1])
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: yaml: content:")

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	repoDir := t.TempDir()

	valid := func() *Config {
		cfg := &Config{
			Analyzer:   AnalyzerConfig{Dir: "/opt/analyzer", DummyFile: "/opt/analyzer/dummy.c"},
			Repository: RepositoryConfig{Path: repoDir},
		}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:      "missing analyzer dir",
			mutate:    func(cfg *Config) { cfg.Analyzer.Dir = "" },
			wantErr:   true,
			errSubstr: "analyzer.dir is required",
		},
		{
			name:      "missing repository path",
			mutate:    func(cfg *Config) { cfg.Repository.Path = "" },
			wantErr:   true,
			errSubstr: "repository.path is required",
		},
		{
			name:      "repository path does not exist",
			mutate:    func(cfg *Config) { cfg.Repository.Path = "/nonexistent/repo" },
			wantErr:   true,
			errSubstr: "does not exist",
		},
		{
			name: "missing repository path is fine with url",
			mutate: func(cfg *Config) {
				cfg.Repository.Path = "/nonexistent/repo"
				cfg.Repository.URL = "https://github.com/facebook/zstd"
			},
		},
		{
			name:      "negative max commits",
			mutate:    func(cfg *Config) { cfg.Benchmark.Commits.Max = -1 },
			wantErr:   true,
			errSubstr: "must not be negative",
		},
		{
			name: "duplicate phase id",
			mutate: func(cfg *Config) {
				cfg.Benchmark.Phases[1].ID = cfg.Benchmark.Phases[0].ID
			},
			wantErr:   true,
			errSubstr: "duplicate id",
		},
		{
			name:      "invalid phase target",
			mutate:    func(cfg *Config) { cfg.Benchmark.Phases[0].Target = "head" },
			wantErr:   true,
			errSubstr: "target must be",
		},
		{
			name: "compare with unknown phase",
			mutate: func(cfg *Config) {
				cfg.Benchmark.Compare = &CompareConfig{Enabled: true, First: "parent", Second: "missing"}
			},
			wantErr:   true,
			errSubstr: "unknown phase",
		},
		{
			name: "compare without dummy file",
			mutate: func(cfg *Config) {
				cfg.Analyzer.DummyFile = ""
				cfg.Benchmark.Compare = &CompareConfig{Enabled: true, First: "parent", Second: "incremental"}
			},
			wantErr:   true,
			errSubstr: "dummy_file is required",
		},
		{
			name: "valid compare",
			mutate: func(cfg *Config) {
				cfg.Benchmark.Compare = &CompareConfig{Enabled: true, First: "parent", Second: "incremental"}
			},
		},
		{
			name: "unsupported storage driver",
			mutate: func(cfg *Config) {
				cfg.Storage.Enabled = true
				cfg.Storage.Driver = "mysql"
			},
			wantErr:   true,
			errSubstr: "unsupported driver",
		},
		{
			name: "s3 without bucket",
			mutate: func(cfg *Config) {
				cfg.Upload.S3 = &S3UploadConfig{Enabled: true}
			},
			wantErr:   true,
			errSubstr: "bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestReportConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		report    ReportConfig
		wantErr   bool
		errSubstr string
	}{
		{
			name:   "valid",
			report: ReportConfig{Bins: 10, HistogramStep: 5},
		},
		{
			name:      "zero bins",
			report:    ReportConfig{HistogramStep: 5},
			wantErr:   true,
			errSubstr: "bins must be positive",
		},
		{
			name:      "zero step",
			report:    ReportConfig{Bins: 10},
			wantErr:   true,
			errSubstr: "histogram_step must be positive",
		},
		{
			name: "inverted cutoff",
			report: ReportConfig{
				Bins: 10, HistogramStep: 5,
				Cutoffs: []CutoffRange{{Min: 10, Max: 5}},
			},
			wantErr:   true,
			errSubstr: "max must be greater than min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAnalyzerConfig_Paths(t *testing.T) {
	a := AnalyzerConfig{Dir: "/opt/goblint", BuildScript: "build-compdb.sh"}

	assert.Equal(t, "/opt/goblint/goblint", a.BinaryPath())
	assert.Equal(t, "/opt/goblint/conf/zstd-race.json", a.ConfPath("zstd-race"))
	assert.Equal(t, "/opt/goblint/scripts/build-compdb.sh", a.BuildScriptPath())

	a.Binary = "/usr/bin/goblint"
	a.ConfDir = "/etc/goblint"
	a.ScriptsDir = "/usr/share/goblint"

	assert.Equal(t, "/usr/bin/goblint", a.BinaryPath())
	assert.Equal(t, "/etc/goblint/zstd-race.json", a.ConfPath("zstd-race"))
	assert.Equal(t, "/usr/share/goblint/build-compdb.sh", a.BuildScriptPath())
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	cfg := &Config{Analyzer: AnalyzerConfig{Dir: "/opt/analyzer"}}
	cfg.applyDefaults()

	data, err := cfg.Marshal()
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, cfg.Benchmark.Phases, decoded.Benchmark.Phases)
}
