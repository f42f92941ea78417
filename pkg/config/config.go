package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/commitbenchoor/pkg/results"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "COMMITBENCHOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultResultsDir is the default directory for benchmark results.
	DefaultResultsDir = "./results"

	// DefaultAnalyzerBinary is the analyzer executable name inside the analyzer directory.
	DefaultAnalyzerBinary = "goblint"

	// DefaultBuildScript is the build description script inside the scripts directory.
	DefaultBuildScript = "build-compdb.sh"

	// DefaultConf is the default analyzer configuration name.
	DefaultConf = "default"

	// DefaultIncrementalDataDir is where the analyzer keeps incremental state,
	// relative to the analyzed repository.
	DefaultIncrementalDataDir = "incremental_data"

	// DefaultReportBins is the default number of bins for cumulative plots.
	DefaultReportBins = 50

	// DefaultHistogramStep is the default histogram bin width.
	DefaultHistogramStep = 10

	// DefaultAPIListen is the default listen address of the results API.
	DefaultAPIListen = ":8080"

	// DefaultDatabaseDriver is the default storage driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultUploadConcurrency is the default number of parallel uploads.
	DefaultUploadConcurrency = 4

	// DefaultSysfsCPUPath is the sysfs root of CPU frequency control.
	DefaultSysfsCPUPath = "/sys/devices/system/cpu"

	// DefaultSampleInterval is how often analyzer resource usage is sampled.
	DefaultSampleInterval = time.Second

	// DefaultCPUGovernor is used when a fixed frequency is requested without a governor.
	DefaultCPUGovernor = "performance"
)

// Phase targets.
const (
	TargetParent = "parent"
	TargetCommit = "commit"
)

// Config is the root configuration for commitbenchoor.
type Config struct {
	Global     GlobalConfig     `yaml:"global" mapstructure:"global"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" mapstructure:"analyzer"`
	Repository RepositoryConfig `yaml:"repository" mapstructure:"repository"`
	Benchmark  BenchmarkConfig  `yaml:"benchmark" mapstructure:"benchmark"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// AnalyzerConfig describes where the external analyzer lives and how it is invoked.
type AnalyzerConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	Binary      string `yaml:"binary,omitempty" mapstructure:"binary"`
	ConfDir     string `yaml:"conf_dir,omitempty" mapstructure:"conf_dir"`
	ScriptsDir  string `yaml:"scripts_dir,omitempty" mapstructure:"scripts_dir"`
	BuildScript string `yaml:"build_script,omitempty" mapstructure:"build_script"`
	Conf        string `yaml:"conf,omitempty" mapstructure:"conf"`
	DummyFile   string `yaml:"dummy_file,omitempty" mapstructure:"dummy_file"`
	// SampleInterval between resource usage samples of the analyzer process.
	// Negative disables sampling.
	SampleInterval time.Duration `yaml:"sample_interval,omitempty" mapstructure:"sample_interval"`
}

// RepositoryConfig describes the analyzed repository.
type RepositoryConfig struct {
	Path        string   `yaml:"path" mapstructure:"path"`
	URL         string   `yaml:"url,omitempty" mapstructure:"url"`
	DiffExclude []string `yaml:"diff_exclude,omitempty" mapstructure:"diff_exclude"`
}

// BenchmarkConfig contains benchmark-specific settings.
type BenchmarkConfig struct {
	ResultsDir         string         `yaml:"results_dir" mapstructure:"results_dir"`
	ResultsOwner       string         `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	IncrementalDataDir string         `yaml:"incremental_data_dir,omitempty" mapstructure:"incremental_data_dir"`
	OnlyRelevant       bool           `yaml:"only_relevant" mapstructure:"only_relevant"`
	Commits            CommitsConfig  `yaml:"commits" mapstructure:"commits"`
	Phases             []PhaseConfig  `yaml:"phases,omitempty" mapstructure:"phases"`
	Compare            *CompareConfig `yaml:"compare,omitempty" mapstructure:"compare"`
	CPUFreq            *CPUFreqConfig `yaml:"cpu_freq,omitempty" mapstructure:"cpu_freq"`
}

// CommitsConfig selects the commits to benchmark. Hashes wins over the range.
type CommitsConfig struct {
	From   string   `yaml:"from,omitempty" mapstructure:"from"`
	To     string   `yaml:"to,omitempty" mapstructure:"to"`
	Max    int      `yaml:"max,omitempty" mapstructure:"max"`
	Hashes []string `yaml:"hashes,omitempty" mapstructure:"hashes"`
}

// PhaseConfig is one analyzer run performed for every benchmarked commit.
type PhaseConfig struct {
	ID                   string   `yaml:"id" mapstructure:"id"`
	Column               string   `yaml:"column" mapstructure:"column"`
	Target               string   `yaml:"target" mapstructure:"target"`
	Conf                 string   `yaml:"conf,omitempty" mapstructure:"conf"`
	Options              []string `yaml:"options,omitempty" mapstructure:"options"`
	ResetIncrementalData bool     `yaml:"reset_incremental_data,omitempty" mapstructure:"reset_incremental_data"`
	ChangeInfo           bool     `yaml:"change_info,omitempty" mapstructure:"change_info"`
}

// CompareConfig enables comparing the stored results of two phases.
type CompareConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Conf    string `yaml:"conf,omitempty" mapstructure:"conf"`
	First   string `yaml:"first" mapstructure:"first"`
	Second  string `yaml:"second" mapstructure:"second"`
}

// CPUFreqConfig pins CPU frequency scaling while a benchmark runs.
type CPUFreqConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Frequency is "2000MHz", "2.4GHz", a kHz value or "MAX". Empty leaves it unchanged.
	Frequency string `yaml:"frequency,omitempty" mapstructure:"frequency"`
	Governor  string `yaml:"governor,omitempty" mapstructure:"governor"`
	// TurboBoost is left unchanged when nil.
	TurboBoost *bool `yaml:"turbo_boost,omitempty" mapstructure:"turbo_boost"`
	// CPUs defaults to every online CPU.
	CPUs      []int  `yaml:"cpus,omitempty" mapstructure:"cpus"`
	SysfsPath string `yaml:"sysfs_path,omitempty" mapstructure:"sysfs_path"`
	StateDir  string `yaml:"state_dir,omitempty" mapstructure:"state_dir"`
}

// ReportConfig controls chart and table generation.
type ReportConfig struct {
	OutputDir             string        `yaml:"output_dir,omitempty" mapstructure:"output_dir"`
	Columns               []string      `yaml:"columns,omitempty" mapstructure:"columns"`
	Bins                  int           `yaml:"bins,omitempty" mapstructure:"bins"`
	LogScale              bool          `yaml:"log_scale,omitempty" mapstructure:"log_scale"`
	HistogramColumn       string        `yaml:"histogram_column,omitempty" mapstructure:"histogram_column"`
	HistogramStep         float64       `yaml:"histogram_step,omitempty" mapstructure:"histogram_step"`
	Cutoffs               []CutoffRange `yaml:"cutoffs,omitempty" mapstructure:"cutoffs"`
	FilterRelevantLOC     bool          `yaml:"filter_relevant_loc,omitempty" mapstructure:"filter_relevant_loc"`
	FilterDetectedChanges bool          `yaml:"filter_detected_changes,omitempty" mapstructure:"filter_detected_changes"`
	Width                 string        `yaml:"width,omitempty" mapstructure:"width"`
	Height                string        `yaml:"height,omitempty" mapstructure:"height"`
}

// CutoffRange is one visible y-axis segment of a broken-axis histogram.
type CutoffRange struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
}

// StorageConfig configures the run database.
type StorageConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Driver   string         `yaml:"driver,omitempty" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// UploadConfig contains result upload settings.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3 upload settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Concurrency     int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// APIConfig contains results API server settings.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Load reads a configuration file, applies COMMITBENCHOOR_* environment
// overrides and fills in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setViperDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolvePaths makes configured paths absolute against the working
// directory. The analyzer runs inside the repository, so a relative path
// would otherwise resolve differently for it than for us. A binary without a
// directory part is left to the PATH lookup.
func (c *Config) resolvePaths() error {
	paths := []*string{
		&c.Repository.Path,
		&c.Analyzer.Dir,
		&c.Analyzer.ConfDir,
		&c.Analyzer.ScriptsDir,
		&c.Analyzer.DummyFile,
		&c.Benchmark.ResultsDir,
		&c.Report.OutputDir,
		&c.Storage.SQLite.Path,
	}

	if strings.ContainsRune(c.Analyzer.Binary, filepath.Separator) {
		paths = append(paths, &c.Analyzer.Binary)
	}

	if c.Benchmark.CPUFreq != nil {
		paths = append(paths, &c.Benchmark.CPUFreq.StateDir)
	}

	for _, p := range paths {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolving path %q: %w", *p, err)
		}

		*p = abs
	}

	return nil
}

// setViperDefaults registers scalar defaults so that environment variables
// can override keys that are absent from the file.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("benchmark.results_dir", DefaultResultsDir)
	v.SetDefault("benchmark.only_relevant", false)
	v.SetDefault("benchmark.incremental_data_dir", DefaultIncrementalDataDir)
	v.SetDefault("analyzer.conf", DefaultConf)
	v.SetDefault("analyzer.build_script", DefaultBuildScript)
	v.SetDefault("report.bins", DefaultReportBins)
	v.SetDefault("report.histogram_step", DefaultHistogramStep)
	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.driver", DefaultDatabaseDriver)
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Analyzer.Conf == "" {
		c.Analyzer.Conf = DefaultConf
	}

	if c.Analyzer.BuildScript == "" {
		c.Analyzer.BuildScript = DefaultBuildScript
	}

	if c.Analyzer.SampleInterval == 0 {
		c.Analyzer.SampleInterval = DefaultSampleInterval
	}

	if c.Benchmark.ResultsDir == "" {
		c.Benchmark.ResultsDir = DefaultResultsDir
	}

	if c.Benchmark.IncrementalDataDir == "" {
		c.Benchmark.IncrementalDataDir = DefaultIncrementalDataDir
	}

	if len(c.Benchmark.Phases) == 0 {
		c.Benchmark.Phases = DefaultPhases()
	}

	for i := range c.Benchmark.Phases {
		if c.Benchmark.Phases[i].Conf == "" {
			c.Benchmark.Phases[i].Conf = c.Analyzer.Conf
		}
	}

	if c.Benchmark.Compare != nil && c.Benchmark.Compare.Conf == "" {
		c.Benchmark.Compare.Conf = c.Analyzer.Conf
	}

	if f := c.Benchmark.CPUFreq; f != nil {
		if f.SysfsPath == "" {
			f.SysfsPath = DefaultSysfsCPUPath
		}

		if f.StateDir == "" {
			f.StateDir = os.TempDir()
		}

		if f.Frequency != "" && f.Governor == "" {
			f.Governor = DefaultCPUGovernor
		}
	}

	if c.Report.OutputDir == "" {
		c.Report.OutputDir = c.Benchmark.ResultsDir
	}

	if c.Report.Bins == 0 {
		c.Report.Bins = DefaultReportBins
	}

	if c.Report.HistogramStep == 0 {
		c.Report.HistogramStep = DefaultHistogramStep
	}

	if c.Report.HistogramColumn == "" {
		c.Report.HistogramColumn = results.HeaderRelevantLOC
	}

	if len(c.Report.Columns) == 0 {
		c.Report.Columns = results.RuntimeHeaders()
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultDatabaseDriver
	}

	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = filepath.Join(c.Benchmark.ResultsDir, "commitbenchoor.db")
	}

	if c.Upload.S3 != nil && c.Upload.S3.Concurrency == 0 {
		c.Upload.S3.Concurrency = DefaultUploadConcurrency
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
}

// DefaultPhases returns the parent / incremental / reluctant sequence used to
// compare incremental analysis against a from-scratch baseline.
func DefaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{
			ID:                   "parent",
			Column:               results.HeaderRuntimeParent,
			Target:               TargetParent,
			Options:              []string{"--enable", "incremental.save"},
			ResetIncrementalData: true,
		},
		{
			ID:         "incremental",
			Column:     results.HeaderRuntimeIncremental,
			Target:     TargetCommit,
			Options:    []string{"--enable", "incremental.load"},
			ChangeInfo: true,
		},
		{
			ID:     "reluctant",
			Column: results.HeaderRuntimeReluctant,
			Target: TargetCommit,
			Options: []string{
				"--enable", "incremental.load",
				"--enable", "incremental.reluctant.enabled",
			},
		},
	}
}

// Validate checks the configuration used by benchmark runs.
func (c *Config) Validate() error {
	if c.Analyzer.Dir == "" {
		return fmt.Errorf("analyzer.dir is required")
	}

	if c.Repository.Path == "" {
		return fmt.Errorf("repository.path is required")
	}

	if c.Repository.URL == "" {
		if _, err := os.Stat(c.Repository.Path); os.IsNotExist(err) {
			return fmt.Errorf("repository path %q does not exist and no url is configured", c.Repository.Path)
		}
	}

	if c.Benchmark.Commits.Max < 0 {
		return fmt.Errorf("benchmark.commits.max must not be negative")
	}

	seenIDs := make(map[string]struct{}, len(c.Benchmark.Phases))

	for i, phase := range c.Benchmark.Phases {
		if phase.ID == "" {
			return fmt.Errorf("phase %d: id is required", i)
		}

		if _, exists := seenIDs[phase.ID]; exists {
			return fmt.Errorf("phase %d: duplicate id %q", i, phase.ID)
		}

		seenIDs[phase.ID] = struct{}{}

		if phase.Column == "" {
			return fmt.Errorf("phase %q: column is required", phase.ID)
		}

		if phase.Target != TargetParent && phase.Target != TargetCommit {
			return fmt.Errorf("phase %q: target must be %q or %q, got %q",
				phase.ID, TargetParent, TargetCommit, phase.Target)
		}
	}

	if cmp := c.Benchmark.Compare; cmp != nil && cmp.Enabled {
		if c.Analyzer.DummyFile == "" {
			return fmt.Errorf("analyzer.dummy_file is required when compare is enabled")
		}

		for _, id := range []string{cmp.First, cmp.Second} {
			if _, ok := seenIDs[id]; !ok {
				return fmt.Errorf("compare: unknown phase %q", id)
			}
		}

		if cmp.First == cmp.Second {
			return fmt.Errorf("compare: first and second phase must differ")
		}
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Upload.S3 != nil && c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// Validate checks the storage configuration.
func (s *StorageConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	switch s.Driver {
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if s.Postgres.Host == "" || s.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", s.Driver)
	}

	return nil
}

// Validate checks the report configuration.
func (r *ReportConfig) Validate() error {
	if r.Bins <= 0 {
		return fmt.Errorf("report.bins must be positive")
	}

	if r.HistogramStep <= 0 {
		return fmt.Errorf("report.histogram_step must be positive")
	}

	for i, cut := range r.Cutoffs {
		if cut.Max <= cut.Min {
			return fmt.Errorf("report.cutoffs[%d]: max must be greater than min", i)
		}
	}

	return nil
}

// BinaryPath returns the analyzer executable.
func (a *AnalyzerConfig) BinaryPath() string {
	if a.Binary != "" {
		return a.Binary
	}

	return filepath.Join(a.Dir, DefaultAnalyzerBinary)
}

// ConfPath returns the configuration document for a named configuration.
func (a *AnalyzerConfig) ConfPath(conf string) string {
	dir := a.ConfDir
	if dir == "" {
		dir = filepath.Join(a.Dir, "conf")
	}

	return filepath.Join(dir, conf+".json")
}

// BuildScriptPath returns the build description script.
func (a *AnalyzerConfig) BuildScriptPath() string {
	dir := a.ScriptsDir
	if dir == "" {
		dir = filepath.Join(a.Dir, "scripts")
	}

	return filepath.Join(dir, a.BuildScript)
}

// IncrementalDataPath returns the analyzer's incremental state directory.
func (c *Config) IncrementalDataPath() string {
	if filepath.IsAbs(c.Benchmark.IncrementalDataDir) {
		return c.Benchmark.IncrementalDataDir
	}

	return filepath.Join(c.Repository.Path, c.Benchmark.IncrementalDataDir)
}

// Phase returns the phase with the given id.
func (c *Config) Phase(id string) (PhaseConfig, bool) {
	for _, phase := range c.Benchmark.Phases {
		if phase.ID == id {
			return phase, true
		}
	}

	return PhaseConfig{}, false
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
