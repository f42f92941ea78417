package store

import "time"

// Run status values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one analyzer invocation for one phase of one benchmarked commit.
type Run struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	BenchmarkID string `gorm:"not null;uniqueIndex:idx_runs_bench_seq_phase" json:"benchmark_id"`
	Sequence    int    `gorm:"not null;uniqueIndex:idx_runs_bench_seq_phase" json:"sequence"`
	Phase       string `gorm:"not null;uniqueIndex:idx_runs_bench_seq_phase" json:"phase"`
	CommitHash  string `gorm:"not null;index" json:"commit_hash"`
	Conf        string `json:"conf"`
	Options     string `json:"options"`
	Status      string `gorm:"not null" json:"status"`
	Error       string `gorm:"type:text" json:"error,omitempty"`

	Runtime        string  `json:"runtime"`
	RuntimeSeconds float64 `json:"runtime_seconds"`

	Unchanged    int `json:"unchanged"`
	Changed      int `json:"changed"`
	Added        int `json:"added"`
	Removed      int `json:"removed"`
	RaceWarnings int `json:"race_warnings"`
	RelevantLOC  int `json:"relevant_loc"`

	PrepareMillis int64 `json:"prepare_ms"`
	AnalyzeMillis int64 `json:"analyze_ms"`

	// Resource usage of the analyzer process, zero when not sampled.
	PeakMemoryBytes uint64 `json:"peak_memory_bytes"`
	CPUMillis       int64  `json:"cpu_ms"`
	DiskReadBytes   uint64 `json:"disk_read_bytes"`
	DiskWriteBytes  uint64 `json:"disk_write_bytes"`

	OutDir   string `json:"out_dir"`
	Hostname string `json:"hostname"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comparison is the precision outcome of comparing two phases of one commit.
type Comparison struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	BenchmarkID string `gorm:"not null;uniqueIndex:idx_cmp_bench_seq" json:"benchmark_id"`
	Sequence    int    `gorm:"not null;uniqueIndex:idx_cmp_bench_seq" json:"sequence"`
	CommitHash  string `gorm:"not null;index" json:"commit_hash"`
	First       string `json:"first"`
	Second      string `json:"second"`
	Status      string `gorm:"not null" json:"status"`

	// HasPrecision is false when the comparison log carried no summary.
	HasPrecision bool `json:"has_precision"`
	Equal        int  `json:"equal"`
	MorePrecise  int  `json:"more_precise"`
	LessPrecise  int  `json:"less_precise"`
	Incomparable int  `json:"incomparable"`
	Total        int  `json:"total"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	BenchmarkID string
	// Commit matches full hashes by prefix.
	Commit string
	Phase  string
	Limit  int
}
