// Package cpufreq pins CPU frequency scaling through sysfs for the duration of
// a benchmark and restores the previous settings afterwards.
package cpufreq

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// FrequencyMax selects each CPU's hardware maximum.
const FrequencyMax = "MAX"

// Manager applies and restores CPU frequency settings.
type Manager interface {
	// Apply captures the current settings of the configured CPUs, persists
	// them to a state file and applies the configured ones.
	Apply(ctx context.Context) error
	// Restore writes the captured settings back and removes the state file.
	Restore() error
}

// Snapshot is the frequency state of a set of CPUs.
type Snapshot struct {
	CPUs  map[int]CPUSettings `json:"cpus"`
	Turbo *TurboSettings      `json:"turbo,omitempty"`
}

// CPUSettings are the scaling settings of one CPU.
type CPUSettings struct {
	Governor      string `json:"governor"`
	ScalingMinKHz uint64 `json:"scaling_min_khz"`
	ScalingMaxKHz uint64 `json:"scaling_max_khz"`
}

// TurboSettings is the raw value of the vendor boost switch.
type TurboSettings struct {
	Vendor string `json:"vendor"`
	Value  uint64 `json:"value"`
}

// NewManager creates a manager for cfg.
func NewManager(log logrus.FieldLogger, cfg *config.CPUFreqConfig) Manager {
	return &manager{
		log:   log.WithField("component", "cpufreq"),
		cfg:   cfg,
		sysfs: sysfs(cfg.SysfsPath),
	}
}

type manager struct {
	log   logrus.FieldLogger
	cfg   *config.CPUFreqConfig
	sysfs sysfs

	mu        sync.Mutex
	original  *Snapshot
	stateFile string
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

func (m *manager) Apply(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.original != nil {
		return fmt.Errorf("settings already applied")
	}

	var target uint64

	if m.cfg.Frequency != "" && !strings.EqualFold(m.cfg.Frequency, FrequencyMax) {
		khz, err := ParseFrequency(m.cfg.Frequency)
		if err != nil {
			return err
		}

		target = khz
	}

	cpus := m.cfg.CPUs
	if len(cpus) == 0 {
		online, err := m.sysfs.onlineCPUs()
		if err != nil {
			return err
		}

		cpus = online
	}

	snap := m.sysfs.capture(m.log, cpus)
	m.original = snap

	path, err := SaveState(m.cfg.StateDir, snap)
	if err != nil {
		m.log.WithError(err).Warn("Failed to save CPU frequency state")
	} else {
		m.stateFile = path
	}

	for _, cpu := range cpus {
		if err := m.applyCPU(cpu, target); err != nil {
			m.restoreLocked()

			return err
		}
	}

	if m.cfg.TurboBoost != nil {
		if err := m.sysfs.setTurbo(*m.cfg.TurboBoost); err != nil {
			m.log.WithError(err).Warn("Failed to set turbo boost")
		}
	}

	m.log.WithFields(logrus.Fields{
		"cpus":      len(cpus),
		"frequency": m.cfg.Frequency,
		"governor":  m.cfg.Governor,
	}).Info("Pinned CPU frequency")

	return nil
}

func (m *manager) applyCPU(cpu int, target uint64) error {
	if m.cfg.Governor != "" {
		if err := m.sysfs.setGovernor(cpu, m.cfg.Governor); err != nil {
			return fmt.Errorf("setting governor for CPU %d: %w", cpu, err)
		}
	}

	if m.cfg.Frequency == "" {
		return nil
	}

	lo, hi, err := m.sysfs.hardwareLimits(cpu)
	if err != nil {
		return fmt.Errorf("reading limits of CPU %d: %w", cpu, err)
	}

	khz := target
	if khz == 0 {
		khz = hi
	}

	if khz < lo || khz > hi {
		return fmt.Errorf("frequency %s out of range for CPU %d (%s - %s)",
			FormatFrequency(khz), cpu, FormatFrequency(lo), FormatFrequency(hi))
	}

	return m.sysfs.pin(cpu, khz)
}

func (m *manager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restoreLocked()

	return nil
}

func (m *manager) restoreLocked() {
	if m.original == nil {
		return
	}

	m.sysfs.restore(m.log, m.original)

	if m.stateFile != "" {
		if err := RemoveState(m.stateFile); err != nil {
			m.log.WithError(err).Warn("Failed to remove CPU frequency state")
		}

		m.stateFile = ""
	}

	m.original = nil

	m.log.Info("Restored CPU frequency settings")
}

var frequencyPattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(ghz|mhz|khz)?$`)

// ParseFrequency parses "2.4GHz", "2000MHz" or a plain kHz value into kHz.
func ParseFrequency(s string) (uint64, error) {
	m := frequencyPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}

	switch strings.ToLower(m[2]) {
	case "ghz":
		v *= 1_000_000
	case "mhz":
		v *= 1_000
	}

	if v < 1 {
		return 0, fmt.Errorf("frequency %q must be positive", s)
	}

	return uint64(v), nil
}

// FormatFrequency renders kHz with the largest fitting unit.
func FormatFrequency(khz uint64) string {
	switch {
	case khz >= 1_000_000:
		return fmt.Sprintf("%.2f GHz", float64(khz)/1_000_000)
	case khz >= 1_000:
		return fmt.Sprintf("%.0f MHz", float64(khz)/1_000)
	default:
		return fmt.Sprintf("%d kHz", khz)
	}
}
