package cpufreq

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Vendor boost switches.
const (
	turboIntel = "intel"
	turboAMD   = "amd"
)

// sysfs is the root of the CPU sysfs tree, normally /sys/devices/system/cpu.
type sysfs string

func (s sysfs) path(cpu int, file string) string {
	return filepath.Join(string(s), "cpu"+strconv.Itoa(cpu), "cpufreq", file)
}

func (s sysfs) readUint(path string) (uint64, error) {
	text, err := s.readString(path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	return v, nil
}

func (s sysfs) readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func (s sysfs) write(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

func (s sysfs) writeUint(path string, v uint64) error {
	return s.write(path, strconv.FormatUint(v, 10))
}

// onlineCPUs reads the online list, falling back to the present list.
func (s sysfs) onlineCPUs() ([]int, error) {
	for _, name := range []string{"online", "present"} {
		text, err := s.readString(filepath.Join(string(s), name))
		if err == nil {
			return ParseCPUList(text)
		}
	}

	return nil, fmt.Errorf("no online or present CPU list under %s", string(s))
}

// ParseCPUList parses kernel CPU lists such as "0-3,8,10-11".
func ParseCPUList(list string) ([]int, error) {
	var cpus []int

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")

		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid CPU list entry %q", part)
		}

		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil || end < start {
				return nil, fmt.Errorf("invalid CPU list entry %q", part)
			}
		}

		for c := start; c <= end; c++ {
			cpus = append(cpus, c)
		}
	}

	return cpus, nil
}

func (s sysfs) hardwareLimits(cpu int) (uint64, uint64, error) {
	lo, err := s.readUint(s.path(cpu, "cpuinfo_min_freq"))
	if err != nil {
		return 0, 0, err
	}

	hi, err := s.readUint(s.path(cpu, "cpuinfo_max_freq"))
	if err != nil {
		return 0, 0, err
	}

	return lo, hi, nil
}

func (s sysfs) setGovernor(cpu int, governor string) error {
	return s.write(s.path(cpu, "scaling_governor"), governor)
}

// pin sets min and max scaling to khz. The order depends on the direction so
// that min never exceeds max in between.
func (s sysfs) pin(cpu int, khz uint64) error {
	minPath, maxPath := s.path(cpu, "scaling_min_freq"), s.path(cpu, "scaling_max_freq")

	current, err := s.readUint(maxPath)
	if err != nil {
		return err
	}

	first, second := minPath, maxPath
	if khz > current {
		first, second = maxPath, minPath
	}

	if err := s.writeUint(first, khz); err != nil {
		return err
	}

	return s.writeUint(second, khz)
}

// capture records the current settings. Unreadable values stay zero and are
// skipped on restore.
func (s sysfs) capture(log logrus.FieldLogger, cpus []int) *Snapshot {
	snap := &Snapshot{CPUs: make(map[int]CPUSettings, len(cpus))}

	for _, cpu := range cpus {
		var settings CPUSettings

		if gov, err := s.readString(s.path(cpu, "scaling_governor")); err == nil {
			settings.Governor = gov
		} else {
			log.WithError(err).WithField("cpu", cpu).Debug("Failed to read governor")
		}

		settings.ScalingMinKHz, _ = s.readUint(s.path(cpu, "scaling_min_freq"))
		settings.ScalingMaxKHz, _ = s.readUint(s.path(cpu, "scaling_max_freq"))

		snap.CPUs[cpu] = settings
	}

	if vendor, path := s.turboSwitch(); vendor != "" {
		if v, err := s.readUint(path); err == nil {
			snap.Turbo = &TurboSettings{Vendor: vendor, Value: v}
		}
	}

	return snap
}

func (s sysfs) restore(log logrus.FieldLogger, snap *Snapshot) {
	if t := snap.Turbo; t != nil {
		if vendor, path := s.turboSwitch(); vendor == t.Vendor {
			if err := s.writeUint(path, t.Value); err != nil {
				log.WithError(err).Warn("Failed to restore turbo boost")
			}
		}
	}

	for cpu, settings := range snap.CPUs {
		l := log.WithField("cpu", cpu)

		if settings.Governor != "" {
			if err := s.setGovernor(cpu, settings.Governor); err != nil {
				l.WithError(err).Warn("Failed to restore governor")
			}
		}

		// Max first so that min never exceeds it.
		if settings.ScalingMaxKHz > 0 {
			if err := s.writeUint(s.path(cpu, "scaling_max_freq"), settings.ScalingMaxKHz); err != nil {
				l.WithError(err).Warn("Failed to restore max frequency")
			}
		}

		if settings.ScalingMinKHz > 0 {
			if err := s.writeUint(s.path(cpu, "scaling_min_freq"), settings.ScalingMinKHz); err != nil {
				l.WithError(err).Warn("Failed to restore min frequency")
			}
		}
	}
}

// turboSwitch locates the boost control file. Intel's no_turbo is inverted.
func (s sysfs) turboSwitch() (string, string) {
	intel := filepath.Join(string(s), "intel_pstate", "no_turbo")
	if _, err := os.Stat(intel); err == nil {
		return turboIntel, intel
	}

	amd := filepath.Join(string(s), "cpufreq", "boost")
	if _, err := os.Stat(amd); err == nil {
		return turboAMD, amd
	}

	return "", ""
}

func (s sysfs) setTurbo(enabled bool) error {
	vendor, path := s.turboSwitch()

	var v uint64

	switch vendor {
	case turboIntel:
		if !enabled {
			v = 1
		}
	case turboAMD:
		if enabled {
			v = 1
		}
	default:
		return fmt.Errorf("turbo boost control not available")
	}

	return s.writeUint(path, v)
}
