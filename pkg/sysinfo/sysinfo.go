// Package sysinfo captures a snapshot of the benchmarking host so that
// runtimes can be related to the machine they were measured on.
package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// FileName is the snapshot file written into the results directory.
const FileName = "system.json"

const bytesPerGB = 1024 * 1024 * 1024

// Info describes the host.
type Info struct {
	Hostname           string  `json:"hostname"`
	OS                 string  `json:"os"`
	Platform           string  `json:"platform"`
	PlatformVersion    string  `json:"platform_version"`
	KernelVersion      string  `json:"kernel_version"`
	Arch               string  `json:"arch"`
	Virtualization     string  `json:"virtualization,omitempty"`
	VirtualizationRole string  `json:"virtualization_role,omitempty"`
	CPUVendor          string  `json:"cpu_vendor"`
	CPUModel           string  `json:"cpu_model"`
	CPUCores           int     `json:"cpu_cores"`
	CPUMhz             float64 `json:"cpu_mhz"`
	CPUCacheKB         int     `json:"cpu_cache_kb"`
	MemoryTotalGB      float64 `json:"memory_total_gb"`
}

// Collect gathers host, CPU and memory details. Probes that fail are logged
// and leave their fields empty.
func Collect(ctx context.Context, log logrus.FieldLogger) *Info {
	log = log.WithField("component", "sysinfo")

	info := &Info{Arch: runtime.GOARCH, OS: runtime.GOOS}

	if h, err := host.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read host info")
	} else {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.Virtualization = h.VirtualizationSystem
		info.VirtualizationRole = h.VirtualizationRole

		if h.KernelArch != "" {
			info.Arch = h.KernelArch
		}
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read CPU info")
	} else if len(cpus) > 0 {
		info.CPUVendor = cpus[0].VendorID
		info.CPUModel = strings.TrimSpace(cpus[0].ModelName)
		info.CPUMhz = cpus[0].Mhz
		info.CPUCacheKB = int(cpus[0].CacheSize)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		log.WithError(err).Warn("Failed to count CPUs")
	} else {
		info.CPUCores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read memory info")
	} else {
		info.MemoryTotalGB = float64(vm.Total) / bytesPerGB
	}

	return info
}

// WriteJSON writes the snapshot as indented JSON.
func (i *Info) WriteJSON(path string, owner *fsutil.Owner) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling system info: %w", err)
	}

	if err := fsutil.WriteFile(path, append(data, '\n'), 0o644, owner); err != nil {
		return fmt.Errorf("writing system info: %w", err)
	}

	return nil
}

// WriteMarkdown appends a System section to sb.
func (i *Info) WriteMarkdown(sb *strings.Builder) {
	if i == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if i.Hostname != "" {
		fmt.Fprintf(sb, "| Hostname | %s |\n", i.Hostname)
	}

	if i.CPUModel != "" {
		fmt.Fprintf(sb, "| CPU | %s |\n", i.CPUModel)
	}

	if i.CPUCores > 0 {
		fmt.Fprintf(sb, "| Cores | %d |\n", i.CPUCores)
	}

	if i.CPUMhz > 0 {
		fmt.Fprintf(sb, "| CPU MHz | %.1f |\n", i.CPUMhz)
	}

	if i.MemoryTotalGB > 0 {
		fmt.Fprintf(sb, "| Memory | %.1f GB |\n", i.MemoryTotalGB)
	}

	if i.Platform != "" {
		platform := i.Platform
		if i.PlatformVersion != "" {
			platform += " " + i.PlatformVersion
		}

		fmt.Fprintf(sb, "| Platform | %s |\n", platform)
	}

	if i.Arch != "" {
		fmt.Fprintf(sb, "| Arch | %s |\n", i.Arch)
	}

	if i.KernelVersion != "" {
		fmt.Fprintf(sb, "| Kernel | %s |\n", i.KernelVersion)
	}

	sb.WriteByte('\n')
}
