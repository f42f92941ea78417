// Package stats samples the resource usage of analyzer processes.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// Stats is a snapshot of a process tree's resource usage.
type Stats struct {
	Memory       uint64 // Resident memory (bytes)
	CPUUsage     uint64 // CPU usage (microseconds, cumulative)
	DiskRead     uint64 // Disk read (bytes, cumulative)
	DiskWrite    uint64 // Disk write (bytes, cumulative)
	DiskReadOps  uint64 // Disk read operations (cumulative)
	DiskWriteOps uint64 // Disk write operations (cumulative)
}

// Reader reads resource metrics of one process.
type Reader interface {
	// ReadStats returns the current metrics.
	ReadStats(ctx context.Context) (*Stats, error)
	// Type returns the reader implementation type for logging.
	Type() string
}

// NewProcessReader creates a reader for pid and its direct children.
func NewProcessReader(ctx context.Context, log logrus.FieldLogger, pid int) (Reader, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}

	return &processReader{
		log:  log.WithField("reader", "process"),
		proc: p,
	}, nil
}

type processReader struct {
	log  logrus.FieldLogger
	proc *process.Process
}

// Ensure interface compliance.
var _ Reader = (*processReader)(nil)

func (r *processReader) Type() string {
	return "process"
}

func (r *processReader) ReadStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := r.add(ctx, r.proc, stats); err != nil {
		return nil, err
	}

	// Children come and go, their failures are not fatal.
	children, err := r.proc.ChildrenWithContext(ctx)
	if err != nil {
		return stats, nil
	}

	for _, c := range children {
		if err := r.add(ctx, c, stats); err != nil {
			r.log.WithError(err).WithField("pid", c.Pid).Debug("Failed to read child stats")
		}
	}

	return stats, nil
}

// add accumulates the metrics of p. Only memory is required.
func (r *processReader) add(ctx context.Context, p *process.Process, stats *Stats) error {
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("reading memory of %d: %w", p.Pid, err)
	}

	stats.Memory += mem.RSS

	if times, err := p.TimesWithContext(ctx); err == nil {
		stats.CPUUsage += uint64((times.User + times.System) * float64(time.Second/time.Microsecond))
	}

	if io, err := p.IOCountersWithContext(ctx); err == nil {
		stats.DiskRead += io.ReadBytes
		stats.DiskWrite += io.WriteBytes
		stats.DiskReadOps += io.ReadCount
		stats.DiskWriteOps += io.WriteCount
	}

	return nil
}
