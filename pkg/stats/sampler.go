package stats

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Usage summarizes the samples taken over a process lifetime.
type Usage struct {
	PeakMemory     uint64        `json:"peak_memory_bytes"`
	CPU            time.Duration `json:"cpu"`
	DiskReadBytes  uint64        `json:"disk_read_bytes"`
	DiskWriteBytes uint64        `json:"disk_write_bytes"`
	DiskReadOps    uint64        `json:"disk_read_ops"`
	DiskWriteOps   uint64        `json:"disk_write_ops"`
	Samples        int           `json:"samples"`
}

// Sampler polls a Reader until stopped.
type Sampler struct {
	log      logrus.FieldLogger
	reader   Reader
	interval time.Duration

	mu    sync.Mutex
	usage Usage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a sampler polling reader every interval.
func NewSampler(log logrus.FieldLogger, reader Reader, interval time.Duration) *Sampler {
	return &Sampler{
		log:      log.WithField("component", "sampler"),
		reader:   reader,
		interval: interval,
	}
}

// Start takes a first sample and polls in the background.
func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.sample(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
}

// Stop ends polling and returns the aggregated usage.
func (s *Sampler) Stop() *Usage {
	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.usage

	return &u
}

func (s *Sampler) sample(ctx context.Context) {
	st, err := s.reader.ReadStats(ctx)
	if err != nil {
		// Expected once the process has exited.
		s.log.WithError(err).Debug("Failed to sample process")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.Samples++
	s.usage.PeakMemory = max(s.usage.PeakMemory, st.Memory)

	// Cumulative counters only grow while children stay alive.
	s.usage.CPU = max(s.usage.CPU, time.Duration(st.CPUUsage)*time.Microsecond)
	s.usage.DiskReadBytes = max(s.usage.DiskReadBytes, st.DiskRead)
	s.usage.DiskWriteBytes = max(s.usage.DiskWriteBytes, st.DiskWrite)
	s.usage.DiskReadOps = max(s.usage.DiskReadOps, st.DiskReadOps)
	s.usage.DiskWriteOps = max(s.usage.DiskWriteOps, st.DiskWriteOps)
}
