package stats

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu      sync.Mutex
	samples []*Stats
	calls   int
}

func (f *fakeReader) Type() string { return "fake" }

func (f *fakeReader) ReadStats(_ context.Context) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls >= len(f.samples) {
		return nil, errors.New("process exited")
	}

	s := f.samples[f.calls]
	f.calls++

	return s, nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestSampler(t *testing.T) {
	reader := &fakeReader{samples: []*Stats{
		{Memory: 100, CPUUsage: 1000, DiskRead: 10},
		{Memory: 300, CPUUsage: 5000, DiskRead: 50, DiskWrite: 7},
		{Memory: 200, CPUUsage: 3000, DiskRead: 40, DiskWrite: 9},
	}}

	s := NewSampler(testLogger(), reader, time.Millisecond)
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()

		return reader.calls >= len(reader.samples)
	}, time.Second, time.Millisecond)

	u := s.Stop()
	assert.Equal(t, 3, u.Samples)
	assert.Equal(t, uint64(300), u.PeakMemory)
	assert.Equal(t, 5*time.Millisecond, u.CPU)
	assert.Equal(t, uint64(50), u.DiskReadBytes)
	assert.Equal(t, uint64(9), u.DiskWriteBytes)
}

func TestSampler_StopWithoutSamples(t *testing.T) {
	s := NewSampler(testLogger(), &fakeReader{}, time.Hour)
	s.Start(context.Background())

	u := s.Stop()
	assert.Zero(t, u.Samples)
	assert.Zero(t, u.PeakMemory)
}

func TestProcessReader_Self(t *testing.T) {
	r, err := NewProcessReader(context.Background(), testLogger(), os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, "process", r.Type())

	st, err := r.ReadStats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, st.Memory)
}
