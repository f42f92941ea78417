package cpufreq

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/commitbenchoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// fakeSysfs builds a CPU sysfs tree with two online CPUs and Intel turbo.
func fakeSysfs(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	write := func(rel, value string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(value+"\n"), 0o644))
	}

	write("online", "0-1")
	write("intel_pstate/no_turbo", "0")

	for _, cpu := range []string{"cpu0", "cpu1"} {
		write(cpu+"/cpufreq/scaling_governor", "powersave")
		write(cpu+"/cpufreq/scaling_min_freq", "800000")
		write(cpu+"/cpufreq/scaling_max_freq", "4000000")
		write(cpu+"/cpufreq/cpuinfo_min_freq", "800000")
		write(cpu+"/cpufreq/cpuinfo_max_freq", "4000000")
	}

	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return strings.TrimSpace(string(data))
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "2.4GHz", want: 2_400_000},
		{in: "2000 MHz", want: 2_000_000},
		{in: "1500000", want: 1_500_000},
		{in: "900khz", want: 900},
		{in: "fast", wantErr: true},
		{in: "0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrequency(tt.in)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFrequency(t *testing.T) {
	assert.Equal(t, "2.40 GHz", FormatFrequency(2_400_000))
	assert.Equal(t, "800 MHz", FormatFrequency(800_000))
	assert.Equal(t, "12 kHz", FormatFrequency(12))
}

func TestParseCPUList(t *testing.T) {
	got, err := ParseCPUList("0-2,5,7-8")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 5, 7, 8}, got)

	_, err = ParseCPUList("3-1")
	assert.Error(t, err)
}

func TestManager_ApplyRestore(t *testing.T) {
	root := fakeSysfs(t)
	stateDir := t.TempDir()
	turbo := false

	m := NewManager(testLogger(), &config.CPUFreqConfig{
		Enabled:    true,
		Frequency:  "2GHz",
		Governor:   "performance",
		TurboBoost: &turbo,
		SysfsPath:  root,
		StateDir:   stateDir,
	})

	require.NoError(t, m.Apply(context.Background()))

	for _, cpu := range []string{"cpu0", "cpu1"} {
		dir := filepath.Join(root, cpu, "cpufreq")
		assert.Equal(t, "performance", readFile(t, filepath.Join(dir, "scaling_governor")))
		assert.Equal(t, "2000000", readFile(t, filepath.Join(dir, "scaling_min_freq")))
		assert.Equal(t, "2000000", readFile(t, filepath.Join(dir, "scaling_max_freq")))
	}

	assert.Equal(t, "1", readFile(t, filepath.Join(root, "intel_pstate", "no_turbo")))

	files, err := ListStateFiles(stateDir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Error(t, m.Apply(context.Background()), "second apply without restore")

	require.NoError(t, m.Restore())

	dir := filepath.Join(root, "cpu1", "cpufreq")
	assert.Equal(t, "powersave", readFile(t, filepath.Join(dir, "scaling_governor")))
	assert.Equal(t, "800000", readFile(t, filepath.Join(dir, "scaling_min_freq")))
	assert.Equal(t, "4000000", readFile(t, filepath.Join(dir, "scaling_max_freq")))
	assert.Equal(t, "0", readFile(t, filepath.Join(root, "intel_pstate", "no_turbo")))

	files, err = ListStateFiles(stateDir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestManager_OutOfRange(t *testing.T) {
	root := fakeSysfs(t)

	m := NewManager(testLogger(), &config.CPUFreqConfig{
		Enabled:   true,
		Frequency: "5GHz",
		CPUs:      []int{0},
		SysfsPath: root,
		StateDir:  t.TempDir(),
	})

	err := m.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	assert.Equal(t, "4000000", readFile(t, filepath.Join(root, "cpu0", "cpufreq", "scaling_max_freq")))
}

func TestManager_Max(t *testing.T) {
	root := fakeSysfs(t)

	m := NewManager(testLogger(), &config.CPUFreqConfig{
		Enabled:   true,
		Frequency: FrequencyMax,
		CPUs:      []int{1},
		SysfsPath: root,
		StateDir:  t.TempDir(),
	})

	require.NoError(t, m.Apply(context.Background()))
	assert.Equal(t, "4000000", readFile(t, filepath.Join(root, "cpu1", "cpufreq", "scaling_min_freq")))
	assert.Equal(t, "800000", readFile(t, filepath.Join(root, "cpu0", "cpufreq", "scaling_min_freq")))
}

func TestRestoreStateFile(t *testing.T) {
	root := fakeSysfs(t)
	stateDir := t.TempDir()

	path, err := SaveState(stateDir, &Snapshot{
		CPUs: map[int]CPUSettings{0: {Governor: "schedutil", ScalingMinKHz: 1_000_000, ScalingMaxKHz: 3_000_000}},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "unrelated.json"), []byte("{}"), 0o644))

	files, err := ListStateFiles(stateDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)

	require.NoError(t, RestoreStateFile(testLogger(), root, path))

	dir := filepath.Join(root, "cpu0", "cpufreq")
	assert.Equal(t, "schedutil", readFile(t, filepath.Join(dir, "scaling_governor")))
	assert.Equal(t, "1000000", readFile(t, filepath.Join(dir, "scaling_min_freq")))
	assert.Equal(t, "3000000", readFile(t, filepath.Join(dir, "scaling_max_freq")))
	assert.NoFileExists(t, path)
}
