package cmd

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/config"
	"github.com/ssargent/flashring/pkg/ring"
)

// smallConfig lays out a 64 KiB device: 128 sample pages at 0x1000 and 64
// event pages at 0x9000, with pipeline intervals short enough for tests.
func smallConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Device.Path = filepath.Join(dir, "flash")
	cfg.Device.Size = 64 * 1024
	cfg.Regions.Samples.PageCount = 128
	cfg.Regions.Samples.OverlapGuardPages = 16
	cfg.Regions.Samples.WarningThresholdPages = 16
	cfg.Regions.Events.BaseAddress = 0x9000
	cfg.Regions.Events.PageCount = 64
	cfg.Retry.Delay = 0
	cfg.Pipeline.SampleInterval = 5 * time.Millisecond
	cfg.Pipeline.TransmitInterval = 20 * time.Millisecond
	cfg.Pipeline.FlushInterval = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Validate())

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, configPath))
	return configPath
}

// execute runs the command tree once and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := run(root)
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	devicePath := filepath.Join(dir, "flash")

	t.Run("creates config and image", func(t *testing.T) {
		out, err := execute(t, "init", "--config", configPath, "--device", devicePath)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration written to "+configPath)
		assert.NotContains(t, out, "API key")
		assert.DirExists(t, devicePath)

		cfg, err := config.LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, devicePath, cfg.Device.Path)
		assert.Empty(t, cfg.Server.APIKey)
	})

	t.Run("keeps existing config", func(t *testing.T) {
		out, err := execute(t, "init", "--config", configPath, "--device", devicePath)
		require.NoError(t, err)
		assert.Contains(t, out, "already exists")
	})

	t.Run("force with generated key", func(t *testing.T) {
		out, err := execute(t, "init", "--config", configPath, "--device", devicePath, "--force", "--generate-api-key")
		require.NoError(t, err)
		assert.Contains(t, out, "API key: ")

		cfg, err := config.LoadConfig(configPath)
		require.NoError(t, err)
		assert.Len(t, cfg.Server.APIKey, 64)
	})

	t.Run("explicit key wins", func(t *testing.T) {
		_, err := execute(t, "init", "--config", configPath, "--device", devicePath, "--force",
			"--api-key", "my-key", "--generate-api-key")
		require.NoError(t, err)

		cfg, err := config.LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "my-key", cfg.Server.APIKey)
	})
}

func TestInfoCommand(t *testing.T) {
	configPath := smallConfig(t)

	out, err := execute(t, "info", "--config", configPath, "--scan")
	require.NoError(t, err)
	assert.Contains(t, out, "Region samples:")
	assert.Contains(t, out, "Region events:")
	assert.Contains(t, out, " Start address    : 0x9000  (36864)")
	assert.Contains(t, out, " Capacity         : 112 pages (guard 16, warning 16)")
	assert.Contains(t, out, " Active pages     : 0")
	assert.Contains(t, out, " Inactive range   : 1 .. 128")

	_, err = execute(t, "info", "nope", "--config", configPath)
	assert.ErrorContains(t, err, `unknown region "nope"`)
}

func TestInvalidConfigOverride(t *testing.T) {
	configPath := smallConfig(t)

	_, err := execute(t, "info", "--config", configPath, "--log-level", "verbose")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestReadCommand(t *testing.T) {
	configPath := smallConfig(t)

	out, err := execute(t, "read", "events", "1", "2", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1, inactive")
	assert.Contains(t, out, "2, inactive")

	out, err = execute(t, "read", "samples", "0x80", "1", "--raw", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Page 128 (0x8f00): erased")

	_, err = execute(t, "read", "samples", "0", "--config", configPath)
	assert.True(t, errors.Is(err, ring.ErrOutOfRange))

	_, err = execute(t, "read", "samples", "x", "--config", configPath)
	assert.ErrorContains(t, err, `invalid page "x"`)
}

func TestEraseCommand(t *testing.T) {
	configPath := smallConfig(t)

	out, err := execute(t, "erase", "samples", "0x1000", "2", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, " Sector 0 erased: 0x1000")
	assert.Contains(t, out, " Sector 1 erased: 0x2000")

	_, err = execute(t, "erase", "samples", "0x1100", "--config", configPath)
	require.Error(t, err)

	// The manual erase is recorded in the event log.
	out, err = execute(t, "log", "search", "erased", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "samples: erased 2 sectors at 0x1000")
	assert.Contains(t, out, " Number of matching entries found      : 1")
}

func TestSimulateAndInspect(t *testing.T) {
	configPath := smallConfig(t)

	out, err := execute(t, "simulate", "--duration", "300ms", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Simulating for 300ms")
	assert.Contains(t, out, "Region samples:")
	assert.Contains(t, out, "Inbox overflow")

	t.Run("samples are kept across runs", func(t *testing.T) {
		out, err := execute(t, "read", "samples", "1", "1", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, "1, sequence ")
		assert.Contains(t, out, "   X:")
	})

	t.Run("log search", func(t *testing.T) {
		out, err := execute(t, "log", "search", "simulation started", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, ", Inf, ")
		assert.Contains(t, out, `"simulation started"`)
		assert.Contains(t, out, " Number of matching entries found      : 1")
	})

	t.Run("log list", func(t *testing.T) {
		out, err := execute(t, "log", "list", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, " Start entry: 1 - ")
		assert.Contains(t, out, "simulation started")
	})

	t.Run("log read", func(t *testing.T) {
		out, err := execute(t, "log", "read", "1", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, " Entry 1 address: 36864  0x9000")
		assert.Contains(t, out, " Type : Info")
		assert.Contains(t, out, " Text : simulation started")
	})

	t.Run("log info", func(t *testing.T) {
		out, err := execute(t, "log", "info", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, " Oldest entry           : 1  (")
		assert.Contains(t, out, " First inactive page    : ")
	})
}

func TestSimulate_UplinkDown(t *testing.T) {
	configPath := smallConfig(t)

	_, err := execute(t, "simulate", "--duration", "300ms", "--uplink-down", "--config", configPath)
	require.NoError(t, err)

	// Refused batches are warned about, and warnings are kept in flash.
	out, err := execute(t, "log", "search", "transmit window ended early", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "error=")
	assert.NotContains(t, out, " Number of matching entries found      : 0\n")
}

func TestSimulate_FaultInjection(t *testing.T) {
	configPath := smallConfig(t)

	// Flushing the event log on close may itself hit an injected fault, so
	// only the report is checked.
	out, _ := execute(t, "simulate", "--duration", "200ms", "--fault-rate", "0.05", "--seed", "3", "--config", configPath)
	assert.Contains(t, out, "Injected faults  : ")
}

func TestFormatPage(t *testing.T) {
	tests := []struct {
		name     string
		view     ring.PageView
		expected string
	}{
		{
			name:     "inactive",
			view:     ring.PageView{PageNumber: 3},
			expected: "3, inactive",
		},
		{
			name:     "unreadable",
			view:     ring.PageView{PageNumber: 4, Err: errors.New("boom")},
			expected: "4, unable to read page: boom",
		},
		{
			name: "event",
			view: ring.PageView{PageNumber: 5, Active: true, Record: codec.LogEntry{
				Timestamp: 1760875261001, Kind: codec.KindError, Text: "erase failed",
			}},
			expected: `5, Err, 2025-10-19 12:01:01.001, "erase failed"`,
		},
		{
			name: "samples",
			view: ring.PageView{PageNumber: 6, Active: true, Record: codec.SampleBatch{
				Sequence: 9, CaptureTimestamp: 1760875200500, PreviousCaptureTimestamp: 1760875200400,
				X: []int8{1, -1}, Y: []int8{2, -2}, Z: []int8{3, -3},
			}},
			expected: "6, sequence 9, 2025-10-19 12:00:00.500, previous 2025-10-19 12:00:00.400, 2 samples\n" +
				"   X: 1 -1\n   Y: 2 -2\n   Z: 3 -3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatPage(tt.view))
		})
	}
}

func TestParseNumber(t *testing.T) {
	v, err := parseNumber("0x1000", "address")
	require.NoError(t, err)
	assert.Equal(t, 4096, v)

	v, err = parseNumber("42", "page")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = parseNumber("zz", "count")
	assert.ErrorContains(t, err, `invalid count "zz"`)
}
