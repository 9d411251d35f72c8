package plant_scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant_scan/bbox"
	"plant_scan/dobot"
	"plant_scan/pose"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{}
	deps, _, err := cfg.Validate("scanner")
	require.NoError(t, err)
	assert.Empty(t, deps)

	assert.Equal(t, "192.168.5.1", cfg.Arm.Host)
	assert.Equal(t, 29999, cfg.Arm.DashboardPort)
	assert.Equal(t, 40, cfg.SpeedFactor)
	assert.Equal(t, 1, cfg.Plants)
	assert.Equal(t, 300, cfg.Frames)
	assert.Equal(t, 100*time.Millisecond, cfg.Dwell)
	assert.Equal(t, bbox.FormatCenterExtent, cfg.format())
	assert.Equal(t, pose.Joints{-90, -75, 138, 27, -90, 180}, cfg.restJoints())
	assert.Equal(t, pose.Joints{-105, -46, 86, 29, -90, 168}, cfg.highVisionJoints())
	hv := cfg.highVisionPose().Euler()
	for i, want := range []float64{-120, 102, 659, 160, 3, 175} {
		assert.InDelta(t, want, hv[i], 1e-6)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		deps    []string
	}{
		{name: "camera dependency", cfg: Config{Camera: "bed-cam"}, deps: []string{"bed-cam"}},
		{name: "format letter", cfg: Config{BBoxFormat: "p"}},
		{name: "bad format", cfg: Config{BBoxFormat: "xyxy"}, wantErr: true},
		{name: "speed too high", cfg: Config{SpeedFactor: 101}, wantErr: true},
		{name: "negative plants", cfg: Config{Plants: -1}, wantErr: true},
		{name: "short rest joints", cfg: Config{RestJoints: []float64{1, 2, 3}}, wantErr: true},
		{name: "bad arm port", cfg: Config{Arm: dobot.Config{DashboardPort: 70000}}, wantErr: true},
		{name: "negative dwell", cfg: Config{Dwell: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, err := tt.cfg.Validate("scanner")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.deps, deps)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "scanner.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
arm:
  host: 10.0.0.7
  poll_interval: 250ms
plants: 3
bbox_format: c
perception:
  recordings_dir: `+dir+`
`), 0o644))
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.7", cfg.Arm.Host)
		assert.Equal(t, 250*time.Millisecond, cfg.Arm.PollInterval)
		assert.Equal(t, 3, cfg.Plants)
		assert.Equal(t, bbox.FormatMinExtent, cfg.format())
		assert.Equal(t, dir, cfg.Perception.RecordingsDir)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "scanner.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"arm": {"host": "10.0.0.8"}, "frames": 12, "simulate": true}`), 0o644))
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.8", cfg.Arm.Host)
		assert.Equal(t, 12, cfg.Frames)
		assert.True(t, cfg.Simulate)
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv(EnvArmHost, "10.0.0.9")
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", cfg.Arm.Host)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "scanner.toml")
		require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("speed_factor: 500\n"), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(EnvRecordingsDir+"="+dir+"\n"), 0o644))
	t.Setenv(EnvRecordingsDir, "")
	require.NoError(t, os.Unsetenv(EnvRecordingsDir))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, dir, os.Getenv(EnvRecordingsDir))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Perception.RecordingsDir)
}
