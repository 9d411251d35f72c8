package plant_scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"plant_scan/bbox"
	"plant_scan/dobot"
	"plant_scan/perception"
	"plant_scan/pose"
)

// Environment overrides applied by LoadConfig.
const (
	EnvArmHost       = "PLANTSCAN_ARM_HOST"
	EnvRecordingsDir = "PLANTSCAN_RECORDINGS_DIR"
)

// Config is the scanner configuration. As a Viam resource it is the attribute map;
// the CLI reads it from a JSON or YAML file.
type Config struct {
	Arm        dobot.Config      `json:"arm" yaml:"arm"`
	Perception perception.Config `json:"perception" yaml:"perception"`

	// Camera names an rdk camera producing point clouds. Without one the simulated bed is used.
	Camera      string `json:"camera,omitempty" yaml:"camera,omitempty"`
	ImageWidth  int    `json:"image_width,omitempty" yaml:"image_width,omitempty"`
	ImageHeight int    `json:"image_height,omitempty" yaml:"image_height,omitempty"`

	// Simulate runs against an in-process arm simulator instead of Arm.Host.
	Simulate bool `json:"simulate,omitempty" yaml:"simulate,omitempty"`

	SpeedFactor int           `json:"speed_factor,omitempty" yaml:"speed_factor,omitempty"` // percent
	Plants      int           `json:"plants,omitempty" yaml:"plants,omitempty"`
	BBoxFormat  string        `json:"bbox_format,omitempty" yaml:"bbox_format,omitempty"`
	Frames      int           `json:"frames,omitempty" yaml:"frames,omitempty"`
	Dwell       time.Duration `json:"dwell,omitempty" yaml:"dwell,omitempty"`

	RestJoints       []float64 `json:"rest_joints,omitempty" yaml:"rest_joints,omitempty"`
	HighVisionJoints []float64 `json:"high_vision_joints,omitempty" yaml:"high_vision_joints,omitempty"`
	HighVisionPose   []float64 `json:"high_vision_pose,omitempty" yaml:"high_vision_pose,omitempty"`
}

var (
	defaultRestJoints       = []float64{-90, -75, 138, 27, -90, 180}
	defaultHighVisionJoints = []float64{-105, -46, 86, 29, -90, 168}
	defaultHighVisionPose   = []float64{-120, 102, 659, 160, 3, 175}
)

// Validate fills defaults and checks the config. The camera, if any, is returned
// as a required dependency.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if _, _, err := cfg.Arm.Validate(path + ".arm"); err != nil {
		return nil, nil, err
	}
	if !filepath.IsAbs(cfg.Perception.RecordingsDir) && cfg.Perception.RecordingsDir != "" {
		// relative recording dirs live under the module data dir when running under viam-server
		if dataDir := os.Getenv("VIAM_MODULE_DATA"); dataDir != "" {
			cfg.Perception.RecordingsDir = filepath.Join(dataDir, cfg.Perception.RecordingsDir)
		}
	}
	if _, _, err := cfg.Perception.Validate(path + ".perception"); err != nil {
		return nil, nil, err
	}

	if cfg.SpeedFactor == 0 {
		cfg.SpeedFactor = 40
	}
	if cfg.Plants == 0 {
		cfg.Plants = 1
	}
	if cfg.BBoxFormat == "" {
		cfg.BBoxFormat = string(bbox.FormatCenterExtent)
	}
	if cfg.Frames == 0 {
		cfg.Frames = 300
	}
	if cfg.Dwell == 0 {
		cfg.Dwell = 100 * time.Millisecond
	}
	if len(cfg.RestJoints) == 0 {
		cfg.RestJoints = append([]float64(nil), defaultRestJoints...)
	}
	if len(cfg.HighVisionJoints) == 0 {
		cfg.HighVisionJoints = append([]float64(nil), defaultHighVisionJoints...)
	}
	if len(cfg.HighVisionPose) == 0 {
		cfg.HighVisionPose = append([]float64(nil), defaultHighVisionPose...)
	}

	if cfg.SpeedFactor < 1 || cfg.SpeedFactor > 100 {
		return nil, nil, fmt.Errorf("%s: speed_factor must be between 1 and 100, got %d", path, cfg.SpeedFactor)
	}
	if cfg.Plants < 1 {
		return nil, nil, fmt.Errorf("%s: plants must be at least 1, got %d", path, cfg.Plants)
	}
	if cfg.Frames < 1 {
		return nil, nil, fmt.Errorf("%s: frames must be at least 1, got %d", path, cfg.Frames)
	}
	if cfg.Dwell < 0 || cfg.ImageWidth < 0 || cfg.ImageHeight < 0 {
		return nil, nil, fmt.Errorf("%s: dwell and image size must not be negative", path)
	}
	format, err := bbox.ParseFormat(cfg.BBoxFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.BBoxFormat = string(format)
	for name, vals := range map[string][]float64{
		"rest_joints":        cfg.RestJoints,
		"high_vision_joints": cfg.HighVisionJoints,
		"high_vision_pose":   cfg.HighVisionPose,
	} {
		if _, err := pose.Coord6FromSlice(vals); err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", path, name, err)
		}
	}

	var deps []string
	if cfg.Camera != "" {
		deps = append(deps, cfg.Camera)
	}
	return deps, nil, nil
}

func (cfg *Config) restJoints() pose.Joints {
	c, _ := pose.Coord6FromSlice(cfg.RestJoints)
	return pose.Joints(c)
}

func (cfg *Config) highVisionJoints() pose.Joints {
	c, _ := pose.Coord6FromSlice(cfg.HighVisionJoints)
	return pose.Joints(c)
}

func (cfg *Config) highVisionPose() pose.Pose {
	c, _ := pose.Coord6FromSlice(cfg.HighVisionPose)
	return pose.FromEuler(c)
}

func (cfg *Config) format() bbox.Format {
	return bbox.Format(cfg.BBoxFormat)
}

// LoadEnv reads KEY=value files into the process environment. Missing files are
// ignored; existing variables win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// LoadConfig reads a .json, .yaml or .yml file, applies environment overrides and
// validates the result. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".json":
			err = json.Unmarshal(data, cfg)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			return nil, errors.Errorf("unsupported config extension %q", ext)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if host := os.Getenv(EnvArmHost); host != "" {
		cfg.Arm.Host = host
	}
	if dir := os.Getenv(EnvRecordingsDir); dir != "" {
		cfg.Perception.RecordingsDir = dir
	}

	name := path
	if name == "" {
		name = "config"
	}
	if _, _, err := cfg.Validate(name); err != nil {
		return nil, err
	}
	return cfg, nil
}
