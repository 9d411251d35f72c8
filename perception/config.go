package perception

import "fmt"

// Config tunes segmentation and recording.
type Config struct {
	RecordingsDir    string  `json:"recordings_dir,omitempty" yaml:"recordings_dir,omitempty"`
	MinClusterPixels int     `json:"min_cluster_pixels,omitempty" yaml:"min_cluster_pixels,omitempty"`
	MinClusterPoints int     `json:"min_cluster_points,omitempty" yaml:"min_cluster_points,omitempty"`
	HueMin           float64 `json:"hue_min,omitempty" yaml:"hue_min,omitempty"` // degrees
	HueMax           float64 `json:"hue_max,omitempty" yaml:"hue_max,omitempty"`
	MinSaturation    float64 `json:"min_saturation,omitempty" yaml:"min_saturation,omitempty"`
	MinValue         float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = "recordings"
	}
	if cfg.MinClusterPixels == 0 {
		cfg.MinClusterPixels = 50
	}
	if cfg.MinClusterPoints == 0 {
		cfg.MinClusterPoints = 30
	}
	if cfg.HueMin == 0 && cfg.HueMax == 0 {
		cfg.HueMin, cfg.HueMax = 60, 170
	}
	if cfg.MinSaturation == 0 {
		cfg.MinSaturation = 0.2
	}
	if cfg.MinValue == 0 {
		cfg.MinValue = 0.15
	}

	if cfg.HueMin < 0 || cfg.HueMax > 360 || cfg.HueMin >= cfg.HueMax {
		return nil, nil, fmt.Errorf("%s: hue range must satisfy 0 <= hue_min < hue_max <= 360, got [%v, %v]", path, cfg.HueMin, cfg.HueMax)
	}
	if cfg.MinSaturation < 0 || cfg.MinSaturation > 1 || cfg.MinValue < 0 || cfg.MinValue > 1 {
		return nil, nil, fmt.Errorf("%s: min_saturation and min_value must be within [0, 1]", path)
	}
	if cfg.MinClusterPixels < 1 || cfg.MinClusterPoints < 1 {
		return nil, nil, fmt.Errorf("%s: cluster minimums must be positive", path)
	}
	return nil, nil, nil
}
