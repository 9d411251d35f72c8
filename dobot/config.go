package dobot

import (
	"fmt"
	"time"
)

// Config describes how to reach one arm controller and how its moves are supervised.
type Config struct {
	Host          string `json:"host" yaml:"host"`
	DashboardPort int    `json:"dashboard_port,omitempty" yaml:"dashboard_port,omitempty"` // default 29999
	MotionPort    int    `json:"motion_port,omitempty" yaml:"motion_port,omitempty"`       // default 30003
	FeedbackPort  int    `json:"feedback_port,omitempty" yaml:"feedback_port,omitempty"`   // default 30005

	DialTimeout    time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
	CommandTimeout time.Duration `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`

	// Convergence supervision for joint moves
	SettleDelay  time.Duration `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`   // default 100ms
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"` // default 500ms
	MaxPolls     int           `json:"max_polls,omitempty" yaml:"max_polls,omitempty"`         // default 20
	ToleranceDeg float64       `json:"tolerance_deg,omitempty" yaml:"tolerance_deg,omitempty"` // default 1
	SkipDistance float64       `json:"skip_distance_mm,omitempty" yaml:"skip_distance_mm,omitempty"`

	// Feedback monitor
	FeedbackInterval   time.Duration `json:"feedback_interval,omitempty" yaml:"feedback_interval,omitempty"`       // default 200ms
	ErrorCheckInterval time.Duration `json:"error_check_interval,omitempty" yaml:"error_check_interval,omitempty"` // default 3s
	AutoClearErrors    bool          `json:"auto_clear_errors,omitempty" yaml:"auto_clear_errors,omitempty"`
}

const DefaultHost = "192.168.5.1"

// Validate fills defaults and range-checks the config.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.DashboardPort == 0 {
		cfg.DashboardPort = 29999
	}
	if cfg.MotionPort == 0 {
		cfg.MotionPort = 30003
	}
	if cfg.FeedbackPort == 0 {
		cfg.FeedbackPort = 30005
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 20
	}
	if cfg.ToleranceDeg == 0 {
		cfg.ToleranceDeg = 1
	}
	if cfg.SkipDistance == 0 {
		cfg.SkipDistance = 30
	}
	if cfg.FeedbackInterval == 0 {
		cfg.FeedbackInterval = 200 * time.Millisecond
	}
	if cfg.ErrorCheckInterval == 0 {
		cfg.ErrorCheckInterval = 3 * time.Second
	}

	for name, port := range map[string]int{
		"dashboard_port": cfg.DashboardPort,
		"motion_port":    cfg.MotionPort,
		"feedback_port":  cfg.FeedbackPort,
	} {
		if port < 1 || port > 65535 {
			return nil, nil, fmt.Errorf("%s: %s must be between 1 and 65535, got %d", path, name, port)
		}
	}
	if cfg.MaxPolls < 1 {
		return nil, nil, fmt.Errorf("%s: max_polls must be positive, got %d", path, cfg.MaxPolls)
	}
	if cfg.ToleranceDeg < 0 {
		return nil, nil, fmt.Errorf("%s: tolerance_deg must not be negative, got %v", path, cfg.ToleranceDeg)
	}
	if cfg.SkipDistance < 0 {
		return nil, nil, fmt.Errorf("%s: skip_distance_mm must not be negative, got %v", path, cfg.SkipDistance)
	}
	if cfg.PollInterval < 0 || cfg.SettleDelay < 0 || cfg.FeedbackInterval < 0 || cfg.ErrorCheckInterval < 0 {
		return nil, nil, fmt.Errorf("%s: intervals must not be negative", path)
	}

	return nil, nil, nil
}

// MoveTimeout is the worst-case time MoveJoint waits for convergence.
func (cfg *Config) MoveTimeout() time.Duration {
	return cfg.SettleDelay + time.Duration(cfg.MaxPolls)*cfg.PollInterval
}

func (cfg *Config) address(port int) string {
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}
