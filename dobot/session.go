package dobot

import (
	"context"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// alarmTable is swapped out by tests.
var alarmTable = DefaultAlarmTable

// Session is a connected arm with its feedback monitor running.
type Session struct {
	Arm     *Arm
	Monitor *Monitor
}

// Open connects to the arm described by cfg and starts its monitor.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*Session, error) {
	arm, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	alarms, err := alarmTable()
	if err != nil {
		return nil, multierr.Append(err, arm.Close())
	}
	mon := NewMonitor(arm.Feed(), arm, alarms, arm.Config(), logger.Sublogger("feedback"))
	mon.Start()
	return &Session{Arm: arm, Monitor: mon}, nil
}

func (s *Session) Close() error {
	if s.Monitor != nil {
		s.Monitor.Close()
	}
	if s.Arm != nil {
		return s.Arm.Close()
	}
	return nil
}
