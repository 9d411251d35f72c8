package dobot

import (
	"context"
	"io"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// AlarmHandler is the part of the arm the error watcher needs.
type AlarmHandler interface {
	ErrorIDs(ctx context.Context) ([]int, error)
	ClearError(ctx context.Context) error
	Continue(ctx context.Context) error
}

// Monitor keeps the latest telemetry snapshot and watches for alarms.
type Monitor struct {
	feed    io.Reader
	handler AlarmHandler
	alarms  *AlarmTable
	cfg     Config
	logger  logging.Logger
	errLog  logging.Logger

	mu       sync.RWMutex
	snapshot Telemetry
	valid    bool
	active   []Alarm
	frames   uint64
	rejected uint64

	cancelCtx  context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once
}

func NewMonitor(feed io.Reader, handler AlarmHandler, alarms *AlarmTable, cfg Config, logger logging.Logger) *Monitor {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Monitor{
		feed:       feed,
		handler:    handler,
		alarms:     alarms,
		cfg:        cfg,
		logger:     logger,
		errLog:     logger.Sublogger("errors"),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Start launches the feedback poller and, when a handler is set, the error watcher.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer m.wg.Done()
			m.pollFeedback()
		})
		if m.handler != nil && m.alarms != nil {
			m.wg.Add(1)
			utils.PanicCapturingGo(func() {
				defer m.wg.Done()
				m.watchErrors()
			})
		}
	})
}

// Snapshot returns the latest valid telemetry; ok is false until the first valid frame.
func (m *Monitor) Snapshot() (Telemetry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.valid
}

// ActiveAlarms returns the alarms surfaced by the last error check.
func (m *Monitor) ActiveAlarms() []Alarm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alarm, len(m.active))
	copy(out, m.active)
	return out
}

// Stats returns the number of accepted and rejected frames.
func (m *Monitor) Stats() (accepted, rejected uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames, m.rejected
}

func (m *Monitor) pollFeedback() {
	ticker := time.NewTicker(m.cfg.FeedbackInterval)
	defer ticker.Stop()

	buf := make([]byte, FrameSize)
	for {
		select {
		case <-m.cancelCtx.Done():
			return
		case <-ticker.C:
		}

		if _, err := io.ReadFull(m.feed, buf); err != nil {
			if m.cancelCtx.Err() == nil {
				m.logger.Errorf("feedback channel closed: %v", err)
			}
			return
		}
		m.ingest(buf)
	}
}

func (m *Monitor) ingest(buf []byte) {
	t, err := DecodeFeedback(buf)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rejected++
		m.logger.Debugf("dropping frame: %v", err)
		return
	}
	t.ReceivedAt = time.Now()
	m.snapshot = t
	m.valid = true
	m.frames++
}

func (m *Monitor) watchErrors() {
	ticker := time.NewTicker(m.cfg.ErrorCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.cancelCtx.Done():
			return
		case <-ticker.C:
		}
		m.checkErrors(m.cancelCtx)
	}
}

// checkErrors describes active alarms and clears them when every one is recoverable
// and auto-clear is on.
func (m *Monitor) checkErrors(ctx context.Context) {
	snap, ok := m.Snapshot()
	if !ok || !snap.ErrorState {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		return
	}

	ids, err := m.handler.ErrorIDs(ctx)
	if err != nil {
		m.errLog.Errorf("cannot read alarm ids: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	active := make([]Alarm, 0, len(ids))
	recoverable := true
	for _, id := range ids {
		a := m.alarms.Describe(id)
		active = append(active, a)
		recoverable = recoverable && a.Recoverable
		m.errLog.Warn(a.String())
	}
	m.mu.Lock()
	m.active = active
	m.mu.Unlock()

	if !m.cfg.AutoClearErrors || !recoverable {
		return
	}
	if err := m.handler.ClearError(ctx); err != nil {
		m.errLog.Errorf("clear error failed: %v", err)
		return
	}
	if !utils.SelectContextOrWait(ctx, 10*time.Millisecond) {
		return
	}
	if err := m.handler.Continue(ctx); err != nil {
		m.errLog.Errorf("continue failed: %v", err)
		return
	}
	m.errLog.Infof("cleared %d recoverable alarm(s)", len(active))
}

// Close stops both tasks and closes the feed so that a blocked read returns.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.cancelFunc()
		if c, ok := m.feed.(io.Closer); ok {
			utils.UncheckedError(c.Close())
		}
		m.wg.Wait()
	})
}
