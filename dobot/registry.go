package dobot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// OpenFunc creates a session; the registry uses Open unless told otherwise.
type OpenFunc func(ctx context.Context, cfg Config, logger logging.Logger) (*Session, error)

type sessionEntry struct {
	session  *Session
	config   Config
	refCount int64 // Atomic reference counter
	mu       sync.RWMutex
}

// Registry shares one session per controller host between the service and tools.
type Registry struct {
	entries map[string]*sessionEntry // host -> entry
	mu      sync.RWMutex
	open    OpenFunc
}

func NewRegistry(open OpenFunc) *Registry {
	if open == nil {
		open = Open
	}
	return &Registry{
		entries: make(map[string]*sessionEntry),
		open:    open,
	}
}

// DefaultRegistry is the process-wide registry.
var DefaultRegistry = NewRegistry(nil)

// Acquire returns the shared session for cfg.Host, opening it on first use.
func (r *Registry) Acquire(ctx context.Context, cfg Config, logger logging.Logger) (*Session, error) {
	if _, _, err := cfg.Validate("arm"); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entry, exists := r.entries[cfg.Host]
	r.mu.RUnlock()

	if !exists {
		return r.create(ctx, cfg, logger)
	}
	return r.acquireFrom(ctx, entry, cfg, logger)
}

// errSessionGone marks an entry whose last reference was released after lookup.
var errSessionGone = errors.New("session released")

func (r *Registry) acquireFrom(ctx context.Context, entry *sessionEntry, cfg Config, logger logging.Logger) (*Session, error) {
	session, err := r.acquireExisting(entry, cfg)
	if errors.Is(err, errSessionGone) {
		return r.create(ctx, cfg, logger)
	}
	return session, err
}

func (r *Registry) acquireExisting(entry *sessionEntry, cfg Config) (*Session, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.session == nil {
		return nil, errors.Wrapf(errSessionGone, "host %s", cfg.Host)
	}
	if entry.config != cfg {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing session for %s uses different config (refCount: %d)", cfg.Host, currentRefCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.session, nil
}

func (r *Registry) create(ctx context.Context, cfg Config, logger logging.Logger) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[cfg.Host]; exists && entry.session != nil {
		return r.acquireExisting(entry, cfg)
	}

	session, err := r.open(ctx, cfg, logger)
	if err != nil {
		// failed opens are not cached so the next Acquire retries the dial
		return nil, err
	}
	entry := &sessionEntry{session: session, config: cfg}
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[cfg.Host] = entry

	logger.Infof("opened shared arm session for %s", cfg.Host)
	return session, nil
}

// Release drops one reference and closes the session when none remain.
func (r *Registry) Release(host string) error {
	r.mu.Lock()
	entry, exists := r.entries[host]
	if !exists {
		r.mu.Unlock()
		return nil
	}
	entry.mu.Lock()
	remaining := atomic.AddInt64(&entry.refCount, -1)
	var session *Session
	if remaining <= 0 {
		delete(r.entries, host)
		session = entry.session
		entry.session = nil
		atomic.StoreInt64(&entry.refCount, 0)
	}
	entry.mu.Unlock()
	r.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// ForceClose closes the session for host regardless of outstanding references.
func (r *Registry) ForceClose(host string) error {
	r.mu.Lock()
	entry, exists := r.entries[host]
	if exists {
		delete(r.entries, host)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.session != nil {
		err = entry.session.Close()
		entry.session = nil
	}
	atomic.StoreInt64(&entry.refCount, 0)
	return err
}

// Status reports the reference count and a short summary for host.
func (r *Registry) Status(host string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[host]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	summary := fmt.Sprintf("TCP: %s dashboard=%d motion=%d feedback=%d",
		entry.config.Host, entry.config.DashboardPort, entry.config.MotionPort, entry.config.FeedbackPort)
	return atomic.LoadInt64(&entry.refCount), entry.session != nil, summary
}
