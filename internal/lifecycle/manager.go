package lifecycle

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order.
type Manager struct {
	mu        sync.Mutex
	resources []resource
	closed    bool
	logger    zerolog.Logger
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates a manager that logs close failures to logger.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a resource. Registering after Close closes the resource immediately.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeOne(resource{name: name, closer: closer})
		return
	}
	m.resources = append(m.resources, resource{name: name, closer: closer})
	m.mu.Unlock()
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every resource, newest first, and returns all failures joined.
// Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := m.closeOne(resources[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeOne(res resource) error {
	err := res.closer.Close()
	if err != nil {
		m.logger.Error().Err(err).Str("resource", res.name).Msg("lifecycle.close_resource_failed")
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
