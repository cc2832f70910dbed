// Package subscribe implements the receiver subscription manager
// (component C5): it owns the single cached Receiver, attaches and
// detaches it from the bound Transport as interest comes and goes, and
// fans inbound messages and method invocations out to the registered
// handlers.
//
// Adapted from the teacher's pkg/subscription.Manager, which indexes
// attribute-change subscriptions behind a mutex; this Manager is only
// ever driven from the session Machine's single worker goroutine, so it
// needs no locking of its own, but keeps the same map-of-handlers shape
// and an explicit Config with defaults.
package subscribe

import (
	"context"

	"github.com/rtmaster/iothub/internal/deviceerr"
	"github.com/rtmaster/iothub/internal/devicelog"
	"github.com/rtmaster/iothub/internal/ports"
)

// Config tunes Manager behavior. The zero value is usable;
// DefaultConfig documents the defaults explicitly, in the teacher's
// style.
type Config struct {
	// MaxMethodHandlers is not consulted by RegisterMethodHandler:
	// method handler registration is unbounded whatever its value.
	MaxMethodHandlers int
}

// DefaultConfig returns the Manager default configuration (unbounded
// method handler registration).
func DefaultConfig() Config {
	return Config{MaxMethodHandlers: 0}
}

// Manager is the C5 subscription manager.
type Manager struct {
	config    Config
	transport ports.Transport
	log       devicelog.Logger
	connID    string

	onMessage func(ports.Message)

	receiver         ports.Receiver
	messageListeners int
	methodHandlers   map[string]ports.MethodHandler
}

// NewManager constructs a Manager bound to transport. onMessage is
// called for every inbound message once message interest is active.
func NewManager(transport ports.Transport, connID string, log devicelog.Logger, onMessage func(ports.Message)) *Manager {
	if log == nil {
		log = devicelog.Noop()
	}
	return &Manager{
		config:         DefaultConfig(),
		transport:      transport,
		log:            log,
		connID:         connID,
		onMessage:      onMessage,
		methodHandlers: make(map[string]ports.MethodHandler),
	}
}

// AddMessageListener records interest in inbound messages. The
// controller facade tracks its own subscriber count and, through the
// session Machine, calls this when its first subscriber arrives;
// hasInterest reflects whether any interest remains.
func (m *Manager) AddMessageListener() { m.messageListeners++ }

// RemoveMessageListener releases one unit of interest.
func (m *Manager) RemoveMessageListener() {
	if m.messageListeners > 0 {
		m.messageListeners--
	}
}

func (m *Manager) hasInterest() bool {
	return m.messageListeners > 0 || len(m.methodHandlers) > 0
}

// EnsureMessageInterest attaches a receiver (if one isn't already
// cached) and wires the message callback, but only once per need: if a
// receiver is already present this is a no-op, matching the edge
// triggered attach described for the connected-state entry hook.
func (m *Manager) EnsureMessageInterest() error {
	if m.receiver != nil {
		return nil
	}
	if err := m.ensureReceiver(); err != nil {
		return err
	}
	if m.receiver == nil {
		return nil
	}
	m.receiver.OnMessage(m.onMessage)
	return nil
}

// Reconcile attaches a receiver and wires whichever callbacks match
// surviving interest (method handlers registered before a disconnect,
// outstanding message listeners). It is a no-op when no interest exists,
// preserving the receiver-existence invariant on entry to connected,
// where the cached receiver is always nil (the prior one was torn down
// on exit).
func (m *Manager) Reconcile() error {
	if !m.hasInterest() {
		return nil
	}
	if err := m.ensureReceiver(); err != nil {
		return err
	}
	if m.receiver == nil {
		return nil
	}
	if m.messageListeners > 0 {
		m.receiver.OnMessage(m.onMessage)
	}
	if len(m.methodHandlers) > 0 {
		m.attachMethodDispatch()
	}
	return nil
}

// ReleaseMessageInterest tears the receiver down if nothing else needs
// it (no method handlers remain registered).
func (m *Manager) ReleaseMessageInterest() {
	if m.hasInterest() {
		return
	}
	m.Teardown()
}

// RegisterMethodHandler records h under name and, if connected and no
// receiver is cached yet, triggers one and attaches a wrapper that
// turns raw method invocations into request/response pairs.
func (m *Manager) RegisterMethodHandler(name string, h ports.MethodHandler) error {
	if _, exists := m.methodHandlers[name]; exists {
		return deviceerr.DuplicateRegistration("start-method-receiver", name)
	}
	m.methodHandlers[name] = h
	if m.receiver == nil {
		if err := m.ensureReceiver(); err != nil {
			delete(m.methodHandlers, name)
			return err
		}
	}
	if m.receiver == nil {
		return nil
	}
	m.attachMethodDispatch()
	return nil
}

// attachMethodDispatch installs one dispatcher on the current receiver
// that looks up the handler for each inbound request by name at call
// time. Receiver.OnMethod is a single-sink setter (like OnMessage), so
// a per-name closure would overwrite the dispatch for every
// previously-registered method the moment a second one is added; a
// single dynamic dispatcher sidesteps that and is always safe to
// re-install, including across a Reconcile on a freshly obtained
// receiver.
func (m *Manager) attachMethodDispatch() {
	receiver := m.receiver
	transport := m.transport
	handlers := m.methodHandlers
	receiver.OnMethod(func(req ports.MethodRequest) {
		h, ok := handlers[req.Name]
		if !ok {
			return
		}
		resp, err := h(context.Background(), req)
		if err != nil {
			resp = ports.MethodResponse{RequestID: req.RequestID, Status: 500, Body: []byte(err.Error())}
		}
		_ = transport.SendMethodResponse(context.Background(), resp)
	})
}

// ensureReceiver requests a receiver from the transport and caches it;
// it calls GetReceiver even when one is already cached, so callers that
// must not re-request check the cache first. It treats a returned
// receiver identical to the cached one as
// a silent no-op: see DESIGN.md's resolution of the get-receiver
// ambiguity flagged in spec.md §9.
func (m *Manager) ensureReceiver() error {
	r, err := m.transport.GetReceiver(context.Background())
	if err != nil {
		return err
	}
	if r == m.receiver {
		return nil
	}
	m.receiver = r
	if r == nil {
		return nil
	}
	r.OnError(func(rerr error) {
		m.log.Log(devicelog.Event{
			ConnectionID: m.connID,
			Category:     devicelog.CategoryError,
			Error:        &devicelog.ErrorEvent{Op: "receiver", Message: rerr.Error()},
		})
	})
	return nil
}

// Teardown closes and forgets the cached receiver. Called on every exit
// from the connected state so the receiver-existence invariant holds.
func (m *Manager) Teardown() {
	if m.receiver == nil {
		return
	}
	_ = m.receiver.Close()
	m.receiver = nil
}
