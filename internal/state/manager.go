// Package state owns the canonical device state. The Manager is the only
// writer; everything else reads through it and learns about changes via
// the hooks and listeners it fans out to.
package state

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/esk8-logger/internal/logging"
	"github.com/sweeney/esk8-logger/internal/logic"
)

var log = logging.Component("state")

// historySize bounds the transition history kept for the status page.
const historySize = 16

// Publisher pushes the state value to the telemetry boundary.
type Publisher interface {
	PublishState(s logic.DeviceState) error
}

// Logger is the log-file lifecycle hook set.
type Logger interface {
	StartRide() error
	StopRide() error
	StartCharging() error
}

// ManualGate reports whether explicit start/stop commands are accepted.
type ManualGate interface {
	ManualRideStart() bool
}

// Hooks are the downstream collaborators of the manager. Nil fields are
// skipped.
type Hooks struct {
	Publishers []Publisher
	Logger     Logger
	Manual     ManualGate
	Now        func() time.Time
}

// Change describes one applied SetState call.
type Change struct {
	From    logic.DeviceState
	To      logic.DeviceState
	Event   logic.EventType
	Changed bool
	At      time.Time
}

// Listener is notified after every applied SetState, outside the lock.
type Listener func(Change)

// Manager is the sole mutator of DeviceState. Writers are serialized, so
// hooks, mirrors and listeners see changes in order; none of them may call
// back into SetState, Apply or Command.
type Manager struct {
	hooks Hooks

	writeMu sync.Mutex

	mu        sync.RWMutex
	state     logic.DeviceState
	history   []Change
	mirrors   []Listener
	listeners []Listener
}

// NewManager returns a manager in the Parked state.
func NewManager(hooks Hooks) *Manager {
	if hooks.Now == nil {
		hooks.Now = time.Now
	}
	return &Manager{
		hooks: hooks,
		state: logic.StateParked,
	}
}

// Mirror registers a listener that runs right after the state is
// updated, before it is published and before the log hooks fire. Copies of
// the state kept elsewhere (the status tracker) register here so the hooks
// read a current copy.
func (m *Manager) Mirror(l Listener) {
	m.mu.Lock()
	m.mirrors = append(m.mirrors, l)
	m.mu.Unlock()
}

// Subscribe registers a listener for applied state changes.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() logic.DeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsDriving reports whether the board is being ridden.
func (m *Manager) IsDriving() bool {
	return m.State() == logic.StateRiding
}

// IsCharging reports whether the pack is charging.
func (m *Manager) IsCharging() bool {
	return m.State() == logic.StateCharging
}

// History returns the most recent applied changes, oldest first.
func (m *Manager) History() []Change {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Change, len(m.history))
	copy(out, m.history)
	return out
}

// SetState applies next unconditionally. Setting the current state again
// re-publishes it without firing the log hooks.
func (m *Manager) SetState(next logic.DeviceState) {
	m.set(next, "", nil)
}

// Apply applies a classifier request. Requests computed against a state
// that is no longer current, or that the transition table rejects, are
// dropped.
func (m *Manager) Apply(req *logic.TransitionRequest) bool {
	if req == nil {
		return false
	}
	if to, ok := logic.Next(req.From, req.Event); !ok || to != req.To {
		log.WithField("event", req.Event).Debug("dropping illegal transition request")
		return false
	}

	from := req.From
	return m.set(req.To, req.Event, &from)
}

// Command handles an explicit start/stop request. It is only honoured
// when manual ride start is enabled and the move is legal from the
// current state.
func (m *Manager) Command(event logic.EventType) bool {
	if m.hooks.Manual == nil || !m.hooks.Manual.ManualRideStart() {
		log.WithField("event", event).Info("ignoring command, manual ride start is disabled")
		return false
	}
	req := logic.Request(m.State(), event, m.hooks.Now())
	if req == nil {
		log.WithFields(logrus.Fields{
			"event": event,
			"state": m.State(),
		}).Info("ignoring command not valid in current state")
		return false
	}
	return m.Apply(req)
}

// set applies next. With expect set, the change only happens if the
// current state still equals it; the check and the write share one lock.
func (m *Manager) set(next logic.DeviceState, event logic.EventType, expect *logic.DeviceState) bool {
	if !next.Valid() {
		log.WithField("state", next).Warn("ignoring unknown state")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	prev := m.state
	if expect != nil && prev != *expect {
		m.mu.Unlock()
		log.WithFields(logrus.Fields{
			"event":   event,
			"from":    *expect,
			"current": prev,
		}).Debug("dropping stale transition request")
		return false
	}
	m.state = next
	change := Change{
		From:    prev,
		To:      next,
		Event:   event,
		Changed: prev != next,
		At:      m.hooks.Now(),
	}
	if change.Changed {
		m.history = append(m.history, change)
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
	}
	mirrors := append([]Listener(nil), m.mirrors...)
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range mirrors {
		l(change)
	}

	if change.Changed {
		log.WithFields(logrus.Fields{
			"from":  prev,
			"to":    next,
			"event": event,
		}).Info("state changed")
	}

	for _, p := range m.hooks.Publishers {
		if err := p.PublishState(next); err != nil {
			log.WithError(err).Warn("publish state failed")
		}
	}

	if change.Changed {
		m.runLogHooks(prev, next)
	}

	for _, l := range listeners {
		l(change)
	}
	return true
}

func (m *Manager) runLogHooks(prev, next logic.DeviceState) {
	lg := m.hooks.Logger
	if lg == nil {
		return
	}
	if prev == logic.StateRiding {
		if err := lg.StopRide(); err != nil {
			log.WithError(err).Warn("stop ride log failed")
		}
	}
	switch next {
	case logic.StateRiding:
		if err := lg.StartRide(); err != nil {
			log.WithError(err).Warn("start ride log failed")
		}
	case logic.StateCharging:
		if err := lg.StartCharging(); err != nil {
			log.WithError(err).Warn("start charging log failed")
		}
	}
}
