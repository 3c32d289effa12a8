package transport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nexobay/courier/internal/bus"
)

// State represents the transport connection state.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Connected      State = "CONNECTED"
	Reconnecting   State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Logout may force
// Disconnected from any live state; Disconnected only ever leads to
// Connecting once credentials are supplied.
var validTransitions = map[State][]State{
	Disconnected:   {Connecting},
	Connecting:     {Authenticating, Reconnecting, Disconnected},
	Authenticating: {Connected, Reconnecting, Disconnected},
	Connected:      {Reconnecting, Disconnected},
	Reconnecting:   {Connecting, Disconnected},
}

// Machine tracks and enforces transport state transitions. Every successful
// transition is published on the bus as conn.state_changed.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error and leaves
// the state unchanged if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStateChanged, StateChange{From: from, To: to})
	}
	return nil
}

// StateChange is the payload for conn.state_changed events.
type StateChange struct {
	From State
	To   State
}
