package transport

import (
	"testing"

	"github.com/nexobay/courier/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Authenticating},
		{Connecting, Reconnecting},
		{Authenticating, Connected},
		{Authenticating, Reconnecting},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, should not have changed", m.Current())
	}
}

// TestConnectingCannotSkipAuth verifies CONNECTING cannot jump straight to
// CONNECTED: the auth envelope exchange always comes first.
func TestConnectingCannotSkipAuth(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Connecting)

	if err := m.Transition(Connected); err == nil {
		t.Fatal("Transition(CONNECTING -> CONNECTED) should fail; must authenticate first")
	}

	if err := m.Transition(Authenticating); err != nil {
		t.Fatalf("CONNECTING -> AUTHENTICATING: %v", err)
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("AUTHENTICATING -> CONNECTED: %v", err)
	}
}

// TestFullConnectLifecycle simulates connect, drop, reconnect, logout:
// DISCONNECTED → CONNECTING → AUTHENTICATING → CONNECTED → RECONNECTING →
// CONNECTING → AUTHENTICATING → CONNECTED → DISCONNECTED.
func TestFullConnectLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{
		Connecting, Authenticating, Connected,
		Reconnecting, Connecting, Authenticating, Connected,
		Disconnected,
	}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "conn.state_changed" {
		t.Errorf("event kind = %q, want conn.state_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:   {},
		Connecting:     {Connecting},
		Authenticating: {Connecting, Authenticating},
		Connected:      {Connecting, Authenticating, Connected},
		Reconnecting:   {Connecting, Authenticating, Connected, Reconnecting},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo %s: %v", target, err)
		}
	}
}
