// Package realtime maintains the reconnecting notification channel.
package realtime

import (
	"time"

	"goflare.io/aegis/internal/retrier"
)

// CloseNormal is the close code for an application-initiated shutdown.
// A close with this code never triggers a reconnect.
const CloseNormal = 1000

// State is the connection state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateNames lists every state's name.
func StateNames() []string {
	return []string{Disconnected.String(), Connecting.String(), Connected.String(), Error.String()}
}

// EventKind identifies what happened to the connection.
type EventKind int

const (
	EventConnect EventKind = iota
	EventOpened
	EventClosed
	EventErrored
	EventDisconnect
	EventMessage
)

// Event is an input to Machine.Apply. Code is set for EventClosed.
type Event struct {
	Kind EventKind
	Code int
}

// Effect lists the side effects a transition asks for.
type Effect struct {
	// Open dials a new connection.
	Open bool
	// Close closes the current connection with CloseNormal.
	Close bool
	// CancelTimer stops any pending reconnect.
	CancelTimer bool
	// Reconnect, when positive, schedules a reconnect after the delay,
	// replacing any pending one.
	Reconnect time.Duration
}

// Machine is the reconnect state machine. It is a value; Apply returns the
// next value instead of mutating.
type Machine struct {
	State State
	// Attempt counts consecutive failed connections since the last open.
	Attempt     int
	MaxAttempts int
	Backoff     retrier.Backoff
}

// NewMachine returns a disconnected machine.
func NewMachine(maxAttempts int, backoff retrier.Backoff) Machine {
	return Machine{State: Disconnected, MaxAttempts: maxAttempts, Backoff: backoff}
}

// Apply returns the machine after ev and the effects to perform.
func (m Machine) Apply(ev Event) (Machine, Effect) {
	switch ev.Kind {
	case EventConnect:
		if m.State != Disconnected && m.State != Error {
			return m, Effect{}
		}
		m.State = Connecting
		return m, Effect{Open: true, CancelTimer: true}

	case EventOpened:
		if m.State != Connecting {
			return m, Effect{}
		}
		m.State = Connected
		m.Attempt = 0
		return m, Effect{}

	case EventClosed:
		m.State = Disconnected
		if ev.Code == CloseNormal {
			return m, Effect{CancelTimer: true}
		}
		return m.scheduleReconnect()

	case EventErrored:
		m.State = Error
		return m.scheduleReconnect()

	case EventDisconnect:
		m.State = Disconnected
		m.Attempt = 0
		return m, Effect{Close: true, CancelTimer: true}

	default:
		return m, Effect{}
	}
}

func (m Machine) scheduleReconnect() (Machine, Effect) {
	if m.Attempt >= m.MaxAttempts {
		return m, Effect{CancelTimer: true}
	}
	delay := m.Backoff.Delay(m.Attempt)
	m.Attempt++
	return m, Effect{Reconnect: delay}
}
