// Package connection implements the per-exchange connection lifecycle: status snapshots, the single
// pending operation per exchange, and the registry of managers.
package connection

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Status enumerates the lifecycle states of an exchange connection.
type Status uint8

const (
	// StatusIdle is the initial state before any connection attempt.
	StatusIdle Status = iota
	// StatusConnecting marks an outstanding socket open.
	StatusConnecting
	// StatusConnected marks an established socket.
	StatusConnected
	// StatusDisconnected marks a connection torn down before it was established.
	StatusDisconnected
	// StatusClosing marks a close handshake in progress.
	StatusClosing
	// StatusClosed marks a completed close handshake.
	StatusClosed
	// StatusReconnecting marks the wait before an automatic retry.
	StatusReconnecting
	// StatusError marks a failed attempt or a lost connection.
	StatusError
)

var statusNames = [...]string{
	StatusIdle:         "IDLE",
	StatusConnecting:   "CONNECTING",
	StatusConnected:    "CONNECTED",
	StatusDisconnected: "DISCONNECTED",
	StatusClosing:      "CLOSING",
	StatusClosed:       "CLOSED",
	StatusReconnecting: "RECONNECTING",
	StatusError:        "ERROR",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus converts a status name into its Status value.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, candidate := range statusNames {
		if candidate == upper {
			return Status(i), nil
		}
	}
	return StatusIdle, fmt.Errorf("unknown connection status %q", name)
}

// MarshalJSON renders the status as its upper-case name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the upper-case status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode connection status: %w", err)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Restartable reports whether a fresh connection attempt may start from this state.
func (s Status) Restartable() bool {
	switch s {
	case StatusIdle, StatusDisconnected, StatusClosed, StatusError:
		return true
	default:
		return false
	}
}

// InProgress reports whether an attempt is underway.
func (s Status) InProgress() bool {
	return s == StatusConnecting || s == StatusReconnecting
}
