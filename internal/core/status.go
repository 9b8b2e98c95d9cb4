package core

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the classified presence of a monitored account.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

// OfflineMarker is the only platform status value that counts as offline.
const OfflineMarker = "offline"

// ClassifyPresence maps a raw platform status (online, idle, dnd, offline...)
// to Online or Offline. Only the explicit offline marker is Offline.
func ClassifyPresence(raw string) Status {
	if strings.EqualFold(strings.TrimSpace(raw), OfflineMarker) {
		return StatusOffline
	}
	return StatusOnline
}

// ParseStatus reads a persisted status. Empty and "unknown" are Unknown,
// legacy values like "idle" or "dnd" are Online.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return StatusUnknown
	case OfflineMarker:
		return StatusOffline
	default:
		return StatusOnline
	}
}

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return OfflineMarker
	default:
		return "unknown"
	}
}

func (s Status) IsOnline() bool {
	return s == StatusOnline
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// Value and Scan let sqlx read and write the status column as text.
func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *Status) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StatusUnknown
	case string:
		*s = ParseStatus(v)
	case []byte:
		*s = ParseStatus(string(v))
	default:
		return fmt.Errorf("unsupported status type %T", value)
	}
	return nil
}
