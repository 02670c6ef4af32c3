package domain

import "time"

// Status is a user's advertised availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Settable reports whether a client may advertise s. Offline is derived
// from having no connections and cannot be chosen.
func (s Status) Settable() bool {
	return s.Valid() && s != StatusOffline
}

// Presence is the computed presence of a user.
type Presence struct {
	UserID       string    `json:"user_id"`
	Online       bool      `json:"online"`
	Status       Status    `json:"status"`
	CustomStatus string    `json:"custom_status,omitempty"`
	Connections  int       `json:"connections"`
	LastSeen     time.Time `json:"last_seen"`
}
