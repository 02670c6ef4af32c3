package domain

import (
	"slices"
	"time"
)

// CallState is the coarse lifecycle of a call.
type CallState string

const (
	CallInitiating CallState = "initiating"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
)

// Call end reasons.
const (
	EndReasonHangup       = "ended"
	EndReasonDeclined     = "declined"
	EndReasonTimeout      = "timeout"
	EndReasonDisconnected = "disconnected"
)

// Call types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallSession is a two-party signaling session.
type CallSession struct {
	ID           string
	InitiatorID  string
	CalleeID     string
	CallType     string
	Participants []string
	State        CallState
	EndReason    string
	EndedBy      string
	CreatedAt    time.Time
	AnsweredAt   *time.Time
	EndedAt      *time.Time
	Duration     time.Duration
}

// HasParticipant reports whether userID takes part in the call.
func (c *CallSession) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// Active reports whether signaling may still flow.
func (c *CallSession) Active() bool {
	return c.State == CallInitiating || c.State == CallConnected
}

// Peers returns the participants other than userID.
func (c *CallSession) Peers(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// End stamps the end time and duration. Duration counts from the answer;
// calls that never connected last zero.
func (c *CallSession) End(by, reason string, at time.Time) {
	c.State = CallEnded
	c.EndReason = reason
	c.EndedBy = by
	c.EndedAt = &at
	if c.AnsweredAt != nil {
		c.Duration = at.Sub(*c.AnsweredAt)
	}
}
