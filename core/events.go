package core

import "time"

// Event types published to connected observers.
const (
	EventScan            = "scan"
	EventAttendanceState = "attendance_state"
)

// Event is the realtime message fanned out to dashboard observers.
type Event struct {
	Type      string    `json:"type"`
	StudentID string    `json:"student_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	State     string    `json:"state,omitempty"`
	Accepted  *bool     `json:"accepted,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans events out to all currently connected observers.
// Publish is fire-and-forget: it never blocks on observer acknowledgment
// and is a no-op when nobody is connected.
type Broadcaster interface {
	Publish(Event)
}

type nopBroadcaster struct{}

func NopBroadcaster() Broadcaster { return nopBroadcaster{} }

func (nopBroadcaster) Publish(Event) {}
