package attendance

import "time"

type State string

const (
	StateOut State = "OUT"
	StateIn  State = "IN"
)

type Action string

const (
	ActionCheckedIn  Action = "checked_in"
	ActionCheckedOut Action = "checked_out"
)

type (
	// Session is one visit: created on check-in, closed on check-out.
	// Zero time values mean "not set".
	Session struct {
		ID            string    `json:"id"`
		StudentID     string    `json:"student_id"`
		State         State     `json:"state"`
		CheckedInAt   time.Time `json:"checked_in_at"`
		CheckedOutAt  time.Time `json:"checked_out_at,omitempty"`
		CooldownUntil time.Time `json:"cooldown_until,omitempty"`
		ExpiresAt     time.Time `json:"expires_at"`
		// set when the expiry sweeper closed the session instead of a scan
		AutoClosed bool `json:"auto_closed,omitempty"`
	}

	// Transition is the outcome of one state-machine step.
	Transition struct {
		Action  Action  `json:"action"`
		Session Session `json:"session"`
	}

	// Status is the point-in-time answer for one student.
	Status struct {
		State               State     `json:"state"`
		CheckedInAt         time.Time `json:"checked_in_at,omitempty"`
		SessionExpiresAt    time.Time `json:"session_expires_at,omitempty"`
		CooldownRemainingMs int64     `json:"cooldown_remaining_ms,omitempty"`
	}

	Statistics struct {
		TotalCheckIns      int     `json:"total_check_ins"`
		CurrentlyIn        int     `json:"currently_in"`
		UniqueStudents     int     `json:"unique_students"`
		AverageVisitLength float64 `json:"average_visit_minutes"`
	}
)

// Open reports whether the session still counts as IN.
func (s Session) Open() bool { return s.State == StateIn }
