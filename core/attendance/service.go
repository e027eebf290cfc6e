package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
)

var (
	// errors
	ErrNoSession       = errors.New("no attendance session found")
	ErrNotCheckedIn    = errors.New("student is not checked in")
	ErrSessionConflict = errors.New("student already has an open session")

	nowFunc = time.Now // mockable
)

// CooldownError is a recoverable refusal: the student checked out too
// recently to check in again. It carries the remaining wait so the operator
// sees a countdown, not a generic failure.
type CooldownError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("check-in not allowed for another %s", e.Remaining.Round(time.Second))
}

// IsCooldown unwraps err into a *CooldownError if that is its cause.
func IsCooldown(err error) (*CooldownError, bool) {
	cerr, ok := errors.Cause(err).(*CooldownError)
	return cerr, ok
}

type (
	// Store is the external session persistence. Read-your-writes
	// consistency per student key is assumed; long-term archival is the
	// store's problem, not ours.
	Store interface {
		// GetOpenSession returns the student's IN session, or ErrNoSession.
		GetOpenSession(ctx context.Context, studentID string) (Session, error)
		// GetLastSession returns the student's most recent session
		// regardless of state, or ErrNoSession.
		GetLastSession(ctx context.Context, studentID string) (Session, error)
		// CreateSession persists a new open session. Returns
		// ErrSessionConflict if the student already has one.
		CreateSession(ctx context.Context, sess Session) (Session, error)
		// CloseSession persists the checked-out state of an open session.
		CloseSession(ctx context.Context, sess Session) (Session, error)
		// QueryExpiredSessions returns open sessions whose ExpiresAt has passed.
		QueryExpiredSessions(ctx context.Context, now time.Time) ([]Session, error)
		Statistics(ctx context.Context) (Statistics, error)
	}

	Service struct {
		cfg         core.AttendanceConfig
		store       Store
		broadcaster core.Broadcaster
		logger      core.Logger
		locks       *keyedMutex
	}
)

func NewService(cfg core.AttendanceConfig, store Store, broadcaster core.Broadcaster, logger core.Logger) *Service {
	if broadcaster == nil {
		broadcaster = core.NopBroadcaster()
	}
	return &Service{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
}

// Toggle is the single transition function: one scan code flips the
// student's state based on where they are now. IN checks out; OUT with an
// elapsed cooldown checks in; OUT inside the cooldown is refused with a
// *CooldownError. Transitions for the same student are serialized; other
// students are untouched.
func (svc *Service) Toggle(ctx context.Context, studentID string) (Transition, error) {
	unlock := svc.locks.Lock(studentID)
	defer unlock()

	open, err := svc.store.GetOpenSession(ctx, studentID)
	switch errors.Cause(err) {
	case nil:
		return svc.checkOut(ctx, open)
	case ErrNoSession:
		return svc.checkIn(ctx, studentID)
	default:
		return Transition{}, errors.Wrap(err, "getting open session")
	}
}

// CheckIn is the explicit self-service variant of Toggle's OUT→IN edge.
// An already-open session is a conflict rather than a silent checkout.
func (svc *Service) CheckIn(ctx context.Context, studentID string) (Transition, error) {
	unlock := svc.locks.Lock(studentID)
	defer unlock()

	if _, err := svc.store.GetOpenSession(ctx, studentID); err == nil {
		return Transition{}, ErrSessionConflict
	} else if errors.Cause(err) != ErrNoSession {
		return Transition{}, errors.Wrap(err, "getting open session")
	}
	return svc.checkIn(ctx, studentID)
}

// CheckOut is the explicit self-service variant of Toggle's IN→OUT edge.
func (svc *Service) CheckOut(ctx context.Context, studentID string) (Transition, error) {
	unlock := svc.locks.Lock(studentID)
	defer unlock()

	open, err := svc.store.GetOpenSession(ctx, studentID)
	switch errors.Cause(err) {
	case nil:
		return svc.checkOut(ctx, open)
	case ErrNoSession:
		return Transition{}, ErrNotCheckedIn
	default:
		return Transition{}, errors.Wrap(err, "getting open session")
	}
}

// checkIn creates the new session. Callers must hold the student's lock.
func (svc *Service) checkIn(ctx context.Context, studentID string) (Transition, error) {
	now := nowFunc().UTC()

	last, err := svc.store.GetLastSession(ctx, studentID)
	if err != nil && errors.Cause(err) != ErrNoSession {
		return Transition{}, errors.Wrap(err, "getting last session")
	}
	if err == nil && !last.CooldownUntil.IsZero() && now.Before(last.CooldownUntil) {
		return Transition{}, &CooldownError{
			Until:     last.CooldownUntil,
			Remaining: last.CooldownUntil.Sub(now),
		}
	}

	sess, err := svc.store.CreateSession(ctx, Session{
		ID:          uuid.New().String(),
		StudentID:   studentID,
		State:       StateIn,
		CheckedInAt: now,
		ExpiresAt:   now.Add(svc.cfg.DefaultSessionTime),
	})
	if err != nil {
		return Transition{}, errors.Wrap(err, "creating session")
	}

	svc.publishState(studentID, StateIn, now)
	return Transition{Action: ActionCheckedIn, Session: sess}, nil
}

// checkOut closes the open session. Callers must hold the student's lock.
func (svc *Service) checkOut(ctx context.Context, open Session) (Transition, error) {
	now := nowFunc().UTC()

	open.State = StateOut
	open.CheckedOutAt = now
	open.CooldownUntil = now.Add(svc.cfg.MinCheckInInterval)

	sess, err := svc.store.CloseSession(ctx, open)
	if err != nil {
		return Transition{}, errors.Wrap(err, "closing session")
	}

	svc.publishState(open.StudentID, StateOut, now)
	return Transition{Action: ActionCheckedOut, Session: sess}, nil
}

// Status reports the student's current state and, when OUT inside the
// cooldown, the remaining wait.
func (svc *Service) Status(ctx context.Context, studentID string) (Status, error) {
	if open, err := svc.store.GetOpenSession(ctx, studentID); err == nil {
		return Status{
			State:            StateIn,
			CheckedInAt:      open.CheckedInAt,
			SessionExpiresAt: open.ExpiresAt,
		}, nil
	} else if errors.Cause(err) != ErrNoSession {
		return Status{}, errors.Wrap(err, "getting open session")
	}

	st := Status{State: StateOut}
	last, err := svc.store.GetLastSession(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNoSession {
			return st, nil
		}
		return Status{}, errors.Wrap(err, "getting last session")
	}
	if remaining := last.CooldownUntil.Sub(nowFunc().UTC()); remaining > 0 {
		st.CooldownRemainingMs = remaining.Milliseconds()
	}
	return st, nil
}

// ExpireOverdue force-closes open sessions whose ExpiresAt has passed, as
// if the student had scanned out at the expiry instant. Returns how many
// sessions were closed.
func (svc *Service) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := svc.store.QueryExpiredSessions(ctx, nowFunc().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "querying expired sessions")
	}

	var closed int
	for _, sess := range expired {
		if err = svc.expireOne(ctx, sess); err != nil {
			svc.logger.Error(fmt.Sprintf("expiring session %s: %v", sess.ID, err), err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (svc *Service) expireOne(ctx context.Context, sess Session) error {
	unlock := svc.locks.Lock(sess.StudentID)
	defer unlock()

	// the student may have scanned out while we held the candidate list
	open, err := svc.store.GetOpenSession(ctx, sess.StudentID)
	if err != nil {
		if errors.Cause(err) == ErrNoSession {
			return nil
		}
		return errors.Wrap(err, "getting open session")
	}
	if open.ID != sess.ID || open.ExpiresAt.After(nowFunc().UTC()) {
		return nil
	}

	open.State = StateOut
	open.CheckedOutAt = open.ExpiresAt
	open.CooldownUntil = open.ExpiresAt.Add(svc.cfg.MinCheckInInterval)
	open.AutoClosed = true

	if _, err = svc.store.CloseSession(ctx, open); err != nil {
		return errors.Wrap(err, "closing session")
	}
	svc.publishState(open.StudentID, StateOut, open.CheckedOutAt)
	return nil
}

func (svc *Service) Statistics(ctx context.Context) (Statistics, error) {
	return svc.store.Statistics(ctx)
}

// publishState announces a committed transition. Called inside the
// student's critical section so observers see same-student events in
// commit order.
func (svc *Service) publishState(studentID string, state State, at time.Time) {
	svc.broadcaster.Publish(core.Event{
		Type:      core.EventAttendanceState,
		StudentID: studentID,
		State:     string(state),
		Timestamp: at,
	})
}
