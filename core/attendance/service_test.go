package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (s *memStore) GetOpenSession(_ context.Context, studentID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.StudentID == studentID && sess.Open() {
			return sess, nil
		}
	}
	return Session{}, ErrNoSession
}

func (s *memStore) GetLastSession(_ context.Context, studentID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last Session
	var found bool
	for _, sess := range s.sessions {
		if sess.StudentID == studentID && (!found || sess.CheckedInAt.After(last.CheckedInAt) ||
			(sess.CheckedInAt.Equal(last.CheckedInAt) && sess.CheckedOutAt.After(last.CheckedOutAt))) {
			last, found = sess, true
		}
	}
	if !found {
		return Session{}, ErrNoSession
	}
	return last, nil
}

func (s *memStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.StudentID == sess.StudentID && existing.Open() {
			return Session{}, ErrSessionConflict
		}
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) CloseSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.ID]; !ok || !existing.Open() {
		return Session{}, ErrNoSession
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) QueryExpiredSessions(_ context.Context, now time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Session
	for _, sess := range s.sessions {
		if sess.Open() && !sess.ExpiresAt.After(now) {
			expired = append(expired, sess)
		}
	}
	return expired, nil
}

func (s *memStore) Statistics(context.Context) (Statistics, error) {
	return Statistics{}, nil
}

func (s *memStore) openCount(studentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, sess := range s.sessions {
		if sess.StudentID == studentID && sess.Open() {
			n++
		}
	}
	return n
}

func testConfig() core.AttendanceConfig {
	return core.AttendanceConfig{
		MinCheckInInterval: 10 * time.Minute,
		DefaultSessionTime: 8 * time.Hour,
	}
}

func setNow(t *testing.T, at time.Time) {
	t.Helper()
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = time.Now })
}

func TestToggleLifecycle(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	setNow(t, base)

	store := newMemStore()
	svc := NewService(testConfig(), store, nil, core.NopLogger())
	ctx := context.Background()

	// OUT -> IN
	tr, err := svc.Toggle(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if tr.Action != ActionCheckedIn {
		t.Errorf("Action = %v, want %v", tr.Action, ActionCheckedIn)
	}
	if want := base.Add(8 * time.Hour); !tr.Session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tr.Session.ExpiresAt, want)
	}

	// IN -> OUT, 30 minutes later
	setNow(t, base.Add(30*time.Minute))
	tr, err = svc.Toggle(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if tr.Action != ActionCheckedOut {
		t.Errorf("Action = %v, want %v", tr.Action, ActionCheckedOut)
	}

	// refused 5 minutes into the 10 minute cooldown
	setNow(t, base.Add(35*time.Minute))
	_, err = svc.Toggle(ctx, "stu-1")
	cerr, ok := IsCooldown(err)
	if !ok {
		t.Fatalf("Toggle() error = %v, want CooldownError", err)
	}
	if cerr.Remaining != 5*time.Minute {
		t.Errorf("Remaining = %v, want 5m", cerr.Remaining)
	}

	// allowed once the cooldown elapses
	setNow(t, base.Add(41*time.Minute))
	tr, err = svc.Toggle(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if tr.Action != ActionCheckedIn {
		t.Errorf("Action = %v, want %v", tr.Action, ActionCheckedIn)
	}
}

func TestExplicitCheckInCheckOut(t *testing.T) {
	store := newMemStore()
	svc := NewService(testConfig(), store, nil, core.NopLogger())
	ctx := context.Background()

	if _, err := svc.CheckOut(ctx, "stu-1"); errors.Cause(err) != ErrNotCheckedIn {
		t.Errorf("CheckOut() error = %v, want %v", err, ErrNotCheckedIn)
	}

	if _, err := svc.CheckIn(ctx, "stu-1"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if _, err := svc.CheckIn(ctx, "stu-1"); errors.Cause(err) != ErrSessionConflict {
		t.Errorf("second CheckIn() error = %v, want %v", err, ErrSessionConflict)
	}

	if _, err := svc.CheckOut(ctx, "stu-1"); err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}
}

func TestStatus(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	setNow(t, base)

	store := newMemStore()
	svc := NewService(testConfig(), store, nil, core.NopLogger())
	ctx := context.Background()

	// never seen
	st, err := svc.Status(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != StateOut || st.CooldownRemainingMs != 0 {
		t.Errorf("status = %+v, want plain OUT", st)
	}

	if _, err = svc.Toggle(ctx, "stu-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	st, err = svc.Status(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != StateIn || !st.CheckedInAt.Equal(base) {
		t.Errorf("status = %+v, want IN since %v", st, base)
	}

	setNow(t, base.Add(time.Hour))
	if _, err = svc.Toggle(ctx, "stu-1"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	setNow(t, base.Add(time.Hour+4*time.Minute))
	st, err = svc.Status(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != StateOut {
		t.Errorf("State = %v, want OUT", st.State)
	}
	if want := (6 * time.Minute).Milliseconds(); st.CooldownRemainingMs != want {
		t.Errorf("CooldownRemainingMs = %d, want %d", st.CooldownRemainingMs, want)
	}
}

func TestExpireOverdue(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	setNow(t, base)

	store := newMemStore()
	b := &stateRecorder{}
	svc := NewService(testConfig(), store, b, core.NopLogger())
	ctx := context.Background()

	tr, err := svc.Toggle(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if _, err = svc.Toggle(ctx, "stu-2"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	// only stu-1's session is past its expiry
	setNow(t, base.Add(8*time.Hour+time.Minute))
	store.mu.Lock()
	for id, sess := range store.sessions {
		if sess.StudentID == "stu-2" {
			sess.ExpiresAt = base.Add(24 * time.Hour)
			store.sessions[id] = sess
			break
		}
	}
	store.mu.Unlock()

	closed, err := svc.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue() error = %v", err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	store.mu.Lock()
	got := store.sessions[tr.Session.ID]
	store.mu.Unlock()
	if got.Open() || !got.AutoClosed {
		t.Errorf("session = %+v, want auto-closed", got)
	}
	// closed as of the expiry instant, not the sweep instant
	if want := base.Add(8 * time.Hour); !got.CheckedOutAt.Equal(want) {
		t.Errorf("CheckedOutAt = %v, want %v", got.CheckedOutAt, want)
	}

	b.mu.Lock()
	last := b.events[len(b.events)-1]
	b.mu.Unlock()
	if last.Type != core.EventAttendanceState || last.StudentID != "stu-1" || last.State != string(StateOut) {
		t.Errorf("last event = %+v, want stu-1 OUT", last)
	}

	// idempotent
	closed, err = svc.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue() error = %v", err)
	}
	if closed != 0 {
		t.Errorf("second sweep closed = %d, want 0", closed)
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *stateRecorder) Publish(evt core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func TestToggleConcurrentSameStudent(t *testing.T) {
	cfg := testConfig()
	cfg.MinCheckInInterval = 0 // let every toggle through

	store := newMemStore()
	svc := NewService(cfg, store, nil, core.NopLogger())
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Toggle(ctx, "stu-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Toggle() error = %v", err)
	}
	// even number of toggles always lands on OUT
	if open := store.openCount("stu-1"); open != 0 {
		t.Errorf("open sessions = %d, want 0", open)
	}
}

func TestToggleIndependentStudents(t *testing.T) {
	store := newMemStore()
	svc := NewService(testConfig(), store, nil, core.NopLogger())
	ctx := context.Background()

	if _, err := svc.Toggle(ctx, "stu-1"); err != nil {
		t.Fatalf("Toggle(stu-1) error = %v", err)
	}
	if _, err := svc.Toggle(ctx, "stu-2"); err != nil {
		t.Fatalf("Toggle(stu-2) error = %v", err)
	}
	if store.openCount("stu-1") != 1 || store.openCount("stu-2") != 1 {
		t.Error("each student should hold their own open session")
	}
}
