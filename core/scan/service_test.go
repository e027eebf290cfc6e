package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/attendance"
)

// memSessionStore is a minimal attendance.Store for pipeline tests.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]attendance.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]attendance.Session)}
}

func (s *memSessionStore) GetOpenSession(_ context.Context, studentID string) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.StudentID == studentID && sess.Open() {
			return sess, nil
		}
	}
	return attendance.Session{}, attendance.ErrNoSession
}

func (s *memSessionStore) GetLastSession(_ context.Context, studentID string) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last attendance.Session
	var found bool
	for _, sess := range s.sessions {
		if sess.StudentID == studentID && (!found || sess.CheckedInAt.After(last.CheckedInAt)) {
			last, found = sess, true
		}
	}
	if !found {
		return attendance.Session{}, attendance.ErrNoSession
	}
	return last, nil
}

func (s *memSessionStore) CreateSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.StudentID == sess.StudentID && existing.Open() {
			return attendance.Session{}, attendance.ErrSessionConflict
		}
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memSessionStore) CloseSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memSessionStore) QueryExpiredSessions(_ context.Context, now time.Time) ([]attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []attendance.Session
	for _, sess := range s.sessions {
		if sess.Open() && !sess.ExpiresAt.After(now) {
			expired = append(expired, sess)
		}
	}
	return expired, nil
}

func (s *memSessionStore) Statistics(context.Context) (attendance.Statistics, error) {
	return attendance.Statistics{}, nil
}

type memBroadcaster struct {
	mu     sync.Mutex
	events []core.Event
}

func (b *memBroadcaster) Publish(evt core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *memBroadcaster) all() []core.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Event, len(b.events))
	copy(out, b.events)
	return out
}

func newTestService(broadcaster core.Broadcaster) *Service {
	attSvc := attendance.NewService(
		core.AttendanceConfig{
			MinCheckInInterval: 10 * time.Minute,
			DefaultSessionTime: 8 * time.Hour,
		},
		newMemSessionStore(),
		broadcaster,
		core.NopLogger(),
	)
	return NewService(testScannerConfig(), NewRouter(newFakeRegistry()), attSvc, broadcaster, core.NopLogger())
}

func TestServiceSubmitToggle(t *testing.T) {
	b := &memBroadcaster{}
	svc := newTestService(b)
	ctx := context.Background()

	// first scan: check-in
	res, err := svc.Submit(ctx, SubmitScan{Code: "STU-001", Source: SourceUSB})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted || res.Action != attendance.ActionCheckedIn {
		t.Errorf("first scan = %+v, want accepted check-in", res)
	}
	if res.Classification.Type != TypeStudent || res.Classification.RefID != "student-1" {
		t.Errorf("classification = %+v", res.Classification)
	}

	// second scan: check-out (always allowed from IN)
	res, err = svc.Submit(ctx, SubmitScan{Code: "STU-001", Source: SourceUSB})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Accepted || res.Action != attendance.ActionCheckedOut {
		t.Errorf("second scan = %+v, want accepted check-out", res)
	}

	// third scan: refused, cooldown still running
	res, err = svc.Submit(ctx, SubmitScan{Code: "STU-001", Source: SourceUSB})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Accepted || res.Reason != ReasonCooldownActive {
		t.Errorf("third scan = %+v, want cooldown refusal", res)
	}
	if res.CooldownRemainingMs <= 0 {
		t.Errorf("CooldownRemainingMs = %d, want > 0", res.CooldownRemainingMs)
	}
}

func TestServiceSubmitMalformed(t *testing.T) {
	b := &memBroadcaster{}
	svc := newTestService(b)

	res, err := svc.Submit(context.Background(), SubmitScan{Code: "x", Source: SourceUSB})
	if err != nil {
		t.Fatalf("Submit() error = %v, refusals must not be errors", err)
	}
	if res.Accepted || res.Reason != ReasonValidation {
		t.Errorf("result = %+v, want validation refusal", res)
	}

	events := b.all()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].Accepted == nil || *events[0].Accepted {
		t.Error("refusal event not marked accepted=false")
	}
}

func TestServiceSubmitUnrecognized(t *testing.T) {
	b := &memBroadcaster{}
	svc := newTestService(b)

	res, err := svc.Submit(context.Background(), SubmitScan{Code: "ZZZ-404", Source: SourceCamera})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Accepted || res.Reason != ReasonUnrecognized {
		t.Errorf("result = %+v, want unrecognized refusal", res)
	}
	if res.Classification.Type != TypeUnknown {
		t.Errorf("Type = %v, want %v", res.Classification.Type, TypeUnknown)
	}
}

func TestServiceSubmitBook(t *testing.T) {
	b := &memBroadcaster{}
	svc := newTestService(b)

	res, err := svc.Submit(context.Background(), SubmitScan{Code: "BOOK-001", Source: SourceUSB})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	// book scans classify but do not touch attendance
	if !res.Accepted || res.Action != "" {
		t.Errorf("result = %+v, want accepted with no action", res)
	}
	if res.Classification.Type != TypeBook {
		t.Errorf("Type = %v, want %v", res.Classification.Type, TypeBook)
	}
}

func TestServiceEventOrder(t *testing.T) {
	b := &memBroadcaster{}
	svc := newTestService(b)

	if _, err := svc.Submit(context.Background(), SubmitScan{Code: "STU-001", Source: SourceUSB}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	events := b.all()
	if len(events) != 2 {
		t.Fatalf("published %d events, want attendance_state then scan", len(events))
	}
	if events[0].Type != core.EventAttendanceState || events[1].Type != core.EventScan {
		t.Errorf("event order = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].State != string(attendance.StateIn) {
		t.Errorf("state = %q, want %q", events[0].State, attendance.StateIn)
	}
}
