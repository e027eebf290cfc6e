package inmemdb

import (
	"context"
	"time"

	"github.com/maktabahq/maktaba/core/attendance"
)

type sessionRepository struct {
	db *sessionTable
}

func NewSessionRepository(db *DB) attendance.Store {
	return &sessionRepository{db: db.sessions}
}

func (repo *sessionRepository) GetOpenSession(_ context.Context, studentID string) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sess := range repo.db.table {
		if sess.StudentID == studentID && sess.Open() {
			return *sess, nil
		}
	}
	return attendance.Session{}, attendance.ErrNoSession
}

func (repo *sessionRepository) GetLastSession(_ context.Context, studentID string) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var last *attendance.Session
	for _, sess := range repo.db.table {
		if sess.StudentID != studentID {
			continue
		}
		if last == nil || sess.CheckedInAt.After(last.CheckedInAt) {
			last = sess
		}
	}
	if last == nil {
		return attendance.Session{}, attendance.ErrNoSession
	}
	return *last, nil
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// same invariant the partial unique index enforces in postgres
	for _, existing := range repo.db.table {
		if existing.StudentID == sess.StudentID && existing.Open() {
			return attendance.Session{}, attendance.ErrSessionConflict
		}
	}
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) CloseSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.table[sess.ID]
	if !ok || !existing.Open() {
		return attendance.Session{}, attendance.ErrNoSession
	}
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) QueryExpiredSessions(_ context.Context, now time.Time) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var expired []attendance.Session
	for _, sess := range repo.db.table {
		if sess.Open() && !sess.ExpiresAt.After(now) {
			expired = append(expired, *sess)
		}
	}
	return expired, nil
}

func (repo *sessionRepository) Statistics(_ context.Context) (attendance.Statistics, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var stats attendance.Statistics
	students := make(map[string]struct{})
	var closed int
	var total time.Duration

	for _, sess := range repo.db.table {
		stats.TotalCheckIns++
		students[sess.StudentID] = struct{}{}
		if sess.Open() {
			stats.CurrentlyIn++
			continue
		}
		closed++
		total += sess.CheckedOutAt.Sub(sess.CheckedInAt)
	}
	stats.UniqueStudents = len(students)
	if closed > 0 {
		stats.AverageVisitLength = total.Minutes() / float64(closed)
	}
	return stats, nil
}
