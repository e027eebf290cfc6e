package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/maktabahq/maktaba/core/attendance"
)

const pqUniqueViolation = "23505"

type sessionRepository struct {
	db *sqlx.DB
}

var _ attendance.Store = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

type sessionRow struct {
	ID            string    `db:"id"`
	StudentID     string    `db:"student_id"`
	State         string    `db:"state"`
	CheckedInAt   time.Time `db:"checked_in_at"`
	CheckedOutAt  null.Time `db:"checked_out_at"`
	CooldownUntil null.Time `db:"cooldown_until"`
	ExpiresAt     time.Time `db:"expires_at"`
	AutoClosed    bool      `db:"auto_closed"`
}

func (repo sessionRepository) row(sess attendance.Session) sessionRow {
	return sessionRow{
		ID:            sess.ID,
		StudentID:     sess.StudentID,
		State:         string(sess.State),
		CheckedInAt:   sess.CheckedInAt.UTC(),
		CheckedOutAt:  null.NewTime(sess.CheckedOutAt.UTC(), !sess.CheckedOutAt.IsZero()),
		CooldownUntil: null.NewTime(sess.CooldownUntil.UTC(), !sess.CooldownUntil.IsZero()),
		ExpiresAt:     sess.ExpiresAt.UTC(),
		AutoClosed:    sess.AutoClosed,
	}
}

func (repo sessionRepository) unrow(row sessionRow) attendance.Session {
	return attendance.Session{
		ID:            row.ID,
		StudentID:     row.StudentID,
		State:         attendance.State(row.State),
		CheckedInAt:   row.CheckedInAt,
		CheckedOutAt:  row.CheckedOutAt.Time,
		CooldownUntil: row.CooldownUntil.Time,
		ExpiresAt:     row.ExpiresAt,
		AutoClosed:    row.AutoClosed,
	}
}

// trapNoRowsErr maps psql "no rows" err to attendance.ErrNoSession
func (repo sessionRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return attendance.ErrNoSession
	}
	return errors.Wrap(err, msg)
}

func (repo sessionRepository) GetOpenSession(ctx context.Context, studentID string) (attendance.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM student_sessions WHERE student_id = $1 AND state = 'IN'`, studentID)
	if err != nil {
		return attendance.Session{}, repo.trapNoRowsErr(err, "getting open session")
	}
	return repo.unrow(row), nil
}

func (repo sessionRepository) GetLastSession(ctx context.Context, studentID string) (attendance.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM student_sessions WHERE student_id = $1 ORDER BY checked_in_at DESC LIMIT 1`, studentID)
	if err != nil {
		return attendance.Session{}, repo.trapNoRowsErr(err, "getting last session")
	}
	return repo.unrow(row), nil
}

func (repo sessionRepository) CreateSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	row := repo.row(sess)
	_, err := repo.db.NamedExecContext(ctx,
		`INSERT INTO student_sessions (id, student_id, state, checked_in_at, checked_out_at, cooldown_until, expires_at, auto_closed)
		 VALUES (:id, :student_id, :state, :checked_in_at, :checked_out_at, :cooldown_until, :expires_at, :auto_closed)`,
		row)
	if err != nil {
		if perr, ok := errors.Cause(err).(*pq.Error); ok && string(perr.Code) == pqUniqueViolation {
			return attendance.Session{}, attendance.ErrSessionConflict
		}
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo sessionRepository) CloseSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	row := repo.row(sess)
	res, err := repo.db.NamedExecContext(ctx,
		`UPDATE student_sessions
		 SET state = :state, checked_out_at = :checked_out_at, cooldown_until = :cooldown_until, auto_closed = :auto_closed
		 WHERE id = :id AND state = 'IN'`,
		row)
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "closing session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.Session{}, attendance.ErrNoSession
	}
	return sess, nil
}

func (repo sessionRepository) QueryExpiredSessions(ctx context.Context, now time.Time) ([]attendance.Session, error) {
	var rows []sessionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM student_sessions WHERE state = 'IN' AND expires_at <= $1`, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying expired sessions")
	}
	sessions := make([]attendance.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, repo.unrow(row))
	}
	return sessions, nil
}

func (repo sessionRepository) Statistics(ctx context.Context) (attendance.Statistics, error) {
	var stats attendance.Statistics
	err := repo.db.GetContext(ctx, &stats.TotalCheckIns, `SELECT COUNT(*) FROM student_sessions`)
	if err != nil {
		return attendance.Statistics{}, errors.Wrap(err, "counting check-ins")
	}
	err = repo.db.GetContext(ctx, &stats.CurrentlyIn,
		`SELECT COUNT(*) FROM student_sessions WHERE state = 'IN'`)
	if err != nil {
		return attendance.Statistics{}, errors.Wrap(err, "counting open sessions")
	}
	err = repo.db.GetContext(ctx, &stats.UniqueStudents,
		`SELECT COUNT(DISTINCT student_id) FROM student_sessions`)
	if err != nil {
		return attendance.Statistics{}, errors.Wrap(err, "counting unique students")
	}
	err = repo.db.GetContext(ctx, &stats.AverageVisitLength,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (checked_out_at - checked_in_at))) / 60, 0)
		 FROM student_sessions WHERE checked_out_at IS NOT NULL`)
	if err != nil {
		return attendance.Statistics{}, errors.Wrap(err, "averaging visit length")
	}
	return stats, nil
}
