// Package store persists pipeline output: rosters and verified attendance
// records live in Postgres, scan job documents in Firestore. The table
// layout is in schema.sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/recognition"
)

// Postgres serves session rosters and stores reconciled attendance. It
// implements recognition.RosterLookup and recognition.AttendanceStore.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with the pgx driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Roster returns the session's enrolled student numbers in roster order. A
// session that does not exist, or exists with no enrollment, reports
// recognition.ErrRosterNotFound.
func (p *Postgres) Roster(ctx context.Context, session recognition.SessionRef) ([]string, error) {
	sessionID, err := p.sessionID(ctx, session)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", recognition.ErrRosterNotFound, session.ID())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", session.ID(), err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT student_no FROM roster_entries WHERE session_id = $1 ORDER BY position`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for %s: %w", session.ID(), err)
	}
	defer rows.Close()

	var roster []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		roster = append(roster, no)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster for %s: %w", session.ID(), err)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: %s has no enrolled students", recognition.ErrRosterNotFound, session.ID())
	}
	return roster, nil
}

// SaveRecords upserts the session's attendance records and replaces its
// unmatched rows in one transaction, so resubmitting a corrected scan
// overwrites instead of duplicating. Failures wrap
// recognition.ErrStoreWrite.
func (p *Postgres) SaveRecords(ctx context.Context, session recognition.SessionRef, records []recognition.AttendanceRecord, unmatched []recognition.UnmatchedEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", recognition.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	sessionID, err := p.sessionIDTx(ctx, tx, session)
	if err != nil {
		return fmt.Errorf("%w: resolving session %s: %w", recognition.ErrStoreWrite, session.ID(), err)
	}

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records
				(session_id, student_no, status, reason, confidence, source_page, source_row, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (session_id, student_no) DO UPDATE SET
				status      = EXCLUDED.status,
				reason      = EXCLUDED.reason,
				confidence  = EXCLUDED.confidence,
				source_page = EXCLUDED.source_page,
				source_row  = EXCLUDED.source_row,
				recorded_at = EXCLUDED.recorded_at`,
			sessionID, r.StudentID, string(r.Status), r.Reason, r.Confidence, r.Page, r.Row); err != nil {
			return fmt.Errorf("%w: record for %s: %w", recognition.ErrStoreWrite, r.StudentID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attendance_unmatched WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("%w: clearing unmatched rows: %w", recognition.ErrStoreWrite, err)
	}
	for _, u := range unmatched {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_unmatched
				(session_id, student_no, source_page, source_row, attendance, confidence, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sessionID, u.StudentID, u.Page, u.Row, string(u.Attendance), u.Confidence, u.Reason); err != nil {
			return fmt.Errorf("%w: unmatched row page %d row %d: %w", recognition.ErrStoreWrite, u.Page, u.Row, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", recognition.ErrStoreWrite, err)
	}
	return nil
}

func (p *Postgres) sessionID(ctx context.Context, session recognition.SessionRef) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM attendance_sessions WHERE course = $1 AND lecture = $2 AND held_on = $3`,
		session.Course, session.Lecture, session.Date).Scan(&id)
	return id, err
}

func (p *Postgres) sessionIDTx(ctx context.Context, tx *sql.Tx, session recognition.SessionRef) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM attendance_sessions WHERE course = $1 AND lecture = $2 AND held_on = $3`,
		session.Course, session.Lecture, session.Date).Scan(&id)
	return id, err
}
