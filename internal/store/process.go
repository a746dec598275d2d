package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateProcess inserts a new queued process and returns its id.
func (s *Store) CreateProcess(p *Process) (int64, error) {
	details, err := marshalDetails(p.Details)
	if err != nil {
		return 0, err
	}
	progress, err := marshalProgress(p.Progress)
	if err != nil {
		return 0, err
	}

	res, err := s.exec(`
		INSERT INTO processes (action, target, status, priority, details, progress, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(p.Action), p.Target, string(StatusQueued), p.Priority, details, progress, p.CreatedBy)
	if err != nil {
		return 0, fmt.Errorf("insert process: %w", err)
	}
	return res.LastInsertId()
}

// GetProcess retrieves a process by id. Returns ErrNotFound if absent.
func (s *Store) GetProcess(id int64) (*Process, error) {
	row := s.db.QueryRow(processSelect+` WHERE id = ?`, id)
	return scanProcess(row)
}

// GetProcessesByStatus returns all processes with the given status ordered by
// priority then creation time.
func (s *Store) GetProcessesByStatus(status Status) ([]*Process, error) {
	rows, err := s.db.Query(processSelect+` WHERE status = ? ORDER BY priority ASC, created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetNextQueuedProcess returns the highest-priority queued process eligible to
// run at the given time (resume_after unset or past). Ties break by earlier
// created_at, then lower id. Returns ErrNotFound when the queue is empty.
func (s *Store) GetNextQueuedProcess(now time.Time) (*Process, error) {
	row := s.db.QueryRow(processSelect+`
		WHERE status = ? AND (resume_after IS NULL OR resume_after <= ?)
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1
	`, string(StatusQueued), now.UnixMilli())
	return scanProcess(row)
}

// HasHigherPriorityQueued reports whether a queued, runnable process exists
// with a strictly better (lower) priority than the given one.
func (s *Store) HasHigherPriorityQueued(priority int64, now time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM processes
		WHERE status = ? AND priority < ? AND (resume_after IS NULL OR resume_after <= ?)
	`, string(StatusQueued), priority, now.UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count queued: %w", err)
	}
	return n > 0, nil
}

// UpdateProcessStatus transitions a process to the given status.
// A transition to active is rejected with ErrActiveExists if any other row is
// already active; completed_at is stamped on terminal transitions and
// preempted_by is cleared when a process is (re-)activated.
func (s *Store) UpdateProcessStatus(id int64, status Status) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		if status == StatusActive {
			var n int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM processes WHERE status = ? AND id != ?`,
				string(StatusActive), id).Scan(&n); err != nil {
				return fmt.Errorf("check active: %w", err)
			}
			if n > 0 {
				return ErrActiveExists
			}
		}

		var (
			res sql.Result
			err error
		)
		switch {
		case status.Terminal():
			res, err = tx.Exec(`
				UPDATE processes
				SET status = ?, completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`, string(status), id)
		case status == StatusActive:
			res, err = tx.Exec(`
				UPDATE processes
				SET status = ?, preempted_by = NULL, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`, string(status), id)
		default:
			res, err = tx.Exec(`
				UPDATE processes
				SET status = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ?`, string(status), id)
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return requireRow(res)
	})
}

// UpdateProcessProgress replaces a process's progress document atomically.
func (s *Store) UpdateProcessProgress(id int64, progress *Progress) error {
	data, err := marshalProgress(progress)
	if err != nil {
		return err
	}
	res, err := s.exec(`UPDATE processes SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return requireRow(res)
}

// SetResumeAfter records the earliest time the process may be admitted again.
func (s *Store) SetResumeAfter(id int64, at time.Time) error {
	res, err := s.exec(`UPDATE processes SET resume_after = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set resume_after: %w", err)
	}
	return requireRow(res)
}

// SetPreemption atomically parks a process: status back to queued,
// preempted_by set to the evictor, resume_after cleared.
func (s *Store) SetPreemption(id, preemptedBy int64) error {
	res, err := s.exec(`
		UPDATE processes
		SET status = ?, preempted_by = ?, resume_after = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(StatusQueued), preemptedBy, id)
	if err != nil {
		return fmt.Errorf("set preemption: %w", err)
	}
	return requireRow(res)
}

// RecoverInterrupted is the boot-time crash-recovery sweep: any process left
// active by a dead host is rewritten to queued so admission picks it up again.
// Queued rows with preempted_by set are already in the correct state.
func (s *Store) RecoverInterrupted() (int64, error) {
	res, err := s.exec(`
		UPDATE processes
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND preempted_by IS NULL`,
		string(StatusQueued), string(StatusActive))
	if err != nil {
		return 0, fmt.Errorf("recovery sweep: %w", err)
	}
	return res.RowsAffected()
}

// CountProcessesByStatus returns row counts per status for status reporting.
func (s *Store) CountProcessesByStatus() (map[Status]int64, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM processes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// GetPendingProcessForAlliance returns the queued-or-active process of the
// given action targeting the alliance, or ErrNotFound. Used to enforce
// single-flight per alliance across restarts.
func (s *Store) GetPendingProcessForAlliance(action Action, allianceID int64) (*Process, error) {
	row := s.db.QueryRow(processSelect+`
		WHERE action = ? AND target = ? AND status IN (?, ?)
		ORDER BY id ASC LIMIT 1
	`, string(action), allianceID, string(StatusQueued), string(StatusActive))
	return scanProcess(row)
}

const processSelect = `
	SELECT id, action, target, status, priority,
		COALESCE(details, ''), COALESCE(progress, ''),
		resume_after, preempted_by, COALESCE(created_by, ''),
		created_at, updated_at, completed_at
	FROM processes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*Process, error) {
	var (
		p           Process
		action      string
		status      string
		details     string
		progress    string
		resumeAfter sql.NullInt64
		preemptedBy sql.NullInt64
		completedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &action, &p.Target, &status, &p.Priority,
		&details, &progress, &resumeAfter, &preemptedBy, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}

	p.Action = Action(action)
	p.Status = Status(status)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &p.Details); err != nil {
			return nil, fmt.Errorf("parse details: %w", err)
		}
	}
	if progress != "" {
		p.Progress = &Progress{}
		if err := json.Unmarshal([]byte(progress), p.Progress); err != nil {
			return nil, fmt.Errorf("parse progress: %w", err)
		}
	}
	if resumeAfter.Valid {
		t := time.UnixMilli(resumeAfter.Int64)
		p.ResumeAfter = &t
	}
	if preemptedBy.Valid {
		p.PreemptedBy = &preemptedBy.Int64
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

func marshalDetails(details map[string]json.RawMessage) (string, error) {
	if details == nil {
		return "", nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}

func marshalProgress(p *Progress) (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal progress: %w", err)
	}
	return string(data), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
