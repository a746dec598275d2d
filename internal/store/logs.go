package store

import (
	"fmt"
	"sync"
	"time"
)

// AppendSystemLog persists a system-log row and fans it out to live
// subscribers. Storage failures here are returned but callers on the
// scheduler path treat them as non-fatal.
func (s *Store) AppendSystemLog(level, component, message string) error {
	res, err := s.exec(`
		INSERT INTO system_logs (level, component, message) VALUES (?, ?, ?)
	`, level, component, message)
	if err != nil {
		return fmt.Errorf("append system log: %w", err)
	}

	id, _ := res.LastInsertId()
	s.logSubs.publish(&LogEntry{
		ID:        id,
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	return nil
}

// GetRecentSystemLogs returns the newest limit rows, newest first.
func (s *Store) GetRecentSystemLogs(limit int) ([]*LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, level, component, message, created_at
		FROM system_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system logs: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Level, &e.Component, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PruneSystemLogs deletes rows older than the cutoff and returns the count.
func (s *Store) PruneSystemLogs(before time.Time) (int64, error) {
	res, err := s.exec(`DELETE FROM system_logs WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune system logs: %w", err)
	}
	return res.RowsAffected()
}

// AppendAdminLog records an administrative action for audit.
func (s *Store) AppendAdminLog(actor, action, details string) error {
	_, err := s.exec(`INSERT INTO admin_logs (actor, action, details) VALUES (?, ?, ?)`,
		actor, action, details)
	if err != nil {
		return fmt.Errorf("append admin log: %w", err)
	}
	return nil
}

// SubscribeLogs returns a channel receiving new system-log entries. The
// channel is buffered; slow consumers drop entries rather than block writers.
func (s *Store) SubscribeLogs() chan *LogEntry {
	return s.logSubs.subscribe()
}

// UnsubscribeLogs removes and closes a subscription channel.
func (s *Store) UnsubscribeLogs(ch chan *LogEntry) {
	s.logSubs.unsubscribe(ch)
}

type logSubscribers struct {
	mu   sync.Mutex
	subs map[chan *LogEntry]struct{}
}

func newLogSubscribers() *logSubscribers {
	return &logSubscribers{subs: make(map[chan *LogEntry]struct{})}
}

func (l *logSubscribers) subscribe() chan *LogEntry {
	ch := make(chan *LogEntry, 64)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

func (l *logSubscribers) unsubscribe(ch chan *LogEntry) {
	l.mu.Lock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
	l.mu.Unlock()
}

func (l *logSubscribers) publish(entry *LogEntry) {
	l.mu.Lock()
	for ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	l.mu.Unlock()
}

func (l *logSubscribers) closeAll() {
	l.mu.Lock()
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	l.mu.Unlock()
}
