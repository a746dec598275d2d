package store

import (
	"database/sql"
	"fmt"
)

// Setting keys recognized by the core.
const (
	SettingAutoDelete = "auto_delete"
)

// GetSetting returns the value for a key, or def if the key is absent.
func (s *Store) GetSetting(key, def string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting writes a key/value pair.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// AutoDelete reports whether players past the non-existence threshold should
// be removed automatically. Defaults to false; read fresh each refresh pass.
func (s *Store) AutoDelete() bool {
	v, err := s.GetSetting(SettingAutoDelete, "false")
	if err != nil {
		return false
	}
	return v == "true" || v == "1"
}
