package store

import (
	"fmt"
)

// RecordCodeUsage persists a redemption outcome. An existing (fid, code) row
// is overwritten so a retried redeem records its final status.
func (s *Store) RecordCodeUsage(u *CodeUsage) error {
	_, err := s.exec(`
		INSERT INTO giftcode_usage (fid, gift_code, status) VALUES (?, ?, ?)
		ON CONFLICT(fid, gift_code) DO UPDATE SET status = excluded.status
	`, u.FID, u.GiftCode, u.Status)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// HasCodeUsage reports whether the player already has a usage row for the code.
func (s *Store) HasCodeUsage(fid int64, code string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM giftcode_usage WHERE fid = ? AND gift_code = ?`, fid, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check usage: %w", err)
	}
	return n > 0, nil
}

// GetFidsWhoRedeemedCode returns every fid with a usage row for the code.
func (s *Store) GetFidsWhoRedeemedCode(code string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT fid FROM giftcode_usage WHERE gift_code = ? ORDER BY fid ASC`, code)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		out = append(out, fid)
	}
	return out, rows.Err()
}

// CheckBulkUsage filters the given fids down to those that already redeemed
// the code. Used by the redeem handler's short-circuit pre-filter.
func (s *Store) CheckBulkUsage(code string, fids []int64) ([]int64, error) {
	if len(fids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT fid FROM giftcode_usage
		WHERE gift_code = ? AND fid IN (%s) ORDER BY fid ASC`, placeholders(len(fids)))
	args := append([]any{code}, int64Args(fids)...)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk usage: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		out = append(out, fid)
	}
	return out, rows.Err()
}
