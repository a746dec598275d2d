package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateAlliance inserts an alliance and returns its id.
func (s *Store) CreateAlliance(a *Alliance) (int64, error) {
	res, err := s.exec(`
		INSERT INTO alliances (priority, name, channel_id, interval, auto_redeem)
		VALUES (?, ?, ?, ?, ?)
	`, a.Priority, a.Name, a.ChannelID, a.Interval, a.AutoRedeem)
	if err != nil {
		return 0, fmt.Errorf("insert alliance: %w", err)
	}
	return res.LastInsertId()
}

// GetAlliance retrieves an alliance by id. Returns ErrNotFound if absent.
func (s *Store) GetAlliance(id int64) (*Alliance, error) {
	row := s.db.QueryRow(`
		SELECT id, priority, name, COALESCE(channel_id, ''), COALESCE(interval, ''), auto_redeem
		FROM alliances WHERE id = ?`, id)

	var a Alliance
	err := row.Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &a.AutoRedeem)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alliance: %w", err)
	}
	return &a, nil
}

// UpdateAlliance rewrites an alliance row.
func (s *Store) UpdateAlliance(a *Alliance) error {
	res, err := s.exec(`
		UPDATE alliances SET priority = ?, name = ?, channel_id = ?, interval = ?, auto_redeem = ?
		WHERE id = ?
	`, a.Priority, a.Name, a.ChannelID, a.Interval, a.AutoRedeem, a.ID)
	if err != nil {
		return fmt.Errorf("update alliance: %w", err)
	}
	return requireRow(res)
}

// DeleteAlliance removes an alliance; player rows cascade.
func (s *Store) DeleteAlliance(id int64) error {
	res, err := s.exec(`DELETE FROM alliances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alliance: %w", err)
	}
	return requireRow(res)
}

// ListAlliances returns all alliances ordered by priority.
func (s *Store) ListAlliances() ([]*Alliance, error) {
	rows, err := s.db.Query(`
		SELECT id, priority, name, COALESCE(channel_id, ''), COALESCE(interval, ''), auto_redeem
		FROM alliances ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("query alliances: %w", err)
	}
	defer rows.Close()

	var out []*Alliance
	for rows.Next() {
		var a Alliance
		if err := rows.Scan(&a.ID, &a.Priority, &a.Name, &a.ChannelID, &a.Interval, &a.AutoRedeem); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetPlayerCountsByAllianceIDs returns player counts for the given alliances
// in one query. Missing ids are absent from the result.
func (s *Store) GetPlayerCountsByAllianceIDs(ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	if len(ids) == 0 {
		return counts, nil
	}

	query := fmt.Sprintf(`
		SELECT alliance_id, COUNT(*) FROM players
		WHERE alliance_id IN (%s) GROUP BY alliance_id`, placeholders(len(ids)))
	rows, err := s.db.Query(query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("count players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// UpsertPlayer inserts a player or, if the fid already exists, rewrites it.
// Returns true when a new row was created.
func (s *Store) UpsertPlayer(p *Player) (bool, error) {
	var existed bool
	err := s.withWriteTx(func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM players WHERE fid = ?`, p.FID).Scan(&n); err != nil {
			return fmt.Errorf("check player: %w", err)
		}
		existed = n > 0

		_, err := tx.Exec(`
			INSERT INTO players (fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(fid) DO UPDATE SET
				alliance_id = excluded.alliance_id,
				nickname = excluded.nickname,
				furnace_level = excluded.furnace_level,
				state = excluded.state,
				is_rich = excluded.is_rich,
				vip_count = excluded.vip_count
		`, p.FID, p.AllianceID, p.Nickname, p.FurnaceLevel, p.State, p.Exist, p.IsRich, p.VIPCount)
		if err != nil {
			return fmt.Errorf("upsert player: %w", err)
		}
		return nil
	})
	return !existed, err
}

// GetPlayer retrieves a player by fid. Returns ErrNotFound if absent.
func (s *Store) GetPlayer(fid int64) (*Player, error) {
	row := s.db.QueryRow(playerSelect+` WHERE fid = ?`, fid)
	return scanPlayer(row)
}

// GetPlayersByAlliance returns every player in the alliance ordered by fid.
func (s *Store) GetPlayersByAlliance(allianceID int64) ([]*Player, error) {
	rows, err := s.db.Query(playerSelect+` WHERE alliance_id = ? ORDER BY fid ASC`, allianceID)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var out []*Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePlayer removes a player row.
func (s *Store) DeletePlayer(fid int64) error {
	res, err := s.exec(`DELETE FROM players WHERE fid = ?`, fid)
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return requireRow(res)
}

// IncrementPlayerExist bumps the non-existence strike counter and returns the
// new value.
func (s *Store) IncrementPlayerExist(fid int64) (int, error) {
	var count int
	err := s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE players SET exist = exist + 1 WHERE fid = ?`, fid)
		if err != nil {
			return fmt.Errorf("increment exist: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return tx.QueryRow(`SELECT exist FROM players WHERE fid = ?`, fid).Scan(&count)
	})
	return count, err
}

// ResetPlayerExist clears the non-existence strike counter.
func (s *Store) ResetPlayerExist(fid int64) error {
	res, err := s.exec(`UPDATE players SET exist = 0 WHERE fid = ?`, fid)
	if err != nil {
		return fmt.Errorf("reset exist: %w", err)
	}
	return requireRow(res)
}

// ApplyPlayerUpdate rewrites a player's observed fields and appends
// change-history rows for any nickname or furnace-level transition, all in a
// single transaction.
func (s *Store) ApplyPlayerUpdate(p *Player, changes []Change, now time.Time) error {
	return s.withWriteTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE players SET nickname = ?, furnace_level = ?, state = ?, exist = 0
			WHERE fid = ?`, p.Nickname, p.FurnaceLevel, p.State, p.FID)
		if err != nil {
			return fmt.Errorf("update player: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}

		ts := now.UTC().Format(time.RFC3339)
		for _, c := range changes {
			var table string
			switch c.Field {
			case "furnace_level":
				table = "furnace_changes"
			case "nickname":
				table = "nickname_changes"
			default:
				continue
			}
			_, err := tx.Exec(fmt.Sprintf(`
				INSERT INTO %s (fid, old_value, new_value, changed_at) VALUES (?, ?, ?, ?)`, table),
				p.FID, c.Old, c.New, ts)
			if err != nil {
				return fmt.Errorf("append %s: %w", table, err)
			}
		}
		return nil
	})
}

// GetFieldChanges returns the change history for a player from the named
// table ("furnace_changes" or "nickname_changes"), newest first.
func (s *Store) GetFieldChanges(table string, fid int64, limit int) ([]*FieldChange, error) {
	if table != "furnace_changes" && table != "nickname_changes" {
		return nil, fmt.Errorf("unknown change table %q", table)
	}
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT fid, old_value, new_value, changed_at FROM %s
		WHERE fid = ? ORDER BY id DESC LIMIT ?`, table), fid, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []*FieldChange
	for rows.Next() {
		var fc FieldChange
		var ts string
		if err := rows.Scan(&fc.FID, &fc.Old, &fc.New, &ts); err != nil {
			return nil, err
		}
		fc.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, &fc)
	}
	return out, rows.Err()
}

const playerSelect = `
	SELECT fid, alliance_id, nickname, furnace_level, state, exist, is_rich, vip_count
	FROM players`

func scanPlayer(row rowScanner) (*Player, error) {
	var p Player
	err := row.Scan(&p.FID, &p.AllianceID, &p.Nickname, &p.FurnaceLevel, &p.State, &p.Exist, &p.IsRich, &p.VIPCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
