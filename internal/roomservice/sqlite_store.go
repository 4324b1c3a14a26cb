package roomservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Room statuses kept by SQLiteStore
const (
	StatusActive    = "active"
	StatusDestroyed = "destroyed"
)

// SQLiteStore is a local room registry for running without a lobby service.
// Unknown rooms are provisioned on first lookup with the default config.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, err
	}

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		room_config TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate rooms: %w", err)
	}
	return nil
}

// GetRoomInfo returns the stored room, creating it with the default config
// if it does not exist yet. A destroyed room is revived.
func (s *SQLiteStore) GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	info := RoomInfo{RoomID: roomID}
	err := s.conn.QueryRowContext(ctx,
		`SELECT room_config, status FROM rooms WHERE room_id = ?`, roomID,
	).Scan(&info.RoomConfig, &info.Status)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.create(ctx, roomID)
	case err != nil:
		return RoomInfo{}, fmt.Errorf("get room %s: %w", roomID, err)
	}

	if info.Status == StatusDestroyed {
		if _, err := s.conn.ExecContext(ctx,
			`UPDATE rooms SET status = ?, updated_at = ? WHERE room_id = ?`,
			StatusActive, time.Now().UTC(), roomID); err != nil {
			return RoomInfo{}, fmt.Errorf("revive room %s: %w", roomID, err)
		}
		info.Status = StatusActive
	}
	return info, nil
}

func (s *SQLiteStore) create(ctx context.Context, roomID string) (RoomInfo, error) {
	raw, err := WithPlayerCount(defaultConfigJSON(), 0)
	if err != nil {
		return RoomInfo{}, err
	}
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO rooms (room_id, room_config, status) VALUES (?, ?, ?)
		 ON CONFLICT(room_id) DO NOTHING`,
		roomID, raw, StatusActive); err != nil {
		return RoomInfo{}, fmt.Errorf("create room %s: %w", roomID, err)
	}
	return RoomInfo{RoomID: roomID, Status: StatusActive, RoomConfig: raw}, nil
}

// UpdateRoomConfig replaces the stored config document.
func (s *SQLiteStore) UpdateRoomConfig(ctx context.Context, roomID, roomConfig string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE rooms SET room_config = ?, updated_at = ? WHERE room_id = ?`,
		roomConfig, time.Now().UTC(), roomID)
	if err != nil {
		return fmt.Errorf("update room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return nil
}

// DestroyRoom marks the room destroyed and clears its player count.
func (s *SQLiteStore) DestroyRoom(ctx context.Context, roomID string) error {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT room_config FROM rooms WHERE room_id = ?`, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	if err != nil {
		return fmt.Errorf("destroy room %s: %w", roomID, err)
	}

	patched, err := WithPlayerCount(raw, 0)
	if err != nil {
		patched = raw
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE rooms SET status = ?, room_config = ?, updated_at = ? WHERE room_id = ?`,
		StatusDestroyed, patched, time.Now().UTC(), roomID); err != nil {
		return fmt.Errorf("destroy room %s: %w", roomID, err)
	}
	return nil
}

// ListRooms returns rooms with the given status, most recently updated first.
func (s *SQLiteStore) ListRooms(ctx context.Context, status string) ([]RoomInfo, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT room_id, room_config, status FROM rooms WHERE status = ? ORDER BY updated_at DESC, room_id`,
		status)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []RoomInfo
	for rows.Next() {
		var info RoomInfo
		if err := rows.Scan(&info.RoomID, &info.RoomConfig, &info.Status); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func defaultConfigJSON() string {
	cfg := DefaultRoomConfig()
	return fmt.Sprintf(`{"capacity":%d,"winningScore":%d,"mapOption":%q}`,
		cfg.Capacity, cfg.WinningScore, cfg.MapOption)
}
