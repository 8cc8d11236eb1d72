package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database connection holding one session's
// decoded event log.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database at path, running migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &Store{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *Store) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema.
func (db *Store) migrate() error {
	schema := `
	-- One row per Session lifetime.
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		device_name TEXT NOT NULL,
		device_mac TEXT NOT NULL,
		protocol_generation TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	-- Decoded moves.
	CREATE TABLE IF NOT EXISTS moves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		serial INTEGER NOT NULL,
		notation TEXT NOT NULL,
		host_ts INTEGER,
		cube_ts INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_moves_session ON moves(session_id);
	CREATE INDEX IF NOT EXISTS idx_moves_serial ON moves(session_id, serial);

	-- Decoded facelet snapshots.
	CREATE TABLE IF NOT EXISTS facelets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		serial INTEGER NOT NULL,
		facelets TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_facelets_session ON facelets(session_id);

	-- Decoded hardware-info snapshots.
	CREATE TABLE IF NOT EXISTS hardware_info (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		hardware_version TEXT NOT NULL,
		software_version TEXT NOT NULL,
		production_date TEXT,
		gyro_supported INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_hardware_session ON hardware_info(session_id);

	-- Decoded timer state changes.
	CREATE TABLE IF NOT EXISTS timer_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		state INTEGER NOT NULL,
		recorded_time_ms INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_timer_events_session ON timer_events(session_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// CreateSession inserts a new session row.
func (db *Store) CreateSession(s *SessionRecord) error {
	_, err := db.conn.Exec(
		`INSERT INTO sessions (id, device_name, device_mac, protocol_generation, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.DeviceName, s.DeviceMAC, s.ProtocolGeneration, s.StartedAt,
	)
	return err
}

// CloseSession stamps a session's end time.
func (db *Store) CloseSession(id string, endedAt time.Time) error {
	_, err := db.conn.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt, id)
	return err
}

// InsertMove records one decoded move.
func (db *Store) InsertMove(m *MoveRecord) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO moves (session_id, serial, notation, host_ts, cube_ts, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Serial, m.Notation, m.HostTs, m.CubeTs, m.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// InsertFacelet records one decoded facelet snapshot.
func (db *Store) InsertFacelet(f *FaceletRecord) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO facelets (session_id, serial, facelets, timestamp)
		 VALUES (?, ?, ?, ?)`,
		f.SessionID, f.Serial, f.Facelets, f.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// InsertHardware records one decoded hardware-info snapshot.
func (db *Store) InsertHardware(h *HardwareRecord) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO hardware_info
		 (session_id, name, hardware_version, software_version, production_date, gyro_supported, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.SessionID, h.Name, h.HardwareVer, h.SoftwareVer, h.ProductionDate, h.GyroSupported, h.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// InsertTimerEvent records one decoded timer state change.
func (db *Store) InsertTimerEvent(e *TimerEventRecord) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO timer_events (session_id, state, recorded_time_ms, timestamp)
		 VALUES (?, ?, ?, ?)`,
		e.SessionID, e.State, e.RecordedTimeMs, e.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// MovesForSession returns every move recorded for a session, oldest first.
func (db *Store) MovesForSession(sessionID string) ([]*MoveRecord, error) {
	rows, err := db.conn.Query(
		`SELECT id, session_id, serial, notation, host_ts, cube_ts, timestamp
		 FROM moves WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []*MoveRecord
	for rows.Next() {
		m := &MoveRecord{}
		var hostTs, cubeTs sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Serial, &m.Notation, &hostTs, &cubeTs, &m.Timestamp); err != nil {
			return nil, err
		}
		if hostTs.Valid {
			v := hostTs.Int64
			m.HostTs = &v
		}
		if cubeTs.Valid {
			v := cubeTs.Int64
			m.CubeTs = &v
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// LatestFaceletForSession returns the most recently recorded facelet
// snapshot for a session, or nil if none exist.
func (db *Store) LatestFaceletForSession(sessionID string) (*FaceletRecord, error) {
	f := &FaceletRecord{}
	err := db.conn.QueryRow(
		`SELECT id, session_id, serial, facelets, timestamp
		 FROM facelets WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	).Scan(&f.ID, &f.SessionID, &f.Serial, &f.Facelets, &f.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
