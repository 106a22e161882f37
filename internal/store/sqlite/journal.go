// Package sqlite persists every issued actuator command to a local SQLite
// journal for audit and debugging. The journal is best effort: a write
// failure is the dispatcher's to log, never to act on.
package sqlite

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"iot-systemv1/internal/command"
	"iot-systemv1/internal/model"
)

// Journal records actuator commands in SQLite.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id   TEXT NOT NULL,
		actuator_id TEXT NOT NULL,
		value       TEXT NOT NULL,
		toggle      INTEGER NOT NULL DEFAULT 0,
		ok          INTEGER NOT NULL,
		issued_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_commands_device ON commands(device_id, actuator_id);
	CREATE INDEX IF NOT EXISTS idx_commands_issued_at ON commands(issued_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened command journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Record persists one issued command.
func (j *Journal) Record(cmd command.Command) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO commands (device_id, actuator_id, value, toggle, ok, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cmd.DeviceID,
		cmd.ActuatorID,
		model.ToString(cmd.Value),
		boolInt(cmd.Toggle),
		boolInt(cmd.OK),
		cmd.IssuedAt.Format(time.RFC3339),
	)
	return err
}

// CommandRecord represents a row from the commands table.
type CommandRecord struct {
	ID         int64  `json:"id"`
	DeviceID   string `json:"device_id"`
	ActuatorID string `json:"actuator_id"`
	Value      string `json:"value"`
	Toggle     bool   `json:"toggle"`
	OK         bool   `json:"ok"`
	IssuedAt   string `json:"issued_at"`
}

// Recent returns the last N commands, newest first.
func (j *Journal) Recent(limit int) ([]CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, device_id, actuator_id, value, toggle, ok, issued_at
		 FROM commands ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var toggle, ok int
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.ActuatorID, &rec.Value,
			&toggle, &ok, &rec.IssuedAt); err != nil {
			continue
		}
		rec.Toggle = toggle != 0
		rec.OK = ok != 0
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
