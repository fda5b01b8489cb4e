package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/renodectl/internal/packet"
	_ "modernc.org/sqlite"
)

const (
	DefaultPath   = "renode_sensor_data.db"
	DefaultSource = "renode"
	timeLayout    = "2006-01-02 15:04:05"
)

var ErrClosed = errors.New("store: closed")

// Record is one persisted reading plus receive metadata.
type Record struct {
	ID         int64          `json:"id"`
	Reading    packet.Reading `json:"reading"`
	PacketSize int            `json:"packet_size"`
	ReceivedAt string         `json:"received_at"`
	Source     string         `json:"source"`
	SessionID  string         `json:"session_id,omitempty"`
}

// Stats summarises the readings table.
type Stats struct {
	TotalRecords   int64   `json:"total_records"`
	UniqueDevices  int64   `json:"unique_devices"`
	AvgTemperature float64 `json:"avg_temperature"`
	AvgHumidity    float64 `json:"avg_humidity"`
	LastRecord     string  `json:"last_record"`
}

// Store is the SQLite-backed reading log.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY across connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS renode_sensor_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		temperature REAL,
		humidity REAL,
		pressure REAL,
		voltage REAL,
		cpu_usage INTEGER,
		packet_size INTEGER,
		received_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		source TEXT DEFAULT 'renode',
		session_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_renode_sensor_device ON renode_sensor_data(device_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists rec and returns its row id. ReceivedAt and Source are
// filled in when empty.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	if rec.ReceivedAt == "" {
		rec.ReceivedAt = s.now().UTC().Format(timeLayout)
	}
	if rec.Source == "" {
		rec.Source = DefaultSource
	}
	r := rec.Reading
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO renode_sensor_data
		(device_id, timestamp, temperature, humidity, pressure, voltage, cpu_usage, packet_size, received_at, source, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.Timestamp, r.Temperature, r.Humidity, r.Pressure, r.Voltage, r.CPUUsage,
		rec.PacketSize, rec.ReceivedAt, rec.Source, nullString(rec.SessionID),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert device=%q: %w", r.DeviceID, err)
	}
	return res.LastInsertId()
}

// List returns readings in insertion order. limit <= 0 returns all rows;
// otherwise the newest limit rows are returned, still oldest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	query := `
		SELECT id, device_id, timestamp, temperature, humidity, pressure, voltage,
		       cpu_usage, packet_size, received_at, source, session_id
		FROM renode_sensor_data ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		query = `SELECT * FROM (
		SELECT id, device_id, timestamp, temperature, humidity, pressure, voltage,
		       cpu_usage, packet_size, received_at, source, session_id
		FROM renode_sensor_data ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec                   Record
			temp, hum, pres, volt sql.NullFloat64
			cpu, size             sql.NullInt64
			source, session       sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Reading.DeviceID, &rec.Reading.Timestamp,
			&temp, &hum, &pres, &volt, &cpu, &size,
			&rec.ReceivedAt, &source, &session,
		); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.Reading.Temperature = temp.Float64
		rec.Reading.Humidity = hum.Float64
		rec.Reading.Pressure = pres.Float64
		rec.Reading.Voltage = volt.Float64
		rec.Reading.CPUUsage = int(cpu.Int64)
		rec.PacketSize = int(size.Int64)
		rec.Source = source.String
		rec.SessionID = session.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates the table; averages are zero on an empty table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		return Stats{}, ErrClosed
	}
	var (
		st        Stats
		temp, hum sql.NullFloat64
		last      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT device_id), AVG(temperature), AVG(humidity), MAX(received_at)
		FROM renode_sensor_data`,
	).Scan(&st.TotalRecords, &st.UniqueDevices, &temp, &hum, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	st.AvgTemperature = temp.Float64
	st.AvgHumidity = hum.Float64
	st.LastRecord = last.String
	return st, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
