package database

import (
	"database/sql"
	"fmt"
	"time"

	"tpulaunch/pkg/config"

	_ "github.com/lib/pq"
)

var DebugLog func(string, ...interface{})

type DB struct {
	conn    *sql.DB
	enabled bool
}

type RunRecord struct {
	RunName    string
	Preset     string
	Project    string
	Zone       string
	TPUType    string
	Steps      int
	BatchSize  int
	Status     string
	LaunchedAt time.Time
	FinishedAt sql.NullTime
}

// Run status values stored in the history table.
const (
	StatusDryRun   = "DRY-RUN"
	StatusLaunched = "LAUNCHED"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

const DBName = "tpulaunch_history"

func New(cfg *config.Database) (*DB, error) {
	db := &DB{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		fmt.Println("[INF] Database connection disabled.")
		return db, nil
	}

	postgresConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password)

	postgresConn, err := sql.Open("postgres", postgresConnStr)
	if err != nil {
		fmt.Println("[INF] Database connection disabled.")
		return db, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer postgresConn.Close()

	if err := postgresConn.Ping(); err != nil {
		fmt.Println("[INF] Database connection disabled.")
		return db, fmt.Errorf("failed to ping postgres: %w", err)
	}

	var exists bool
	err = postgresConn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", DBName).Scan(&exists)
	if err != nil {
		fmt.Println("[INF] Database connection disabled.")
		return db, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		_, err = postgresConn.Exec(fmt.Sprintf("CREATE DATABASE %s", DBName))
		if err != nil {
			fmt.Println("[INF] Database connection disabled.")
			return db, fmt.Errorf("failed to create database: %w", err)
		}
		fmt.Printf("[INF] Database '%s' created successfully.\n", DBName)
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, DBName)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		fmt.Println("[INF] Database connection disabled.")
		return db, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		fmt.Println("[INF] Database connection disabled.")
		return db, fmt.Errorf("failed to ping database: %w", err)
	}

	db.conn = conn
	fmt.Println("[INF] Database connection active.")

	if err := db.initSchema(); err != nil {
		return db, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	if !db.enabled || db.conn == nil {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id SERIAL PRIMARY KEY,
		run_name VARCHAR(255) NOT NULL UNIQUE,
		preset VARCHAR(64) NOT NULL,
		project VARCHAR(255) NOT NULL,
		zone VARCHAR(64) NOT NULL,
		tpu_type VARCHAR(64) NOT NULL DEFAULT '',
		steps INTEGER NOT NULL,
		batch_size INTEGER NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'LAUNCHED',
		launched_at TIMESTAMP NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_preset ON runs(preset);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *DB) IsEnabled() bool {
	return db.enabled && db.conn != nil
}

// RecordLaunch inserts the launch row; relaunching an identical run name
// updates the existing row instead.
func (db *DB) RecordLaunch(rec RunRecord) error {
	if !db.IsEnabled() {
		return nil
	}

	if DebugLog != nil {
		DebugLog("recording launch of %s (preset %s) in database", rec.RunName, rec.Preset)
	}

	_, err := db.conn.Exec(`
		INSERT INTO runs (run_name, preset, project, zone, tpu_type, steps, batch_size, status, launched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_name) DO UPDATE
		SET preset = $2, project = $3, zone = $4, tpu_type = $5, steps = $6,
		    batch_size = $7, status = $8, launched_at = $9, finished_at = NULL
	`, rec.RunName, rec.Preset, rec.Project, rec.Zone, rec.TPUType, rec.Steps, rec.BatchSize, rec.Status, rec.LaunchedAt)

	return err
}

// SetStatus moves a run to a terminal state and stamps finished_at.
func (db *DB) SetStatus(runName, status string) error {
	if !db.IsEnabled() {
		return nil
	}

	if DebugLog != nil {
		DebugLog("updating run %s to status %s in database", runName, status)
	}

	_, err := db.conn.Exec(`
		UPDATE runs
		SET status = $2, finished_at = NOW()
		WHERE run_name = $1
	`, runName, status)

	return err
}

// QueryRuns returns launch records, newest first. A non-empty status
// filters; limit <= 0 means no limit.
func (db *DB) QueryRuns(status string, limit int) ([]RunRecord, error) {
	if !db.IsEnabled() {
		return nil, fmt.Errorf("database is not enabled")
	}

	query := `
		SELECT run_name, preset, project, zone, tpu_type, steps, batch_size, status, launched_at, finished_at
		FROM runs
	`
	var args []interface{}

	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}

	query += " ORDER BY launched_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunName, &r.Preset, &r.Project, &r.Zone, &r.TPUType,
			&r.Steps, &r.BatchSize, &r.Status, &r.LaunchedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, nil
}
