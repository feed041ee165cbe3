package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cityshift/internal/models"
	"cityshift/internal/shift"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateForDay  = errors.New("schedule already submitted for this day")
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrWorkerExists     = errors.New("worker already registered")
	ErrInvalidShiftSet  = errors.New("invalid shift set")
	errScheduleNotFound = errors.New("schedule not found")
)

// DB is the SQLite-backed store for workers and their daily schedules.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			language TEXT NOT NULL,
			country TEXT NOT NULL,
			city TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// At most one schedule per worker per day.
		`CREATE TABLE IF NOT EXISTS work_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_time1 TEXT NOT NULL,
			end_time1 TEXT NOT NULL,
			start_time2 TEXT,
			end_time2 TEXT,
			start_time3 TEXT,
			end_time3 TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(worker_id, date),
			FOREIGN KEY (worker_id) REFERENCES workers(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_city ON workers(city)`,
		`CREATE INDEX IF NOT EXISTS idx_work_schedules_date ON work_schedules(date)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateWorker registers a worker. Registering the same Telegram id twice
// returns ErrWorkerExists.
func (db *DB) CreateWorker(ctx context.Context, w *models.Worker) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO workers (telegram_id, language, country, city, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.TelegramID, w.Language, w.Country, w.City, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrWorkerExists
		}
		return fmt.Errorf("insert worker: %w", err)
	}
	w.ID, err = res.LastInsertId()
	return err
}

// GetWorkerByTelegramID returns ErrWorkerNotFound for unknown users.
func (db *DB) GetWorkerByTelegramID(ctx context.Context, telegramID int64) (*models.Worker, error) {
	var w models.Worker
	err := db.QueryRowContext(ctx, `
		SELECT id, telegram_id, language, country, city, created_at
		FROM workers WHERE telegram_id = ?`, telegramID,
	).Scan(&w.ID, &w.TelegramID, &w.Language, &w.Country, &w.City, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns every registered worker ordered by id.
func (db *DB) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, telegram_id, language, country, city, created_at
		FROM workers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		var w models.Worker
		if err := rows.Scan(&w.ID, &w.TelegramID, &w.Language, &w.Country, &w.City, &w.CreatedAt); err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ListDistinctCities returns the cities that have at least one worker.
func (db *DB) ListDistinctCities(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT city FROM workers ORDER BY city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// CountWorkersInCity returns the number of registered workers in city.
func (db *DB) CountWorkersInCity(ctx context.Context, city string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers WHERE city = ?`, city).Scan(&n)
	return n, err
}

// SaveShiftSet stores set for worker on date. A second save for the same
// worker and date fails with ErrDuplicateForDay.
func (db *DB) SaveShiftSet(ctx context.Context, workerID int64, date string, set shift.ShiftSet) error {
	if err := validateShiftSet(set); err != nil {
		return err
	}

	cols := make([]interface{}, 6)
	for i := range set {
		cols[i*2] = set[i].Start.String()
		cols[i*2+1] = set[i].End.String()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO work_schedules (
			worker_id, date, start_time1, end_time1, start_time2, end_time2, start_time3, end_time3, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workerID, date, cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], time.Now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateForDay
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func validateShiftSet(set shift.ShiftSet) error {
	if len(set) == 0 || len(set) > shift.MaxIntervals {
		return fmt.Errorf("%w: %d intervals", ErrInvalidShiftSet, len(set))
	}
	for _, iv := range set {
		if !iv.Start.Valid() || !iv.End.Valid() || !iv.Start.Less(iv.End) {
			return fmt.Errorf("%w: %s", ErrInvalidShiftSet, iv)
		}
	}
	return nil
}

// FindShiftSet returns the worker's set for date, or ok=false when none exists.
func (db *DB) FindShiftSet(ctx context.Context, workerID int64, date string) (shift.ShiftSet, bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT start_time1, end_time1, start_time2, end_time2, start_time3, end_time3
		FROM work_schedules WHERE worker_id = ? AND date = ?`, workerID, date)

	set, err := scanShiftSet(row)
	if errors.Is(err, errScheduleNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// ListShiftSetsForCityAndDate returns every set submitted by the city's
// workers for date.
func (db *DB) ListShiftSetsForCityAndDate(ctx context.Context, city, date string) ([]shift.ShiftSet, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.start_time1, s.end_time1, s.start_time2, s.end_time2, s.start_time3, s.end_time3
		FROM work_schedules s
		JOIN workers w ON w.id = s.worker_id
		WHERE w.city = ? AND s.date = ?
		ORDER BY s.id`, city, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []shift.ShiftSet
	for rows.Next() {
		set, err := scanShiftSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShiftSet(row rowScanner) (shift.ShiftSet, error) {
	var s1, e1 string
	var s2, e2, s3, e3 sql.NullString
	if err := row.Scan(&s1, &e1, &s2, &e2, &s3, &e3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errScheduleNotFound
		}
		return nil, err
	}

	pairs := []struct{ start, end sql.NullString }{
		{sql.NullString{String: s1, Valid: true}, sql.NullString{String: e1, Valid: true}},
		{s2, e2},
		{s3, e3},
	}

	set := make(shift.ShiftSet, 0, len(pairs))
	for _, p := range pairs {
		if !p.start.Valid || !p.end.Valid {
			continue
		}
		start, err := shift.ParseTimeOfDay(p.start.String)
		if err != nil {
			return nil, fmt.Errorf("stored start time %q: %w", p.start.String, err)
		}
		end, err := shift.ParseTimeOfDay(p.end.String)
		if err != nil {
			return nil, fmt.Errorf("stored end time %q: %w", p.end.String, err)
		}
		set = append(set, shift.Interval{Start: start, End: end})
	}
	return set, nil
}
