package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BadgerOps/jarenums/internal/report"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a scan does not exist
var ErrNotFound = errors.New("scan not found")

// ErrAmbiguousID is returned when a scan ID prefix matches more than one scan
var ErrAmbiguousID = errors.New("scan id prefix is ambiguous")

// Store provides SQLite-backed scan history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// ScanRun Operations
// ============================================================================

const scanColumns = `
	id, archive, sha256, size, filter, marker, start_time, end_time,
	archives_visited, classes_parsed, enum_count, status, error_message
`

// CreateScan inserts a new ScanRun and assigns its ID
func (s *Store) CreateScan(run *ScanRun) error {
	run.ID = uuid.NewString()
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now().UTC()
	}

	query := `INSERT INTO scans (` + scanColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(
		query,
		run.ID, run.Archive, run.SHA256, run.Size, run.Filter, run.Marker,
		run.StartTime, run.EndTime, run.ArchivesVisited, run.ClassesParsed,
		run.EnumCount, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

// UpdateScan updates an existing ScanRun by ID
func (s *Store) UpdateScan(run *ScanRun) error {
	const query = `
		UPDATE scans SET
			archive = ?, sha256 = ?, size = ?, filter = ?, marker = ?,
			start_time = ?, end_time = ?, archives_visited = ?,
			classes_parsed = ?, enum_count = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Archive, run.SHA256, run.Size, run.Filter, run.Marker,
		run.StartTime, run.EndTime, run.ArchivesVisited, run.ClassesParsed,
		run.EnumCount, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, run.ID)
	}
	return nil
}

// GetScan retrieves a ScanRun by ID
func (s *Store) GetScan(id string) (*ScanRun, error) {
	row := s.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return run, nil
}

// ResolveScanID expands a unique ID prefix to the full scan ID
func (s *Store) ResolveScanID(prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || strings.Trim(prefix, "0123456789abcdef-") != "" {
		return "", fmt.Errorf("%w: %q", ErrNotFound, prefix)
	}

	rows, err := s.db.Query("SELECT id FROM scans WHERE id LIKE ? ORDER BY id LIMIT 2", prefix+"%")
	if err != nil {
		return "", fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating scans: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
	}
}

// ListScans retrieves ScanRuns, newest first
func (s *Store) ListScans(limit int) ([]ScanRun, error) {
	query := `SELECT ` + scanColumns + ` FROM scans ORDER BY start_time DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scans: %w", err)
	}
	return runs, nil
}

// FindCompletedScan returns the newest completed scan of the archive with
// the given digest, run with the same marker and filter, or ErrNotFound.
func (s *Store) FindCompletedScan(sha256, marker, filter string) (*ScanRun, error) {
	row := s.db.QueryRow(
		`SELECT `+scanColumns+` FROM scans
		 WHERE sha256 = ? AND marker = ? AND filter = ? AND status = ?
		 ORDER BY start_time DESC LIMIT 1`,
		sha256, marker, filter, StatusCompleted,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no completed scan for %s", ErrNotFound, sha256)
		}
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return run, nil
}

// DeleteScan removes a scan and its enum records
func (s *Store) DeleteScan(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM enum_records WHERE scan_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete enum records: %w", err)
	}
	result, err := tx.Exec("DELETE FROM scans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete scan: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*ScanRun, error) {
	run := &ScanRun{}
	var endTime sql.NullTime
	err := row.Scan(
		&run.ID, &run.Archive, &run.SHA256, &run.Size, &run.Filter, &run.Marker,
		&run.StartTime, &endTime, &run.ArchivesVisited, &run.ClassesParsed,
		&run.EnumCount, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		run.EndTime = endTime.Time
	}
	return run, nil
}

// ============================================================================
// Enum Record Operations
// ============================================================================

// SaveReport replaces the stored enum records of a scan with r
func (s *Store) SaveReport(scanID string, r *report.Report) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM scans WHERE id = ?", scanID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to query scan: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, scanID)
	}

	if _, err := tx.Exec("DELETE FROM enum_records WHERE scan_id = ?", scanID); err != nil {
		return fmt.Errorf("failed to clear enum records: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO enum_records (scan_id, position, class_name, members, avro_generated, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range r.Enums {
		members, err := json.Marshal(rec.Members)
		if err != nil {
			return fmt.Errorf("failed to encode members of %s: %w", rec.ClassName, err)
		}
		if _, err := stmt.Exec(scanID, i, rec.ClassName, string(members), rec.AvroGenerated, rec.Source.String()); err != nil {
			return fmt.Errorf("failed to insert enum record %s: %w", rec.ClassName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enum records: %w", err)
	}
	return nil
}

// ListEnumRows returns the stored rows of a scan in report order
func (s *Store) ListEnumRows(scanID string) ([]EnumRow, error) {
	const query = `
		SELECT scan_id, position, class_name, members, avro_generated, source
		FROM enum_records WHERE scan_id = ? ORDER BY position
	`

	rows, err := s.db.Query(query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enum records: %w", err)
	}
	defer rows.Close()

	var out []EnumRow
	for rows.Next() {
		var row EnumRow
		var members string
		if err := rows.Scan(&row.ScanID, &row.Position, &row.ClassName, &members, &row.AvroGenerated, &row.Source); err != nil {
			return nil, fmt.Errorf("failed to scan enum record: %w", err)
		}
		if err := json.Unmarshal([]byte(members), &row.Members); err != nil {
			return nil, fmt.Errorf("failed to decode members of %s: %w", row.ClassName, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enum records: %w", err)
	}
	return out, nil
}

// GetReport rebuilds the report stored for a scan
func (s *Store) GetReport(scanID string) (*report.Report, error) {
	if _, err := s.GetScan(scanID); err != nil {
		return nil, err
	}
	rows, err := s.ListEnumRows(scanID)
	if err != nil {
		return nil, err
	}

	r := &report.Report{Enums: make([]report.Record, 0, len(rows))}
	for _, row := range rows {
		members := row.Members
		if members == nil {
			members = []string{}
		}
		r.Enums = append(r.Enums, report.Record{
			ClassName:     row.ClassName,
			Members:       members,
			AvroGenerated: row.AvroGenerated,
			Source:        report.ParseSource(row.Source),
		})
	}
	return r, nil
}
