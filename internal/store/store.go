// Package store is the persistence collaborator: saved records and their
// extracted fields, kept in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mwhitford/cabinet/internal/fields"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is a saved document with its final (merged) field values.
type Record struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	DocumentType   string        `json:"documentType"`
	Domain         string        `json:"domain,omitempty"`
	Category       string        `json:"category,omitempty"`
	ExpirationDate string        `json:"expirationDate,omitempty"`
	StorageRef     string        `json:"storageRef,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Fields         []RecordField `json:"fields,omitempty"`
}

// RecordField is one persisted field value. Value keeps its JSON type by
// round-tripping through an encoded TEXT column.
type RecordField struct {
	Name       string      `json:"name"`
	Label      string      `json:"label,omitempty"`
	Value      any         `json:"value"`
	Type       fields.Type `json:"fieldType"`
	Confidence float64     `json:"confidence"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// SaveRecord persists a record and its fields in one transaction. A missing
// ID is generated. Returns the stored record with timestamps filled in.
func (s *Store) SaveRecord(ctx context.Context, rec *Record) (*Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, title, document_type, domain, category, expiration_date, storage_ref, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			document_type = excluded.document_type,
			domain = excluded.domain,
			category = excluded.category,
			expiration_date = excluded.expiration_date,
			storage_ref = excluded.storage_ref,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Title, rec.DocumentType, rec.Domain, rec.Category,
		rec.ExpirationDate, rec.StorageRef, rec.Summary,
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	// Replace the field set wholesale; merges always carry the full set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_fields WHERE record_id = ?`, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to clear fields: %w", err)
	}
	for _, f := range rec.Fields {
		valJSON, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", f.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_fields (record_id, name, label, value, field_type, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, f.Name, f.Label, string(valJSON), string(f.Type), f.Confidence)
		if err != nil {
			return nil, fmt.Errorf("failed to insert field %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("record saved", "id", rec.ID, "fields", len(rec.Fields))
	return rec, nil
}

// GetRecord loads a record and its fields by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT title, document_type, domain, category, expiration_date, storage_ref, summary, created_at, updated_at
		FROM records WHERE id = ?
	`, id).Scan(&rec.Title, &rec.DocumentType, &rec.Domain, &rec.Category,
		&rec.ExpirationDate, &rec.StorageRef, &rec.Summary, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, label, value, field_type, confidence
		FROM record_fields WHERE record_id = ? ORDER BY name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f RecordField
		var valJSON, ftype string
		if err := rows.Scan(&f.Name, &f.Label, &valJSON, &ftype, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		f.Type = fields.Type(ftype)
		if err := json.Unmarshal([]byte(valJSON), &f.Value); err != nil {
			return nil, fmt.Errorf("failed to decode field %s: %w", f.Name, err)
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec, rows.Err()
}

// ListRecords returns records, optionally filtered by domain, newest first.
// Field sets are not loaded; use GetRecord for the full record.
func (s *Store) ListRecords(ctx context.Context, domain string) ([]*Record, error) {
	query := `
		SELECT id, title, document_type, domain, category, expiration_date, storage_ref, summary, created_at, updated_at
		FROM records`
	args := []any{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.DocumentType, &rec.Domain,
			&rec.Category, &rec.ExpirationDate, &rec.StorageRef, &rec.Summary,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteRecord removes a record and its fields.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
