package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
// Structured fields are stored as JSON text columns and parsed here; callers
// only ever see typed values.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store.
// dbPath is the path to the SQLite database file; use ":memory:" for testing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("record: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS scans (
			client_id     TEXT PRIMARY KEY,
			url           TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			ts            TEXT NOT NULL,
			ips           TEXT DEFAULT '',
			geo           TEXT DEFAULT '',
			asn           TEXT DEFAULT '',
			technologies  TEXT DEFAULT '',
			headers       TEXT DEFAULT '',
			header_checks TEXT DEFAULT '',
			screenshot    TEXT DEFAULT '',
			dirbuster     TEXT DEFAULT '',
			portscan      TEXT DEFAULT '',
			portscan_rid  TEXT DEFAULT '',
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create upserts a record by client id. Replaying the same record yields
// the same row, which keeps scan initiation safe under at-least-once
// delivery.
func (s *SQLiteStore) Create(ctx context.Context, rec *ScanRecord) error {
	if rec.ClientID == "" {
		return fmt.Errorf("record: create: empty client id")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO scans (client_id, url, status, ts, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			url        = excluded.url,
			status     = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ClientID,
		rec.URL,
		rec.Status,
		rec.Timestamp.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record: create: %w", err)
	}
	return nil
}

// Update merges the non-nil patch fields into the stored row. Unset fields
// keep their current value, so a stage can never clear another stage's
// result.
func (s *SQLiteStore) Update(ctx context.Context, clientID string, patch Patch) error {
	var (
		sets []string
		args []any
	)

	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	setJSON := func(column string, value any) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("record: marshal %s: %w", column, err)
		}
		set(column, string(data))
		return nil
	}

	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.Screenshot != nil {
		set("screenshot", *patch.Screenshot)
	}
	if patch.DirBuster != nil {
		set("dirbuster", *patch.DirBuster)
	}
	if patch.PortScanRequestID != nil {
		set("portscan_rid", *patch.PortScanRequestID)
	}
	jsonFields := []struct {
		column string
		value  any
		isSet  bool
	}{
		{"ips", patch.IPs, patch.IPs != nil},
		{"geo", patch.Geo, patch.Geo != nil},
		{"asn", patch.ASN, patch.ASN != nil},
		{"technologies", patch.Technologies, patch.Technologies != nil},
		{"headers", patch.Headers, patch.Headers != nil},
		{"header_checks", patch.HeaderChecks, patch.HeaderChecks != nil},
		{"portscan", patch.PortScan, patch.PortScan != nil},
	}
	for _, f := range jsonFields {
		if !f.isSet {
			continue
		}
		if err := setJSON(f.column, f.value); err != nil {
			return err
		}
	}

	if len(sets) == 0 {
		// Nothing to merge; still verify the record exists.
		_, err := s.Get(ctx, clientID)
		return err
	}

	set("updated_at", time.Now().UTC().Format(time.RFC3339))
	args = append(args, clientID)

	query := "UPDATE scans SET " + strings.Join(sets, ", ") + " WHERE client_id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("record: update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the full record for a client id.
func (s *SQLiteStore) Get(ctx context.Context, clientID string) (*ScanRecord, error) {
	query := `
		SELECT client_id, url, status, ts, ips, geo, asn, technologies,
		       headers, header_checks, screenshot, dirbuster, portscan,
		       portscan_rid
		FROM scans WHERE client_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, clientID)

	var (
		rec ScanRecord
		ts  string

		ips, geo, asn, technologies, headers, headerChecks, portscan string
	)
	err := row.Scan(
		&rec.ClientID, &rec.URL, &rec.Status, &ts,
		&ips, &geo, &asn, &technologies,
		&headers, &headerChecks, &rec.Screenshot, &rec.DirBuster, &portscan,
		&rec.PortScanRequestID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("record: scan row: %w", err)
	}

	rec.Timestamp, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("record: parse timestamp %q: %w", ts, err)
	}

	if err := unmarshalColumn(ips, &rec.IPs); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(geo, &rec.Geo); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(asn, &rec.ASN); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(technologies, &rec.Technologies); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(headers, &rec.Headers); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(headerChecks, &rec.HeaderChecks); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(portscan, &rec.PortScan); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// unmarshalColumn decodes a JSON text column into dst. An empty column
// means the field was never set and leaves dst untouched.
func unmarshalColumn(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("record: unmarshal column: %w", err)
	}
	return nil
}
