// Package store persists resolved track payloads in SQLite so that a
// restarted server does not refetch regions it has already seen.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/genome-tiles/server/internal/genome"
)

// Entry is a stored payload row without the payload body.
type Entry struct {
	Track     string    `json:"track"`
	Key       string    `json:"key"`
	Region    string    `json:"region"`
	State     string    `json:"state"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps zstd-compressed JSON payloads keyed by track and cache key.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a new SQLite-based payload store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payloads (
		track TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		region TEXT NOT NULL,
		state TEXT NOT NULL,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (track, cache_key)
	);

	CREATE INDEX IF NOT EXISTS idx_payloads_created ON payloads(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put stores d under (track, key), replacing any previous payload.
func (s *Store) Put(track, key string, d *genome.Dataset) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := s.enc.EncodeAll(raw, nil)
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO payloads (track, cache_key, region, state, payload, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		track,
		key,
		d.Region.String(),
		string(d.State),
		blob,
		len(raw),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Get returns the payload stored under (track, key), or nil if none.
func (s *Store) Get(track, key string) (*genome.Dataset, error) {
	var blob []byte
	err := s.db.QueryRow(`
		SELECT payload FROM payloads WHERE track = ? AND cache_key = ?
	`, track, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	var d genome.Dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &d, nil
}

// Delete removes one payload.
func (s *Store) Delete(track, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM payloads WHERE track = ? AND cache_key = ?", track, key)
	return err
}

// DeleteTrack removes every payload of a track.
func (s *Store) DeleteTrack(track string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM payloads WHERE track = ?", track)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOlderThan removes payloads stored before cutoff.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM payloads WHERE created_at < ?", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the stored entries of a track, newest first.
func (s *Store) List(track string) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT track, cache_key, region, state, size, created_at
		FROM payloads WHERE track = ?
		ORDER BY created_at DESC
	`, track)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAtStr string
		if err := rows.Scan(&e.Track, &e.Key, &e.Region, &e.State, &e.Size, &createdAtStr); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
