package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"alainkit/internal/notebook"
)

// SQLiteStore keeps checkpoints in a single sqlite database. Useful when a
// run's sections should travel as one artifact instead of a directory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS sections (
		section_number INTEGER PRIMARY KEY,
		payload        TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get loads one checkpointed section.
func (s *SQLiteStore) Get(n int) (*notebook.Section, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM sections WHERE section_number = ?`, n).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read checkpoint %d: %w", n, err)
	}
	var section notebook.Section
	if err := json.Unmarshal([]byte(payload), &section); err != nil {
		return nil, false, fmt.Errorf("corrupt checkpoint %d: %w", n, err)
	}
	return &section, true, nil
}

// Put upserts one section.
func (s *SQLiteStore) Put(n int, section *notebook.Section) error {
	data, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %d: %w", n, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sections (section_number, payload) VALUES (?, ?)
		 ON CONFLICT(section_number) DO UPDATE SET payload = excluded.payload`,
		n, string(data))
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %d: %w", n, err)
	}
	return nil
}

// Completed returns checkpointed section numbers in ascending order.
func (s *SQLiteStore) Completed() ([]int, error) {
	rows, err := s.db.Query(`SELECT section_number FROM sections ORDER BY section_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoints: %w", err)
	}
	defer rows.Close()

	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
