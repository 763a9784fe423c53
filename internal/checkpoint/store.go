// Package checkpoint persists completed sections so interrupted runs resume
// without repeating model calls. The store is keyed by section number; key
// presence is the only truth about completion.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"alainkit/internal/notebook"
)

// Store is the checkpoint contract. Writes never contend: each worker owns
// exactly one section number.
type Store interface {
	// Get returns the checkpointed section, or ok=false when absent.
	Get(sectionNumber int) (*notebook.Section, bool, error)

	// Put persists the section under its number, replacing any prior value.
	Put(sectionNumber int, section *notebook.Section) error

	// Completed returns the checkpointed section numbers in ascending order.
	Completed() ([]int, error)
}

var checkpointName = regexp.MustCompile(`^(\d+)\.json$`)

// FileStore keeps one JSON file per section under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(n int) string {
	return filepath.Join(s.dir, strconv.Itoa(n)+".json")
}

// Get loads one checkpointed section.
func (s *FileStore) Get(n int) (*notebook.Section, bool, error) {
	data, err := os.ReadFile(s.path(n))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read checkpoint %d: %w", n, err)
	}
	var section notebook.Section
	if err := json.Unmarshal(data, &section); err != nil {
		return nil, false, fmt.Errorf("corrupt checkpoint %d: %w", n, err)
	}
	return &section, true, nil
}

// Put writes one checkpoint file.
func (s *FileStore) Put(n int, section *notebook.Section) error {
	data, err := json.MarshalIndent(section, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %d: %w", n, err)
	}
	if err := os.WriteFile(s.path(n), data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %d: %w", n, err)
	}
	return nil
}

// Completed scans the directory for <n>.json files.
func (s *FileStore) Completed() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoint dir: %w", err)
	}
	var nums []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := checkpointName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

var _ Store = (*FileStore)(nil)
