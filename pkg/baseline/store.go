// Package baseline persists per-document snapshots and drives the batch
// baseline build.
package baseline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/ckcm0210/watchdog/pkg/cellmodel"
)

// FileSuffix is appended to the baseline key to form the file name.
const FileSuffix = ".baseline.json.gz"

// Baseline is the persisted last-known state of one document.
type Baseline struct {
	LastAuthor  string           `json:"last_author,omitempty"`
	ContentHash string           `json:"content_hash"`
	Cells       *cellmodel.Model `json:"cells"`
}

// KeyFor returns the baseline key for a document path. The key is the
// basename: two watched documents sharing a basename collide, last
// writer wins. Changing the key scheme would orphan existing baselines.
func KeyFor(path string) string {
	return filepath.Base(path)
}

// Store reads and writes baseline files in a single flat directory.
type Store struct {
	dir string
}

// NewStore creates the baseline directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, key+FileSuffix)
}

// Load reads the baseline for key. An absent file returns (nil, nil); a
// malformed file returns an error, which callers treat as absent so a
// fresh baseline gets built.
func (s *Store) Load(key string) (*Baseline, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load baseline %s: %w", key, err)
	}
	b, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("load baseline %s: %w", key, err)
	}
	return b, nil
}

// Save writes the baseline for key atomically: the bytes go to a sibling
// temporary file, are re-read and parsed to verify them, and only then
// renamed over the target. Readers observe either the prior baseline or
// the new one, never a truncated file.
func (s *Store) Save(key string, b *Baseline) error {
	data, err := encode(b)
	if err != nil {
		return fmt.Errorf("save baseline %s: %w", key, err)
	}

	target := s.pathFor(key)
	tmp := target + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save baseline %s: %w", key, err)
	}

	if err := verify(tmp, b.ContentHash); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save baseline %s: verify: %w", key, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save baseline %s: %w", key, err)
	}
	return nil
}

func encode(b *Baseline) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Baseline, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func verify(path, wantHash string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := decode(data)
	if err != nil {
		return err
	}
	if b.ContentHash != wantHash {
		return fmt.Errorf("content hash mismatch after write")
	}
	return nil
}
