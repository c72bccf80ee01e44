package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"soulagent/internal/types"
)

// ErrInvalidName is returned when a caller-supplied filename attempts
// path traversal (spec.md §4.1: "name must not contain / or ..").
var ErrInvalidName = errors.New("vault: invalid file name")

// Store is a single process-wide handle to the vault root directory.
// All operations serialize through one mutex — the same "single
// process-wide lock" the teacher's file-backed stores use per file,
// generalized here to the whole tree per spec.md §5.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at root. The directory is created lazily
// on first write, matching spec.md §4.1 ("creates parent directory on
// demand").
func New(root string) *Store {
	return &Store{root: root}
}

func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return false
	}
	return name != "." && name != ".." && !strings.Contains(name, "..")
}

// Read returns the contents of dir/name, or (nil, nil) if the file
// does not exist — the vault never fails on a missing file.
func (s *Store) Read(dir, name string) ([]byte, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.root, dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Write atomically replaces dir/name with content (write-to-temp then
// rename), creating the parent directory on demand.
func (s *Store) Write(dir, name string, content []byte) error {
	if !validName(name) {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(dir, name, content)
}

func (s *Store) writeLocked(dir, name string, content []byte) error {
	fullDir := filepath.Join(s.root, dir)
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", fullDir, err)
	}
	tmp, err := os.CreateTemp(fullDir, ".tmp-*.md")
	if err != nil {
		return fmt.Errorf("vault: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("vault: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(fullDir, name)); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	return nil
}

// Delete removes dir/name, reporting whether a file was actually removed.
func (s *Store) Delete(dir, name string) (bool, error) {
	if !validName(name) {
		return false, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.root, dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns the lexicographically sorted *.md filenames under dir.
func (s *Store) List(dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Move relocates a file from one directory to another under the vault
// root, atomically where the OS allows it (both are on the same
// filesystem since both live under root). Used by the to-do store to
// move a completed task from active/ to done/.
func (s *Store) Move(srcDir, srcName, dstDir, dstName string) error {
	if !validName(srcName) || !validName(dstName) {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dstFullDir := filepath.Join(s.root, dstDir)
	if err := os.MkdirAll(dstFullDir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", dstFullDir, err)
	}
	src := filepath.Join(s.root, srcDir, srcName)
	dst := filepath.Join(dstFullDir, dstName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("vault: move %s -> %s: %w", src, dst, err)
	}
	return nil
}

// IngestText writes a short content-addressed note to classified/,
// producing a deterministic filename from a hash of the text
// (spec.md §4.1).
func (s *Store) IngestText(text string, source types.Source) error {
	sum := sha256.Sum256([]byte(text))
	name := hex.EncodeToString(sum[:])[:16] + ".md"

	fields := map[string]string{
		"type": string(source),
		"date": types.FormatDate(time.Now()),
	}
	content := Build(fields, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked("classified", name, content)
}

// Root returns the vault's root directory, mainly for producers that
// need to compose paths for full-text search scans.
func (s *Store) Root() string {
	return s.root
}
