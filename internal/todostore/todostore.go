// Package todostore implements CRUD and lifecycle operations over the
// vault's todos/active and todos/done directories (spec.md §4.6).
package todostore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"soulagent/internal/types"
	"soulagent/internal/vault"
)

const (
	activeDir = "todos/active"
	doneDir   = "todos/done"
)

// priorityRank orders P0 before P1 before P2 before P3.
var priorityRank = map[types.Priority]int{
	types.PriorityP0: 0,
	types.PriorityP1: 1,
	types.PriorityP2: 2,
	types.PriorityP3: 3,
}

// Store manages to-do files under the vault, serializing activity
// updates per to-do ID so concurrent producers touching different
// to-dos don't block each other (spec.md §5).
type Store struct {
	vault *vault.Store
	now   func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Store backed by v.
func New(v *vault.Store) *Store {
	return &Store{
		vault: v,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// newID derives an 8-hex-char id from a SHA-256 of the creation text
// and timestamp (spec.md §3: "id ... immutable, from a SHA-256 of
// creation-time text+timestamp").
func newID(text string, now time.Time) string {
	sum := sha256.Sum256([]byte(text + now.String()))
	return hex.EncodeToString(sum[:])[:8]
}

// Create writes a new active to-do file, deriving its id from text and
// now, and returns it.
func (s *Store) Create(text string, priority types.Priority, autoDetected bool, now time.Time) (types.TodoItem, error) {
	id := newID(text, now)
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	item := types.TodoItem{
		ID:           id,
		Priority:     priority,
		Status:       types.TodoStatusActive,
		Created:      types.FormatDate(now),
		AutoDetected: autoDetected,
		Text:         text,
	}
	if err := s.writeLocked(activeDir, item); err != nil {
		return types.TodoItem{}, err
	}
	return item, nil
}

// List returns active to-dos sorted by priority ascending (P0 first),
// then by created date descending within a priority band (spec.md §4.6).
func (s *Store) List() ([]types.TodoItem, error) {
	return s.listDir(activeDir)
}

// ListDone returns completed to-dos in the same sort order as List.
func (s *Store) ListDone() ([]types.TodoItem, error) {
	return s.listDir(doneDir)
}

// ListAll returns active and done to-dos together, active first.
func (s *Store) ListAll() ([]types.TodoItem, error) {
	active, err := s.List()
	if err != nil {
		return nil, err
	}
	done, err := s.ListDone()
	if err != nil {
		return nil, err
	}
	return append(active, done...), nil
}

func (s *Store) listDir(dir string) ([]types.TodoItem, error) {
	names, err := s.vault.List(dir)
	if err != nil {
		return nil, fmt.Errorf("todostore: list %s: %w", dir, err)
	}
	items := make([]types.TodoItem, 0, len(names))
	for _, name := range names {
		item, ok, err := s.readNamed(dir, name)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := priorityRank[items[i].Priority], priorityRank[items[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return items[i].Created > items[j].Created
	})
	return items, nil
}

// Summaries returns the compact {id, text} view the classifier needs
// for every active to-do.
func (s *Store) Summaries() ([]types.TodoSummary, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]types.TodoSummary, len(items))
	for i, item := range items {
		out[i] = types.TodoSummary{ID: item.ID, Text: item.Text}
	}
	return out, nil
}

// Get looks up an active to-do by ID. ok is false if it doesn't exist.
func (s *Store) Get(id string) (types.TodoItem, bool, error) {
	return s.readNamed(activeDir, id+".md")
}

// RecordActivity appends an activity entry for date/source to an
// active to-do and advances its last_activity, serialized per to-do ID
// (spec.md §4.6, §5).
func (s *Store) RecordActivity(id, date, source string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.vault.Read(activeDir, id+".md")
	if err != nil {
		return fmt.Errorf("todostore: read %s: %w", id, err)
	}
	if raw == nil {
		return fmt.Errorf("todostore: to-do %s not found", id)
	}
	fields, body := vault.Parse(raw)
	fields["id"] = id
	vault.AddActivityEntry(fields, date, source)
	return s.vault.Write(activeDir, id+".md", vault.Build(fields, body))
}

// Complete moves an active to-do to done/, stamping status=done.
func (s *Store) Complete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.vault.Read(activeDir, id+".md")
	if err != nil {
		return fmt.Errorf("todostore: read %s: %w", id, err)
	}
	if raw == nil {
		return fmt.Errorf("todostore: to-do %s not found", id)
	}
	fields, body := vault.Parse(raw)
	fields["status"] = string(types.TodoStatusDone)
	fields["completed"] = types.FormatDate(s.now())
	if err := s.vault.Write(activeDir, id+".md", vault.Build(fields, body)); err != nil {
		return fmt.Errorf("todostore: stamp done %s: %w", id, err)
	}
	if err := s.vault.Move(activeDir, id+".md", doneDir, id+".md"); err != nil {
		return fmt.Errorf("todostore: move %s to done: %w", id, err)
	}
	return nil
}

// Stalled returns active to-dos whose last activity is at least
// staleDays old, relative to now (spec.md §4.6 stall detection).
func (s *Store) Stalled(now time.Time, staleDays int) ([]types.TodoItem, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -staleDays)
	out := make([]types.TodoItem, 0)
	for _, item := range items {
		last, err := time.Parse("2006-01-02", item.LastActivityDate())
		if err != nil {
			continue
		}
		if !last.After(cutoff) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) readNamed(dir, name string) (types.TodoItem, bool, error) {
	raw, err := s.vault.Read(dir, name)
	if err != nil {
		return types.TodoItem{}, false, fmt.Errorf("todostore: read %s: %w", name, err)
	}
	if raw == nil {
		return types.TodoItem{}, false, nil
	}
	fields, body := vault.Parse(raw)
	id := strings.TrimSuffix(name, ".md")
	if fields["id"] != "" {
		id = fields["id"]
	}

	item := types.TodoItem{
		ID:           id,
		Priority:     types.Priority(fields["priority"]),
		Status:       types.TodoStatus(fields["status"]),
		Created:      fields["created"],
		LastActivity: fields["last_activity"],
		ActivityLog:  vault.ParseActivityLog(fields["activity_log"]),
		AutoDetected: fields["auto_detected"] == "true",
		Completed:    fields["completed"],
		Text:         body,
	}
	return item, true, nil
}

func (s *Store) writeLocked(dir string, item types.TodoItem) error {
	fields := map[string]string{
		"id":            item.ID,
		"status":        string(item.Status),
		"auto_detected": strconv.FormatBool(item.AutoDetected),
	}
	vault.AddLifecycle(fields, item.Priority, mustParseDate(item.Created))
	if item.LastActivity != "" {
		fields["last_activity"] = item.LastActivity
	}
	if len(item.ActivityLog) > 0 {
		fields["activity_log"] = vault.FormatActivityLog(item.ActivityLog)
	}
	return s.vault.Write(dir, item.ID+".md", vault.Build(fields, item.Text))
}

func mustParseDate(date string) time.Time {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Now()
	}
	return t
}
