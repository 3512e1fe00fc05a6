// Package store keeps uploaded program binaries in memory and persists them
// through a Backend.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"ledvm/pkg/isa"
	"ledvm/pkg/vm"
)

var log = commonlog.GetLogger("ledvm.store")

const (
	// MaxProgramBytes is the largest program a jump can address.
	MaxProgramBytes = isa.MaxProgramSize
	// DefaultQuota bounds the total size of all stored programs.
	DefaultQuota = 4 << 20
	// IdleProgram is the name of the locked fallback program.
	IdleProgram = "idle"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,63}$`)

var (
	ErrNotFound      = errors.New("program not found")
	ErrInvalidName   = errors.New("invalid program name")
	ErrLocked        = errors.New("program is locked")
	ErrTooLarge      = errors.New("program too large")
	ErrQuotaExceeded = errors.New("store quota exceeded")
)

type Entry struct {
	Name     string
	Code     []byte
	Locked   bool
	Created  time.Time
	Modified time.Time
	Checksum string
}

// Info describes a stored program without its code.
type Info struct {
	Name     string    `json:"name"`
	Size     int       `json:"size"`
	Locked   bool      `json:"locked"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Checksum string    `json:"checksum"`
}

func (e *Entry) info() Info {
	return Info{
		Name:     e.Name,
		Size:     len(e.Code),
		Locked:   e.Locked,
		Created:  e.Created,
		Modified: e.Modified,
		Checksum: e.Checksum,
	}
}

func (e *Entry) clone() Entry {
	c := *e
	c.Code = append([]byte(nil), e.Code...)
	return c
}

func checksum(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:8])
}

func ValidName(name string) bool {
	return validName.MatchString(name)
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	dirty   map[string]bool
	used    int
	quota   int
	now     func() time.Time
}

func New(quota int) *Store {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Store{
		entries: make(map[string]*Entry),
		dirty:   make(map[string]bool),
		quota:   quota,
		now:     time.Now,
	}
}

// Put stores a copy of code under name, replacing any unlocked program of
// the same name.
func (s *Store) Put(name string, code []byte) error {
	return s.put(name, code, false)
}

// PutLocked installs a program that Put and Delete will refuse to touch.
func (s *Store) PutLocked(name string, code []byte) error {
	return s.put(name, code, true)
}

func (s *Store) put(name string, code []byte, locked bool) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if len(code) > MaxProgramBytes {
		return ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldSize := 0
	entry, exists := s.entries[name]
	if exists {
		if entry.Locked && !locked {
			return ErrLocked
		}
		oldSize = len(entry.Code)
	}
	if s.used-oldSize+len(code) > s.quota {
		return ErrQuotaExceeded
	}

	now := s.now()
	if !exists {
		entry = &Entry{Name: name, Created: now}
		s.entries[name] = entry
	}
	entry.Code = append([]byte(nil), code...)
	entry.Locked = locked
	entry.Modified = now
	entry.Checksum = checksum(code)

	s.used += len(code) - oldSize
	s.dirty[name] = true
	log.Infof("stored %q (%s, %s)", name, humanize.Bytes(uint64(len(code))), entry.Checksum)
	return nil
}

// Get returns a copy of the named entry.
func (s *Store) Get(name string) (Entry, error) {
	if !ValidName(name) {
		return Entry{}, ErrInvalidName
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry.clone(), nil
}

// Program returns the named entry ready to load into a VM.
func (s *Store) Program(name string) (*vm.Program, error) {
	e, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return &vm.Program{Name: e.Name, Code: e.Code}, nil
}

func (s *Store) Delete(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return ErrNotFound
	}
	if entry.Locked {
		return ErrLocked
	}
	s.used -= len(entry.Code)
	delete(s.entries, name)
	s.dirty[name] = true
	log.Infof("deleted %q", name)
	return nil
}

// List returns every stored program sorted by name.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// Load merges every entry from b into the store. Entries with invalid names
// are skipped.
func (s *Store) Load(b Backend) error {
	entries, err := b.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		e := entries[i]
		if !ValidName(e.Name) || len(e.Code) > MaxProgramBytes {
			log.Warningf("skipping stored program %q", e.Name)
			continue
		}
		if old, ok := s.entries[e.Name]; ok {
			s.used -= len(old.Code)
		}
		if e.Checksum == "" {
			e.Checksum = checksum(e.Code)
		}
		s.entries[e.Name] = &e
		s.used += len(e.Code)
	}
	log.Infof("loaded %d program(s), %s of %s used", len(entries), humanize.Bytes(uint64(s.used)), humanize.Bytes(uint64(s.quota)))
	return nil
}

// Persist writes every entry changed since the last Persist to b. Entries
// that fail to save stay dirty.
func (s *Store) Persist(b Backend) error {
	s.mu.Lock()
	var changed []Entry
	var deleted []string
	for name := range s.dirty {
		if e, ok := s.entries[name]; ok {
			changed = append(changed, e.clone())
		} else {
			deleted = append(deleted, name)
		}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	if len(changed) == 0 && len(deleted) == 0 {
		return nil
	}

	if err := b.Save(changed, deleted); err != nil {
		s.mu.Lock()
		for _, e := range changed {
			s.dirty[e.Name] = true
		}
		for _, name := range deleted {
			s.dirty[name] = true
		}
		s.mu.Unlock()
		return err
	}
	log.Debugf("persisted %d changed, %d deleted", len(changed), len(deleted))
	return nil
}

// StartSyncer persists the store every interval until ctx is done, then
// flushes once more. It blocks; run it in its own goroutine.
func (s *Store) StartSyncer(ctx context.Context, b Backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.Dirty() {
				if err := s.Persist(b); err != nil {
					log.Errorf("sync: %v", err)
				}
			}
		case <-ctx.Done():
			if err := s.Persist(b); err != nil {
				log.Errorf("final sync: %v", err)
			}
			return
		}
	}
}
