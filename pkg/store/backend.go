package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Backend is durable storage for a Store.
type Backend interface {
	// Load returns every persisted entry.
	Load() ([]Entry, error)
	// Save writes changed entries and removes deleted ones.
	Save(changed []Entry, deleted []string) error
	Close() error
}

const (
	binExt    = ".bin"
	indexFile = "index.cbor"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type indexEntry struct {
	Locked   bool   `cbor:"locked"`
	Created  int64  `cbor:"created"`
	Modified int64  `cbor:"modified"`
	Checksum string `cbor:"checksum"`
}

type index struct {
	Version  int                   `cbor:"version"`
	Programs map[string]indexEntry `cbor:"programs"`
}

// DirBackend stores each program as <name>.bin in a host directory, with
// metadata in a canonical CBOR index file next to them.
type DirBackend struct {
	Path string
}

func NewDirBackend(path string) *DirBackend {
	return &DirBackend{Path: path}
}

func (d *DirBackend) readIndex() (index, error) {
	idx := index{Version: 1, Programs: make(map[string]indexEntry)}
	raw, err := os.ReadFile(filepath.Join(d.Path, indexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return idx, nil
		}
		return idx, err
	}
	if err := cbor.Unmarshal(raw, &idx); err != nil {
		return idx, fmt.Errorf("store: unmarshal index: %w", err)
	}
	if idx.Programs == nil {
		idx.Programs = make(map[string]indexEntry)
	}
	return idx, nil
}

func (d *DirBackend) writeIndex(idx index) error {
	raw, err := cborEncMode.Marshal(idx)
	if err != nil {
		return err
	}
	tmp := filepath.Join(d.Path, indexFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(d.Path, indexFile))
}

// Load returns nil if the directory does not exist yet.
func (d *DirBackend) Load() ([]Entry, error) {
	files, err := os.ReadDir(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	idx, err := d.readIndex()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), binExt) {
			continue
		}
		name := strings.TrimSuffix(f.Name(), binExt)
		if !ValidName(name) {
			continue
		}
		fullPath := filepath.Join(d.Path, f.Name())
		code, err := os.ReadFile(fullPath)
		if err != nil {
			log.Warningf("reading %s: %v", fullPath, err)
			continue
		}

		e := Entry{Name: name, Code: code}
		if meta, ok := idx.Programs[name]; ok {
			e.Locked = meta.Locked
			e.Created = time.Unix(0, meta.Created)
			e.Modified = time.Unix(0, meta.Modified)
			e.Checksum = meta.Checksum
			if e.Checksum != checksum(code) {
				log.Warningf("%s: checksum mismatch, file changed outside the store", fullPath)
				e.Checksum = ""
			}
		} else if info, err := f.Info(); err == nil {
			e.Created = info.ModTime()
			e.Modified = info.ModTime()
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *DirBackend) Save(changed []Entry, deleted []string) error {
	if err := os.MkdirAll(d.Path, 0755); err != nil {
		return err
	}
	idx, err := d.readIndex()
	if err != nil {
		return err
	}

	var firstErr error
	for _, name := range deleted {
		err := os.Remove(filepath.Join(d.Path, name+binExt))
		if err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
		delete(idx.Programs, name)
	}
	for _, e := range changed {
		fullPath := filepath.Join(d.Path, e.Name+binExt)
		if err := os.WriteFile(fullPath, e.Code, 0644); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = os.Chtimes(fullPath, time.Now(), e.Modified)
		idx.Programs[e.Name] = indexEntry{
			Locked:   e.Locked,
			Created:  e.Created.UnixNano(),
			Modified: e.Modified.UnixNano(),
			Checksum: e.Checksum,
		}
	}

	if err := d.writeIndex(idx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *DirBackend) Close() error { return nil }

// Open returns the backend for a storage driver name: "memory", "dir" or
// "sqlite".
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "memory", "":
		return nopBackend{}, nil
	case "dir":
		return NewDirBackend(path), nil
	case "sqlite":
		return NewSQLiteBackend(path)
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}

type nopBackend struct{}

func (nopBackend) Load() ([]Entry, error)       { return nil, nil }
func (nopBackend) Save([]Entry, []string) error { return nil }
func (nopBackend) Close() error                 { return nil }
