// Package ridelog writes ride and charging CSV logs and tracks which of
// them still need uploading.
package ridelog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/esk8-logger/internal/logging"
)

var log = logging.Component("ridelog")

// Directory names under the store base.
const (
	PendingDir = "logs"
	SyncedDir  = "logs-synced"
)

// PartSuffix is appended to a log while it is still being written. Such
// files are never listed as pending.
const PartSuffix = ".part"

// ErrNotFound is returned by Locate for unknown log names.
var ErrNotFound = errors.New("log not found")

// Kind selects the file name prefix.
type Kind string

const (
	KindRide   Kind = "log"
	KindCharge Kind = "charge"
)

// FileName returns the log name for a file started at t, e.g.
// log.2026.03.23.12.35.19.log. Times are formatted in UTC.
func FileName(kind Kind, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%d.%02d.%02d.%02d.%02d.%02d.log",
		kind, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// File describes a log file waiting for upload.
type File struct {
	Name string
	Path string
	Size int64
}

// Store owns the pending and synced directories.
type Store struct {
	base string
}

// NewStore returns a store rooted at base. Call Init before use.
func NewStore(base string) *Store {
	return &Store{base: base}
}

// Init creates the directory layout.
func (s *Store) Init() error {
	for _, d := range []string{PendingDir, SyncedDir} {
		if err := os.MkdirAll(filepath.Join(s.base, d), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return s.recoverParts()
}

// recoverParts queues logs left half-written by an unclean shutdown. It
// must only run while no writer is open.
func (s *Store) recoverParts() error {
	dir := filepath.Join(s.base, PendingDir)
	parts, err := filepath.Glob(filepath.Join(dir, "*.log"+PartSuffix))
	if err != nil {
		return err
	}
	for _, p := range parts {
		final := strings.TrimSuffix(p, PartSuffix)
		if err := os.Rename(p, final); err != nil {
			return fmt.Errorf("recovering %s: %w", filepath.Base(p), err)
		}
		log.WithField("file", filepath.Base(final)).Warn("recovered unfinished log")
	}
	return nil
}

// Base returns the root directory.
func (s *Store) Base() string {
	return s.base
}

// OpenLog is a log being written. It is invisible to Pending until
// Close moves it into place.
type OpenLog struct {
	Name  string
	file  *os.File
	final string
}

// Write appends to the log.
func (l *OpenLog) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// Close closes the file and queues it for upload.
func (l *OpenLog) Close() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", l.Name, err)
	}
	if err := os.Rename(l.file.Name(), l.final); err != nil {
		return fmt.Errorf("queueing %s: %w", l.Name, err)
	}
	return nil
}

// Discard closes and removes a log that should not be kept.
func (l *OpenLog) Discard() error {
	l.file.Close()
	return os.Remove(l.file.Name())
}

// Create opens a new log file under its in-progress name. A pending file
// of the same name is taken back and appended to.
func (s *Store) Create(kind Kind, at time.Time) (*OpenLog, error) {
	name := FileName(kind, at)
	final := filepath.Join(s.base, PendingDir, name)
	part := final + PartSuffix
	if err := os.Rename(final, part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reopening log %s: %w", name, err)
	}
	f, err := os.OpenFile(part, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating log %s: %w", name, err)
	}
	return &OpenLog{Name: name, file: f, final: final}, nil
}

// Pending lists finished log files not yet uploaded, oldest name first.
func (s *Store) Pending() ([]File, error) {
	return s.list(PendingDir)
}

// Synced lists uploaded log files, oldest name first.
func (s *Store) Synced() ([]File, error) {
	return s.list(SyncedDir)
}

// Locate returns the path of a finished log in either directory.
func (s *Store) Locate(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".log") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	for _, d := range []string{PendingDir, SyncedDir} {
		p := filepath.Join(s.base, d, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

func (s *Store) list(sub string) ([]File, error) {
	dir := filepath.Join(s.base, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// PendingCount is len(Pending()).
func (s *Store) PendingCount() (int, error) {
	files, err := s.Pending()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// MarkSynced moves a pending file into the synced directory.
func (s *Store) MarkSynced(name string) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid log name %q", name)
	}
	from := filepath.Join(s.base, PendingDir, name)
	to := filepath.Join(s.base, SyncedDir, name)
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("marking %s synced: %w", name, err)
	}
	log.WithField("file", name).Debug("log synced")
	return nil
}

// Space is the storage capacity in bytes.
type Space struct {
	Free  uint64
	Total uint64
}

// FreeSpace reports capacity of the filesystem holding the store.
func (s *Store) FreeSpace() (Space, error) {
	return statfs(s.base)
}
