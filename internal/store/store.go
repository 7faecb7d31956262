// Package store persists annotation records in per-(user, role, day)
// CSV files. Writes follow a read-modify-write protocol: rows matching
// an incoming record's (image path, username) pair are replaced, the
// merged table is written to a temporary file and renamed over the
// destination, and transient failures are retried with exponential
// backoff. Readers therefore never observe a partially written file.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/google/uuid"

	"github.com/ardsquest/cxr-annotator/internal/domain"
)

const (
	// DefaultMaxAttempts bounds the number of times one save is tried.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the first retry delay; it doubles per attempt.
	DefaultBackoff = 400 * time.Millisecond
)

// Filename returns the deterministic store file name for one user, role
// and day.
func Filename(username string, role domain.Role, day time.Time) string {
	return fmt.Sprintf("annotations_%s_%s_%s.csv", username, role, day.Format("20060102"))
}

// Store reads and writes annotation tables on a billy filesystem rooted
// at the annotation directory.
type Store struct {
	fs          billy.Filesystem
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	snapshots map[string][]*domain.Annotation

	// renameHook, when set, runs before every rename. Test seam for
	// simulating a failure between the temp write and the replace.
	renameHook func() error
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the save retry bound and initial backoff.
func WithRetryPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(s *Store) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// New creates a Store on the given filesystem.
func New(fs billy.Filesystem, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		fs:          fs,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		locks:       make(map[string]*sync.Mutex),
		snapshots:   make(map[string][]*domain.Annotation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert replaces any persisted rows whose (image path, username) pair
// matches an incoming record, appends the new records, and commits the
// merged table atomically. It returns the resulting snapshot.
//
// The read-modify-write-rename window is serialized per store file, so
// saves from this process form a single-writer queue per path. Overlap
// with other processes is handled only by the retry and the atomic
// rename, matching the per-day single-owner model of the files.
func (s *Store) Upsert(ctx context.Context, filename string, records []*domain.Annotation) ([]*domain.Annotation, error) {
	if len(records) == 0 {
		s.mu.Lock()
		snapshot := s.snapshots[filename]
		s.mu.Unlock()
		return snapshot, nil
	}
	role := records[0].Role

	lock := s.lockFor(filename)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := s.backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		snapshot, err := s.commit(filename, role, records)
		if err == nil {
			s.setSnapshot(filename, snapshot)
			return snapshot, nil
		}
		lastErr = err
		s.logger.Warn("save attempt failed",
			"file", filename, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("while saving %s after %d attempts: %w", filename, s.maxAttempts, lastErr)
}

// commit performs one read-merge-write-rename cycle.
func (s *Store) commit(filename string, role domain.Role, records []*domain.Annotation) ([]*domain.Annotation, error) {
	existing := s.Read(filename, role)
	merged := merge(existing, records)

	tmp := fmt.Sprintf(".%s.%s.tmp", filename, uuid.New())
	f, err := s.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("while creating temp file for %s: %w", filename, err)
	}
	if err := writeTable(f, role, merged); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return nil, fmt.Errorf("while writing temp file for %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return nil, fmt.Errorf("while closing temp file for %s: %w", filename, err)
	}
	if err := s.rename(tmp, filename); err != nil {
		s.fs.Remove(tmp)
		return nil, fmt.Errorf("while replacing %s: %w", filename, err)
	}
	return merged, nil
}

// rename is the atomic replace step.
func (s *Store) rename(tmp, filename string) error {
	if s.renameHook != nil {
		if err := s.renameHook(); err != nil {
			return err
		}
	}
	return s.fs.Rename(tmp, filename)
}

// merge removes existing rows superseded by the incoming records and
// appends the new records at the end.
func merge(existing, records []*domain.Annotation) []*domain.Annotation {
	type key struct{ path, user string }
	incoming := make(map[key]struct{}, len(records))
	for _, r := range records {
		incoming[key{r.ImagePath, r.Username}] = struct{}{}
	}
	merged := make([]*domain.Annotation, 0, len(existing)+len(records))
	for _, r := range existing {
		if _, superseded := incoming[key{r.ImagePath, r.Username}]; superseded {
			continue
		}
		merged = append(merged, r)
	}
	return append(merged, records...)
}

// Read loads the persisted table for a store file. A missing or
// unreadable file is an empty table, not an error: the first save for a
// given user, role and day creates the file.
func (s *Store) Read(filename string, role domain.Role) []*domain.Annotation {
	f, err := s.fs.Open(filename)
	if err != nil {
		return nil
	}
	defer f.Close()
	records, err := readTable(f, role)
	if err != nil {
		s.logger.Warn("unreadable store file treated as empty", "file", filename, "error", err)
		return nil
	}
	return records
}

// Snapshot returns the cached table for a store file, reading it from
// storage the first time. Successful upserts refresh the cache, so
// loads within a session do not hit storage again.
func (s *Store) Snapshot(filename string, role domain.Role) []*domain.Annotation {
	s.mu.Lock()
	snapshot, ok := s.snapshots[filename]
	s.mu.Unlock()
	if ok {
		return snapshot
	}
	snapshot = s.Read(filename, role)
	s.setSnapshot(filename, snapshot)
	return snapshot
}

func (s *Store) setSnapshot(filename string, snapshot []*domain.Annotation) {
	s.mu.Lock()
	s.snapshots[filename] = snapshot
	s.mu.Unlock()
}

func (s *Store) lockFor(filename string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[filename]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[filename] = lock
	}
	return lock
}

// MostRecent picks the latest record for an (image path, username) pair
// from a snapshot. Under the dedup invariant at most one row matches,
// but legacy files may hold duplicates; the greatest timestamp wins.
func MostRecent(snapshot []*domain.Annotation, imagePath, username string) *domain.Annotation {
	var latest *domain.Annotation
	for _, r := range snapshot {
		if r.ImagePath != imagePath || r.Username != username {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest
}

// Verify that Store implements domain.AnnotationStore
var _ domain.AnnotationStore = (*Store)(nil)
