package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// ErrLocked is returned by Lock when another process holds the progress file.
var ErrLocked = errors.New("progress file is locked by another run")

// Store is the durable ProgressStore. It is not safe for concurrent use; the
// resolver is its only writer.
type Store struct {
	path      string
	lock      *flock.Flock
	openGenre string
	logger    *log.Entry
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		logger: log.WithFields(log.Fields{
			"module": "progress",
			"file":   path,
		}),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Lock takes the advisory single-writer lock next to the progress file.
func (s *Store) Lock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire progress lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// Load reads every record. A missing file is a first run and yields nothing.
func (s *Store) Load() ([]GenreRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no progress file yet, starting fresh")
		return []GenreRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	records, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse progress file %s: %w", s.path, err)
	}
	s.logger.Tracef("loaded %d genre records", len(records))
	return records, nil
}

// Append writes one entry for genre straight to disk, opening the genre's
// block first if it is not the block currently being written.
func (s *Store) Append(genre string, entry TitleEntry) error {
	chunk := encodeEntry(entry)
	if s.openGenre != genre {
		if s.openGenre != "" {
			return fmt.Errorf("cannot append to %q: block for %q is not finalized", genre, s.openGenre)
		}
		chunk = encodeHeader(genre) + chunk
	}
	if err := s.appendRaw(chunk); err != nil {
		return err
	}
	s.openGenre = genre
	return nil
}

// FinalizeGenre writes the terminator for genre. A genre that never received
// an entry gets an empty block.
func (s *Store) FinalizeGenre(genre string) error {
	chunk := terminatorLine + "\n"
	if s.openGenre != genre {
		if s.openGenre != "" {
			return fmt.Errorf("cannot finalize %q: block for %q is still open", genre, s.openGenre)
		}
		chunk = encodeHeader(genre) + chunk
	}
	if err := s.appendRaw(chunk); err != nil {
		return err
	}
	s.openGenre = ""
	return nil
}

func (s *Store) appendRaw(chunk string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open progress file: %w", err)
	}
	if _, err := f.WriteString(chunk); err != nil {
		f.Close()
		return fmt.Errorf("failed to append progress: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync progress file: %w", err)
	}
	return f.Close()
}

// Save replaces the whole file atomically: a crash leaves either the previous
// or the new content, never a mix.
func (s *Store) Save(records []GenreRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(Encode(records)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp progress file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	s.openGenre = ""
	return nil
}
