package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gwerrors "github.com/modelgateway/core/pkg/errors"

	"go.uber.org/zap"
)

// Store persists sessions under dataDir/sessions/<id>.json alongside
// index.json, per spec.md §6's filesystem surface.
type Store struct {
	dataDir string
	logger  *zap.Logger

	mu      sync.Mutex // guards index.json reads/writes
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// NewStore creates a Store rooted at dataDir. The sessions and
// sessions/backups directories are created if absent.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{dataDir: dataDir, logger: logger.With(zap.String("component", "session-store")), locks: map[string]*sync.Mutex{}}
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "session-store", "create sessions directory", err)
	}
	if err := os.MkdirAll(s.backupsDir(), 0o755); err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "session-store", "create backups directory", err)
	}
	return s, nil
}

func (s *Store) sessionsDir() string { return filepath.Join(s.dataDir, "sessions") }
func (s *Store) backupsDir() string  { return filepath.Join(s.sessionsDir(), "backups") }

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.sessionsDir(), "index.json")
}

func (s *Store) backupPath(id string) string {
	return filepath.Join(s.backupsDir(), id+".bak")
}

// sessionLock returns the per-session mutex, creating it on first use.
// Writes to distinct sessions proceed independently; writes to the
// same session serialize across validate-serialize-atomic-write.
func (s *Store) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// atomicWrite serializes → writes to a sibling temp file → fsyncs →
// renames into place. On any failure the temp file is removed and the
// original, if any, is left untouched.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	cleanup = false
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes sess to disk atomically and updates its index entry.
// Writes to the same session ID are serialized by a per-session lock
// held across validate-serialize-atomic-write.
func (s *Store) Save(sess Session) error {
	lock := s.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := validateSession(sess); err != nil {
		return gwerrors.New(gwerrors.CodeInvalidRequest, "session-store", "session failed validation before write", err)
	}

	if sess.Version == "" {
		sess.Version = CurrentVersion
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "session-store", "marshal session payload", err)
	}
	env := Envelope{Version: sess.Version, Checksum: checksum(payload), Data: sess}

	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "session-store", "marshal session envelope", err)
	}

	if err := atomicWrite(s.sessionPath(sess.ID), raw); err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "session-store", "atomic write of session file failed", err)
	}

	return s.upsertIndexEntry(sess)
}

// Load reads and validates the session file for id. A missing file is
// a structured NotFound error, logged as a warning with the session ID
// and path, never a process crash.
func (s *Store) Load(id string) (*Session, error) {
	path := s.sessionPath(id)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("session file not found", zap.String("sessionId", id), zap.String("path", path))
			return nil, gwerrors.NewNotFound("session-store", fmt.Sprintf("session %s not found at %s", id, path))
		}
		return nil, gwerrors.New(gwerrors.CodeInternal, "session-store", "read session file", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, gwerrors.New(gwerrors.CodeInternal, "session-store", "session file has invalid structure", err)
	}
	if env.Checksum != "" {
		payload, _ := json.Marshal(env.Data)
		if checksum(payload) != env.Checksum {
			return nil, gwerrors.New(gwerrors.CodeInternal, "session-store", "session file checksum mismatch", nil)
		}
	}

	sess := env.Data
	if sess.Version == "" {
		sess.Version = env.Version
	}
	return &sess, nil
}

// upsertIndexEntry updates or appends id's row in index.json.
func (s *Store) upsertIndexEntry(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndexLocked()
	if err != nil {
		return err
	}

	entry := IndexEntry{
		ID:           sess.ID,
		Model:        sess.Model,
		Provider:     sess.Provider,
		Created:      sess.Created,
		LastModified: sess.LastModified,
		Title:        sess.Title,
		Tags:         sess.Tags,
	}

	found := false
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == sess.ID {
			idx.Sessions[i] = entry
			found = true
			break
		}
	}
	if !found {
		idx.Sessions = append(idx.Sessions, entry)
	}

	return s.writeIndexLocked(idx)
}

func (s *Store) readIndexLocked() (Index, error) {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Index{}, nil
		}
		return Index{}, gwerrors.New(gwerrors.CodeInternal, "session-store", "read index file", err)
	}
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return Index{}, gwerrors.New(gwerrors.CodeInternal, "session-store", "index file has invalid structure", err)
	}
	return idx, nil
}

func (s *Store) writeIndexLocked(idx Index) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "session-store", "marshal index file", err)
	}
	if err := atomicWrite(s.indexPath(), raw); err != nil {
		return gwerrors.New(gwerrors.CodeInternal, "session-store", "atomic write of index file failed", err)
	}
	return nil
}

// ReadIndex returns a copy of the current index.
func (s *Store) ReadIndex() (Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndexLocked()
}

// BackupIndex copies the current index.json to sessions/backups before
// a risky operation (migration, cleanup) so it can be restored.
func (s *Store) BackupIndex() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", gwerrors.New(gwerrors.CodeInternal, "session-store", "read index for backup", err)
	}
	backupPath := filepath.Join(s.backupsDir(), "index.json.bak")
	if err := atomicWrite(backupPath, raw); err != nil {
		return "", gwerrors.New(gwerrors.CodeInternal, "session-store", "write index backup", err)
	}
	return backupPath, nil
}

func validateSession(sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if sess.Created.After(sess.LastModified) {
		return fmt.Errorf("lastModified must be >= created")
	}
	if sess.TokenCount.Total < sess.TokenCount.Input+sess.TokenCount.Output {
		return fmt.Errorf("tokenCount.total must be >= input+output")
	}
	return nil
}
