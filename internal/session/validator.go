package session

import (
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"
)

// FileValidationResult is the outcome of validating a single session
// file: existence, readability, and structural validity.
type FileValidationResult struct {
	SessionID string
	IsValid   bool
	Errors    []string
	Warnings  []string
}

// IndexValidationResult summarizes a comparison between index.json and
// the session files actually on disk.
type IndexValidationResult struct {
	TotalSessions    int
	ValidSessions    int
	OrphanedEntries  []string // index rows without a backing file
	OrphanedFiles    []string // session files without an index row
	CorruptedEntries []string // index rows whose structure fails schema
}

// CleanupReport describes what a Cleanup pass changed.
type CleanupReport struct {
	RemovedOrphanedEntries []string
	RegisteredOrphanFiles  []string
	IndexBackupPath        string
}

// Validator performs the three session-store integrity operations:
// file validation, index validation, and cleanup.
type Validator struct {
	store  *Store
	logger *zap.Logger
}

// NewValidator builds a Validator over store.
func NewValidator(store *Store, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: store, logger: logger.With(zap.String("component", "session-validator"))}
}

// ValidateFile checks that id's session file exists, is readable, and
// has a valid structure. A missing file is logged as a warning and
// reported invalid, never treated as a crash.
func (v *Validator) ValidateFile(id string) FileValidationResult {
	result := FileValidationResult{SessionID: id}
	path := v.store.sessionPath(id)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			v.logger.Warn("session file missing during validation", zap.String("sessionId", id), zap.String("path", path))
			result.Warnings = append(result.Warnings, "file does not exist: "+path)
			return result
		}
		result.Errors = append(result.Errors, "stat failed: "+err.Error())
		return result
	}
	if info.IsDir() {
		result.Errors = append(result.Errors, "path is a directory, not a file")
		return result
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, "not readable: "+err.Error())
		return result
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		result.Errors = append(result.Errors, "invalid structure: "+err.Error())
		return result
	}
	if env.Data.ID == "" {
		result.Errors = append(result.Errors, "envelope missing session id")
		return result
	}

	result.IsValid = true
	return result
}

// sessionFilesOnDisk lists the session IDs present as files in the
// sessions directory, excluding index.json and the backups directory.
func (v *Validator) sessionFilesOnDisk() ([]string, error) {
	entries, err := os.ReadDir(v.store.sessionsDir())
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "index.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// ValidateIndex compares index.json against the session files on disk.
func (v *Validator) ValidateIndex() (IndexValidationResult, error) {
	idx, err := v.store.ReadIndex()
	if err != nil {
		return IndexValidationResult{}, err
	}

	filesOnDisk, err := v.sessionFilesOnDisk()
	if err != nil {
		return IndexValidationResult{}, err
	}
	fileSet := make(map[string]bool, len(filesOnDisk))
	for _, id := range filesOnDisk {
		fileSet[id] = true
	}

	result := IndexValidationResult{TotalSessions: len(idx.Sessions)}
	indexed := make(map[string]bool, len(idx.Sessions))

	for _, entry := range idx.Sessions {
		if entry.ID == "" {
			result.CorruptedEntries = append(result.CorruptedEntries, entry.ID)
			continue
		}
		indexed[entry.ID] = true
		if !fileSet[entry.ID] {
			v.logger.Warn("orphaned session index entry", zap.String("sessionId", entry.ID))
			result.OrphanedEntries = append(result.OrphanedEntries, entry.ID)
			continue
		}
		result.ValidSessions++
	}

	for _, id := range filesOnDisk {
		if !indexed[id] {
			result.OrphanedFiles = append(result.OrphanedFiles, id)
		}
	}

	return result, nil
}

// Cleanup removes orphaned index entries and reports orphaned files in
// RegisteredOrphanFiles; those files are neither deleted nor added to
// the index. A backup of index.json is taken first.
func (v *Validator) Cleanup() (CleanupReport, error) {
	backupPath, err := v.store.BackupIndex()
	if err != nil {
		return CleanupReport{}, err
	}

	validation, err := v.ValidateIndex()
	if err != nil {
		return CleanupReport{}, err
	}

	if len(validation.OrphanedEntries) == 0 && len(validation.OrphanedFiles) == 0 {
		return CleanupReport{IndexBackupPath: backupPath}, nil
	}

	idx, err := v.store.ReadIndex()
	if err != nil {
		return CleanupReport{}, err
	}

	orphaned := make(map[string]bool, len(validation.OrphanedEntries))
	for _, id := range validation.OrphanedEntries {
		orphaned[id] = true
	}

	kept := idx.Sessions[:0]
	for _, entry := range idx.Sessions {
		if orphaned[entry.ID] {
			continue
		}
		kept = append(kept, entry)
	}
	idx.Sessions = kept

	v.store.mu.Lock()
	writeErr := v.store.writeIndexLocked(idx)
	v.store.mu.Unlock()
	if writeErr != nil {
		return CleanupReport{}, writeErr
	}

	return CleanupReport{
		RemovedOrphanedEntries: validation.OrphanedEntries,
		RegisteredOrphanFiles:  validation.OrphanedFiles,
		IndexBackupPath:        backupPath,
	}, nil
}

// StartupIntegrityCheck runs ValidateIndex and, if issues are found,
// Cleanup, per spec.md §4.E's startup integrity discipline.
func (v *Validator) StartupIntegrityCheck() (IndexValidationResult, *CleanupReport, error) {
	result, err := v.ValidateIndex()
	if err != nil {
		return IndexValidationResult{}, nil, err
	}
	if len(result.OrphanedEntries) == 0 && len(result.OrphanedFiles) == 0 && len(result.CorruptedEntries) == 0 {
		return result, nil, nil
	}
	report, err := v.Cleanup()
	if err != nil {
		return result, nil, err
	}
	return result, &report, nil
}
