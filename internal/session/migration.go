package session

import (
	"encoding/json"
	"fmt"
	"os"
)

// FailureCategory classifies why a migration attempt failed.
type FailureCategory string

const (
	FailureUnsupportedVersion FailureCategory = "UnsupportedVersion"
	FailureNoMigrationPath    FailureCategory = "NoMigrationPath"
	FailureMigrationFailed    FailureCategory = "MigrationFailed"
	FailureValidationFailed   FailureCategory = "ValidationFailed"
	FailureBackupFailed       FailureCategory = "BackupFailed"
	FailureRollbackFailed     FailureCategory = "RollbackFailed"
	FailureCorruptedData      FailureCategory = "CorruptedData"
)

// MigrationError carries a FailureCategory alongside the underlying
// cause, so callers can branch on category without string matching.
type MigrationError struct {
	Category FailureCategory
	Message  string
	Err      error
}

func (e *MigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// MigrationResult reports the outcome of migrating one session file.
type MigrationResult struct {
	SessionID  string
	FromVersion string
	ToVersion   string
	BackupPath  string
}

// step is a single adjacent-version migration: a deterministic raw
// transform plus a post-condition validator.
type step struct {
	from, to string
	transform func(map[string]interface{}) (map[string]interface{}, error)
	validate  func(before, after map[string]interface{}) error
}

// supportedVersions lists the contiguous semver sequence accepted:
// current plus the three immediately prior, per spec.md §4.E.
var supportedVersions = []string{"0.7.0", "0.8.0", "0.9.0", CurrentVersion}

var migrationSteps = []step{
	{
		from: "0.7.0", to: "0.8.0",
		transform: func(m map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := m["contextFiles"]; !ok {
				m["contextFiles"] = []interface{}{}
			}
			return m, nil
		},
		validate: essentialFieldsPreserved,
	},
	{
		from: "0.8.0", to: "0.9.0",
		transform: func(m map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := m["filesAccessed"]; !ok {
				m["filesAccessed"] = []interface{}{}
			}
			if _, ok := m["tags"]; !ok {
				m["tags"] = []interface{}{}
			}
			return m, nil
		},
		validate: essentialFieldsPreserved,
	},
	{
		from: "0.9.0", to: CurrentVersion,
		transform: func(m map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := m["workspaceRoot"]; !ok {
				m["workspaceRoot"] = "/"
			}
			if _, ok := m["title"]; !ok {
				m["title"] = nil
			}
			if _, ok := m["notes"]; !ok {
				m["notes"] = nil
			}
			return m, nil
		},
		validate: essentialFieldsPreserved,
	},
}

// essentialFieldsPreserved checks that id, created, and every
// messages[i].content are bit-identical before and after a migration
// step, per spec.md §4.E and testable property 2.
func essentialFieldsPreserved(before, after map[string]interface{}) error {
	for _, field := range []string{"id", "created"} {
		if fmt.Sprint(before[field]) != fmt.Sprint(after[field]) {
			return fmt.Errorf("essential field %q changed across migration", field)
		}
	}
	beforeMsgs, _ := before["messages"].([]interface{})
	afterMsgs, _ := after["messages"].([]interface{})
	if len(beforeMsgs) != len(afterMsgs) {
		return fmt.Errorf("message count changed across migration")
	}
	for i := range beforeMsgs {
		bm, _ := beforeMsgs[i].(map[string]interface{})
		am, _ := afterMsgs[i].(map[string]interface{})
		if fmt.Sprint(bm["content"]) != fmt.Sprint(am["content"]) {
			return fmt.Errorf("messages[%d].content changed across migration", i)
		}
	}
	return nil
}

func versionIndex(v string) int {
	for i, sv := range supportedVersions {
		if sv == v {
			return i
		}
	}
	return -1
}

// Migrator runs the migration framework over a Store.
type Migrator struct {
	store *Store
}

// NewMigrator builds a Migrator over store.
func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate brings the session file for id from its current on-disk
// version to CurrentVersion, composing adjacent-version steps in
// sequence. A backup is taken before any transform is applied; a
// validation failure triggers an automatic rollback from that backup.
func (m *Migrator) Migrate(id string) (MigrationResult, error) {
	path := m.store.sessionPath(id)
	raw, err := os.ReadFile(path)
	if err != nil {
		return MigrationResult{}, &MigrationError{Category: FailureCorruptedData, Message: "read session file", Err: err}
	}

	var env map[string]interface{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return MigrationResult{}, &MigrationError{Category: FailureCorruptedData, Message: "parse session envelope", Err: err}
	}

	fromVersion, _ := env["version"].(string)
	fromIdx := versionIndex(fromVersion)
	if fromIdx == -1 {
		return MigrationResult{}, &MigrationError{Category: FailureUnsupportedVersion, Message: fmt.Sprintf("version %q is outside the supported window", fromVersion)}
	}
	if fromVersion == CurrentVersion {
		return MigrationResult{SessionID: id, FromVersion: fromVersion, ToVersion: CurrentVersion}, nil
	}

	backupPath := m.store.backupPath(id)
	if err := atomicWrite(backupPath, raw); err != nil {
		return MigrationResult{}, &MigrationError{Category: FailureBackupFailed, Message: "write pre-migration backup", Err: err}
	}

	data, _ := env["data"].(map[string]interface{})
	if data == nil {
		return MigrationResult{}, &MigrationError{Category: FailureCorruptedData, Message: "envelope missing data object"}
	}

	current := data
	for i := fromIdx; i < len(supportedVersions)-1; i++ {
		s, ok := findStep(supportedVersions[i], supportedVersions[i+1])
		if !ok {
			return MigrationResult{}, &MigrationError{Category: FailureNoMigrationPath, Message: fmt.Sprintf("no migration registered for %s -> %s", supportedVersions[i], supportedVersions[i+1])}
		}

		before := cloneMap(current)
		after, err := s.transform(current)
		if err != nil {
			m.rollback(id, backupPath)
			return MigrationResult{}, &MigrationError{Category: FailureMigrationFailed, Message: fmt.Sprintf("transform %s -> %s failed", s.from, s.to), Err: err}
		}
		if err := s.validate(before, after); err != nil {
			if rbErr := m.rollback(id, backupPath); rbErr != nil {
				return MigrationResult{}, &MigrationError{Category: FailureRollbackFailed, Message: "rollback after validation failure also failed", Err: rbErr}
			}
			return MigrationResult{}, &MigrationError{Category: FailureValidationFailed, Message: fmt.Sprintf("post-condition failed for %s -> %s", s.from, s.to), Err: err}
		}
		current = after
	}

	env["data"] = current
	env["version"] = CurrentVersion
	finalRaw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return MigrationResult{}, &MigrationError{Category: FailureMigrationFailed, Message: "marshal migrated envelope", Err: err}
	}
	if err := atomicWrite(path, finalRaw); err != nil {
		return MigrationResult{}, &MigrationError{Category: FailureMigrationFailed, Message: "write migrated session file", Err: err}
	}

	return MigrationResult{SessionID: id, FromVersion: fromVersion, ToVersion: CurrentVersion, BackupPath: backupPath}, nil
}

func (m *Migrator) rollback(id, backupPath string) error {
	raw, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return atomicWrite(m.store.sessionPath(id), raw)
}

func findStep(from, to string) (step, bool) {
	for _, s := range migrationSteps {
		if s.from == from && s.to == to {
			return s, true
		}
	}
	return step{}, false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	raw, _ := json.Marshal(m)
	var clone map[string]interface{}
	_ = json.Unmarshal(raw, &clone)
	return clone
}
