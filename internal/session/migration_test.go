package session

import (
	"encoding/json"
	"os"
	"testing"
)

func writeRawEnvelope(t *testing.T, s *Store, id string, env map[string]interface{}) {
	t.Helper()
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.sessionPath(id), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMigrator_MigratesAcrossFullWindow(t *testing.T) {
	s := newTestStore(t)
	env := map[string]interface{}{
		"version": "0.7.0",
		"data": map[string]interface{}{
			"id":      "legacy-1",
			"created": "2024-01-01T00:00:00Z",
			"model":   "gpt-4",
			"messages": []interface{}{
				map[string]interface{}{"role": "user", "content": "hello"},
			},
		},
	}
	writeRawEnvelope(t, s, "legacy-1", env)

	m := NewMigrator(s)
	result, err := m.Migrate("legacy-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FromVersion != "0.7.0" || result.ToVersion != CurrentVersion {
		t.Fatalf("unexpected version transition: %+v", result)
	}
	if result.BackupPath == "" {
		t.Fatal("expected a backup path to be recorded")
	}

	raw, err := os.ReadFile(s.sessionPath("legacy-1"))
	if err != nil {
		t.Fatal(err)
	}
	var migrated map[string]interface{}
	if err := json.Unmarshal(raw, &migrated); err != nil {
		t.Fatal(err)
	}
	data := migrated["data"].(map[string]interface{})
	if data["id"] != "legacy-1" || data["created"] != "2024-01-01T00:00:00Z" {
		t.Fatal("expected id and created to be bit-identical after migration")
	}
	if data["workspaceRoot"] != "/" {
		t.Fatalf("expected default workspaceRoot, got %v", data["workspaceRoot"])
	}
	for _, field := range []string{"contextFiles", "filesAccessed", "tags"} {
		if _, ok := data[field]; !ok {
			t.Fatalf("expected %s to be introduced with a default", field)
		}
	}
	msgs := data["messages"].([]interface{})
	firstMsg := msgs[0].(map[string]interface{})
	if firstMsg["content"] != "hello" {
		t.Fatal("expected message content to be preserved")
	}
}

func TestMigrator_UnsupportedVersionRejected(t *testing.T) {
	s := newTestStore(t)
	writeRawEnvelope(t, s, "ancient", map[string]interface{}{
		"version": "0.1.0",
		"data":    map[string]interface{}{"id": "ancient", "created": "2020-01-01T00:00:00Z", "messages": []interface{}{}},
	})

	m := NewMigrator(s)
	_, err := m.Migrate("ancient")
	migErr, ok := err.(*MigrationError)
	if !ok {
		t.Fatalf("expected *MigrationError, got %T: %v", err, err)
	}
	if migErr.Category != FailureUnsupportedVersion {
		t.Fatalf("expected UnsupportedVersion, got %s", migErr.Category)
	}
}

func TestMigrator_AlreadyCurrentIsNoOp(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(sampleSession("current-1")); err != nil {
		t.Fatal(err)
	}
	m := NewMigrator(s)
	result, err := m.Migrate("current-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FromVersion != CurrentVersion || result.BackupPath != "" {
		t.Fatalf("expected a no-op for an already-current session, got %+v", result)
	}
}
