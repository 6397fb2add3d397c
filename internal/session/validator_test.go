package session

import (
	"encoding/json"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidator_ValidateFile_MissingIsWarningNotError(t *testing.T) {
	s := newTestStore(t)
	v := NewValidator(s, nil)

	result := v.ValidateFile("missing-session")
	if result.IsValid {
		t.Fatal("expected missing file to be invalid")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected a missing file to be a warning, not an error: %v", result.Errors)
	}
}

func TestValidator_ValidateFile_ValidSession(t *testing.T) {
	s := newTestStore(t)
	sess := sampleSession("session-1")
	if err := s.Save(sess); err != nil {
		t.Fatal(err)
	}

	v := NewValidator(s, nil)
	result := v.ValidateFile("session-1")
	if !result.IsValid {
		t.Fatalf("expected valid session, got errors=%v warnings=%v", result.Errors, result.Warnings)
	}
}

func TestValidator_ValidateIndex_DetectsOrphans(t *testing.T) {
	s := newTestStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	v := NewValidator(s, zap.New(core))

	// A: indexed and present. B: indexed, missing file (orphaned entry).
	// C: indexed and present. D: file present, not indexed (orphaned file).
	for _, id := range []string{"A", "B", "C"} {
		if err := s.Save(sampleSession(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Remove(s.sessionPath("B")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.sessionPath("D"), mustMarshalEnvelope(t, sampleSession("D")), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := v.ValidateIndex()
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSessions != 3 {
		t.Fatalf("expected 3 indexed sessions, got %d", result.TotalSessions)
	}
	if len(result.OrphanedEntries) != 1 || result.OrphanedEntries[0] != "B" {
		t.Fatalf("expected B to be an orphaned entry, got %v", result.OrphanedEntries)
	}
	if len(result.OrphanedFiles) != 1 || result.OrphanedFiles[0] != "D" {
		t.Fatalf("expected D to be an orphaned file, got %v", result.OrphanedFiles)
	}
	if result.ValidSessions != 2 {
		t.Fatalf("expected 2 valid sessions (A, C), got %d", result.ValidSessions)
	}

	warnings := logs.FilterMessage("orphaned session index entry").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one orphaned-entry warning, got %d", len(warnings))
	}
	if got, _ := warnings[0].ContextMap()["sessionId"].(string); got != "B" {
		t.Fatalf("expected warning to name B, got %v", warnings[0].ContextMap())
	}
}

func TestValidator_Cleanup_RemovesOrphanedEntriesKeepsFiles(t *testing.T) {
	s := newTestStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	v := NewValidator(s, zap.New(core))

	for _, id := range []string{"A", "B"} {
		if err := s.Save(sampleSession(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Remove(s.sessionPath("B")); err != nil {
		t.Fatal(err)
	}

	report, err := v.Cleanup()
	if err != nil {
		t.Fatal(err)
	}
	if len(report.RemovedOrphanedEntries) != 1 || report.RemovedOrphanedEntries[0] != "B" {
		t.Fatalf("expected B removed from index, got %v", report.RemovedOrphanedEntries)
	}

	warnings := logs.FilterMessage("orphaned session index entry").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one orphaned-entry warning naming B, got %d", len(warnings))
	}
	if got, _ := warnings[0].ContextMap()["sessionId"].(string); got != "B" {
		t.Fatalf("expected warning to name B, got %v", warnings[0].ContextMap())
	}

	idx, err := v.ValidateIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.OrphanedEntries) != 0 {
		t.Fatalf("expected zero orphans after cleanup, got %v", idx.OrphanedEntries)
	}
}

func mustMarshalEnvelope(t *testing.T, sess Session) []byte {
	t.Helper()
	env := Envelope{Version: sess.Version, Data: sess}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
