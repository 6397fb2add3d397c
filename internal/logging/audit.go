package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// AuditConfig tunes the rotated JSONL audit sink.
type AuditConfig struct {
	Enabled   bool
	Path      string // directory the rotated files live in
	MaxSizeMB int    // rotate once the active file exceeds this size
	MaxFiles  int    // prune oldest rotated files past this count
}

// DefaultAuditConfig matches what an operator gets with no audit section
// configured: disabled, since it's opt-in per deployment.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{Enabled: false, Path: "audit", MaxSizeMB: 50, MaxFiles: 10}
}

// AuditRecord is one audit-log entry, append-only, one JSON object per line.
type AuditRecord struct {
	Timestamp  time.Time   `json:"timestamp"`
	Level      string      `json:"level"` // info | warn | error
	Operation  string      `json:"operation"`
	Actor      string      `json:"actor"`
	SessionID  string      `json:"sessionId,omitempty"`
	Result     string      `json:"result"` // success | failure
	DurationMs int64       `json:"durationMs,omitempty"`
	Error      string      `json:"error,omitempty"`
	Context    interface{} `json:"context,omitempty"`
}

// Audit is a rotating JSONL sink for AuditRecord entries, independent of
// the structured zap logger: audit records are an operator-facing trail,
// not debug output, so they're never filtered by log level.
type Audit struct {
	cfg  AuditConfig
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewAudit opens (or creates) the active audit file under cfg.Path. A
// disabled config returns a no-op sink whose Write calls are ignored.
func NewAudit(cfg AuditConfig) (*Audit, error) {
	a := &Audit{cfg: cfg}
	if !cfg.Enabled {
		return a, nil
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if err := a.openActive(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Audit) activePath() string {
	return filepath.Join(a.cfg.Path, "audit.jsonl")
}

func (a *Audit) openActive() error {
	f, err := os.OpenFile(a.activePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	a.file = f
	a.size = info.Size()
	return nil
}

// Write appends rec as one JSON line, rotating the active file first if it
// would exceed cfg.MaxSizeMB.
func (a *Audit) Write(rec AuditRecord) error {
	if !a.cfg.Enabled {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	maxBytes := int64(a.cfg.MaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && a.size+int64(len(line)) > maxBytes {
		if err := a.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := a.file.Write(line)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	a.size += int64(n)
	return nil
}

func (a *Audit) rotateLocked() error {
	if a.file != nil {
		a.file.Close()
	}
	rotated := filepath.Join(a.cfg.Path, fmt.Sprintf("audit-%d.jsonl", time.Now().UnixNano()))
	if err := os.Rename(a.activePath(), rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate audit file: %w", err)
	}
	if err := a.openActive(); err != nil {
		return err
	}
	return a.pruneLocked()
}

func (a *Audit) pruneLocked() error {
	if a.cfg.MaxFiles <= 0 {
		return nil
	}
	entries, err := os.ReadDir(a.cfg.Path)
	if err != nil {
		return fmt.Errorf("list audit dir: %w", err)
	}
	var rotatedNames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "audit-") && strings.HasSuffix(e.Name(), ".jsonl") {
			rotatedNames = append(rotatedNames, e.Name())
		}
	}
	sort.Strings(rotatedNames) // names embed UnixNano, so lexical order is chronological
	for len(rotatedNames) > a.cfg.MaxFiles {
		oldest := rotatedNames[0]
		rotatedNames = rotatedNames[1:]
		_ = os.Remove(filepath.Join(a.cfg.Path, oldest))
	}
	return nil
}

// Close flushes and closes the active audit file, if any.
func (a *Audit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}
