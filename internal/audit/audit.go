// Copyright 2025 James Ross
// Package audit appends best-effort JSON-lines audit records for jobgroup
// lifecycle events, one file per day.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one audit record. Details carries event-specific fields (e.g.
// jsonl_path/work_dir on creation, processed/failed/skipped on
// completion).
type Entry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Event      string                 `json:"event"`
	JobgroupID string                 `json:"jobgroup_id"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	BatchID    string                 `json:"batch_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Logger appends Entry records to <dir>/jobgroup-<YYYY-MM-DD>.log,
// rolling to a new file automatically at day boundaries. Writes never
// return an error to the caller path that matters (Log always logs and
// swallows failures) since an audit write must never fail a job.
type Logger struct {
	dir string
	mu  sync.Mutex
	log *zap.Logger
}

// New builds a Logger writing under dir, creating it (mode 0700) if
// missing.
func New(dir string, log *zap.Logger) (*Logger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Logger{dir: dir, log: log}, nil
}

// Log appends entry, stamping Timestamp if zero. Failures are logged, not
// returned: spec.md's audit contract is "write is best-effort and never
// raises".
func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.log.Warn("audit entry marshal failed", zap.Error(err), zap.String("event", entry.Event))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, "jobgroup-"+entry.Timestamp.Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.log.Warn("audit log open failed", zap.Error(err), zap.String("path", path))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.log.Warn("audit log write failed", zap.Error(err), zap.String("path", path))
	}
}
