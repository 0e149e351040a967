package upgrade

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/sentinel/pkg/filelock"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// HistoryLog is the append-only list of upgrade attempts, persisted as a
// JSON array. Several processes may append to the same file: each append
// re-reads it under a lock file before writing. Records whose write failed
// stay in memory and are written with the next successful append.
type HistoryLog struct {
	path string

	mu      sync.Mutex
	records []types.UpgradeRecord
	unsaved []types.UpgradeRecord
}

// OpenHistory loads the history at path. A missing file is an empty history.
func OpenHistory(path string) (*HistoryLog, error) {
	h := &HistoryLog{path: path}
	records, err := h.read()
	if err != nil {
		return nil, err
	}
	h.records = records
	return h, nil
}

// NewMemoryHistory returns a history that is never written to disk
func NewMemoryHistory() *HistoryLog {
	return &HistoryLog{}
}

// Append adds a record after everything already in the file. Existing
// entries are never modified.
func (h *HistoryLog) Append(record types.UpgradeRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path == "" {
		h.records = append(h.records, record)
		return nil
	}

	h.unsaved = append(h.unsaved, record)

	lock, err := filelock.Acquire(h.path + ".lock")
	if err != nil {
		h.records = append(h.records, record)
		return errors.Annotate(err, "failed to lock upgrade history")
	}
	defer lock.Release()

	saved, err := h.read()
	if err != nil {
		h.records = append(h.records, record)
		return err
	}
	merged := append(saved, h.unsaved...)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		h.records = append(h.records, record)
		return errors.Annotate(err, "failed to encode upgrade history")
	}
	if err := utils.AtomicWriteFile(h.path, data, 0600); err != nil {
		logger := log.WithComponent("upgrade")
		logger.Error().Err(err).Str("path", h.path).Int("unsaved", len(h.unsaved)).Msg("Failed to persist upgrade history")
		h.records = append(h.records, record)
		return errors.Annotatef(err, "failed to write upgrade history %s", h.path)
	}

	h.records = merged
	h.unsaved = nil
	return nil
}

// read loads the saved records. A missing file is empty.
func (h *HistoryLog) read() ([]types.UpgradeRecord, error) {
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return nil, errors.Annotate(err, "failed to create history directory")
	}
	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read upgrade history %s", h.path)
	}

	var records []types.UpgradeRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errors.Annotatef(err, "failed to parse upgrade history %s", h.path)
		}
	}
	return records, nil
}

// snapshot returns the saved records plus any unsaved ones. Read failures
// fall back to memory.
func (h *HistoryLog) snapshot() []types.UpgradeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path != "" && len(h.unsaved) == 0 {
		if lock, err := filelock.AcquireShared(h.path + ".lock"); err == nil {
			if saved, err := h.read(); err == nil {
				h.records = saved
			}
			_ = lock.Release()
		}
	}
	return append([]types.UpgradeRecord(nil), h.records...)
}

// Records returns every record in chronological order
func (h *HistoryLog) Records() []types.UpgradeRecord {
	return h.snapshot()
}

// Recent returns the last limit records, oldest first
func (h *HistoryLog) Recent(limit int) []types.UpgradeRecord {
	records := h.snapshot()
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}

// Last returns the most recent record for component
func (h *HistoryLog) Last(component types.Component) (types.UpgradeRecord, bool) {
	records := h.snapshot()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Component == component {
			return records[i], true
		}
	}
	return types.UpgradeRecord{}, false
}

// Len returns the number of records
func (h *HistoryLog) Len() int {
	return len(h.snapshot())
}
