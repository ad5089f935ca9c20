// Package journal is the local durable event log: the sole source of
// truth when remote sync is unavailable. Bounded, append-only, FIFO
// eviction past capacity.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amorlat/funnel-tracking/internal/event"
	"github.com/amorlat/funnel-tracking/internal/storage"
	"go.uber.org/zap"
)

const (
	// Slot holding the serialized log in the profile store.
	eventsSlot = "funnel_events"

	// DefaultMaxEvents bounds the log; the oldest events are evicted
	// first once exceeded.
	DefaultMaxEvents = 10000
)

type Journal struct {
	store     storage.Store
	maxEvents int
	exportDir string
	logger    *zap.Logger

	mu sync.Mutex
}

func New(store storage.Store, maxEvents int, exportDir string, logger *zap.Logger) *Journal {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Journal{
		store:     store,
		maxEvents: maxEvents,
		exportDir: exportDir,
		logger:    logger,
	}
}

// Append pushes ev onto the log, evicting the oldest entries past
// capacity. Storage failures are logged and swallowed: the caller's
// capture already counts as successful.
func (j *Journal) Append(ev event.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := j.read()
	events = append(events, ev)
	if len(events) > j.maxEvents {
		events = events[len(events)-j.maxEvents:]
	}

	data, err := json.Marshal(events)
	if err != nil {
		j.logger.Error("failed to serialize event log", zap.Error(err))
		return
	}
	if err := j.store.Set(eventsSlot, string(data)); err != nil {
		j.logger.Error("failed to persist event log",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return
	}

	j.logger.Debug("event recorded",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.EventType),
		zap.String("page", ev.Page),
	)
}

// ReadAll returns the full ordered log. Missing or corrupt storage reads
// as an empty log, never as an error.
func (j *Journal) ReadAll() []event.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read()
}

func (j *Journal) read() []event.Event {
	raw, ok := j.store.Get(eventsSlot)
	if !ok || raw == "" {
		return []event.Event{}
	}
	var events []event.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		j.logger.Warn("event log is corrupt, treating as empty", zap.Error(err))
		return []event.Event{}
	}
	return events
}

// Clear empties the log.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.store.Delete(eventsSlot); err != nil {
		j.logger.Error("failed to clear event log", zap.Error(err))
	}
}

// Export writes the full log as pretty-printed JSON into the export
// directory, named with the current date. Returns the written path.
func (j *Journal) Export() (string, error) {
	events := j.ReadAll()

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize event log: %w", err)
	}

	name := fmt.Sprintf("funnel_events_%s.json", time.Now().Format("2006-01-02"))
	path := filepath.Join(j.exportDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	j.logger.Info("event log exported",
		zap.String("path", path),
		zap.Int("events", len(events)),
	)
	return path, nil
}
