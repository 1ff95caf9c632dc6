package billingfeed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SpillBuffer persists events to disk when Kafka is unavailable. One JSON
// file per event, named by timestamp and event ID so replay preserves
// rough ordering.
type SpillBuffer struct {
	mu      sync.Mutex
	dir     string
	maxSize int
	maxAge  time.Duration
	logger  *zap.Logger
}

// SpillBufferConfig configures the spill buffer.
type SpillBufferConfig struct {
	Dir     string
	MaxSize int           // maximum buffered events (0 = unlimited)
	MaxAge  time.Duration // maximum event age before pruning (0 = keep forever)
	Logger  *zap.Logger
}

// NewSpillBuffer creates the buffer directory if needed.
func NewSpillBuffer(cfg SpillBufferConfig) (*SpillBuffer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("billingfeed: create spill directory: %w", err)
	}
	return &SpillBuffer{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSize,
		maxAge:  cfg.MaxAge,
		logger:  cfg.Logger.With(zap.String("component", "billing-feed-spill")),
	}, nil
}

// Store writes one event to the buffer.
func (s *SpillBuffer) Store(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 {
		count, err := s.count()
		if err == nil && count >= s.maxSize {
			return fmt.Errorf("billingfeed: spill buffer full (%d events)", count)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("billingfeed: serialize spilled event: %w", err)
	}

	name := fmt.Sprintf("%d-%s.json", event.Timestamp.UnixNano(), event.EventID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("billingfeed: write spilled event: %w", err)
	}
	return nil
}

// Drain returns up to limit buffered events in file-name order along with
// their paths. Unreadable files are skipped and logged.
func (s *SpillBuffer) Drain(limit int) ([]Event, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("billingfeed: read spill directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var events []Event
	var paths []string
	for _, name := range names {
		if limit > 0 && len(events) >= limit {
			break
		}
		path := filepath.Join(s.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read spilled event", zap.String("path", path), zap.Error(err))
			continue
		}
		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			s.logger.Warn("failed to parse spilled event", zap.String("path", path), zap.Error(err))
			continue
		}
		if s.maxAge > 0 && time.Since(event.Timestamp) > s.maxAge {
			_ = os.Remove(path)
			continue
		}
		events = append(events, event)
		paths = append(paths, path)
	}

	return events, paths, nil
}

// Remove deletes successfully replayed event files.
func (s *SpillBuffer) Remove(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove spilled event", zap.String("path", path), zap.Error(err))
		}
	}
}

func (s *SpillBuffer) count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count, nil
}
