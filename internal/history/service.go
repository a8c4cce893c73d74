package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brightgems/openai-api-server/internal/scheduler"
)

const DefaultSaveInterval = 10 * time.Minute

// Service owns a Store together with its snapshot file and the periodic
// save job. It is created once per process and injected where needed.
type Service struct {
	*Store

	file     *SnapshotFile
	interval time.Duration
	sched    *scheduler.Scheduler
	log      *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewService restores the store from path when the file exists. A corrupt
// snapshot is logged and the service starts empty instead of failing.
func NewService(path string, interval time.Duration, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	s := &Service{
		Store:    NewStore(),
		file:     NewSnapshotFile(path),
		interval: interval,
		sched:    scheduler.New(log),
		log:      log.With(zap.String("snapshot", path)),
	}

	data, err := s.file.Read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("no conversation snapshot, starting empty")
	case err != nil:
		return nil, err
	default:
		var decErr *DecodeError
		if err := s.Restore(data); errors.As(err, &decErr) {
			s.log.Warn("conversation snapshot is corrupt, starting empty", zap.Error(err))
		} else if err != nil {
			return nil, err
		} else {
			s.log.Info("conversations restored", zap.Int("count", s.Len()))
		}
	}
	err = s.sched.Every("save-conversations", interval, func(context.Context) error {
		return s.Save()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes a fresh snapshot to the file.
func (s *Service) Save() error {
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := s.file.Write(data); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	s.log.Debug("conversations saved", zap.Int("bytes", len(data)))
	return nil
}

// Start launches the periodic save. It does not block.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.sched.Start()
	s.log.Info("periodic conversation save started", zap.Duration("interval", s.interval))
}

// Stop halts the periodic save and writes one last snapshot.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.started {
		s.sched.Stop()
		s.started = false
	}
	s.mu.Unlock()
	return s.Save()
}
