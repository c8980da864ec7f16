package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/linetrace/simulator/internal/influx"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/storage"
	"github.com/linetrace/simulator/pkg/core"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = time.Second

// StatusFileName is written into Dependencies.StatusDir on every sample.
const StatusFileName = "status.json"

// StatsSource publishes the latest tick snapshot.
type StatsSource interface {
	Stats() sim.Stats
}

// QueueReporter exposes pending write queue lengths.
type QueueReporter interface {
	QueueLengths() map[string]int
}

// PointWriter accepts time-series points.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	World     StatsSource
	Session   *session.Context
	Storage   storage.Backend
	Queues    QueueReporter
	Influx    PointWriter
	StatusDir string
	Interval  time.Duration
	Logger    *slog.Logger
}

// Status is the content of the status file.
type Status struct {
	Room        string           `json:"room"`
	RunID       uint             `json:"runId"`
	Performance core.Performance `json:"performance"`
	WriteQueues map[string]int   `json:"writeQueues,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample builds the current status from the latest world snapshot.
func (s *Service) Sample(now time.Time) Status {
	st := s.deps.World.Stats()

	status := Status{
		Performance: core.Performance{
			Time:       now,
			Tick:       st.Tick,
			Live:       st.Live,
			Pending:    st.Pending,
			StepMillis: float64(st.StepDuration.Microseconds()) / 1000,
			Spawned:    st.Spawned,
			Removed:    st.Removed,
			Degenerate: st.Degenerate,
			SensorHits: st.Hits,
		},
	}
	if s.deps.Session != nil {
		status.Room = s.deps.Session.Room()
		status.RunID = s.deps.Session.RunID()
	}
	if s.deps.Queues != nil {
		status.WriteQueues = s.deps.Queues.QueueLengths()
	}
	return status
}

// Record takes one sample and sends it to storage, InfluxDB and the status
// file. Failures are logged and do not stop later sinks.
func (s *Service) Record(now time.Time) Status {
	status := s.Sample(now)
	logger := s.deps.Logger

	if s.deps.Storage != nil {
		if err := s.deps.Storage.RecordPerformance(&status.Performance); err != nil {
			logger.Error("Error recording performance", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(influx.BucketPerformance, influx.PerformancePoint(status.Room, status.Performance)); err != nil {
			logger.Error("Error writing performance point", "error", err)
		}
	}
	if s.deps.StatusDir != "" {
		if err := s.writeStatus(status); err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}
	return status
}

func (s *Service) writeStatus(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	path := filepath.Join(s.deps.StatusDir, StatusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				// nothing to report before the first tick
				if s.deps.World.Stats().Tick == 0 {
					continue
				}
				s.Record(now)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
}
