// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine. The postgres and
// sqlite backends embed it.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/linetrace/simulator/internal/model"
	"github.com/linetrace/simulator/internal/model/convert"
	"github.com/linetrace/simulator/internal/queue"
	"github.com/linetrace/simulator/pkg/core"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// ErrNoRun is returned by EndRun when StartRun was never called.
var ErrNoRun = errors.New("no run started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Vehicles      *queue.Queue[model.Vehicle]
	VehicleStates *queue.Queue[model.VehicleState]
	Removals      *queue.Queue[model.Removal]
	Performances  *queue.Queue[model.Performance]
}

func newQueues() *queues {
	return &queues{
		Vehicles:      queue.New[model.Vehicle](),
		VehicleStates: queue.New[model.VehicleState](),
		Removals:      queue.New[model.Removal](),
		Performances:  queue.New[model.Performance](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	queues   *queues
	runID    atomic.Uint64
	stopChan chan struct{}
	wg       sync.WaitGroup
	flushMu  sync.Mutex
	stopOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps: deps,
	}
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues and starts the DB writer goroutine.
// Schema setup is the caller's job.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})

	if b.deps.DB != nil {
		b.startDBWriter()
	}
	return nil
}

// Close stops the DB writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	return b.Flush()
}

// RunID returns the database ID of the current run.
func (b *Backend) RunID() uint {
	return uint(b.runID.Load())
}

// StartRun inserts the run synchronously so the writer can stamp rows with its ID.
func (b *Backend) StartRun(run *core.Run) error {
	if b.deps.DB == nil {
		return nil
	}

	gormRun := convert.CoreToRun(*run)
	if err := b.deps.DB.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert new run: %w", err)
	}

	run.ID = gormRun.ID
	b.runID.Store(uint64(gormRun.ID))
	b.deps.Logger.Info("Run started", "runId", gormRun.ID, "room", run.Room)
	return nil
}

// EndRun flushes the queues and stamps the run with its closing record.
func (b *Backend) EndRun(end core.RunEnd) error {
	if b.deps.DB == nil {
		return nil
	}
	id := b.RunID()
	if id == 0 {
		return ErrNoRun
	}
	if err := b.Flush(); err != nil {
		return err
	}

	endTime := end.EndTime
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", id).Updates(map[string]any{
		"end_time": &endTime,
		"ticks":    end.Ticks,
		"spawned":  end.Spawned,
		"removed":  end.Removed,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to close run %d: %w", id, err)
	}
	b.deps.Logger.Info("Run ended", "runId", id, "ticks", end.Ticks)
	return nil
}

// AddVehicle converts a core vehicle to GORM and pushes to the write queue.
func (b *Backend) AddVehicle(v *core.Vehicle) error {
	b.queues.Vehicles.Push(convert.CoreToVehicle(*v))
	return nil
}

// RecordVehicleState converts and queues a vehicle state.
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.queues.VehicleStates.Push(convert.CoreToVehicleState(*s))
	return nil
}

// RecordRemoval converts and queues a removal.
func (b *Backend) RecordRemoval(r *core.Removal) error {
	b.queues.Removals.Push(convert.CoreToRemoval(*r))
	return nil
}

// RecordPerformance converts and queues a performance sample.
func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.queues.Performances.Push(convert.CoreToPerformance(*p))
	return nil
}

// QueueLengths reports the pending row counts per table.
func (b *Backend) QueueLengths() map[string]int {
	if b.queues == nil {
		return nil
	}
	return map[string]int{
		"vehicles":       b.queues.Vehicles.Len(),
		"vehicle_states": b.queues.VehicleStates.Len(),
		"removals":       b.queues.Removals.Len(),
		"performances":   b.queues.Performances.Len(),
	}
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items go back on the queue for the next pass.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) error {
	if q.Empty() {
		return nil
	}
	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Push(items...)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	log.Debug("Wrote rows", "table", name, "count", len(items))
	return nil
}

// Flush writes every queue once. Vehicles go first so state and removal
// rows always find their parent.
func (b *Backend) Flush() error {
	if b.deps.DB == nil || b.queues == nil {
		return nil
	}
	runID := b.RunID()
	if runID == 0 {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB
	log := b.deps.Logger

	if err := writeQueue(db, b.queues.Vehicles, "vehicles", log, func(items []model.Vehicle) {
		for i := range items {
			items[i].RunID = runID
		}
	}); err != nil {
		return err
	}

	return errors.Join(
		writeQueue(db, b.queues.VehicleStates, "vehicle states", log, func(items []model.VehicleState) {
			for i := range items {
				items[i].RunID = runID
			}
		}),
		writeQueue(db, b.queues.Removals, "removals", log, func(items []model.Removal) {
			for i := range items {
				items[i].RunID = runID
			}
		}),
		writeQueue(db, b.queues.Performances, "performances", log, func(items []model.Performance) {
			for i := range items {
				items[i].RunID = runID
			}
		}),
	)
}

func (b *Backend) startDBWriter() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.deps.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stopChan:
				return
			case <-ticker.C:
				if err := b.Flush(); err != nil {
					b.deps.Logger.Warn("DB writer pass failed, will retry", "error", err)
				}
			}
		}
	}()
}
