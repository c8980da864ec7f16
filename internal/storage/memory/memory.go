// Package memory keeps a run in memory and exports it to a single file when
// the run ends.
package memory

import (
	"errors"
	"sync"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/pkg/core"
)

// ErrNoRun is returned when recording before StartRun.
var ErrNoRun = errors.New("no run started")

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Vehicle core.Vehicle
	States  []core.VehicleState
	Removal *core.Removal
}

// Backend stores run data in memory and exports to JSON or msgpack
type Backend struct {
	cfg config.MemoryConfig
	run *core.Run
	end core.RunEnd

	vehicles    map[uint]*VehicleRecord
	order       []uint
	performance []core.Performance

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[uint]*VehicleRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.end = core.RunEnd{}
	b.vehicles = make(map[uint]*VehicleRecord)
	b.order = nil
	b.performance = nil
	b.lastExportPath = ""
	return nil
}

// EndRun finalizes and exports the run
func (b *Backend) EndRun(end core.RunEnd) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.end = end
	return b.export()
}

// AddVehicle registers a new vehicle. The ID is the simulator's agent ID.
func (b *Backend) AddVehicle(v *core.Vehicle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	if _, ok := b.vehicles[v.ID]; !ok {
		b.order = append(b.order, v.ID)
	}
	b.vehicles[v.ID] = &VehicleRecord{
		Vehicle: *v,
		States:  make([]core.VehicleState, 0),
	}
	return nil
}

// GetVehicle looks up a recorded vehicle
func (b *Backend) GetVehicle(id uint) (*VehicleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.vehicles[id]
	return r, ok
}

// RecordVehicleState records a vehicle state sample
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.vehicles[s.VehicleID]; ok {
		record.States = append(record.States, *s)
	}
	return nil // silently ignore unknown vehicles
}

// RecordRemoval records a vehicle leaving the world
func (b *Backend) RecordRemoval(r *core.Removal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.vehicles[r.VehicleID]; ok {
		removal := *r
		record.Removal = &removal
	}
	return nil
}

// RecordPerformance records a loop performance sample
func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return nil
	}
	b.performance = append(b.performance, *p)
	return nil
}

// GetExportedFilePath returns the path of the last export
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the last export for upload
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.run == nil {
		return core.UploadMetadata{}
	}
	var duration float64
	if b.run.TickRate > 0 {
		duration = float64(b.end.Ticks) / float64(b.run.TickRate)
	}
	return core.UploadMetadata{
		Room:     b.run.Room,
		RunName:  runName(b.run),
		Duration: duration,
		Vehicles: len(b.vehicles),
		Tag:      b.run.Tag,
	}
}
