package gormstorage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/linetrace/simulator/internal/model"
	"github.com/linetrace/simulator/internal/model/convert"
	"github.com/linetrace/simulator/internal/storage"
	"github.com/linetrace/simulator/pkg/core"
)

// RunData is a stored run read back into core records.
type RunData struct {
	Run          core.Run
	End          core.RunEnd
	Finished     bool
	Vehicles     []core.Vehicle
	States       []core.VehicleState
	Removals     []core.Removal
	Performances []core.Performance
}

// ListRuns returns all runs, newest first, without their time series.
func ListRuns(db *gorm.DB) ([]core.Run, error) {
	var runs []model.Run
	if err := db.Order("start_time DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]core.Run, len(runs))
	for i := range runs {
		out[i] = convert.RunToCore(&runs[i])
	}
	return out, nil
}

// LoadRun reads one run and all its rows.
func LoadRun(db *gorm.DB, runID uint) (*RunData, error) {
	var run model.Run
	if err := db.First(&run, runID).Error; err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}

	data := &RunData{Run: convert.RunToCore(&run)}
	data.End, data.Finished = convert.RunEndToCore(&run)

	var vehicles []model.Vehicle
	if err := db.Where("run_id = ?", runID).Order("object_id").Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	for _, v := range vehicles {
		data.Vehicles = append(data.Vehicles, convert.VehicleToCore(v))
	}

	var states []model.VehicleState
	if err := db.Where("run_id = ?", runID).Order("tick, vehicle_object_id").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("load vehicle states: %w", err)
	}
	for _, s := range states {
		data.States = append(data.States, convert.VehicleStateToCore(s))
	}

	var removals []model.Removal
	if err := db.Where("run_id = ?", runID).Order("tick").Find(&removals).Error; err != nil {
		return nil, fmt.Errorf("load removals: %w", err)
	}
	for _, r := range removals {
		data.Removals = append(data.Removals, convert.RemovalToCore(r))
	}

	var perf []model.Performance
	if err := db.Where("run_id = ?", runID).Order("tick").Find(&perf).Error; err != nil {
		return nil, fmt.Errorf("load performances: %w", err)
	}
	for _, p := range perf {
		data.Performances = append(data.Performances, convert.PerformanceToCore(p))
	}

	return data, nil
}

// Replay feeds a loaded run into another backend, ending it if the stored
// run was finished.
func (d *RunData) Replay(dst storage.Backend) error {
	run := d.Run
	if err := dst.StartRun(&run); err != nil {
		return err
	}
	for i := range d.Vehicles {
		if err := dst.AddVehicle(&d.Vehicles[i]); err != nil {
			return err
		}
	}
	for i := range d.States {
		if err := dst.RecordVehicleState(&d.States[i]); err != nil {
			return err
		}
	}
	for i := range d.Removals {
		if err := dst.RecordRemoval(&d.Removals[i]); err != nil {
			return err
		}
	}
	for i := range d.Performances {
		if err := dst.RecordPerformance(&d.Performances[i]); err != nil {
			return err
		}
	}
	if !d.Finished {
		return nil
	}
	return dst.EndRun(d.End)
}
