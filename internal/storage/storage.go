// Package storage defines the recording backends a run can be written to.
package storage

import "github.com/linetrace/simulator/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun(end core.RunEnd) error

	// Vehicle registration
	AddVehicle(v *core.Vehicle) error

	// Time series
	RecordVehicleState(s *core.VehicleState) error
	RecordRemoval(r *core.Removal) error
	RecordPerformance(p *core.Performance) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to a results server.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}
