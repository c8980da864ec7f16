package memory

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/linetrace/simulator/pkg/core"
)

// Export formats
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// ExportVersion is bumped whenever the compact array layouts change.
const ExportVersion = 1

// RunExport is the root structure of an exported run
type RunExport struct {
	Version          int             `json:"version"`
	Room             string          `json:"room"`
	Tag              string          `json:"tag,omitempty"`
	SimulatorVersion string          `json:"simulatorVersion"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          time.Time       `json:"endTime"`
	TickRate         int             `json:"tickRate"`
	Ticks            uint64          `json:"ticks"`
	Spawned          uint64          `json:"spawned"`
	Removed          uint64          `json:"removed"`
	Course           [][3]float64    `json:"course"`
	CourseLength     float64         `json:"courseLength"`
	Vehicles         []VehicleJSON   `json:"vehicles"`
	Performance      [][]any         `json:"performance"`
	Script           json.RawMessage `json:"script,omitempty"`
}

// VehicleJSON is one vehicle with its samples in compact form.
//
// States: [tick, [x, y, z], heading, speedKmh, steering, lateralError, hasReading]
// Removal: [tick, reason, [x, y, z], age]
type VehicleJSON struct {
	ID          uint    `json:"id"`
	Nickname    string  `json:"nickname"`
	Label       string  `json:"label"`
	Source      string  `json:"source,omitempty"`
	SpawnTick   uint64  `json:"spawnTick"`
	TargetSpeed float64 `json:"targetSpeed"`
	Kp          float64 `json:"kp"`
	Kd          float64 `json:"kd"`
	States      [][]any `json:"states"`
	Removal     []any   `json:"removal,omitempty"`
}

// runName builds a filesystem-safe name from the room and start time
func runName(run *core.Run) string {
	room := run.Room
	if room == "" {
		room = "run"
	}
	room = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '/', '\\':
			return '_'
		}
		return r
	}, room)
	return fmt.Sprintf("%s_%s", room, run.StartTime.UTC().Format("20060102_150405"))
}

// export writes the run to OutputDir. Caller holds the lock.
func (b *Backend) export() error {
	data := b.buildExport()

	var ext string
	switch b.cfg.Format {
	case "", FormatJSON:
		ext = ".json"
		if b.cfg.CompressOutput {
			ext += ".gz"
		}
	case FormatMsgpack:
		ext = ".msgpack.zst"
	default:
		return fmt.Errorf("unknown export format %q", b.cfg.Format)
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, runName(b.run)+ext)

	if err := writeExport(outputPath, data); err != nil {
		return err
	}
	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RunExport {
	export := RunExport{
		Version:          ExportVersion,
		Room:             b.run.Room,
		Tag:              b.run.Tag,
		SimulatorVersion: b.run.SimulatorVersion,
		StartTime:        b.run.StartTime,
		EndTime:          b.end.EndTime,
		TickRate:         b.run.TickRate,
		Ticks:            b.end.Ticks,
		Spawned:          b.end.Spawned,
		Removed:          b.end.Removed,
		CourseLength:     b.run.CourseLength,
		Course:           make([][3]float64, 0, len(b.run.Course)),
		Vehicles:         make([]VehicleJSON, 0, len(b.order)),
		Performance:      make([][]any, 0, len(b.performance)),
	}
	if json.Valid(b.run.Script) {
		export.Script = b.run.Script
	}

	for _, p := range b.run.Course {
		export.Course = append(export.Course, [3]float64{p.X, p.Y, p.Z})
	}

	for _, id := range b.order {
		record := b.vehicles[id]
		v := record.Vehicle
		entity := VehicleJSON{
			ID:          v.ID,
			Nickname:    v.Nickname,
			Label:       v.Label,
			Source:      v.Source,
			SpawnTick:   v.SpawnTick,
			TargetSpeed: v.TargetSpeed,
			Kp:          v.Kp,
			Kd:          v.Kd,
			States:      make([][]any, 0, len(record.States)),
		}
		for _, s := range record.States {
			entity.States = append(entity.States, []any{
				s.Tick,
				[]float64{s.Position.X, s.Position.Y, s.Position.Z},
				s.Heading,
				s.SpeedKmh,
				s.Steering,
				s.LateralError,
				boolToInt(s.HasReading),
			})
		}
		if r := record.Removal; r != nil {
			entity.Removal = []any{
				r.Tick,
				r.Reason,
				[]float64{r.Position.X, r.Position.Y, r.Position.Z},
				r.Age,
			}
		}
		export.Vehicles = append(export.Vehicles, entity)
	}

	// [tick, live, pending, stepMillis, sensorHits]
	for _, p := range b.performance {
		export.Performance = append(export.Performance, []any{
			p.Tick, p.Live, p.Pending, p.StepMillis, p.SensorHits,
		})
	}

	return export
}

func writeExport(path string, data RunExport) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	if err := encodeExport(w, path, data); err != nil {
		return err
	}
	return w.Flush()
}

func encodeExport(w io.Writer, path string, data RunExport) error {
	switch {
	case strings.HasSuffix(path, ".msgpack.zst"):
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		enc := msgpack.NewEncoder(zw)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return zw.Close()

	case strings.HasSuffix(path, ".gz"):
		gw := gzip.NewWriter(w)
		if err := json.NewEncoder(gw).Encode(data); err != nil {
			gw.Close()
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return gw.Close()

	default:
		if err := json.NewEncoder(w).Encode(data); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
}

// ReadExport loads an exported run, choosing the decoder from the file
// extension.
func ReadExport(path string) (*RunExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out RunExport
	switch {
	case strings.HasSuffix(path, ".msgpack.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		dec := msgpack.NewDecoder(zr)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}

	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		if err := json.NewDecoder(gr).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}

	default:
		if err := json.NewDecoder(f).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return &out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
