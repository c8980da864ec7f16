// Package websocket streams a run to a remote recorder as it happens.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/linetrace/simulator/pkg/core"
	"github.com/linetrace/simulator/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams run data over WebSocket to a remote recorder.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped reports how many messages were discarded because the send buffer
// was full or the connection was down.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun sends the run header and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.setStartRun(data)
	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun(end core.RunEnd) error {
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{End: end})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)

	b.conn.setStartRun(nil)

	return err
}

func (b *Backend) AddVehicle(v *core.Vehicle) error {
	return b.sendEnvelope(streaming.TypeAddVehicle, v)
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	return b.sendEnvelope(streaming.TypeVehicleState, s)
}

func (b *Backend) RecordRemoval(r *core.Removal) error {
	return b.sendEnvelope(streaming.TypeVehicleRemoved, r)
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	return b.sendEnvelope(streaming.TypePerformance, p)
}
