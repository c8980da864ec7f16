// Package streaming defines the JSON messages exchanged over WebSocket, both
// for streaming a run to a remote recorder and for room clients.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/linetrace/simulator/pkg/core"
)

// Run recording message types.
const (
	TypeStartRun       = "start_run"
	TypeEndRun         = "end_run"
	TypeAddVehicle     = "add_vehicle"
	TypeVehicleState   = "vehicle_state"
	TypeVehicleRemoved = "vehicle_removed"
	TypePerformance    = "performance"
)

// Room message types.
const (
	TypeJoin     = "join"
	TypeJoined   = "joined"
	TypeSpawn    = "spawn"
	TypeSpawned  = "spawned"
	TypeSnapshot = "snapshot"
	TypeRemoved  = "removed"
	TypeError    = "error"
	TypeAck      = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: data}, nil
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload opens a recorded run.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// EndRunPayload closes a recorded run.
type EndRunPayload struct {
	End core.RunEnd `json:"end"`
}

// JoinPayload asks to join a room.
type JoinPayload struct {
	Room string `json:"room"`
}

// JoinedPayload confirms a join and describes the room.
type JoinedPayload struct {
	Room   string            `json:"room"`
	Tick   uint64            `json:"tick"`
	Course []core.Position3D `json:"course"`
}

// SnapshotPayload is the periodic state of every live vehicle in a room.
type SnapshotPayload struct {
	Tick     uint64              `json:"tick"`
	Vehicles []core.VehicleState `json:"vehicles"`
}

// ErrorPayload reports a rejected client message.
type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}
