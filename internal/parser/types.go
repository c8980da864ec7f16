package parser

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/sensor"
)

type rawDesign struct {
	Nickname string          `json:"nickname"`
	V        json.RawMessage `json:"v"`
	Kp       json.RawMessage `json:"Kp"`
	Td       json.RawMessage `json:"Td"`
}

// Design is a vehicle as submitted by a player: a nickname, a target speed
// in km/h and PD gains given as Kp and derivative time Td.
type Design struct {
	Nickname  string   `json:"nickname"`
	V         float64  `json:"v"`
	Kp        float64  `json:"Kp"`
	Td        float64  `json:"Td"`
	Malformed []string `json:"-"`
}

// Spec converts the design into a spawn at the remote spawn point.
func (d Design) Spec() agent.Spec {
	return agent.Spec{
		Nickname:     d.Nickname,
		Position:     RemoteSpawnPosition,
		TargetSpeed:  d.V,
		Kp:           d.Kp,
		Td:           d.Td,
		SensorOffset: lo.ToPtr(sensor.DefaultOffset),
	}
}

// EmitRequest is a design addressed to a room.
type EmitRequest struct {
	Room   string `json:"room"`
	Design Design `json:"design"`
}
