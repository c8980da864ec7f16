package main

import (
	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/control"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/sensor"
	"github.com/linetrace/simulator/internal/sim"
)

func worldConfig(s config.SimConfig, sc config.SensorConfig, cc config.ControlConfig) (sim.Config, error) {
	tb, err := sensor.ParseTieBreak(sc.TieBreak)
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		TickRate:      s.TickRate,
		LifetimeTicks: s.LifetimeTicks,
		FloorY:        s.FloorY,
		MaxSpawnQueue: s.MaxSpawnQueue,
		Sensor: sim.SensorConfig{
			Width:    sc.Width,
			Height:   sc.Height,
			Offset:   sc.Offset,
			TieBreak: tb,
			Epsilon:  sc.Epsilon,
		},
		Control: control.Config{
			Kv:            cc.Kv,
			SteeringClamp: cc.SteeringClamp,
			Brake:         cc.Brake,
		},
	}, nil
}

func physicsConfig(p config.PhysicsConfig) physics.Config {
	return physics.Config{
		Wheelbase:     p.Wheelbase,
		Mass:          p.Mass,
		RideHeight:    p.RideHeight,
		GroundSize:    p.GroundSize,
		Gravity:       p.Gravity,
		LinearDamping: p.LinearDamping,
	}
}
