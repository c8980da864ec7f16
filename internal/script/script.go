// Package script describes a world setup as a JSON document: course
// segments, geographic segments, scripted spawns and repeated blocks.
//
// A script is validated and compiled into a Plan before anything touches the
// world, so a rejected script leaves the world untouched.
package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/geo"
)

// ErrInvalidCommand wraps every validation failure.
var ErrInvalidCommand = errors.New("invalid script command")

// Limits applied by Validate.
const (
	MaxRepeat = 10000
	MaxDepth  = 4
	MaxPoints = 100000
	MaxSpawns = 1000
	// MaxExpanded bounds every command run once repeats are unrolled,
	// including repeats and spawns.
	MaxExpanded = 1000000
)

// SpawnHeight is the height scripted vehicles are dropped from.
const SpawnHeight = 0.5

// Op names a script command.
type Op string

const (
	OpLineTo    Op = "lineTo"
	OpGeoLineTo Op = "geoLineTo"
	OpSpawn     Op = "spawn"
	OpRepeat    Op = "repeat"
)

// Command is one script instruction. Which fields apply depends on Op.
type Command struct {
	Op Op `json:"op"`

	// lineTo, spawn (x and z only)
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
	Z float64 `json:"z,omitempty"`

	// geoLineTo
	Lon  float64 `json:"lon,omitempty"`
	Lat  float64 `json:"lat,omitempty"`
	Elev float64 `json:"elev,omitempty"`

	// spawn
	Name  string  `json:"name,omitempty"`
	Dir   float64 `json:"dir,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Kp    float64 `json:"kp,omitempty"`
	Td    float64 `json:"td,omitempty"`

	// repeat
	Count  int       `json:"count,omitempty"`
	Offset []float64 `json:"offset,omitempty"`
	Body   []Command `json:"body,omitempty"`
}

// Script is a versioned list of commands.
type Script struct {
	Version  int       `json:"version"`
	Commands []Command `json:"commands"`
}

// LineTo builds a lineTo command.
func LineTo(x, y, z float64) Command {
	return Command{Op: OpLineTo, X: x, Y: y, Z: z}
}

// Spawn builds a spawn command.
func Spawn(name string, x, z, dir, speed, kp, td float64) Command {
	return Command{Op: OpSpawn, Name: name, X: x, Z: z, Dir: dir, Speed: speed, Kp: kp, Td: td}
}

// Repeat builds a repeat block shifted by offset on every iteration.
func Repeat(count int, offset mgl64.Vec3, body ...Command) Command {
	return Command{Op: OpRepeat, Count: count, Offset: offset[:], Body: body}
}

// Default returns the stock course: a long run-up followed by ten
// zig-zags, and no scripted vehicles.
func Default() *Script {
	return &Script{
		Version: 1,
		Commands: []Command{
			LineTo(0, 0, -500),
			Repeat(10, mgl64.Vec3{0, 0, 60},
				LineTo(0, 0, 30),
				LineTo(-5, 0, 60),
			),
		},
	}
}

// Parse decodes a script document. Unknown fields are rejected.
func Parse(data []byte) (*Script, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("failed to parse script: trailing data after document")
	}
	return &s, nil
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Plan is a compiled script: the full course and the vehicles to place.
type Plan struct {
	Points []mgl64.Vec3
	Spawns []agent.Spec
}

// Target receives a compiled plan. sim.World implements it.
type Target interface {
	LineTo(p mgl64.Vec3) error
	Spawn(spec agent.Spec) error
}

// Execute validates and compiles s, then applies it to t.
func Execute(s *Script, t Target) (*Plan, error) {
	plan, err := Compile(s)
	if err != nil {
		return nil, err
	}
	if err := plan.Apply(t); err != nil {
		return plan, err
	}
	return plan, nil
}

// Apply pushes every point then every spawn to t.
func (p *Plan) Apply(t Target) error {
	for i, pt := range p.Points {
		if err := t.LineTo(pt); err != nil {
			return fmt.Errorf("lineTo #%d: %w", i, err)
		}
	}
	for _, spec := range p.Spawns {
		if err := t.Spawn(spec); err != nil {
			return fmt.Errorf("spawn %q: %w", spec.Nickname, err)
		}
	}
	return nil
}

// Compile validates s and expands it into a Plan.
func Compile(s *Script) (*Plan, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	c := &compiler{plan: &Plan{}}
	if err := c.run(s.Commands, mgl64.Vec3{}); err != nil {
		return nil, err
	}
	return c.plan, nil
}

type compiler struct {
	plan  *Plan
	frame geo.LocalFrame
}

func (c *compiler) run(cmds []Command, off mgl64.Vec3) error {
	for _, cmd := range cmds {
		switch cmd.Op {
		case OpLineTo:
			c.plan.Points = append(c.plan.Points, mgl64.Vec3{cmd.X, cmd.Y, cmd.Z}.Add(off))
		case OpGeoLineTo:
			p, err := c.frame.Point(cmd.Lon, cmd.Lat, cmd.Elev)
			if err != nil {
				return fmt.Errorf("%w: geoLineTo(%v, %v): %w", ErrInvalidCommand, cmd.Lon, cmd.Lat, err)
			}
			c.plan.Points = append(c.plan.Points, p.Add(off))
		case OpSpawn:
			c.plan.Spawns = append(c.plan.Spawns, agent.Spec{
				Nickname:    cmd.Name,
				Position:    mgl64.Vec3{cmd.X, SpawnHeight, cmd.Z}.Add(off),
				Heading:     cmd.Dir,
				TargetSpeed: cmd.Speed,
				Kp:          cmd.Kp,
				Td:          cmd.Td,
			})
		case OpRepeat:
			step := offsetOf(cmd)
			for i := range cmd.Count {
				if err := c.run(cmd.Body, off.Add(step.Mul(float64(i)))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func offsetOf(cmd Command) mgl64.Vec3 {
	if len(cmd.Offset) != 3 {
		return mgl64.Vec3{}
	}
	return mgl64.Vec3{cmd.Offset[0], cmd.Offset[1], cmd.Offset[2]}
}

// Validate checks every command and the expanded size of the script.
// All problems are reported together.
func Validate(s *Script) error {
	if s == nil {
		return fmt.Errorf("%w: nil script", ErrInvalidCommand)
	}
	v := &validator{}
	n := v.walk(s.Commands, "commands", 1)
	if n.points > MaxPoints {
		v.fail("commands", "expands to more than %d points", MaxPoints)
	}
	if n.spawns > MaxSpawns {
		v.fail("commands", "expands to more than %d spawns", MaxSpawns)
	}
	if n.commands > MaxExpanded {
		v.fail("commands", "expands to more than %d commands", MaxExpanded)
	}
	return errors.Join(v.errs...)
}

// expansion counts what a command list unrolls to. Each count saturates
// one above its limit.
type expansion struct {
	points, spawns, commands int
}

func (e expansion) add(o expansion) expansion {
	return expansion{
		points:   min(e.points+o.points, MaxPoints+1),
		spawns:   min(e.spawns+o.spawns, MaxSpawns+1),
		commands: min(e.commands+o.commands, MaxExpanded+1),
	}
}

func (e expansion) times(n int) expansion {
	return expansion{
		points:   min(e.points*n, MaxPoints+1),
		spawns:   min(e.spawns*n, MaxSpawns+1),
		commands: min(e.commands*n, MaxExpanded+1),
	}
}

type validator struct {
	errs []error
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%w: %s: %s", ErrInvalidCommand, path, fmt.Sprintf(format, args...)))
}

func (v *validator) walk(cmds []Command, path string, depth int) expansion {
	var n expansion
	for i, cmd := range cmds {
		p := fmt.Sprintf("%s[%d]", path, i)
		n = n.add(expansion{commands: 1})
		switch cmd.Op {
		case OpLineTo:
			v.finite(p, "x", cmd.X, "y", cmd.Y, "z", cmd.Z)
			n = n.add(expansion{points: 1})
		case OpGeoLineTo:
			v.finite(p, "lon", cmd.Lon, "lat", cmd.Lat, "elev", cmd.Elev)
			if math.Abs(cmd.Lon) > 180 || math.Abs(cmd.Lat) > geo.MaxLatitude {
				v.fail(p, "coordinates (%v, %v) out of range", cmd.Lon, cmd.Lat)
			}
			n = n.add(expansion{points: 1})
		case OpSpawn:
			if cmd.Name == "" {
				v.fail(p, "spawn needs a name")
			}
			v.finite(p, "x", cmd.X, "z", cmd.Z, "dir", cmd.Dir, "speed", cmd.Speed, "kp", cmd.Kp, "td", cmd.Td)
			if kd := cmd.Kp * cmd.Td; math.IsInf(kd, 0) {
				v.fail(p, "kp*td overflows")
			}
			n = n.add(expansion{spawns: 1})
		case OpRepeat:
			if cmd.Count < 1 || cmd.Count > MaxRepeat {
				v.fail(p, "repeat count %d outside 1..%d", cmd.Count, MaxRepeat)
			}
			if len(cmd.Offset) != 0 && len(cmd.Offset) != 3 {
				v.fail(p, "offset needs 3 components, got %d", len(cmd.Offset))
			}
			for j, o := range cmd.Offset {
				v.finite(p, fmt.Sprintf("offset[%d]", j), o)
			}
			if depth > MaxDepth {
				v.fail(p, "repeat nested deeper than %d", MaxDepth)
				continue
			}
			inner := v.walk(cmd.Body, p+".body", depth+1)
			n = n.add(inner.times(min(max(cmd.Count, 0), MaxRepeat)))
		case "":
			v.fail(p, "missing op")
		default:
			v.fail(p, "unknown op %q", cmd.Op)
		}
	}
	return n
}

func (v *validator) finite(path string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		f := kv[i+1].(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			v.fail(path, "%s is not finite", kv[i])
		}
	}
}
