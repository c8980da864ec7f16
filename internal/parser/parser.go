package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultNickname labels designs submitted without a nickname.
const DefaultNickname = "anonymous"

// RemoteSpawnPosition is where remotely requested vehicles appear.
var RemoteSpawnPosition = mgl64.Vec3{0, 0.5, 0}

// parseNumber accepts a JSON number or a string holding one.
// Web forms post every field as a string.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
	} else {
		s = string(raw)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return f, nil
}

// Parser converts raw spawn requests into designs.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser that reports malformed fields to logger.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseDesign decodes a design object. Numeric fields that cannot be read
// become 0 and are listed in Design.Malformed; the problem is logged.
// A JSON string holding the object is also accepted.
func (p *Parser) ParseDesign(raw json.RawMessage) (Design, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Design{}, fmt.Errorf("failed to parse design: %w", err)
		}
		raw = json.RawMessage(inner)
	}

	var in rawDesign
	if err := json.Unmarshal(raw, &in); err != nil {
		return Design{}, fmt.Errorf("failed to parse design: %w", err)
	}

	d := Design{Nickname: strings.TrimSpace(in.Nickname)}
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *float64
	}{
		{"v", in.V, &d.V},
		{"Kp", in.Kp, &d.Kp},
		{"Td", in.Td, &d.Td},
	}
	for _, f := range fields {
		v, err := parseNumber(f.raw)
		if err != nil {
			d.Malformed = append(d.Malformed, f.name)
			continue
		}
		*f.dst = v
	}
	if kd := d.Kp * d.Td; math.IsNaN(kd) || math.IsInf(kd, 0) {
		d.Td = 0
		d.Malformed = append(d.Malformed, "Td")
	}

	if len(d.Malformed) > 0 {
		p.logger.Warn("malformed design fields, using 0",
			"nickname", d.Nickname,
			"fields", d.Malformed)
	}

	if d.Nickname == "" {
		p.logger.Warn("design has no nickname, using default", "nickname", DefaultNickname)
		d.Nickname = DefaultNickname
	}
	return d, nil
}

// ParseEmit decodes the body of an emit request.
func (p *Parser) ParseEmit(body []byte) (EmitRequest, error) {
	var in struct {
		Room   string          `json:"room"`
		Design json.RawMessage `json:"design"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return EmitRequest{}, fmt.Errorf("failed to parse emit request: %w", err)
	}
	if len(in.Design) == 0 {
		return EmitRequest{Room: in.Room}, errors.New("emit request has no design")
	}

	d, err := p.ParseDesign(in.Design)
	return EmitRequest{Room: in.Room, Design: d}, err
}
