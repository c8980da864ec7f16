// Package handlers serves the HTTP API and the WebSocket room of a running
// simulation.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/cache"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/dispatcher"
	"github.com/linetrace/simulator/internal/parser"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/worker"
	"github.com/linetrace/simulator/pkg/core"
	"github.com/linetrace/simulator/pkg/streaming"
)

// Spawn sources recorded on vehicles.
const (
	SourceHTTP      = "http"
	SourceWebSocket = "ws"
)

const maxBodySize = 64 << 10

// ErrUnknownRoom is returned when a request addresses a room this server
// does not own.
var ErrUnknownRoom = errors.New("unknown room")

// World is the read side of the simulation.
type World interface {
	Stats() sim.Stats
	Agent(id int) (agent.Snapshot, bool)
	Course() *course.Course
}

// Dispatcher routes events to registered handlers.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Dispatcher       Dispatcher
	World            World
	Session          *session.Context
	Cache            *cache.AgentCache
	Parser           *parser.Parser
	Logger           *slog.Logger
	SnapshotInterval time.Duration
	Now              func() time.Time
}

// Service provides the HTTP routes and the WebSocket hub
type Service struct {
	deps Dependencies
	hub  *Hub
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Service{deps: deps}
	s.hub = newHub(s)
	return s
}

// Hub returns the WebSocket hub. Register it as a world observer to stream
// the simulation to room clients.
func (s *Service) Hub() *Hub {
	return s.hub
}

// SetWorld sets the world read by the API. Call before serving.
func (s *Service) SetWorld(w World) {
	s.deps.World = w
}

func (s *Service) room() string {
	if s.deps.Session == nil {
		return ""
	}
	return s.deps.Session.Room()
}

// Routes returns the mux with every endpoint registered.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.HandleFunc("POST /api/emit", s.handleEmit)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /api/course", s.handleCourse)
	mux.Handle("GET /ws", s.hub)
	return mux
}

// spawn forwards a design to the spawn handler and announces it to the room.
func (s *Service) spawn(d parser.Design, source string) error {
	if s.deps.Dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if _, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
		Command: worker.CommandSpawn,
		Room:    s.room(),
		Source:  source,
		Payload: payload,
	}); err != nil {
		return err
	}
	s.hub.Broadcast(streaming.TypeSpawn, d)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleEmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := s.deps.Parser.ParseEmit(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Room != s.room() {
		writeError(w, http.StatusNotFound, ErrUnknownRoom)
		return
	}

	if err := s.spawn(req.Design, SourceHTTP); err != nil {
		s.deps.Logger.Error("Error dispatching spawn", "error", err, "nickname", req.Design.Nickname)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	Room    string    `json:"room"`
	RunID   uint      `json:"runId"`
	Clients int       `json:"clients"`
	Stats   sim.Stats `json:"stats"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Room:    s.room(),
		Clients: s.hub.Clients(),
	}
	if s.deps.Session != nil {
		resp.RunID = s.deps.Session.RunID()
	}
	if s.deps.World != nil {
		resp.Stats = s.deps.World.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// AgentResponse describes one live or recently removed agent.
type AgentResponse struct {
	Live      bool           `json:"live"`
	Snapshot  agent.Snapshot `json:"snapshot"`
	Reason    string         `json:"reason,omitempty"`
	RemovedAt uint64         `json:"removedAt,omitempty"`
	Age       uint64         `json:"age,omitempty"`
}

func (s *Service) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid agent id"))
		return
	}

	if s.deps.World != nil {
		if snap, ok := s.deps.World.Agent(id); ok {
			writeJSON(w, http.StatusOK, AgentResponse{Live: true, Snapshot: snap})
			return
		}
	}
	if s.deps.Cache != nil {
		if rem, ok := s.deps.Cache.GetRemoved(id); ok {
			writeJSON(w, http.StatusOK, AgentResponse{
				Snapshot:  rem.Snapshot,
				Reason:    rem.Reason,
				RemovedAt: rem.Tick,
				Age:       rem.Age,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.New("agent not found"))
}

// handleCourse returns the course as a GeoJSON LineString.
func (s *Service) handleCourse(w http.ResponseWriter, _ *http.Request) {
	if s.deps.World == nil || s.deps.World.Course() == nil {
		writeError(w, http.StatusNotFound, errors.New("no course loaded"))
		return
	}
	data, err := s.deps.World.Course().LineString().MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

func coursePoints(c *course.Course) []core.Position3D {
	if c == nil {
		return nil
	}
	return toPositions(c.Points())
}

func toPositions(points []mgl64.Vec3) []core.Position3D {
	out := make([]core.Position3D, len(points))
	for i, p := range points {
		out[i] = core.Position3D{X: p.X(), Y: p.Y(), Z: p.Z()}
	}
	return out
}
