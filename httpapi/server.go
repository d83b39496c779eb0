// Package httpapi exposes the lifecycle core over HTTP for browser-facing
// callers: transitions, creation, field updates, entity listings, allowed
// event introspection, and audit queries. Errors travel as a {code, message}
// envelope with statuses mapped from the core taxonomy.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/executor"
	"github.com/goliatone/go-lifecycle/query"
)

// actor identity headers, filled in by the fronting proxy after
// authentication. This core performs no session management itself.
const (
	HeaderActorID    = "X-Actor-Id"
	HeaderActorName  = "X-Actor-Name"
	HeaderActorRoles = "X-Actor-Roles"
)

// Server wires the mutation, query, and audit components behind HTTP routes.
type Server struct {
	executor *executor.Executor
	gateway  *query.Gateway
	audit    *audit.Logger
	logger   lifecycle.Logger
	cors     *cors.Cors
}

// Option customizes server behavior.
type Option func(*Server)

// WithLogger sets the diagnostic logger.
func WithLogger(logger lifecycle.Logger) Option {
	return func(s *Server) {
		s.logger = lifecycle.NormalizeLogger(logger)
	}
}

// WithCORS replaces the default permissive CORS policy.
func WithCORS(c *cors.Cors) Option {
	return func(s *Server) {
		if c != nil {
			s.cors = c
		}
	}
}

// New constructs the HTTP server surface.
func New(exec *executor.Executor, gateway *query.Gateway, auditLog *audit.Logger, opts ...Option) (*Server, error) {
	if exec == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "executor required", nil, nil)
	}
	if gateway == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "query gateway required", nil, nil)
	}
	if auditLog == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "audit logger required", nil, nil)
	}
	s := &Server{
		executor: exec,
		gateway:  gateway,
		audit:    auditLog,
		logger:   lifecycle.NormalizeLogger(nil),
		cors:     cors.AllowAll(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /entities/{kind}/{id}/transitions/{event}", s.handleTransition)
	mux.HandleFunc("POST /entities/{kind}", s.handleCreate)
	mux.HandleFunc("PATCH /entities/{kind}/{id}", s.handleUpdate)
	mux.HandleFunc("GET /entities/{kind}", s.handleList)
	mux.HandleFunc("GET /entities/{kind}/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /audit", s.handleAudit)
	return s.cors.Handler(mux)
}

// snapshotPayload is the wire shape of an entity snapshot.
type snapshotPayload struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	State     string         `json:"state"`
	Version   int            `json:"version"`
	Hidden    bool           `json:"hidden"`
	Search    string         `json:"search,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func snapshotToWire(snap *lifecycle.Snapshot) snapshotPayload {
	return snapshotPayload{
		Kind:      snap.Kind,
		ID:        snap.ID,
		State:     snap.State,
		Version:   snap.Version,
		Hidden:    snap.Hidden,
		Search:    snap.Search,
		Payload:   snap.Payload,
		UpdatedAt: snap.UpdatedAt,
	}
}

// auditPayload is the wire shape of an audit record.
type auditPayload struct {
	ID            string                       `json:"id"`
	Kind          string                       `json:"kind"`
	ObjectID      string                       `json:"object_id"`
	Action        string                       `json:"action"`
	Event         string                       `json:"event,omitempty"`
	ActorID       string                       `json:"actor_id,omitempty"`
	ActorName     string                       `json:"actor_name,omitempty"`
	FromState     string                       `json:"from_state,omitempty"`
	ToState       string                       `json:"to_state,omitempty"`
	Diff          map[string]audit.FieldChange `json:"diff,omitempty"`
	Justification string                       `json:"justification,omitempty"`
	OriginAddress string                       `json:"origin_address,omitempty"`
	OccurredAt    time.Time                    `json:"occurred_at"`
}

func auditToWire(rec audit.Record) auditPayload {
	return auditPayload{
		ID:            rec.ID,
		Kind:          rec.Kind,
		ObjectID:      rec.ObjectID,
		Action:        string(rec.Action),
		Event:         rec.Event,
		ActorID:       rec.ActorID,
		ActorName:     rec.ActorName,
		FromState:     rec.FromState,
		ToState:       rec.ToState,
		Diff:          rec.Diff,
		Justification: rec.Justification,
		OriginAddress: rec.OriginAddress,
		OccurredAt:    rec.OccurredAt,
	}
}

func actorFromRequest(r *http.Request) lifecycle.Actor {
	actor := lifecycle.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
	}
	for _, role := range strings.Split(r.Header.Get(HeaderActorRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			actor.Roles = append(actor.Roles, role)
		}
	}
	return actor
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	mapping := lifecycle.MapError(err)
	if mapping.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	s.writeJSON(w, mapping.HTTPStatus, lifecycle.ErrorEnvelopeFor(err))
}
