package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/executor"
	"github.com/goliatone/go-lifecycle/query"
)

type transitionBody struct {
	ExpectedVersion int    `json:"expected_version"`
	Justification   string `json:"justification"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.executor.Execute(r.Context(), executor.TransitionRequest{
		Kind:            r.PathValue("kind"),
		ID:              r.PathValue("id"),
		Event:           r.PathValue("event"),
		ExpectedVersion: body.ExpectedVersion,
		Actor:           actorFromRequest(r),
		Justification:   body.Justification,
		OriginAddress:   originAddress(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotToWire(snap))
}

type createBody struct {
	ID      string         `json:"id"`
	Hidden  bool           `json:"hidden"`
	Search  string         `json:"search"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.executor.Create(r.Context(), executor.CreateRequest{
		Kind:          r.PathValue("kind"),
		ID:            body.ID,
		Actor:         actorFromRequest(r),
		Hidden:        body.Hidden,
		Search:        body.Search,
		Payload:       body.Payload,
		OriginAddress: originAddress(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snapshotToWire(snap))
}

type updateBody struct {
	ExpectedVersion int            `json:"expected_version"`
	Hidden          *bool          `json:"hidden"`
	Search          *string        `json:"search"`
	Payload         map[string]any `json:"payload"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.executor.Update(r.Context(), executor.UpdateRequest{
		Kind:            r.PathValue("kind"),
		ID:              r.PathValue("id"),
		ExpectedVersion: body.ExpectedVersion,
		Actor:           actorFromRequest(r),
		Hidden:          body.Hidden,
		Search:          body.Search,
		Payload:         body.Payload,
		OriginAddress:   originAddress(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotToWire(snap))
}

type listEnvelope struct {
	Results []snapshotPayload `json:"results"`
	Count   int               `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := query.Filter{
		State:  q.Get("state"),
		Search: q.Get("search"),
	}
	if raw := strings.TrimSpace(q.Get("hidden")); raw != "" {
		hidden, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, lifecycle.CloneError(lifecycle.ErrBadRequest, "hidden must be a boolean", err, nil))
			return
		}
		filter.Hidden = &hidden
	}
	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.PageSize, err = intParam(q.Get("page_size")); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.gateway.List(r.Context(), r.PathValue("kind"), filter, actorFromRequest(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	envelope := listEnvelope{Results: make([]snapshotPayload, 0, len(result.Results)), Count: result.Count}
	for i := range result.Results {
		envelope.Results = append(envelope.Results, snapshotToWire(&result.Results[i]))
	}
	s.writeJSON(w, http.StatusOK, envelope)
}

type eventsEnvelope struct {
	State  string         `json:"state"`
	Events []eventPayload `json:"events"`
}

type eventPayload struct {
	Event                 string `json:"event"`
	To                    string `json:"to"`
	RequiresJustification bool   `json:"requires_justification"`
}

// handleEvents reports which events are currently available for an entity, so
// the front end can enable or disable its action buttons server-side.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gateway.Get(r.Context(), r.PathValue("kind"), r.PathValue("id"), actorFromRequest(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	envelope := eventsEnvelope{State: snap.State, Events: []eventPayload{}}
	for _, info := range s.executor.Registry().EventsFrom(snap.Kind, snap.State) {
		envelope.Events = append(envelope.Events, eventPayload{
			Event:                 info.Event,
			To:                    info.To,
			RequiresJustification: info.RequiresJustification,
		})
	}
	s.writeJSON(w, http.StatusOK, envelope)
}

type auditEnvelope struct {
	Results    []auditPayload `json:"results"`
	Count      int            `json:"count"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Kind:     q.Get("kind"),
		ObjectID: q.Get("object_id"),
		ActorID:  q.Get("actor_id"),
		Event:    q.Get("event_name"),
		Cursor:   q.Get("cursor"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.From, err = timeParam(q.Get("from")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.To, err = timeParam(q.Get("to")); err != nil {
		s.writeError(w, err)
		return
	}

	page, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	envelope := auditEnvelope{
		Results:    make([]auditPayload, 0, len(page.Records)),
		Count:      len(page.Records),
		NextCursor: page.NextCursor,
	}
	for _, rec := range page.Records {
		envelope.Results = append(envelope.Results, auditToWire(rec))
	}
	s.writeJSON(w, http.StatusOK, envelope)
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		return lifecycle.CloneError(lifecycle.ErrBadRequest, "malformed request body", err, nil)
	}
	return nil
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, lifecycle.CloneError(lifecycle.ErrBadRequest, "numeric parameter expected", err, nil)
	}
	return value, nil
}

func timeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, lifecycle.CloneError(lifecycle.ErrBadRequest, "timestamps must be RFC3339", err, nil)
	}
	return ts.UTC(), nil
}

func originAddress(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
