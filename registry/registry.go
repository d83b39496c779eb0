package registry

import (
	"fmt"
	"sort"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// Transition is the compiled, immutable definition of one (kind, event) pair.
type Transition struct {
	Kind                  string
	Event                 string
	From                  []string
	To                    string
	RequiresJustification bool
	GuardRef              string
	Guard                 Guard

	fromSet map[string]struct{}
}

// AllowsFrom reports whether the transition is legal from the given state.
func (t *Transition) AllowsFrom(state string) bool {
	if t == nil {
		return false
	}
	_, ok := t.fromSet[lifecycle.NormalizeState(state)]
	return ok
}

// EventInfo describes one event available from a state, for snapshot
// introspection by transports.
type EventInfo struct {
	Event                 string
	To                    string
	RequiresJustification bool
}

type machine struct {
	kind        string
	initial     string
	states      map[string]StateConfig
	stateNames  []string
	transitions map[string]*Transition
}

// Registry holds the compiled lifecycle configuration for every entity kind.
// Pure, immutable after construction; no I/O.
type Registry struct {
	machines map[string]*machine
}

// New compiles and validates kind configurations. Guard references resolve
// through the guard registry; a dangling reference is a configuration error.
func New(kinds []KindConfig, guards *GuardRegistry) (*Registry, error) {
	set := ConfigSet{Kinds: kinds}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	machines := make(map[string]*machine, len(kinds))
	for _, kc := range kinds {
		m := &machine{
			kind:        lifecycle.NormalizeKind(kc.Kind),
			states:      make(map[string]StateConfig, len(kc.States)),
			transitions: make(map[string]*Transition, len(kc.Transitions)),
		}
		for _, st := range kc.States {
			name := lifecycle.NormalizeState(st.Name)
			m.states[name] = st
			m.stateNames = append(m.stateNames, name)
			if st.Initial {
				m.initial = name
			}
		}
		sort.Strings(m.stateNames)

		for _, tc := range kc.Transitions {
			tr := &Transition{
				Kind:                  m.kind,
				Event:                 lifecycle.NormalizeEvent(tc.Event),
				To:                    lifecycle.NormalizeState(tc.To),
				RequiresJustification: tc.RequiresJustification,
				GuardRef:              tc.Guard,
				fromSet:               make(map[string]struct{}, len(tc.From)),
			}
			for _, from := range tc.From {
				name := lifecycle.NormalizeState(from)
				tr.From = append(tr.From, name)
				tr.fromSet[name] = struct{}{}
			}
			sort.Strings(tr.From)
			if ref := tc.Guard; ref != "" {
				guard, ok := guards.Lookup(ref)
				if !ok {
					return nil, configError(
						fmt.Sprintf("kind %s event %q references unknown guard %q", m.kind, tr.Event, ref),
						map[string]any{"kind": m.kind, "event": tr.Event, "guard": ref},
					)
				}
				tr.Guard = guard
			}
			m.transitions[tr.Event] = tr
		}
		machines[m.kind] = m
	}
	return &Registry{machines: machines}, nil
}

// Kinds returns the configured kind tags, sorted.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	kinds := make([]string, 0, len(r.machines))
	for kind := range r.machines {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// HasKind reports whether the kind is configured.
func (r *Registry) HasKind(kind string) bool {
	if r == nil {
		return false
	}
	_, ok := r.machines[lifecycle.NormalizeKind(kind)]
	return ok
}

// TransitionFor resolves the transition definition for a (kind, event) pair.
func (r *Registry) TransitionFor(kind, event string) (*Transition, error) {
	m, err := r.machine(kind)
	if err != nil {
		return nil, err
	}
	event = lifecycle.NormalizeEvent(event)
	tr, ok := m.transitions[event]
	if !ok {
		return nil, lifecycle.CloneError(
			lifecycle.ErrUnknownEvent,
			fmt.Sprintf("event %q not defined for kind %q", event, m.kind),
			nil,
			map[string]any{"kind": m.kind, "event": event},
		)
	}
	return tr, nil
}

// StatesFor returns the declared state set for a kind, sorted.
func (r *Registry) StatesFor(kind string) ([]string, error) {
	m, err := r.machine(kind)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), m.stateNames...), nil
}

// InitialState returns the declared initial state for a kind.
func (r *Registry) InitialState(kind string) (string, error) {
	m, err := r.machine(kind)
	if err != nil {
		return "", err
	}
	return m.initial, nil
}

// IsTerminal reports whether the state is terminal for the kind. Unknown
// kinds and states are not terminal.
func (r *Registry) IsTerminal(kind, state string) bool {
	if r == nil {
		return false
	}
	m, ok := r.machines[lifecycle.NormalizeKind(kind)]
	if !ok {
		return false
	}
	st, ok := m.states[lifecycle.NormalizeState(state)]
	return ok && st.Terminal
}

// EventsFrom lists the events legal from a state, sorted by event name. Used
// by transports to render available actions.
func (r *Registry) EventsFrom(kind, state string) []EventInfo {
	if r == nil {
		return nil
	}
	m, ok := r.machines[lifecycle.NormalizeKind(kind)]
	if !ok {
		return nil
	}
	state = lifecycle.NormalizeState(state)
	var events []EventInfo
	for _, tr := range m.transitions {
		if !tr.AllowsFrom(state) {
			continue
		}
		events = append(events, EventInfo{
			Event:                 tr.Event,
			To:                    tr.To,
			RequiresJustification: tr.RequiresJustification,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Event < events[j].Event })
	return events
}

func (r *Registry) machine(kind string) (*machine, error) {
	if r == nil {
		return nil, lifecycle.CloneError(lifecycle.ErrBadConfig, "registry not configured", nil, nil)
	}
	normalized := lifecycle.NormalizeKind(kind)
	m, ok := r.machines[normalized]
	if !ok {
		return nil, lifecycle.CloneError(
			lifecycle.ErrUnknownEvent,
			fmt.Sprintf("kind %q not configured", normalized),
			nil,
			map[string]any{"kind": normalized},
		)
	}
	return m, nil
}
