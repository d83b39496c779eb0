package registry

import (
	"fmt"
	"strings"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// StateConfig declares one lifecycle state for a kind.
type StateConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Initial     bool   `json:"initial,omitempty" yaml:"initial,omitempty"`
	Terminal    bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// TransitionConfig declares one event for a kind. An event is defined once per
// kind; multiple from states may admit the same event.
type TransitionConfig struct {
	Event                 string   `json:"event" yaml:"event"`
	From                  []string `json:"from" yaml:"from"`
	To                    string   `json:"to" yaml:"to"`
	RequiresJustification bool     `json:"requires_justification,omitempty" yaml:"requires_justification,omitempty"`
	Guard                 string   `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// KindConfig is the declarative lifecycle configuration for one entity kind.
type KindConfig struct {
	Kind        string             `json:"kind" yaml:"kind"`
	States      []StateConfig      `json:"states" yaml:"states"`
	Transitions []TransitionConfig `json:"transitions" yaml:"transitions"`
}

// ConfigSet is the top-level document holding every configured kind.
type ConfigSet struct {
	Kinds []KindConfig `json:"kinds" yaml:"kinds"`
}

// Validate ensures the kind configuration is well formed: states are unique
// with exactly one initial, transitions reference declared states, terminal
// states have no outgoing transitions, events are unique per kind, and every
// transition source is reachable from the initial state.
func (c KindConfig) Validate() error {
	kind := lifecycle.NormalizeKind(c.Kind)
	if kind == "" {
		return configError("kind name required", nil)
	}
	if len(c.States) == 0 {
		return configError(fmt.Sprintf("kind %s requires at least one state", kind), nil)
	}

	states := make(map[string]StateConfig, len(c.States))
	initial := ""
	for _, st := range c.States {
		name := lifecycle.NormalizeState(st.Name)
		if name == "" {
			return configError(fmt.Sprintf("kind %s has empty state name", kind), nil)
		}
		if _, dup := states[name]; dup {
			return configError(fmt.Sprintf("kind %s duplicate state %q", kind, name), nil)
		}
		states[name] = st
		if st.Initial {
			if initial != "" {
				return configError(fmt.Sprintf("kind %s declares multiple initial states", kind), nil)
			}
			initial = name
		}
	}
	if initial == "" {
		return configError(fmt.Sprintf("kind %s requires an initial state", kind), nil)
	}

	events := make(map[string]struct{}, len(c.Transitions))
	for _, tr := range c.Transitions {
		event := lifecycle.NormalizeEvent(tr.Event)
		if event == "" {
			return configError(fmt.Sprintf("kind %s has transition with empty event", kind), nil)
		}
		if _, dup := events[event]; dup {
			return configError(fmt.Sprintf("kind %s duplicate event %q", kind, event), nil)
		}
		events[event] = struct{}{}

		to := lifecycle.NormalizeState(tr.To)
		if _, ok := states[to]; !ok {
			return configError(fmt.Sprintf("kind %s event %q targets undeclared state %q", kind, event, to), nil)
		}
		if len(tr.From) == 0 {
			return configError(fmt.Sprintf("kind %s event %q requires at least one source state", kind, event), nil)
		}
		seen := make(map[string]struct{}, len(tr.From))
		for _, from := range tr.From {
			name := lifecycle.NormalizeState(from)
			st, ok := states[name]
			if !ok {
				return configError(fmt.Sprintf("kind %s event %q sources undeclared state %q", kind, event, name), nil)
			}
			if st.Terminal {
				return configError(fmt.Sprintf("kind %s event %q leaves terminal state %q", kind, event, name), nil)
			}
			if _, dup := seen[name]; dup {
				return configError(fmt.Sprintf("kind %s event %q repeats source state %q", kind, event, name), nil)
			}
			seen[name] = struct{}{}
		}
	}

	if unreachable := c.unreachableSources(initial); len(unreachable) > 0 {
		return configError(
			fmt.Sprintf("kind %s transitions source unreachable states: %s", kind, strings.Join(unreachable, ", ")),
			map[string]any{"kind": kind, "unreachable": unreachable},
		)
	}
	return nil
}

// unreachableSources walks the transition graph from the initial state and
// returns source states no path can ever reach.
func (c KindConfig) unreachableSources(initial string) []string {
	reachable := map[string]bool{initial: true}
	for changed := true; changed; {
		changed = false
		for _, tr := range c.Transitions {
			to := lifecycle.NormalizeState(tr.To)
			for _, from := range tr.From {
				if reachable[lifecycle.NormalizeState(from)] && !reachable[to] {
					reachable[to] = true
					changed = true
				}
			}
		}
	}

	var unreachable []string
	seen := map[string]bool{}
	for _, tr := range c.Transitions {
		for _, from := range tr.From {
			name := lifecycle.NormalizeState(from)
			if !reachable[name] && !seen[name] {
				unreachable = append(unreachable, name)
				seen[name] = true
			}
		}
	}
	return unreachable
}

// Validate checks every kind in the set and rejects duplicate kind tags.
func (s ConfigSet) Validate() error {
	if len(s.Kinds) == 0 {
		return configError("at least one kind required", nil)
	}
	seen := make(map[string]struct{}, len(s.Kinds))
	for _, kc := range s.Kinds {
		if err := kc.Validate(); err != nil {
			return err
		}
		kind := lifecycle.NormalizeKind(kc.Kind)
		if _, dup := seen[kind]; dup {
			return configError(fmt.Sprintf("duplicate kind %q", kind), nil)
		}
		seen[kind] = struct{}{}
	}
	return nil
}

func configError(message string, metadata map[string]any) error {
	return lifecycle.CloneError(lifecycle.ErrBadConfig, message, nil, metadata)
}
