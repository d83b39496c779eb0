package lifecycle

import (
	"strings"
	"time"
)

// Actor carries caller identity used by guards, visibility gating, and audit records.
type Actor struct {
	ID    string
	Name  string
	Roles []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if strings.TrimSpace(strings.ToLower(r)) == role {
			return true
		}
	}
	return false
}

// Snapshot is the lifecycle-relevant projection of a domain record. Payload is
// an opaque document owned by the storage collaborator; Search is a denormalized
// text projection used by the query gateway.
type Snapshot struct {
	Kind      string
	ID        string
	State     string
	Version   int
	Hidden    bool
	Search    string
	Payload   map[string]any
	UpdatedAt time.Time
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Payload = CopyMap(s.Payload)
	return &cp
}

// NormalizeKind canonicalizes entity kind tags.
func NormalizeKind(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeState canonicalizes state names.
func NormalizeState(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEvent canonicalizes event names.
func NormalizeEvent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HasJustification reports whether the supplied justification is usable, i.e.
// non-empty after trimming. Whitespace-only reasons do not count.
func HasJustification(s string) bool {
	return strings.TrimSpace(s) != ""
}

// CopyMap shallow-copies a metadata map, returning nil for empty input.
func CopyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
