package registry

// Kind tags for the built-in manufacturing lifecycles.
const (
	KindBatch     = "batch"
	KindWorkOrder = "work_order"
	KindStoppage  = "stoppage"
	KindUser      = "user"
)

// BatchKind is the production batch lifecycle. Finished, cancelled, rejected,
// and released are terminal; rejected and released are entered by the quality
// module outside this core.
func BatchKind() KindConfig {
	return KindConfig{
		Kind: KindBatch,
		States: []StateConfig{
			{Name: "planned", Initial: true},
			{Name: "running"},
			{Name: "paused"},
			{Name: "finished", Terminal: true},
			{Name: "cancelled", Terminal: true},
			{Name: "rejected", Terminal: true},
			{Name: "released", Terminal: true},
		},
		Transitions: []TransitionConfig{
			{Event: "start", From: []string{"planned"}, To: "running"},
			{Event: "pause", From: []string{"running"}, To: "paused", RequiresJustification: true},
			{Event: "resume", From: []string{"paused"}, To: "running"},
			{Event: "finish", From: []string{"running"}, To: "finished"},
			{Event: "cancel", From: []string{"planned", "running", "paused"}, To: "cancelled", RequiresJustification: true},
		},
	}
}

// WorkOrderKind is the maintenance work order lifecycle.
func WorkOrderKind() KindConfig {
	return KindConfig{
		Kind: KindWorkOrder,
		States: []StateConfig{
			{Name: "open", Initial: true},
			{Name: "assigned"},
			{Name: "in_progress"},
			{Name: "paused"},
			{Name: "completed", Terminal: true},
			{Name: "cancelled", Terminal: true},
		},
		Transitions: []TransitionConfig{
			{Event: "assign", From: []string{"open"}, To: "assigned"},
			{Event: "start", From: []string{"assigned"}, To: "in_progress"},
			{Event: "pause", From: []string{"in_progress"}, To: "paused", RequiresJustification: true},
			{Event: "resume", From: []string{"paused"}, To: "in_progress"},
			{Event: "complete", From: []string{"in_progress"}, To: "completed"},
			{Event: "cancel", From: []string{"open", "assigned", "in_progress", "paused"}, To: "cancelled", RequiresJustification: true},
		},
	}
}

// StoppageKind is the production stoppage lifecycle: open until a resolution
// is recorded, and the resolution text is the mandatory justification.
func StoppageKind() KindConfig {
	return KindConfig{
		Kind: KindStoppage,
		States: []StateConfig{
			{Name: "open", Initial: true},
			{Name: "resolved", Terminal: true},
		},
		Transitions: []TransitionConfig{
			{Event: "resolve", From: []string{"open"}, To: "resolved", RequiresJustification: true},
		},
	}
}

// UserKind is the account activation lifecycle. Deactivation requires a
// reason and cannot target the acting user's own record.
func UserKind() KindConfig {
	return KindConfig{
		Kind: KindUser,
		States: []StateConfig{
			{Name: "active", Initial: true},
			{Name: "inactive"},
		},
		Transitions: []TransitionConfig{
			{Event: "deactivate", From: []string{"active"}, To: "inactive", RequiresJustification: true, Guard: "not_self"},
			{Event: "activate", From: []string{"inactive"}, To: "active"},
		},
	}
}

// DefaultKinds returns the built-in kind set used by the daemon when no
// configuration file is supplied.
func DefaultKinds() []KindConfig {
	return []KindConfig{BatchKind(), WorkOrderKind(), StoppageKind(), UserKind()}
}
