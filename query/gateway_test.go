package query

import (
	"context"
	"testing"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/registry"
	"github.com/goliatone/go-lifecycle/store"
)

func boolPtr(b bool) *bool { return &b }

func newGateway(t *testing.T, opts ...Option) (*Gateway, store.Store) {
	t.Helper()
	reg, err := registry.New(registry.DefaultKinds(), registry.NewGuardRegistry())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	snapshots := store.NewInMemoryStore()
	g, err := New(reg, snapshots, opts...)
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	return g, snapshots
}

func seedBatches(t *testing.T, snapshots store.Store) {
	t.Helper()
	seed := []lifecycle.Snapshot{
		{Kind: "batch", ID: "b1", State: "running", Search: "batch one line-a"},
		{Kind: "batch", ID: "b2", State: "running", Search: "batch two line-b", Hidden: true},
		{Kind: "batch", ID: "b3", State: "planned", Search: "batch three line-a"},
		{Kind: "batch", ID: "b4", State: "finished", Search: "batch four line-b"},
	}
	for i := range seed {
		if _, err := snapshots.SaveIfVersion(context.Background(), &seed[i], 0); err != nil {
			t.Fatalf("seed %s: %v", seed[i].ID, err)
		}
	}
}

var supervisor = lifecycle.Actor{ID: "sup", Roles: []string{"supervisor"}}
var operator = lifecycle.Actor{ID: "op", Roles: []string{"operator"}}

func TestListFiltersByState(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)

	res, err := g.List(context.Background(), "batch", Filter{State: "running"}, supervisor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Count != 2 || len(res.Results) != 2 {
		t.Fatalf("expected 2 running batches, got %d/%d", len(res.Results), res.Count)
	}
}

func TestListRejectsUndeclaredState(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)

	_, err := g.List(context.Background(), "batch", Filter{State: "exploded"}, supervisor)
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestListRejectsUnknownKind(t *testing.T) {
	g, _ := newGateway(t)
	_, err := g.List(context.Background(), "spaceship", Filter{}, supervisor)
	if lifecycle.ErrorCode(err) != lifecycle.ErrCodeUnknownEvent {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestListHiddenGatedByRole(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)
	ctx := context.Background()

	// operator never sees hidden entities, even when asking for them
	res, err := g.List(ctx, "batch", Filter{Hidden: boolPtr(true)}, operator)
	if err != nil {
		t.Fatalf("list as operator: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("operator should see the 3 visible batches, got %d", res.Count)
	}
	for _, snap := range res.Results {
		if snap.Hidden {
			t.Fatalf("hidden entity leaked to operator: %s", snap.ID)
		}
	}

	// supervisor may ask for hidden only
	res, err = g.List(ctx, "batch", Filter{Hidden: boolPtr(true)}, supervisor)
	if err != nil {
		t.Fatalf("list as supervisor: %v", err)
	}
	if res.Count != 1 || res.Results[0].ID != "b2" {
		t.Fatalf("supervisor should see the hidden batch, got %+v", res.Results)
	}

	// supervisor without a hidden filter sees everything
	res, err = g.List(ctx, "batch", Filter{}, supervisor)
	if err != nil {
		t.Fatalf("list all as supervisor: %v", err)
	}
	if res.Count != 4 {
		t.Fatalf("supervisor should see all 4 batches, got %d", res.Count)
	}
}

func TestListCustomHiddenRole(t *testing.T) {
	g, snapshots := newGateway(t, WithHiddenRole("auditor"))
	seedBatches(t, snapshots)

	auditor := lifecycle.Actor{ID: "a1", Roles: []string{"auditor"}}
	res, err := g.List(context.Background(), "batch", Filter{}, auditor)
	if err != nil {
		t.Fatalf("list as auditor: %v", err)
	}
	if res.Count != 4 {
		t.Fatalf("auditor should see all batches, got %d", res.Count)
	}

	// the default supervisor role no longer grants access
	res, err = g.List(context.Background(), "batch", Filter{}, supervisor)
	if err != nil {
		t.Fatalf("list as supervisor: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("supervisor should be pinned to visible, got %d", res.Count)
	}
}

func TestListSubstringSearch(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)

	res, err := g.List(context.Background(), "batch", Filter{Search: "LINE-A"}, supervisor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected 2 search matches, got %d", res.Count)
	}
}

func TestListBoundsPageSize(t *testing.T) {
	g, snapshots := newGateway(t)
	ctx := context.Background()
	for i := 0; i < MaxPageSize+20; i++ {
		snap := lifecycle.Snapshot{Kind: "batch", ID: idFor(i), State: "planned"}
		if _, err := snapshots.SaveIfVersion(ctx, &snap, 0); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	res, err := g.List(ctx, "batch", Filter{PageSize: 10000}, supervisor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Results) != MaxPageSize {
		t.Fatalf("expected page clamped to %d, got %d", MaxPageSize, len(res.Results))
	}
	if res.Count != MaxPageSize+20 {
		t.Fatalf("count must reflect all matches, got %d", res.Count)
	}
}

func TestListPaging(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)

	res, err := g.List(context.Background(), "batch", Filter{Page: 2, PageSize: 3}, supervisor)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if res.Count != 4 || len(res.Results) != 1 {
		t.Fatalf("expected 1 result on page 2 of 4, got %d/%d", len(res.Results), res.Count)
	}
	if res.Results[0].ID != "b4" {
		t.Fatalf("unexpected page 2 content: %+v", res.Results)
	}
}

func TestGetHidesHiddenFromUnprivilegedActors(t *testing.T) {
	g, snapshots := newGateway(t)
	seedBatches(t, snapshots)
	ctx := context.Background()

	snap, err := g.Get(ctx, "batch", "b1", operator)
	if err != nil {
		t.Fatalf("get visible: %v", err)
	}
	if snap.ID != "b1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// hidden entity reads as not-found for the operator, found for the supervisor
	if _, err := g.Get(ctx, "batch", "b2", operator); lifecycle.ErrorCode(err) != lifecycle.ErrCodeNotFound {
		t.Fatalf("expected not found for hidden entity, got %v", err)
	}
	if _, err := g.Get(ctx, "batch", "b2", supervisor); err != nil {
		t.Fatalf("supervisor get hidden: %v", err)
	}

	if _, err := g.Get(ctx, "batch", "ghost", supervisor); lifecycle.ErrorCode(err) != lifecycle.ErrCodeNotFound {
		t.Fatalf("expected not found for missing entity, got %v", err)
	}
}

func idFor(i int) string {
	return "b" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
