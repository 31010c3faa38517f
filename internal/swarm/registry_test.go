package swarm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestRegistryCreateGeneratesLayout(t *testing.T) {
	created := time.UnixMilli(1_700_000_000_000)
	reg := NewRegistry(WithClock(fixedClock(created)))

	s, count, err := reg.Create("quarry-a", 5, 5, "10.0.0.1")
	if err != nil {
		t.Fatalf("create swarm: %v", err)
	}
	if count != 5 || len(s.Pending) != 5 {
		t.Fatalf("expected 5 shafts, got count=%d pending=%d", count, len(s.Pending))
	}
	if s.CreatedAt != created.UnixMilli() {
		t.Fatalf("unexpected creation time %d", s.CreatedAt)
	}
	if s.Owner() != "10.0.0.1" {
		t.Fatalf("owner not recorded: %q", s.Owner())
	}
	if len(s.Claimed) != 0 || len(s.Done) != 0 || len(s.Reservations) != 0 {
		t.Fatalf("new swarm should have empty collections: %+v", s)
	}
}

func TestRegistryCreateRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	if _, _, err := reg.Create("dup", 3, 3, ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	original, _ := reg.Get("dup")

	if _, _, err := reg.Create("dup", 10, 10, "other"); !errors.Is(err, ErrSwarmExists) {
		t.Fatalf("expected ErrSwarmExists, got %v", err)
	}
	again, _ := reg.Get("dup")
	if again != original || again.Width != 3 {
		t.Fatalf("existing swarm must stay untouched")
	}
}

func TestRegistryCreateValidatesInput(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name          string
		id            string
		width, length int
	}{
		{"empty id", "  ", 5, 5},
		{"zero width", "a", 0, 5},
		{"negative length", "b", 5, -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := reg.Create(tc.id, tc.width, tc.length, ""); !errors.Is(err, ErrInvalidParameters) {
				t.Fatalf("expected invalid parameters, got %v", err)
			}
		})
	}
	if reg.Len() != 0 {
		t.Fatalf("invalid creates must not register swarms")
	}
}

func TestRegistryGetAndList(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("missing"); !errors.Is(err, ErrSwarmNotFound) {
		t.Fatalf("expected ErrSwarmNotFound, got %v", err)
	}
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if _, _, err := reg.Create(id, 2, 2, ""); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	ids := reg.List()
	want := []string{"alpha", "bravo", "charlie"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("list order: got %v want %v", ids, want)
		}
	}
}

func TestRegistrySnapshotIsDeepCopy(t *testing.T) {
	reg := NewRegistry()
	s, _, _ := reg.Create("snap", 5, 5, "owner")
	queue := NewShaftQueue(nil)
	if _, err := queue.Claim(s, "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	snapshot := reg.Snapshot()
	copied := snapshot["snap"]
	if copied == nil || copied == s {
		t.Fatalf("snapshot must contain an independent copy")
	}
	copied.Claimed[0].ClaimedBy = "tampered"
	copied.Pending = nil

	if s.Claimed[0].ClaimedBy != "w1" || len(s.Pending) != 4 {
		t.Fatalf("mutating snapshot leaked into live state: %+v", s)
	}
	if copied.OwnerAddress != "owner" {
		t.Fatalf("persistence snapshot must keep owner address")
	}
}

func TestRegistryRestoreFillsCollections(t *testing.T) {
	reg := NewRegistry()
	reg.Restore(map[string]*Swarm{
		"loaded": {Width: 5, Length: 5, Pending: []*ShaftUnit{{X: 1, Z: 3}}},
		"nil":    nil,
	})
	s, err := reg.Get("loaded")
	if err != nil {
		t.Fatalf("restored swarm missing: %v", err)
	}
	if s.ID != "loaded" || s.Claimed == nil || s.Done == nil || s.Reservations == nil {
		t.Fatalf("restore should backfill id and collections: %+v", s)
	}
	if reg.Len() != 1 {
		t.Fatalf("nil entries should be skipped, got %d swarms", reg.Len())
	}
}

func TestRegistrySnapshotKeepsRegistryKey(t *testing.T) {
	reg := NewRegistry()
	reg.Restore(map[string]*Swarm{
		"north": {ID: "renamed", Width: 5, Length: 5},
	})

	snap := reg.Snapshot()
	if _, ok := snap["north"]; !ok || len(snap) != 1 {
		t.Fatalf("snapshot should be keyed like the registry: %v", snap)
	}
	if _, err := reg.Get("north"); err != nil {
		t.Fatalf("restored swarm should stay reachable by its key: %v", err)
	}
}

func TestReservationsUnmarshalLegacyArray(t *testing.T) {
	raw := `{"time_created":1,"width":5,"length":5,"shafts":[],"claimed":[],"done":[],
		"travelData":[null,{"start":{"x":0,"z":0},"dest":{"x":3,"z":0}},null,{"start":{"x":1,"z":1},"dest":{"x":1,"z":4}}]}`
	var s Swarm
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal legacy swarm: %v", err)
	}
	if len(s.Reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(s.Reservations))
	}
	if r := s.Reservations["1"]; r == nil || r.Dest.X != 3 {
		t.Fatalf("worker 1 reservation not decoded: %+v", r)
	}
	if r := s.Reservations["3"]; r == nil || r.Dest.Z != 4 {
		t.Fatalf("worker 3 reservation not decoded: %+v", r)
	}
}

func TestReservationsUnmarshalObjectAndNull(t *testing.T) {
	var s Swarm
	if err := json.Unmarshal([]byte(`{"travelData":{"w1":{"start":{"x":0,"z":0},"dest":{"x":2,"z":2}},"w2":null}}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(s.Reservations) != 1 || s.Reservations["w1"] == nil {
		t.Fatalf("unexpected reservations: %+v", s.Reservations)
	}

	var empty Swarm
	if err := json.Unmarshal([]byte(`{"travelData":null}`), &empty); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if empty.Reservations == nil || len(empty.Reservations) != 0 {
		t.Fatalf("null travelData should decode to empty map")
	}
}

func TestPublicViewOmitsOwner(t *testing.T) {
	reg := NewRegistry()
	s, _, _ := reg.Create("view", 5, 5, "192.168.1.20")

	payload, err := json.Marshal(PublicView(s))
	if err != nil {
		t.Fatalf("marshal view: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if _, ok := decoded["ip"]; ok {
		t.Fatalf("public view must not carry the owner address: %s", payload)
	}
	if shafts, ok := decoded["shafts"].([]any); !ok || len(shafts) != 5 {
		t.Fatalf("public view should list pending shafts: %s", payload)
	}
}
