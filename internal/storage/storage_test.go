package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"SwarmQuarry/internal/swarm"
)

func seededRegistry(t *testing.T) *swarm.Registry {
	t.Helper()
	reg := swarm.NewRegistry()
	s, _, err := reg.Create("north", 5, 5, "10.0.0.7")
	if err != nil {
		t.Fatalf("create swarm: %v", err)
	}
	if _, err := swarm.NewShaftQueue(nil).Claim(s, "turtle-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := swarm.NewTravelAdmission(nil).Reserve(s, "turtle-1", swarm.Point{X: 0, Z: 0}, swarm.Point{X: 4, Z: 2}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, _, err := reg.Create("south", 3, 7, "10.0.0.8"); err != nil {
		t.Fatalf("create swarm: %v", err)
	}
	return reg
}

func assertRoundTrip(t *testing.T, loaded map[string]*swarm.Swarm) {
	t.Helper()
	if len(loaded) != 2 {
		t.Fatalf("expected 2 swarms, got %d", len(loaded))
	}
	north := loaded["north"]
	if north == nil {
		t.Fatalf("north swarm missing")
	}
	if north.ID != "north" || north.Width != 5 || north.OwnerAddress != "10.0.0.7" {
		t.Fatalf("unexpected north swarm: %+v", north)
	}
	if len(north.Pending) != 4 || len(north.Claimed) != 1 || north.Claimed[0].ClaimedBy != "turtle-1" {
		t.Fatalf("shaft collections not preserved: pending=%d claimed=%+v", len(north.Pending), north.Claimed)
	}
	if r := north.Reservations["turtle-1"]; r == nil || r.Dest != (swarm.Point{X: 4, Z: 2}) {
		t.Fatalf("reservation not preserved: %+v", north.Reservations)
	}
}

func TestMemoryGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := NewMemoryGateway()
	reg := seededRegistry(t)

	if err := gw.SaveAll(ctx, reg.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := gw.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertRoundTrip(t, loaded)

	loaded["north"].Width = 99
	again, _ := gw.LoadAll(ctx)
	if again["north"].Width != 5 {
		t.Fatalf("memory gateway must return independent copies")
	}
}

func TestFileGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "data.json")
	gw, err := NewFileGateway(path)
	if err != nil {
		t.Fatalf("open file gateway: %v", err)
	}
	defer gw.Close()

	empty, err := gw.LoadAll(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing file should load empty: %v %v", empty, err)
	}

	if err := gw.SaveAll(ctx, seededRegistry(t).Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := gw.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertRoundTrip(t, loaded)

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "data.json.tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestFileGatewayRejectsSecondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	first, err := NewFileGateway(path)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	defer first.Close()

	if second, err := NewFileGateway(path); err == nil {
		second.Close()
		t.Fatalf("second gateway on the same file should fail")
	}
}

func TestFileGatewayMovesCorruptFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte(`{"broken":`), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	gw, err := NewFileGateway(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer gw.Close()

	loaded, err := gw.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("corrupt file should not be fatal: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty state, got %d swarms", len(loaded))
	}
	entries, _ := os.ReadDir(dir)
	found := false
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "data.json.corrupt-") {
			found = true
		}
	}
	if !found {
		t.Fatalf("corrupt file should be preserved next to the data file")
	}
}

func TestFileGatewayLoadsLegacyDataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	legacy := `{
  "quarry1": {
    "time_created": 1650000000000,
    "width": "5",
    "length": "5",
    "ip": "::ffff:127.0.0.1",
    "shafts": [{"x": 2, "z": 1}, {"x": 3, "z": 4}, {"x": 4, "z": 2}],
    "travelData": [null, null, {"dest": {"x": "3", "z": "3"}, "start": {"x": "0", "z": "-1"}}],
    "claimed": [{"x": 1, "z": 3, "claimed_time": 1650000001000, "claimed_by": "2"}],
    "done": [{"x": 0, "z": 0, "claimed_time": 1650000000500, "claimed_by": "1", "completed_time": 1650000002000}]
  }
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	gw, err := NewFileGateway(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer gw.Close()

	loaded, err := gw.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load legacy: %v", err)
	}
	q := loaded["quarry1"]
	if q == nil || q.ID != "quarry1" {
		t.Fatalf("legacy swarm should take its id from the key: %+v", q)
	}
	if len(q.Pending) != 3 || len(q.Claimed) != 1 || len(q.Done) != 1 {
		t.Fatalf("unexpected collections: %+v", q)
	}
	if q.Width != 5 || q.Length != 5 {
		t.Fatalf("string dimensions not decoded: %dx%d", q.Width, q.Length)
	}
	if r := q.Reservations["2"]; r == nil || r.Dest != (swarm.Point{X: 3, Z: 3}) || r.Start != (swarm.Point{X: 0, Z: -1}) {
		t.Fatalf("legacy travel array not mapped by index: %+v", q.Reservations)
	}
	if matches, _ := filepath.Glob(path + ".corrupt-*"); len(matches) != 0 {
		t.Fatalf("legacy file must not be quarantined: %v", matches)
	}
}

func TestSQLiteGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quarry.db")
	gw, err := NewSQLiteGateway(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	reg := seededRegistry(t)
	if err := gw.SaveAll(ctx, reg.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// 第二次写入时只有 north 发生变化。
	north, _ := reg.Get("north")
	if _, err := swarm.NewShaftQueue(nil).Complete(north, 0, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := gw.SaveAll(ctx, reg.Snapshot()); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteGateway(ctx, path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 swarms, got %d", len(loaded))
	}
	if got := loaded["north"]; len(got.Done) != 1 || len(got.Claimed) != 0 {
		t.Fatalf("latest north state not persisted: %+v", got)
	}

	var pending, done int
	if err := reopened.db.QueryRowContext(ctx, `SELECT pending_count, done_count FROM swarms WHERE id = ?`, "north").Scan(&pending, &done); err != nil {
		t.Fatalf("query progress columns: %v", err)
	}
	if pending != 4 || done != 1 {
		t.Fatalf("progress columns out of date: pending=%d done=%d", pending, done)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (id INT);\n\n ALTER TABLE a ADD COLUMN b INT; ")
	if len(stmts) != 2 || !strings.HasPrefix(stmts[1], "ALTER") {
		t.Fatalf("unexpected statements: %q", stmts)
	}
	if v := parseMigrationVersion("0002_swarm_progress.sql"); v != "0002" {
		t.Fatalf("unexpected version %q", v)
	}
}
