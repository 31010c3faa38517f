package swarm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newFiveByFive(t *testing.T) *Swarm {
	t.Helper()
	reg := NewRegistry()
	s, _, err := reg.Create("grid", 5, 5, "")
	if err != nil {
		t.Fatalf("create swarm: %v", err)
	}
	return s
}

func TestClaimFollowsGenerationOrder(t *testing.T) {
	s := newFiveByFive(t)
	queue := NewShaftQueue(nil)

	first, err := queue.Claim(s, "turtle-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.Exhausted || first.Shaft.X != 0 || first.Shaft.Z != 0 || first.Remaining != 4 {
		t.Fatalf("unexpected first claim: %+v", first)
	}
	if first.Shaft.ClaimedBy != "turtle-1" || first.Shaft.ClaimedAt == 0 {
		t.Fatalf("claim metadata missing: %+v", first.Shaft)
	}

	second, _ := queue.Claim(s, "turtle-2")
	if second.Shaft.X != 1 || second.Shaft.Z != 3 || second.Remaining != 3 {
		t.Fatalf("unexpected second claim: %+v", second)
	}
}

func TestClaimDrainsThenExhausts(t *testing.T) {
	s := newFiveByFive(t)
	queue := NewShaftQueue(nil)

	for i := 0; i < 5; i++ {
		result, err := queue.Claim(s, "w")
		if err != nil || result.Exhausted {
			t.Fatalf("claim %d: result=%+v err=%v", i, result, err)
		}
	}
	for i := 0; i < 2; i++ {
		result, err := queue.Claim(s, "w")
		if err != nil {
			t.Fatalf("claim after drain: %v", err)
		}
		if !result.Exhausted || result.Remaining != 0 {
			t.Fatalf("expected exhausted, got %+v", result)
		}
	}
	if len(s.Claimed) != 5 {
		t.Fatalf("exhausted claims must not change state, claimed=%d", len(s.Claimed))
	}
}

func TestClaimRequiresWorker(t *testing.T) {
	s := newFiveByFive(t)
	if _, err := NewShaftQueue(nil).Claim(s, ""); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if len(s.Pending) != 5 {
		t.Fatalf("rejected claim must not pop the queue")
	}
}

func TestCompleteMovesClaimedToDone(t *testing.T) {
	s := newFiveByFive(t)
	queue := NewShaftQueue(nil)
	if _, err := queue.Claim(s, "turtle-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result, err := queue.Complete(s, 0, 0)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Shaft.ClaimedBy != "turtle-1" || result.Shaft.CompletedAt == 0 {
		t.Fatalf("unexpected completion: %+v", result.Shaft)
	}
	if result.Finished {
		t.Fatalf("swarm with pending shafts is not finished")
	}
	if len(s.Claimed) != 0 || len(s.Done) != 1 {
		t.Fatalf("unexpected collections claimed=%d done=%d", len(s.Claimed), len(s.Done))
	}

	if _, err := queue.Complete(s, 0, 0); !errors.Is(err, ErrShaftNotFound) {
		t.Fatalf("repeat completion should be not found, got %v", err)
	}
	if len(s.Done) != 1 {
		t.Fatalf("repeat completion must not duplicate done entries")
	}
}

func TestCompleteUnclaimedShaftNotFound(t *testing.T) {
	s := newFiveByFive(t)
	if _, err := NewShaftQueue(nil).Complete(s, 1, 3); !errors.Is(err, ErrShaftNotFound) {
		t.Fatalf("pending shaft cannot be completed, got %v", err)
	}
	if len(s.Pending) != 5 {
		t.Fatalf("state changed on failed completion")
	}
}

func TestCompleteReportsFinished(t *testing.T) {
	reg := NewRegistry()
	s, count, _ := reg.Create("small", 1, 1, "")
	if count != 1 {
		t.Fatalf("1x1 grid should produce a single shaft, got %d", count)
	}
	queue := NewShaftQueue(nil)
	claim, _ := queue.Claim(s, "w")
	result, err := queue.Complete(s, claim.Shaft.X, claim.Shaft.Z)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.Finished {
		t.Fatalf("last completion should report finished")
	}
}

func TestConcurrentClaimsAreUnique(t *testing.T) {
	reg := NewRegistry()
	s, count, _ := reg.Create("busy", 40, 40, "")
	queue := NewShaftQueue(nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[Point]string)
		dups []Point
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				result, err := queue.Claim(s, worker)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if result.Exhausted {
					return
				}
				p := Point{X: result.Shaft.X, Z: result.Shaft.Z}
				mu.Lock()
				if _, ok := seen[p]; ok {
					dups = append(dups, p)
				}
				seen[p] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	if len(dups) > 0 {
		t.Fatalf("shafts handed out twice: %v", dups)
	}
	if len(seen) != count {
		t.Fatalf("expected %d claims, got %d", count, len(seen))
	}
}

func TestCollectionsStayDisjoint(t *testing.T) {
	reg := NewRegistry()
	s, total, _ := reg.Create("disjoint", 12, 9, "")
	queue := NewShaftQueue(nil)

	check := func(stage string) {
		t.Helper()
		stats := StatsOf(s)
		if stats.Total != total {
			t.Fatalf("%s: total changed from %d to %d", stage, total, stats.Total)
		}
		seen := make(map[Point]bool)
		for _, group := range [][]*ShaftUnit{s.Pending, s.Claimed, s.Done} {
			for _, unit := range group {
				p := Point{X: unit.X, Z: unit.Z}
				if seen[p] {
					t.Fatalf("%s: %+v appears in more than one collection", stage, p)
				}
				seen[p] = true
			}
		}
	}

	check("initial")
	for i := 0; i < total/2; i++ {
		claim, _ := queue.Claim(s, "w")
		check("after claim")
		if i%2 == 0 {
			if _, err := queue.Complete(s, claim.Shaft.X, claim.Shaft.Z); err != nil {
				t.Fatalf("complete: %v", err)
			}
			check("after complete")
		}
	}
}
