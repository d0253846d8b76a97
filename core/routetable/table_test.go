package routetable

import "testing"

func TestUpdateThenNextHop(t *testing.T) {
	tbl := New(Config{})
	tbl.Update(42, 7, 0, 100, -40)

	hop, ok := tbl.NextHop(42)
	if !ok || hop != 7 {
		t.Fatalf("NextHop(42) = (%d, %v), want (7, true)", hop, ok)
	}
}

func TestNextHopUnknownDestination(t *testing.T) {
	tbl := New(Config{})
	if _, ok := tbl.NextHop(99); ok {
		t.Fatal("expected no route for unknown destination")
	}
}

func TestUpdatePicksBestScoringVia(t *testing.T) {
	tbl := New(Config{})
	tbl.Update(1, 10, 2, 0, -50) // metric = 60+50=110
	tbl.Update(1, 20, 1, 0, -90) // metric = 30+90=120

	hop, ok := tbl.NextHop(1)
	if !ok || hop != 10 {
		t.Fatalf("NextHop(1) = (%d, %v), want (10, true)", hop, ok)
	}
}

func TestMarkErrorUnknownDestinationLogsNoOp(t *testing.T) {
	tbl := New(Config{})
	tbl.MarkError(123, 1) // must not panic
}

func TestTableCapacityDropsNewDestinations(t *testing.T) {
	tbl := New(Config{Capacity: 2})
	tbl.Update(1, 1, 0, 0, 0)
	tbl.Update(2, 1, 0, 0, 0)
	tbl.Update(3, 1, 0, 0, 0) // dropped, table full

	if tbl.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", tbl.Count())
	}
	if _, ok := tbl.NextHop(3); ok {
		t.Fatal("destination 3 should have been dropped")
	}
}

func TestTableCapacityAllowsUpdatingExistingDestination(t *testing.T) {
	tbl := New(Config{Capacity: 1})
	tbl.Update(1, 1, 2, 0, -50)
	tbl.Update(1, 1, 1, 10, -40) // existing destination, must still update

	hop, ok := tbl.NextHop(1)
	if !ok || hop != 1 {
		t.Fatalf("NextHop(1) = (%d, %v), want (1, true)", hop, ok)
	}
}

func TestAtEnumeratesInInsertionOrder(t *testing.T) {
	tbl := New(Config{})
	tbl.Update(5, 1, 0, 0, 0)
	tbl.Update(6, 1, 0, 0, 0)

	dest, count, ok := tbl.At(0)
	if !ok || dest != 5 || count != 1 {
		t.Fatalf("At(0) = (%d, %d, %v), want (5, 1, true)", dest, count, ok)
	}
	if _, _, ok := tbl.At(2); ok {
		t.Fatal("At(2) should be out of range")
	}
}
