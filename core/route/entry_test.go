package route

import "testing"

func TestUpsertSampleCreatesAndUpdates(t *testing.T) {
	e := NewEntry()

	if !e.UpsertSample(2, 0, 100, -40) {
		t.Fatal("first upsert should succeed")
	}
	if hop, ok := e.BestNextHop(); !ok || hop != 2 {
		t.Fatalf("BestNextHop = (%d, %v), want (2, true)", hop, ok)
	}

	// Update the same next hop — should not create a second sample.
	if !e.UpsertSample(2, 1, 200, -50) {
		t.Fatal("update upsert should succeed")
	}
	if e.SampleCount() != 1 {
		t.Fatalf("SampleCount = %d, want 1", e.SampleCount())
	}
	if e.Primary().Distance != 1 {
		t.Errorf("distance = %d, want 1", e.Primary().Distance)
	}
}

func TestUpsertSampleRejectsWhenFull(t *testing.T) {
	e := NewEntry()
	for i := uint32(0); i < MaxSamples; i++ {
		if !e.UpsertSample(i, 0, 0, 0) {
			t.Fatalf("upsert %d should succeed", i)
		}
	}
	if e.UpsertSample(MaxSamples, 0, 0, 0) {
		t.Fatal("upsert beyond MaxSamples should fail")
	}
	if e.SampleCount() != MaxSamples {
		t.Fatalf("SampleCount = %d, want %d", e.SampleCount(), MaxSamples)
	}
}

func TestRSSIRingBoundedAndAveraged(t *testing.T) {
	e := NewEntry()
	e.UpsertSample(1, 0, 0, -60)
	for i := 0; i < RSSIRingSize+2; i++ {
		e.UpsertSample(1, 0, int64(i), -40)
	}
	// Ring should now be entirely -40 readings (the initial -60 evicted).
	if e.Primary().AvgRSSI != -40 {
		t.Errorf("AvgRSSI = %d, want -40", e.Primary().AvgRSSI)
	}
}

func TestMetricPrefersFewerHopsAndBetterRSSI(t *testing.T) {
	e := NewEntry()
	e.UpsertSample(1, 3, 0, -40) // far but strong signal
	e.UpsertSample(2, 1, 0, -90) // close but weak signal

	// metric(1) = 30*3 - (-40) + 0 = 130
	// metric(2) = 30*1 - (-90) + 0 = 120
	hop, ok := e.BestNextHop()
	if !ok || hop != 2 {
		t.Fatalf("BestNextHop = (%d, %v), want (2, true)", hop, ok)
	}
}

func TestMetricTieBreaksByInsertionOrder(t *testing.T) {
	e := NewEntry()
	e.UpsertSample(1, 2, 0, -50)
	e.UpsertSample(2, 2, 0, -50) // identical metric, later insertion

	hop, ok := e.BestNextHop()
	if !ok || hop != 1 {
		t.Fatalf("BestNextHop = (%d, %v), want (1, true) for tie", hop, ok)
	}
}

func TestRecordErrorIncrementsPrimaryFailures(t *testing.T) {
	e := NewEntry()
	e.UpsertSample(1, 0, 0, -50)
	e.RecordError(10)
	e.RecordError(20)

	if e.Primary().Failures != 2 {
		t.Errorf("Failures = %d, want 2", e.Primary().Failures)
	}
	if e.Primary().LastUpdateMillis != 20 {
		t.Errorf("LastUpdateMillis = %d, want 20", e.Primary().LastUpdateMillis)
	}
}

func TestRecordErrorNoOpWithoutPrimary(t *testing.T) {
	e := NewEntry()
	e.RecordError(10) // must not panic
	if _, ok := e.BestNextHop(); ok {
		t.Fatal("expected no primary")
	}
}

func TestFailuresCanDethronePrimary(t *testing.T) {
	e := NewEntry()
	e.UpsertSample(1, 0, 0, -50) // becomes primary, metric = 50
	e.UpsertSample(2, 1, 0, -50) // metric = 30 + 50 = 80, worse

	hop, _ := e.BestNextHop()
	if hop != 1 {
		t.Fatalf("expected 1 as initial primary, got %d", hop)
	}

	// RecordError only touches the primary's failure count; it does not
	// itself recompute the primary (spec §4.2: recompute_primary is a
	// distinct operation, triggered by the next upsert).
	e.RecordError(1)
	e.RecordError(2)
	if hop, _ := e.BestNextHop(); hop != 1 {
		t.Fatalf("primary should not change until the next upsert, got %d", hop)
	}

	// The next observation of either route re-scores everything: sample 1's
	// metric is now 50 + 100 = 150, worse than sample 2's 80.
	e.UpsertSample(2, 1, 3, -50)

	hop, _ = e.BestNextHop()
	if hop != 2 {
		t.Fatalf("expected route 2 to become primary after re-scoring, got %d", hop)
	}
}
