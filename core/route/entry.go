// Package route implements per-destination route scoring: a bounded set
// of candidate next hops, each carrying a time/rssi-sampled quality metric,
// with the best candidate selected as primary on every update.
//
// This corresponds to the rbmesh firmware's per-node route list (RouteSample
// == one candidate next hop toward a destination).
package route

const (
	// MaxSamples is the largest number of candidate next hops tracked per
	// destination.
	MaxSamples = 5

	// RSSIRingSize is the number of recent RSSI readings averaged per sample.
	RSSIRingSize = 5

	// distanceWeight, failureWeight tune the route metric: lower is better.
	// Rationale: fewer hops and higher received power dominate; repeated
	// failures penalise a route without banning it outright.
	distanceWeight = 30
	failureWeight  = 50
)

// Sample is one (next_hop) candidate route toward a destination.
type Sample struct {
	NextHop          uint32
	Distance         uint8
	LastUpdateMillis int64
	Failures         uint8

	rssiRing  [RSSIRingSize]int32
	rssiCount int
	rssiHead  int
	AvgRSSI   int32
}

// metric scores a sample; lower is better.
func (s *Sample) metric() int64 {
	return int64(distanceWeight)*int64(s.Distance) - int64(s.AvgRSSI) + int64(failureWeight)*int64(s.Failures)
}

func (s *Sample) pushRSSI(rssi int32) {
	s.rssiRing[s.rssiHead] = rssi
	s.rssiHead = (s.rssiHead + 1) % RSSIRingSize
	if s.rssiCount < RSSIRingSize {
		s.rssiCount++
	}
	var sum int64
	for i := 0; i < s.rssiCount; i++ {
		sum += int64(s.rssiRing[i])
	}
	s.AvgRSSI = int32(sum / int64(s.rssiCount))
}

// Entry is the set of candidate routes known toward a single destination.
type Entry struct {
	samples    []*Sample
	primaryIdx int // -1 means no primary
}

// NewEntry returns an empty route entry.
func NewEntry() *Entry {
	return &Entry{primaryIdx: -1}
}

// UpsertSample records an observation of destination reachability via
// nextHop. If a sample for nextHop already exists, its distance, timestamp,
// and RSSI ring are updated. Otherwise a new sample is appended, unless the
// set is already at MaxSamples capacity, in which case the add is rejected
// and the primary is left unchanged.
//
// Returns false if the sample set was full and the new candidate could not
// be added.
func (e *Entry) UpsertSample(nextHop uint32, distance uint8, now int64, rssi int32) bool {
	for _, s := range e.samples {
		if s.NextHop == nextHop {
			s.Distance = distance
			s.LastUpdateMillis = now
			s.pushRSSI(rssi)
			e.recomputePrimary()
			return true
		}
	}

	if len(e.samples) >= MaxSamples {
		return false
	}

	s := &Sample{NextHop: nextHop, Distance: distance, LastUpdateMillis: now}
	s.pushRSSI(rssi)
	e.samples = append(e.samples, s)
	e.recomputePrimary()
	return true
}

// RecordError increments the failure counter on the current primary sample.
// If there is no primary, this is a no-op.
func (e *Entry) RecordError(now int64) {
	if e.primaryIdx < 0 {
		return
	}
	s := e.samples[e.primaryIdx]
	s.Failures++
	s.LastUpdateMillis = now
}

// recomputePrimary picks the sample with the lowest metric. Ties are
// resolved by earlier index (insertion order).
func (e *Entry) recomputePrimary() {
	if len(e.samples) == 0 {
		e.primaryIdx = -1
		return
	}
	best := 0
	bestMetric := e.samples[0].metric()
	for i := 1; i < len(e.samples); i++ {
		m := e.samples[i].metric()
		if m < bestMetric {
			best = i
			bestMetric = m
		}
	}
	e.primaryIdx = best
}

// BestNextHop returns the primary sample's next hop, or (0, false) if there
// is no primary.
func (e *Entry) BestNextHop() (uint32, bool) {
	if e.primaryIdx < 0 {
		return 0, false
	}
	return e.samples[e.primaryIdx].NextHop, true
}

// SampleCount returns the number of candidate routes currently tracked.
func (e *Entry) SampleCount() int {
	return len(e.samples)
}

// Primary returns the current primary sample, or nil if there is none.
func (e *Entry) Primary() *Sample {
	if e.primaryIdx < 0 {
		return nil
	}
	return e.samples[e.primaryIdx]
}
