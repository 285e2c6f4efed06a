package oracle

import (
	"sort"

	"funding_arb/internal/model"
)

// snapshotRing keeps the last N snapshots, overwriting the oldest
type snapshotRing struct {
	buf  []*model.RateSnapshot
	next int
	size int
}

func newSnapshotRing(capacity int) *snapshotRing {
	return &snapshotRing{buf: make([]*model.RateSnapshot, capacity)}
}

func (r *snapshotRing) push(s *model.RateSnapshot) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// at(0) is the newest
func (r *snapshotRing) at(i int) *model.RateSnapshot {
	idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
	return r.buf[idx]
}

func (r *snapshotRing) rates(venue, instrument string, n int) []model.RateRecord {
	var out []model.RateRecord
	for i := 0; i < r.size && (n <= 0 || len(out) < n); i++ {
		if rec, ok := r.at(i).Rate(venue, instrument); ok {
			out = append(out, rec)
		}
	}
	return out
}

// SpreadStats summarises observed absolute spreads for one pair
type SpreadStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

type spreadWindow struct {
	values []float64
	limit  int
}

func newSpreadWindow(limit int) *spreadWindow {
	return &spreadWindow{limit: limit}
}

func (w *spreadWindow) add(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.limit {
		w.values = w.values[len(w.values)-w.limit:]
	}
}

func (w *spreadWindow) stats() SpreadStats {
	n := len(w.values)
	if n == 0 {
		return SpreadStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return SpreadStats{
		Count:  n,
		Avg:    sum / float64(n),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median,
	}
}
