package harvest

import (
	"fmt"
	"strings"
)

// Unbounded marks a star range with no upper limit.
const Unbounded = -1

// StarRange is one partition of the search space over stargazer count.
// Ranges are inclusive on both ends; Max == Unbounded means open-ended.
type StarRange struct {
	Min int
	Max int
}

// Predicate renders the range as a search qualifier. A single-value range
// must render as equality: the search API rejects degenerate ranges.
func (r StarRange) Predicate() string {
	switch {
	case r.Max == Unbounded:
		return fmt.Sprintf("stars:>=%d", r.Min)
	case r.Min == r.Max:
		return fmt.Sprintf("stars:%d", r.Min)
	default:
		return fmt.Sprintf("stars:%d..%d", r.Min, r.Max)
	}
}

// Query builds the full partition query: base predicate, star range and a
// deterministic secondary sort so pagination over a moving dataset stays
// consistent within one traversal window.
func (r StarRange) Query(base string) string {
	parts := make([]string, 0, 3)
	if base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, r.Predicate(), "sort:updated")
	return strings.Join(parts, " ")
}

// Splittable reports whether the range can be divided further.
func (r StarRange) Splittable() bool {
	return r.Max == Unbounded || r.Min < r.Max
}

// Split divides the range into two disjoint halves, higher half first.
// An unbounded range splits at twice its lower bound. Single-value
// ranges cannot split; callers must check Splittable first.
func (r StarRange) Split() (upper, lower StarRange) {
	if r.Max == Unbounded {
		mid := r.Min * 2
		return StarRange{Min: mid, Max: Unbounded}, StarRange{Min: r.Min, Max: mid - 1}
	}
	mid := r.Min + (r.Max-r.Min)/2
	return StarRange{Min: mid + 1, Max: r.Max}, StarRange{Min: r.Min, Max: mid}
}

// DefaultLadder is the hand-tuned partition table: exponentially shrinking
// bands at the high end isolate the few very popular repositories, unit
// bands at the bottom keep the huge 0- and 1-star populations in their own
// partitions. A plain "stars:>=0" query would blow past the provider cap.
var DefaultLadder = []StarRange{
	{100000, Unbounded},
	{50000, 99999},
	{20000, 49999},
	{10000, 19999},
	{5000, 9999},
	{2000, 4999},
	{1000, 1999},
	{500, 999},
	{200, 499},
	{100, 199},
	{50, 99},
	{20, 49},
	{10, 19},
	{5, 9},
	{2, 4},
	{1, 1},
	{0, 0},
}

// ValidateLadder checks the coverage invariants: descending order,
// pairwise disjoint, gap-free from the unbounded top band down to and
// including zero.
func ValidateLadder(ladder []StarRange) error {
	if len(ladder) == 0 {
		return fmt.Errorf("ladder is empty")
	}
	if ladder[0].Max != Unbounded {
		return fmt.Errorf("first range must be unbounded, got %+v", ladder[0])
	}
	for i, r := range ladder {
		if r.Max != Unbounded && r.Min > r.Max {
			return fmt.Errorf("range %d is inverted: %+v", i, r)
		}
		if i == 0 {
			continue
		}
		if r.Max != ladder[i-1].Min-1 {
			return fmt.Errorf("gap or overlap between range %d (%+v) and range %d (%+v)",
				i-1, ladder[i-1], i, r)
		}
	}
	if last := ladder[len(ladder)-1]; last.Min != 0 {
		return fmt.Errorf("ladder does not reach zero, ends at %+v", last)
	}
	return nil
}

// worklist holds the partitions still to traverse. Seeded in ladder order;
// cap-hit splits push refined sub-ranges to the front so a band is fully
// drained before the traversal moves on.
type worklist struct {
	pending []StarRange
}

func newWorklist(ladder []StarRange) *worklist {
	w := &worklist{pending: make([]StarRange, len(ladder))}
	copy(w.pending, ladder)
	return w
}

// next pops the next partition to fetch.
func (w *worklist) next() (StarRange, bool) {
	if len(w.pending) == 0 {
		return StarRange{}, false
	}
	r := w.pending[0]
	w.pending = w.pending[1:]
	return r, true
}

// pushSplit splits r and queues both halves next, upper half first.
// Returns false when r is a single value and cannot be refined.
func (w *worklist) pushSplit(r StarRange) bool {
	if !r.Splittable() {
		return false
	}
	upper, lower := r.Split()
	w.pending = append([]StarRange{upper, lower}, w.pending...)
	return true
}
