package harvest

// Deduper filters the partitioned, paginated stream down to first-seen
// repositories. A popularity value can drift across a range boundary
// between two partition queries, so the same repository may surface in
// adjacent partitions; the seen-set guarantees it is emitted once per run.
//
// The seen-set is run-scoped and never persisted: uniqueness across
// independent runs is the sink's responsibility via idempotent upserts.
type Deduper struct {
	seen       map[int64]struct{}
	duplicates int
}

// NewDeduper creates an empty run-scoped deduplicator.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[int64]struct{})}
}

// Filter returns the repositories from batch not yet seen in this run and
// marks them seen. Returns nil when every record is a duplicate, so
// callers never forward empty batches.
func (d *Deduper) Filter(batch []Repository) []Repository {
	var unique []Repository
	for _, repo := range batch {
		if _, ok := d.seen[repo.ID]; ok {
			d.duplicates++
			duplicatesTotal.Inc()
			continue
		}
		d.seen[repo.ID] = struct{}{}
		unique = append(unique, repo)
	}
	return unique
}

// Seen returns the number of unique identifiers recorded so far.
func (d *Deduper) Seen() int {
	return len(d.seen)
}

// Duplicates returns the number of records filtered as already seen.
func (d *Deduper) Duplicates() int {
	return d.duplicates
}
