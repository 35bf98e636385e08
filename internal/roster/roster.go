// Package roster holds the live set of daemon.Record entries and
// computes reload diffs against a freshly loaded set of specs.
package roster

import (
	"reflect"
	"sort"

	"github.com/briskcanopy/shepherd/internal/daemon"
)

// Loader produces the desired set of daemon specs, keyed by name, plus
// the deterministic order new records should be inserted in.
// internal/config.FileLoader and internal/config.SimpleLoader both
// implement this.
type Loader interface {
	Load() (specs map[string]daemon.Spec, order []string, err error)
}

// Roster is the ordered mapping of daemon records. Iteration order
// follows insertion order so priority ties break deterministically.
type Roster struct {
	order   []string
	records map[string]*daemon.Record
}

// New returns an empty Roster.
func New() *Roster {
	return &Roster{records: make(map[string]*daemon.Record)}
}

// Get returns the record for name, or nil if absent.
func (r *Roster) Get(name string) *daemon.Record {
	return r.records[name]
}

// All returns records in insertion order.
func (r *Roster) All() []*daemon.Record {
	out := make([]*daemon.Record, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.records[name])
	}
	return out
}

// ByPriority returns records sorted by (StartPriority, insertion order),
// ascending if desc is false, descending if true. Ties always keep
// insertion order (stable sort), so a descending sort does not reverse
// tie order.
func (r *Roster) ByPriority(desc bool) []*daemon.Record {
	all := r.All()
	idx := make(map[string]int, len(all))
	for i, rec := range all {
		idx[rec.Spec.Name] = i
	}
	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := all[i].Spec.StartPriority, all[j].Spec.StartPriority
		if pi == pj {
			return false // preserve stable/insertion order on ties
		}
		if desc {
			return pi > pj
		}
		return pi < pj
	})
	return all
}

// Evict removes a record outright. Only valid once it has reached Dead.
func (r *Roster) Evict(name string) {
	delete(r.records, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Roster) insert(name string, rec *daemon.Record) {
	if _, exists := r.records[name]; !exists {
		r.order = append(r.order, name)
	}
	r.records[name] = rec
}

// DiffKind classifies how a loaded spec relates to the current roster.
type DiffKind int

const (
	Unchanged DiffKind = iota
	Added
	Removed
	Changed
)

// DiffEntry is one named outcome of a reload diff.
type DiffEntry struct {
	Name string
	Kind DiffKind
}

// Plan is the full set of diff outcomes for one reload, to be driven one
// step at a time by the reactor so the ordering guarantees in the
// reactor design hold. Records created for Added entries are already in
// the roster; look them up by name.
type Plan struct {
	Entries []DiffEntry
}

// Reload computes the diff between the roster's current specs and the
// freshly loaded specs, using deep equality on the decoded Spec to
// detect Changed vs Unchanged. It mutates the roster in place:
//   - Added specs get a new Stopped record appended in map-iteration-safe,
//     but caller-supplied, deterministic order (specs is a map, so the
//     caller should pass entries already in the order they should be
//     inserted via specOrder).
//   - Changed specs get their existing record's Spec replaced and cursor
//     reset to 0; the record is left in its current state so the reactor
//     can stop the old child before spawning the new one. GenerationTag
//     is left untouched here: a live Handle's Wait() goroutine captured
//     the record's generation at spawn time, and it must still match
//     when that exit arrives. The reactor bumps GenerationTag itself,
//     only once it actually spawns the replacement child.
//   - Removed entries are left untouched in the roster; the reactor
//     drives their stopping->dead->evict sequence via Transition.
//
// specOrder must list every key of specs exactly once, in the order new
// records should be appended (e.g. config file declaration order).
func (r *Roster) Reload(specs map[string]daemon.Spec, specOrder []string) Plan {
	var plan Plan
	seen := make(map[string]bool, len(specs))

	for _, name := range specOrder {
		spec, ok := specs[name]
		if !ok {
			continue
		}
		seen[name] = true
		existing, present := r.records[name]
		switch {
		case !present:
			rec := &daemon.Record{
				Spec:  spec,
				State: daemon.Stopped,
			}
			r.insert(name, rec)
			plan.Entries = append(plan.Entries, DiffEntry{Name: name, Kind: Added})
		case reflect.DeepEqual(existing.Spec, spec):
			plan.Entries = append(plan.Entries, DiffEntry{Name: name, Kind: Unchanged})
		default:
			existing.Spec = spec
			existing.RestartCursor.Reset()
			plan.Entries = append(plan.Entries, DiffEntry{Name: name, Kind: Changed})
		}
	}

	for _, name := range r.order {
		if !seen[name] {
			plan.Entries = append(plan.Entries, DiffEntry{Name: name, Kind: Removed})
		}
	}

	return plan
}
