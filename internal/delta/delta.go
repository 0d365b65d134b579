package delta

import (
	"cmp"
	"maps"
	"slices"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

type Key interface {
	comparable
	String() string
}

// Record is an output row: a key plus non-key fields compared by Equal.
type Record[K Key, R any] interface {
	Key() K
	Equal(other R) bool
}

// Changes is a set of disjoint row changes of one table. Deletes carry the
// previously committed rows.
type Changes[K Key, R Record[K, R]] struct {
	Inserts []R
	Updates []R
	Deletes []R
}

func (c Changes[K, R]) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

func (c Changes[K, R]) Len() int {
	return len(c.Inserts) + len(c.Updates) + len(c.Deletes)
}

func byKey[K Key, R Record[K, R]](a, b R) int {
	return cmp.Compare(a.Key().String(), b.Key().String())
}

// Compute classifies rows by key presence; rows present on both sides are
// updates only when their non-key fields differ.
func Compute[K Key, R Record[K, R]](next, prev map[K]R) Changes[K, R] {
	var c Changes[K, R]
	for k, row := range next {
		old, exists := prev[k]
		switch {
		case !exists:
			c.Inserts = append(c.Inserts, row)
		case !row.Equal(old):
			c.Updates = append(c.Updates, row)
		}
	}
	for k, old := range prev {
		if _, exists := next[k]; !exists {
			c.Deletes = append(c.Deletes, old)
		}
	}
	slices.SortFunc(c.Inserts, byKey[K, R])
	slices.SortFunc(c.Updates, byKey[K, R])
	slices.SortFunc(c.Deletes, byKey[K, R])
	return c
}

// Apply returns prev with changes applied, prev itself is left untouched.
func Apply[K Key, R Record[K, R]](prev map[K]R, c Changes[K, R]) map[K]R {
	res := maps.Clone(prev)
	if res == nil {
		res = make(map[K]R, len(c.Inserts))
	}
	for _, row := range c.Deletes {
		delete(res, row.Key())
	}
	for _, row := range c.Inserts {
		res[row.Key()] = row
	}
	for _, row := range c.Updates {
		res[row.Key()] = row
	}
	return res
}

// Delta is a round's change set of all output tables.
type Delta struct {
	Groups Changes[models.GroupKey, models.MulticastGroup]
	Flows  Changes[models.LogicalFlowKey, models.LogicalFlow]
}

func Diff(next, prev models.OutputState) Delta {
	return Delta{
		Groups: Compute(next.Groups, prev.Groups),
		Flows:  Compute(next.Flows, prev.Flows),
	}
}

func (d Delta) Empty() bool {
	return d.Groups.Empty() && d.Flows.Empty()
}

func (d Delta) Len() int {
	return d.Groups.Len() + d.Flows.Len()
}

func (d Delta) ApplyTo(prev models.OutputState) models.OutputState {
	return models.OutputState{
		Groups: Apply(prev.Groups, d.Groups),
		Flows:  Apply(prev.Flows, d.Flows),
	}
}

// ByDatapath splits d into per-datapath deltas, row order is kept.
func (d Delta) ByDatapath() map[models.DatapathID]Delta {
	res := make(map[models.DatapathID]*Delta)
	at := func(id models.DatapathID) *Delta {
		dd, ok := res[id]
		if !ok {
			dd = &Delta{}
			res[id] = dd
		}
		return dd
	}
	for _, g := range d.Groups.Inserts {
		dd := at(g.Datapath)
		dd.Groups.Inserts = append(dd.Groups.Inserts, g)
	}
	for _, g := range d.Groups.Updates {
		dd := at(g.Datapath)
		dd.Groups.Updates = append(dd.Groups.Updates, g)
	}
	for _, g := range d.Groups.Deletes {
		dd := at(g.Datapath)
		dd.Groups.Deletes = append(dd.Groups.Deletes, g)
	}
	for _, f := range d.Flows.Inserts {
		dd := at(f.Datapath)
		dd.Flows.Inserts = append(dd.Flows.Inserts, f)
	}
	for _, f := range d.Flows.Updates {
		dd := at(f.Datapath)
		dd.Flows.Updates = append(dd.Flows.Updates, f)
	}
	for _, f := range d.Flows.Deletes {
		dd := at(f.Datapath)
		dd.Flows.Deletes = append(dd.Flows.Deletes, f)
	}

	out := make(map[models.DatapathID]Delta, len(res))
	for id, dd := range res {
		out[id] = *dd
	}
	return out
}
