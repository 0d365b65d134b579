package idalloc

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/rs/zerolog"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

var (
	ErrRangeExhausted = errors.New("no free tunnel key left in range")
	ErrInvalidRange   = errors.New("invalid tunnel key range")
)

// Range is an inclusive range of tunnel keys.
type Range struct {
	Min uint32
	Max uint32
}

func (r Range) Size() uint64 {
	return uint64(r.Max) - uint64(r.Min) + 1
}

func (r Range) Contains(id uint32) bool {
	return id >= r.Min && id <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

type Failure struct {
	Group models.GroupKey
	Err   error
}

type Result struct {
	// Keys holds a key for every group that has one, reused or new.
	Keys map[models.GroupKey]uint32
	// Allocated lists groups that got a new key in this call.
	Allocated []models.GroupKey
	Failures  []Failure
}

type Allocator struct {
	rng Range
	log zerolog.Logger
}

func New(rng Range, logger zerolog.Logger) (*Allocator, error) {
	if rng.Min == 0 || rng.Min > rng.Max {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, rng)
	}
	return &Allocator{
		rng: rng,
		log: logger.With().Str("component", "idalloc").Logger(),
	}, nil
}

// datapathPool is per-call allocation metadata of one datapath.
type datapathPool struct {
	usedIDs map[uint32]string // id to group name
	owned   map[string]uint32 // group name to id
	next    uint32
	full    bool
}

func (a *Allocator) buildPool(dp models.DatapathID, committed map[string]uint32) *datapathPool {
	pool := &datapathPool{
		usedIDs: make(map[uint32]string, len(committed)),
		owned:   make(map[string]uint32, len(committed)),
		next:    a.rng.Min,
	}
	// sorted to resolve duplicate keys the same way every time
	for _, name := range slices.Sorted(maps.Keys(committed)) {
		id := committed[name]
		if owner, dup := pool.usedIDs[id]; dup {
			a.log.Warn().Msgf(
				"datapath %s: groups %s and %s share tunnel key %d, %s will get a new one",
				dp, owner, name, id, name,
			)
			continue
		}
		if !a.rng.Contains(id) {
			a.log.Warn().Msgf(
				"datapath %s: group %s keeps tunnel key %d outside of range %s",
				dp, name, id, a.rng,
			)
		}
		pool.usedIDs[id] = name
		pool.owned[name] = id
	}
	return pool
}

// nextFree returns the lowest unused key. Keys handed out during one call
// only grow, so the cursor never moves back.
func (a *Allocator) nextFree(pool *datapathPool) (uint32, bool) {
	if pool.full {
		return 0, false
	}
	for id := pool.next; ; id++ {
		if _, used := pool.usedIDs[id]; !used {
			pool.next = id
			return id, true
		}
		if id == a.rng.Max {
			pool.full = true
			return 0, false
		}
	}
}

// Allocate returns a key for every requested group. Groups already present in
// committed keep their key; others get the lowest free key of their datapath.
// Exhaustion is reported per group and does not affect other groups.
func (a *Allocator) Allocate(
	requests []models.GroupKey,
	committed map[models.DatapathID]map[string]uint32,
) Result {
	res := Result{
		Keys: make(map[models.GroupKey]uint32, len(requests)),
	}
	sorted := slices.Clone(requests)
	slices.SortFunc(sorted, func(x, y models.GroupKey) int {
		if c := cmp.Compare(x.Datapath, y.Datapath); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	sorted = slices.Compact(sorted)

	pools := make(map[models.DatapathID]*datapathPool, 16)
	for _, group := range sorted {
		pool, ok := pools[group.Datapath]
		if !ok {
			pool = a.buildPool(group.Datapath, committed[group.Datapath])
			pools[group.Datapath] = pool
		}
		if id, owned := pool.owned[group.Name]; owned {
			res.Keys[group] = id
			continue
		}
		id, found := a.nextFree(pool)
		if !found {
			err := fmt.Errorf("datapath %s, group %s: %w %s", group.Datapath, group.Name, ErrRangeExhausted, a.rng)
			res.Failures = append(res.Failures, Failure{Group: group, Err: err})
			continue
		}
		pool.usedIDs[id] = group.Name
		pool.owned[group.Name] = id
		res.Keys[group] = id
		res.Allocated = append(res.Allocated, group)

		a.log.Debug().Msgf("allocated tunnel key %d for group %s", id, group)
	}
	return res
}
