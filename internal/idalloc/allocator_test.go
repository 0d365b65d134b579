package idalloc

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

func newAllocator(t *testing.T, lo, hi uint32) *Allocator {
	t.Helper()
	a, err := New(Range{Min: lo, Max: hi}, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func key(dp, name string) models.GroupKey {
	return models.GroupKey{Datapath: models.DatapathID(dp), Name: name}
}

func TestNewRejectsBadRange(t *testing.T) {
	_, err := New(Range{Min: 10, Max: 5}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(Range{Min: 0, Max: 5}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestAllocateExhaustion(t *testing.T) {
	a := newAllocator(t, 100, 101)
	committed := map[models.DatapathID]map[string]uint32{
		"D1": {"g1": 100},
	}

	res := a.Allocate([]models.GroupKey{key("D1", "g1"), key("D1", "g2"), key("D1", "g3")}, committed)

	assert.Equal(t, map[models.GroupKey]uint32{
		key("D1", "g1"): 100,
		key("D1", "g2"): 101,
	}, res.Keys)
	assert.Equal(t, []models.GroupKey{key("D1", "g2")}, res.Allocated)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, key("D1", "g3"), res.Failures[0].Group)
	assert.ErrorIs(t, res.Failures[0].Err, ErrRangeExhausted)
}

func TestAllocateEmptyDatapathStartsAtMin(t *testing.T) {
	a := newAllocator(t, 32768, 65529)

	res := a.Allocate([]models.GroupKey{key("D2", "b"), key("D2", "a")}, nil)

	require.Empty(t, res.Failures)
	assert.EqualValues(t, 32768, res.Keys[key("D2", "a")])
	assert.EqualValues(t, 32769, res.Keys[key("D2", "b")])
}

func TestAllocateLowestFreeFillsHoles(t *testing.T) {
	a := newAllocator(t, 1, 10)
	committed := map[models.DatapathID]map[string]uint32{
		"D1": {"a": 1, "c": 3, "gone": 2},
	}

	res := a.Allocate([]models.GroupKey{key("D1", "a"), key("D1", "c"), key("D1", "new1"), key("D1", "new2")}, committed)

	require.Empty(t, res.Failures)
	// key 2 still belongs to a committed group in this round
	assert.EqualValues(t, 4, res.Keys[key("D1", "new1")])
	assert.EqualValues(t, 5, res.Keys[key("D1", "new2")])
}

func TestAllocateDatapathsAreIndependent(t *testing.T) {
	a := newAllocator(t, 100, 100)
	committed := map[models.DatapathID]map[string]uint32{
		"D1": {"g1": 100},
	}

	res := a.Allocate([]models.GroupKey{key("D1", "g2"), key("D2", "g2")}, committed)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, key("D1", "g2"), res.Failures[0].Group)
	assert.EqualValues(t, 100, res.Keys[key("D2", "g2")])
}

func TestAllocateStableAcrossRounds(t *testing.T) {
	a := newAllocator(t, 1, 100)

	first := a.Allocate([]models.GroupKey{key("D1", "a"), key("D1", "b"), key("D1", "c")}, nil)
	committed := map[models.DatapathID]map[string]uint32{"D1": {}}
	for k, id := range first.Keys {
		committed[k.Datapath][k.Name] = id
	}
	delete(committed["D1"], "a")

	second := a.Allocate([]models.GroupKey{key("D1", "0new"), key("D1", "b"), key("D1", "c")}, committed)

	assert.Equal(t, first.Keys[key("D1", "b")], second.Keys[key("D1", "b")])
	assert.Equal(t, first.Keys[key("D1", "c")], second.Keys[key("D1", "c")])
	assert.EqualValues(t, 1, second.Keys[key("D1", "0new")])
}

func TestAllocateRepairsDuplicateCommittedKeys(t *testing.T) {
	a := newAllocator(t, 1, 10)
	committed := map[models.DatapathID]map[string]uint32{
		"D1": {"a": 1, "b": 1},
	}

	res := a.Allocate([]models.GroupKey{key("D1", "a"), key("D1", "b")}, committed)

	require.Empty(t, res.Failures)
	assert.EqualValues(t, 1, res.Keys[key("D1", "a")])
	assert.EqualValues(t, 2, res.Keys[key("D1", "b")])
	assert.Equal(t, []models.GroupKey{key("D1", "b")}, res.Allocated)
}

func TestAllocateDuplicateRequests(t *testing.T) {
	a := newAllocator(t, 1, 10)

	res := a.Allocate([]models.GroupKey{key("D1", "a"), key("D1", "a")}, nil)

	assert.Len(t, res.Allocated, 1)
	assert.EqualValues(t, 1, res.Keys[key("D1", "a")])
}

func TestAllocateKeepsOutOfRangeCommittedKey(t *testing.T) {
	a := newAllocator(t, 10, 20)
	committed := map[models.DatapathID]map[string]uint32{
		"D1": {"a": 5},
	}

	res := a.Allocate([]models.GroupKey{key("D1", "a")}, committed)

	assert.EqualValues(t, 5, res.Keys[key("D1", "a")])
	assert.Empty(t, res.Allocated)
}

func TestAllocateFullRangeEdge(t *testing.T) {
	a := newAllocator(t, ^uint32(0)-1, ^uint32(0))

	res := a.Allocate([]models.GroupKey{key("D1", "a"), key("D1", "b"), key("D1", "c")}, nil)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, ^uint32(0)-1, res.Keys[key("D1", "a")])
	assert.Equal(t, ^uint32(0), res.Keys[key("D1", "b")])
}
