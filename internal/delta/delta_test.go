package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

func group(name string, tunnelKey uint32, ports ...string) models.MulticastGroup {
	return models.MulticastGroup{
		Datapath:  "ls1",
		Name:      name,
		TunnelKey: tunnelKey,
		Ports:     models.NewPortSet(ports...),
	}
}

func state(groups ...models.MulticastGroup) models.OutputState {
	s := models.NewOutputState()
	for _, g := range groups {
		s.AddGroup(g)
	}
	return s
}

func TestDiffSingleUpdate(t *testing.T) {
	prev := state(group("g1", 1, "p1"))
	next := state(group("g1", 1, "p1", "p2"))

	d := Diff(next, prev)

	assert.Empty(t, d.Groups.Inserts)
	assert.Empty(t, d.Groups.Deletes)
	require.Len(t, d.Groups.Updates, 1)
	assert.Equal(t, []string{"p1", "p2"}, d.Groups.Updates[0].Ports.Sorted())
}

func TestDiffUnchangedIsEmpty(t *testing.T) {
	prev := state(group("g1", 1, "p2", "p1"), group("g2", 2))
	next := state(group("g1", 1, "p1", "p2"), group("g2", 2))

	assert.True(t, Diff(next, prev).Empty())
}

func TestDiffClassification(t *testing.T) {
	prev := state(group("keep", 1, "p1"), group("change", 2, "p1"), group("gone", 3, "p1"))
	next := state(group("keep", 1, "p1"), group("change", 4, "p1"), group("new", 5, "p1"))

	d := Diff(next, prev)

	require.Len(t, d.Groups.Inserts, 1)
	assert.Equal(t, "new", d.Groups.Inserts[0].Name)
	require.Len(t, d.Groups.Updates, 1)
	assert.Equal(t, "change", d.Groups.Updates[0].Name)
	require.Len(t, d.Groups.Deletes, 1)
	assert.Equal(t, "gone", d.Groups.Deletes[0].Name)
	assert.Equal(t, 3, d.Len())
}

func TestDiffDisjoint(t *testing.T) {
	prev := state(group("a", 1), group("b", 2, "p"), group("c", 3))
	next := state(group("b", 2), group("c", 3), group("d", 4))

	d := Diff(next, prev)

	seen := map[models.GroupKey]int{}
	for _, rows := range [][]models.MulticastGroup{d.Groups.Inserts, d.Groups.Updates, d.Groups.Deletes} {
		for _, r := range rows {
			seen[r.Key()]++
		}
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s in more than one set", k)
	}
}

func TestApplyReachesNextState(t *testing.T) {
	prev := state(group("a", 1), group("b", 2, "p"))
	prev.AddFlow(models.LogicalFlow{Datapath: "ls1", Match: "m1", Actions: "drop;"})
	next := state(group("b", 2), group("c", 3))
	next.AddFlow(models.LogicalFlow{Datapath: "ls1", Match: "m1", Actions: "next;"})
	next.AddFlow(models.LogicalFlow{Datapath: "ls1", Match: "m2", Actions: "drop;"})

	d := Diff(next, prev)
	applied := d.ApplyTo(prev)

	assert.True(t, Diff(next, applied).Empty())
	assert.Len(t, prev.Groups, 2, "previous state must not be modified")
	assert.Equal(t, 1, len(d.Flows.Updates))
	assert.Equal(t, 1, len(d.Flows.Inserts))
}

func TestApplyOnEmpty(t *testing.T) {
	next := state(group("a", 1))
	d := Diff(next, models.OutputState{})
	applied := d.ApplyTo(models.OutputState{})

	assert.Len(t, applied.Groups, 1)
	assert.NotNil(t, applied.Flows)
}

func TestByDatapath(t *testing.T) {
	other := group("g9", 1, "p1")
	other.Datapath = "ls2"

	prev := state(group("g1", 1, "p1"), group("g2", 2, "p1"))
	next := state(group("g1", 1, "p1", "p2"), group("g3", 3, "p1"), other)
	next.AddFlow(models.LogicalFlow{Datapath: "ls2", Pipeline: models.Ingress, Table: "t", Priority: 1, Match: "1", Actions: "drop;"})

	d := Diff(next, prev)
	split := d.ByDatapath()
	require.Len(t, split, 2)

	ls1 := split["ls1"]
	assert.Len(t, ls1.Groups.Inserts, 1)
	assert.Len(t, ls1.Groups.Updates, 1)
	assert.Len(t, ls1.Groups.Deletes, 1)
	assert.True(t, ls1.Flows.Empty())

	ls2 := split["ls2"]
	assert.Len(t, ls2.Groups.Inserts, 1)
	assert.Len(t, ls2.Flows.Inserts, 1)

	assert.Equal(t, d.Len(), ls1.Len()+ls2.Len())
}
