package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/models"
)

func TestStoreCommitAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	next := models.NewOutputState()
	next.AddGroup(models.MulticastGroup{Datapath: "ls1", Name: "239.0.0.1", TunnelKey: 1, Ports: models.NewPortSet("p1")})

	prev, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, delta.Diff(next, prev)))

	got, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, delta.Diff(next, got).Empty())
	assert.EqualValues(t, 1, store.Revision())

	// snapshot must be a copy
	for k, g := range got.Groups {
		g.Ports["p2"] = struct{}{}
		got.Groups[k] = g
	}
	again, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, delta.Diff(next, again).Empty())
}

func TestStoreCommitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewStore()
	next := models.NewOutputState()
	next.AddGroup(models.MulticastGroup{Datapath: "ls1", Name: "g"})

	require.Error(t, store.Commit(ctx, delta.Diff(next, models.NewOutputState())))
	assert.Zero(t, store.Revision())
}
