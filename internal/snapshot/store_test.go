package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

func TestStoreSnapshotIsolated(t *testing.T) {
	store := NewStore(nil)
	cfg := map[string]string{"mcast_snoop": "true"}
	store.UpsertDatapath(models.DatapathRow{Datapath: "ls1", OtherConfig: cfg})
	store.UpsertReport(models.MembershipReport{
		Chassis:  "ch1",
		Address:  "239.0.0.1",
		Datapath: "ls1",
		Ports:    models.NewPortSet("p1"),
	})

	snap := store.Snapshot()
	cfg["mcast_snoop"] = "false"
	store.UpsertReport(models.MembershipReport{
		Chassis:  "ch1",
		Address:  "239.0.0.1",
		Datapath: "ls1",
		Ports:    models.NewPortSet("p1", "p2"),
	})

	require.Len(t, snap.Datapaths, 1)
	assert.Equal(t, "true", snap.Datapaths["ls1"].OtherConfig["mcast_snoop"])
	require.Len(t, snap.Reports, 1)
	for _, r := range snap.Reports {
		assert.Equal(t, []string{"p1"}, r.Ports.Sorted())
	}
	assert.Less(t, snap.Version, store.Snapshot().Version)
}

func TestStoreReportsFromDifferentChassisKept(t *testing.T) {
	store := NewStore(nil)
	store.UpsertReport(models.MembershipReport{Chassis: "ch1", Address: "239.0.0.1", Datapath: "ls1", Ports: models.NewPortSet("p1")})
	store.UpsertReport(models.MembershipReport{Chassis: "ch2", Address: "239.0.0.1", Datapath: "ls1", Ports: models.NewPortSet("p2")})

	assert.Len(t, store.Snapshot().Reports, 2)

	store.RemoveReport(models.MembershipKey{Chassis: "ch1", Address: "239.0.0.1", Datapath: "ls1"})
	assert.Len(t, store.Snapshot().Reports, 1)
}

func TestStoreNotifiesAndCoalesces(t *testing.T) {
	n := NewNotifier()
	store := NewStore(n)

	store.UpsertDatapath(models.DatapathRow{Datapath: "ls1"})
	store.UpsertDatapath(models.DatapathRow{Datapath: "ls2"})
	store.SetChassisStatus("ch1", models.ChassisAlive)

	select {
	case <-n.C():
	default:
		t.Fatal("expected pending notification")
	}
	select {
	case <-n.C():
		t.Fatal("notifications must be coalesced")
	default:
	}
}

func TestStoreChassisStatus(t *testing.T) {
	n := NewNotifier()
	store := NewStore(n)

	store.SetChassisStatus("ch1", models.ChassisDead)
	<-n.C()
	store.SetChassisStatus("ch1", models.ChassisDead)

	select {
	case <-n.C():
		t.Fatal("same status must not trigger a change")
	default:
	}
	snap := store.Snapshot()
	assert.Equal(t, models.ChassisDead, snap.ChassisStatus("ch1"))
	assert.Equal(t, models.ChassisUnknown, snap.ChassisStatus("ch2"))
}

func TestStoreRemoveMissingIsNoop(t *testing.T) {
	store := NewStore(nil)
	before := store.Snapshot().Version
	store.RemoveDatapath("missing")
	store.RemoveReport(models.MembershipKey{Chassis: "x"})
	assert.Equal(t, before, store.Snapshot().Version)
}
