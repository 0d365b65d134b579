package derivation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
)

func newSnapshot(rows []models.DatapathRow, reports []models.MembershipReport) snapshot.Snapshot {
	store := snapshot.NewStore(nil)
	store.ResetDatapaths(rows)
	store.ResetReports(reports)
	return store.Snapshot()
}

func TestParseDatapathConfigDefaults(t *testing.T) {
	cfg, warnings := ParseDatapathConfig(models.DatapathRow{
		Datapath:    "ls1",
		OtherConfig: map[string]string{KeySnoop: "true"},
	})

	require.Empty(t, warnings)
	assert.Equal(t, models.DatapathConfig{
		Datapath:          "ls1",
		Enabled:           true,
		Querier:           true,
		FloodUnregistered: false,
		TableSize:         DefaultTableSize,
		IdleTimeout:       DefaultIdleTimeout,
		QueryInterval:     DefaultIdleTimeout / 2,
		QueryMaxResponse:  DefaultQueryMaxResponse,
	}, cfg)
}

func TestParseDatapathConfigEmpty(t *testing.T) {
	cfg, warnings := ParseDatapathConfig(models.DatapathRow{Datapath: "ls1"})

	require.Empty(t, warnings)
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.Querier)
}

func TestParseDatapathConfigMalformed(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		check  func(t *testing.T, cfg models.DatapathConfig)
	}{
		{
			name:   "bad snoop flag",
			config: map[string]string{KeySnoop: "yes please"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.False(t, cfg.Enabled)
			},
		},
		{
			name:   "bad querier flag",
			config: map[string]string{KeySnoop: "true", KeyQuerier: "maybe"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.True(t, cfg.Enabled)
				assert.True(t, cfg.Querier)
			},
		},
		{
			name:   "zero table size",
			config: map[string]string{KeyTableSize: "0"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.EqualValues(t, DefaultTableSize, cfg.TableSize)
			},
		},
		{
			name:   "idle timeout too small",
			config: map[string]string{KeyIdleTimeout: "1"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.Equal(t, MinIdleTimeout, cfg.IdleTimeout)
			},
		},
		{
			name:   "query interval above idle timeout",
			config: map[string]string{KeyIdleTimeout: "60", KeyQueryInterval: "100"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.Equal(t, time.Minute, cfg.QueryInterval)
			},
		},
		{
			name:   "bad eth src",
			config: map[string]string{KeyEthSrc: "zz:zz"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.Empty(t, cfg.EthSrc)
			},
		},
		{
			name:   "ipv6 as ip4 src",
			config: map[string]string{KeyIP4Src: "fe80::1"},
			check: func(t *testing.T, cfg models.DatapathConfig) {
				assert.Empty(t, cfg.IP4Src)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, warnings := ParseDatapathConfig(models.DatapathRow{Datapath: "ls1", OtherConfig: tt.config})
			require.Len(t, warnings, 1)
			assert.Equal(t, models.DatapathID("ls1"), warnings[0].Datapath)
			tt.check(t, cfg)
		})
	}
}

func TestParseDatapathConfigAddresses(t *testing.T) {
	cfg, warnings := ParseDatapathConfig(models.DatapathRow{
		Datapath: "ls1",
		OtherConfig: map[string]string{
			KeyEthSrc: "0A:00:00:00:00:01",
			KeyIP4Src: "10.0.0.1",
		},
	})
	require.Empty(t, warnings)
	assert.Equal(t, "0a:00:00:00:00:01", cfg.EthSrc)
	assert.Equal(t, "10.0.0.1", cfg.IP4Src)
}

func TestDeriveMergesReports(t *testing.T) {
	snap := newSnapshot(nil, []models.MembershipReport{
		{Chassis: "ch1", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p1", "p2")},
		{Chassis: "ch2", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p2", "p3")},
	})

	res := Derive(snap)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, "239.1.1.1", res.Groups[0].Address)
	assert.Equal(t, []string{"p1", "p2", "p3"}, res.Groups[0].Ports.Sorted())
}

func TestDeriveKeepsDatapathsApart(t *testing.T) {
	snap := newSnapshot(nil, []models.MembershipReport{
		{Chassis: "ch1", Address: "239.1.1.1", Datapath: "ls2", Ports: models.NewPortSet("p1")},
		{Chassis: "ch1", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p2")},
		{Chassis: "ch1", Address: "ff02::1:3", Datapath: "ls1", Ports: models.NewPortSet("p3")},
	})

	res := Derive(snap)

	require.Len(t, res.Groups, 3)
	assert.Equal(t, models.GroupID{Address: "239.1.1.1", Datapath: "ls1"}, res.Groups[0].ID())
	assert.Equal(t, models.GroupID{Address: "ff02::1:3", Datapath: "ls1"}, res.Groups[1].ID())
	assert.Equal(t, models.GroupID{Address: "239.1.1.1", Datapath: "ls2"}, res.Groups[2].ID())
}

func TestDeriveSkipsDeadChassisAndBadAddresses(t *testing.T) {
	store := snapshot.NewStore(nil)
	store.UpsertReport(models.MembershipReport{Chassis: "ch1", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p1")})
	store.UpsertReport(models.MembershipReport{Chassis: "ch2", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p2")})
	store.UpsertReport(models.MembershipReport{Chassis: "ch1", Address: "10.0.0.1", Datapath: "ls1", Ports: models.NewPortSet("p3")})
	store.SetChassisStatus("ch2", models.ChassisDead)

	res := Derive(store.Snapshot())

	require.Len(t, res.Groups, 1)
	assert.Equal(t, []string{"p1"}, res.Groups[0].Ports.Sorted())
	assert.Equal(t, 2, res.SkippedReports)
	require.Len(t, res.Warnings, 1)
}

func TestDeriveIsDeterministic(t *testing.T) {
	snap := newSnapshot(
		[]models.DatapathRow{
			{Datapath: "ls2", OtherConfig: map[string]string{KeySnoop: "true"}},
			{Datapath: "ls1", OtherConfig: map[string]string{KeySnoop: "true", KeyQuerier: "false"}},
		},
		[]models.MembershipReport{
			{Chassis: "ch1", Address: "239.1.1.2", Datapath: "ls1", Ports: models.NewPortSet("p1")},
			{Chassis: "ch2", Address: "239.1.1.1", Datapath: "ls1", Ports: models.NewPortSet("p2")},
		},
	)

	first := Derive(snap)
	second := Derive(snap)

	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, first.Configs, second.Configs)
	require.Len(t, first.Configs, 2)
	assert.Equal(t, models.DatapathID("ls1"), first.Configs[0].Datapath)

	cfg, ok := first.Config("ls1")
	require.True(t, ok)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Querier)

	_, ok = first.Config("missing")
	assert.False(t, ok)
}
