package derivation

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"

	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
)

// Result is everything derived from one input snapshot.
type Result struct {
	Configs  []models.DatapathConfig
	Groups   []models.AggregatedGroup
	Warnings []Warning

	// reports excluded from aggregation: dead chassis or bad address
	SkippedReports int

	configByDatapath map[models.DatapathID]models.DatapathConfig
}

// Config returns derived config of the datapath, and false if the datapath
// has no northbound row.
func (r Result) Config(dp models.DatapathID) (models.DatapathConfig, bool) {
	cfg, ok := r.configByDatapath[dp]
	return cfg, ok
}

// Derive is a pure function of the snapshot: same snapshot, same result.
func Derive(snap snapshot.Snapshot) Result {
	res := Result{
		Configs:          make([]models.DatapathConfig, 0, len(snap.Datapaths)),
		configByDatapath: make(map[models.DatapathID]models.DatapathConfig, len(snap.Datapaths)),
	}
	for _, row := range snap.Datapaths {
		cfg, warnings := ParseDatapathConfig(row)
		res.Configs = append(res.Configs, cfg)
		res.configByDatapath[cfg.Datapath] = cfg
		res.Warnings = append(res.Warnings, warnings...)
	}
	slices.SortFunc(res.Configs, func(a, b models.DatapathConfig) int {
		return cmp.Compare(a.Datapath, b.Datapath)
	})

	groups := make(map[models.GroupID]models.AggregatedGroup, len(snap.Reports))
	for _, report := range snap.Reports {
		if snap.ChassisStatus(report.Chassis) == models.ChassisDead {
			res.SkippedReports++
			continue
		}
		addr, err := normalizeAddress(report.Address)
		if err != nil {
			res.SkippedReports++
			res.Warnings = append(res.Warnings, Warning{
				Datapath: report.Datapath,
				Key:      "address",
				Value:    report.Address,
				Reason:   fmt.Sprintf("report from chassis %s skipped: %v", report.Chassis, err),
			})
			continue
		}
		id := models.GroupID{Address: addr, Datapath: report.Datapath}
		group, exists := groups[id]
		if !exists {
			group = models.AggregatedGroup{
				Address:  addr,
				Datapath: report.Datapath,
				Ports:    make(models.PortSet, len(report.Ports)),
			}
		}
		group.Ports.Union(report.Ports)
		groups[id] = group
	}

	res.Groups = make([]models.AggregatedGroup, 0, len(groups))
	for _, g := range groups {
		res.Groups = append(res.Groups, g)
	}
	slices.SortFunc(res.Groups, func(a, b models.AggregatedGroup) int {
		if c := cmp.Compare(a.Datapath, b.Datapath); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	return res
}

// normalizeAddress makes reports with differently spelled addresses of the
// same group land in one aggregate.
func normalizeAddress(raw string) (string, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("bad multicast address: %w", err)
	}
	if !addr.IsMulticast() {
		return "", fmt.Errorf("%s is not a multicast address", addr)
	}
	return addr.Unmap().String(), nil
}
