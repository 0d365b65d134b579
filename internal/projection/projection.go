package projection

import (
	"fmt"
	"net/netip"

	"github.com/Sh00ty/mcast-northd/internal/derivation"
	"github.com/Sh00ty/mcast-northd/internal/models"
)

const (
	TableL2Lookup = "ls_in_l2_lkup"

	PriorityMcastPunt        uint16 = 100
	PriorityGroup            uint16 = 90
	PriorityDropUnregistered uint16 = 80
)

// GroupRequests lists the identifiers every aggregated group needs a tunnel key for.
func GroupRequests(groups []models.AggregatedGroup) []models.GroupKey {
	res := make([]models.GroupKey, 0, len(groups))
	for _, g := range groups {
		res = append(res, GroupName(g))
	}
	return res
}

// GroupName is the multicast group a flow outputs to: the group address itself.
func GroupName(g models.AggregatedGroup) models.GroupKey {
	return models.GroupKey{Datapath: g.Datapath, Name: g.Address}
}

// Project builds output records. Groups that have no tunnel key in keys are
// left out together with their flow, a group is never half projected.
func Project(derived derivation.Result, keys map[models.GroupKey]uint32) models.OutputState {
	out := models.NewOutputState()
	for _, cfg := range derived.Configs {
		for _, f := range datapathFlows(cfg) {
			out.AddFlow(f)
		}
	}
	for _, g := range derived.Groups {
		name := GroupName(g)
		tunnelKey, ok := keys[name]
		if !ok {
			continue
		}
		out.AddGroup(models.MulticastGroup{
			Datapath:  g.Datapath,
			Name:      name.Name,
			TunnelKey: tunnelKey,
			Ports:     g.Ports.Clone(),
		})
		out.AddFlow(groupFlow(g))
	}
	return out
}

func groupFlow(g models.AggregatedGroup) models.LogicalFlow {
	proto := "ip4"
	if addr, err := netip.ParseAddr(g.Address); err == nil && addr.Is6() {
		proto = "ip6"
	}
	return models.LogicalFlow{
		Datapath: g.Datapath,
		Pipeline: models.Ingress,
		Table:    TableL2Lookup,
		Priority: PriorityGroup,
		Match:    fmt.Sprintf("eth.mcast && %s && %s.dst == %s", proto, proto, g.Address),
		Actions:  fmt.Sprintf("clone { outport = %q; output; };", g.Address),
	}
}

func datapathFlows(cfg models.DatapathConfig) []models.LogicalFlow {
	if !cfg.Enabled {
		return nil
	}
	flows := []models.LogicalFlow{
		{
			Datapath: cfg.Datapath,
			Pipeline: models.Ingress,
			Table:    TableL2Lookup,
			Priority: PriorityMcastPunt,
			Match:    "ip4 && ip.proto == 2",
			Actions:  "igmp;",
		},
		{
			Datapath: cfg.Datapath,
			Pipeline: models.Ingress,
			Table:    TableL2Lookup,
			Priority: PriorityMcastPunt,
			Match:    "mldv1 || mldv2",
			Actions:  "igmp;",
		},
	}
	if !cfg.FloodUnregistered {
		flows = append(flows, models.LogicalFlow{
			Datapath: cfg.Datapath,
			Pipeline: models.Ingress,
			Table:    TableL2Lookup,
			Priority: PriorityDropUnregistered,
			Match:    "ip4.mcast || ip6.mcast",
			Actions:  "drop;",
		})
	}
	return flows
}
