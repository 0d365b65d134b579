package models

import "fmt"

// GroupKey is the identity an allocated tunnel key belongs to.
type GroupKey struct {
	Datapath DatapathID
	Name     string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Datapath, k.Name)
}

// MulticastGroup is a southbound Multicast_Group row.
type MulticastGroup struct {
	Datapath  DatapathID
	Name      string
	TunnelKey uint32
	Ports     PortSet
}

func (g MulticastGroup) Key() GroupKey {
	return GroupKey{Datapath: g.Datapath, Name: g.Name}
}

func (g MulticastGroup) Equal(other MulticastGroup) bool {
	return g.TunnelKey == other.TunnelKey && g.Ports.Equal(other.Ports)
}

type Pipeline string

const (
	Ingress Pipeline = "ingress"
	Egress  Pipeline = "egress"
)

type LogicalFlowKey struct {
	Datapath DatapathID
	Pipeline Pipeline
	Table    string
	Priority uint16
	Match    string
}

func (k LogicalFlowKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d/%q", k.Datapath, k.Pipeline, k.Table, k.Priority, k.Match)
}

// LogicalFlow is a southbound Logical_Flow row.
type LogicalFlow struct {
	Datapath DatapathID
	Pipeline Pipeline
	Table    string
	Priority uint16
	Match    string
	Actions  string
}

func (f LogicalFlow) Key() LogicalFlowKey {
	return LogicalFlowKey{
		Datapath: f.Datapath,
		Pipeline: f.Pipeline,
		Table:    f.Table,
		Priority: f.Priority,
		Match:    f.Match,
	}
}

func (f LogicalFlow) Equal(other LogicalFlow) bool {
	return f.Actions == other.Actions
}

// OutputState is a full view of the output tables.
type OutputState struct {
	Groups map[GroupKey]MulticastGroup
	Flows  map[LogicalFlowKey]LogicalFlow
}

func NewOutputState() OutputState {
	return OutputState{
		Groups: make(map[GroupKey]MulticastGroup),
		Flows:  make(map[LogicalFlowKey]LogicalFlow),
	}
}

func (s OutputState) AddGroup(g MulticastGroup) {
	s.Groups[g.Key()] = g
}

func (s OutputState) AddFlow(f LogicalFlow) {
	s.Flows[f.Key()] = f
}

// CommittedTunnelKeys returns, per datapath, the tunnel key of every group.
func (s OutputState) CommittedTunnelKeys() map[DatapathID]map[string]uint32 {
	res := make(map[DatapathID]map[string]uint32, 16)
	for key, g := range s.Groups {
		byName, ok := res[key.Datapath]
		if !ok {
			byName = make(map[string]uint32, 8)
			res[key.Datapath] = byName
		}
		byName[key.Name] = g.TunnelKey
	}
	return res
}

// Clone returns a deep copy, port sets included.
func (s OutputState) Clone() OutputState {
	res := OutputState{
		Groups: make(map[GroupKey]MulticastGroup, len(s.Groups)),
		Flows:  make(map[LogicalFlowKey]LogicalFlow, len(s.Flows)),
	}
	for k, g := range s.Groups {
		g.Ports = g.Ports.Clone()
		res.Groups[k] = g
	}
	for k, f := range s.Flows {
		res.Flows[k] = f
	}
	return res
}
