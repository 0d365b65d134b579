package models

import (
	"maps"
	"slices"
)

type ChassisID string

func (c ChassisID) String() string {
	return string(c)
}

type ChassisStatus string

const (
	ChassisAlive   ChassisStatus = "alive"
	ChassisDead    ChassisStatus = "dead"
	ChassisUnknown ChassisStatus = "unknown"
)

// PortSet is a set of logical port names.
type PortSet map[string]struct{}

func NewPortSet(ports ...string) PortSet {
	s := make(PortSet, len(ports))
	for _, p := range ports {
		s[p] = struct{}{}
	}
	return s
}

func (s PortSet) Union(other PortSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

func (s PortSet) Equal(other PortSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if _, ok := other[p]; !ok {
			return false
		}
	}
	return true
}

func (s PortSet) Clone() PortSet {
	if s == nil {
		return PortSet{}
	}
	return maps.Clone(s)
}

// Sorted returns ports in lexical order.
func (s PortSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// MembershipKey identifies one report: a chassis may report a given
// address on a given datapath only once.
type MembershipKey struct {
	Chassis  ChassisID
	Address  string
	Datapath DatapathID
}

// MembershipReport is the IGMP/MLD membership a chassis observed.
type MembershipReport struct {
	Chassis  ChassisID
	Address  string
	Datapath DatapathID
	Ports    PortSet
}

func (r MembershipReport) Key() MembershipKey {
	return MembershipKey{
		Chassis:  r.Chassis,
		Address:  r.Address,
		Datapath: r.Datapath,
	}
}

// GroupID identifies an aggregated group.
type GroupID struct {
	Address  string
	Datapath DatapathID
}

// AggregatedGroup is the union of all reports for one (address, datapath).
type AggregatedGroup struct {
	Address  string
	Datapath DatapathID
	Ports    PortSet
}

func (g AggregatedGroup) ID() GroupID {
	return GroupID{Address: g.Address, Datapath: g.Datapath}
}
