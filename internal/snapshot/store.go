package snapshot

import (
	"maps"
	"sync"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

type Notifier interface {
	Notify()
}

// Snapshot is an immutable copy of the input tables taken at round start.
type Snapshot struct {
	Version   uint64
	Datapaths map[models.DatapathID]models.DatapathRow
	Reports   map[models.MembershipKey]models.MembershipReport
	Chassis   map[models.ChassisID]models.ChassisStatus
}

func (s Snapshot) ChassisStatus(id models.ChassisID) models.ChassisStatus {
	st, ok := s.Chassis[id]
	if !ok {
		return models.ChassisUnknown
	}
	return st
}

// Store holds current contents of the input tables. Input sources write it
// concurrently, the reconciler reads it via Snapshot.
type Store struct {
	mu        *sync.Mutex
	version   uint64
	datapaths map[models.DatapathID]models.DatapathRow
	reports   map[models.MembershipKey]models.MembershipReport
	chassis   map[models.ChassisID]models.ChassisStatus
	notifier  Notifier
}

func NewStore(notifier Notifier) *Store {
	return &Store{
		mu:        &sync.Mutex{},
		datapaths: make(map[models.DatapathID]models.DatapathRow, 128),
		reports:   make(map[models.MembershipKey]models.MembershipReport, 1024),
		chassis:   make(map[models.ChassisID]models.ChassisStatus, 64),
		notifier:  notifier,
	}
}

func (s *Store) changed() {
	s.version++
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

func (s *Store) UpsertDatapath(row models.DatapathRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row.OtherConfig = maps.Clone(row.OtherConfig)
	s.datapaths[row.Datapath] = row
	s.changed()
}

func (s *Store) RemoveDatapath(id models.DatapathID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datapaths[id]; !exists {
		return
	}
	delete(s.datapaths, id)
	s.changed()
}

func (s *Store) UpsertReport(report models.MembershipReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report.Ports = report.Ports.Clone()
	s.reports[report.Key()] = report
	s.changed()
}

func (s *Store) RemoveReport(key models.MembershipKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[key]; !exists {
		return
	}
	delete(s.reports, key)
	s.changed()
}

// ResetDatapaths replaces the whole datapath table, used after initial sync.
func (s *Store) ResetDatapaths(rows []models.DatapathRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datapaths = make(map[models.DatapathID]models.DatapathRow, len(rows))
	for _, row := range rows {
		row.OtherConfig = maps.Clone(row.OtherConfig)
		s.datapaths[row.Datapath] = row
	}
	s.changed()
}

// ResetReports replaces the whole membership table, used after initial sync.
func (s *Store) ResetReports(reports []models.MembershipReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = make(map[models.MembershipKey]models.MembershipReport, len(reports))
	for _, r := range reports {
		r.Ports = r.Ports.Clone()
		s.reports[r.Key()] = r
	}
	s.changed()
}

func (s *Store) SetChassisStatus(id models.ChassisID, status models.ChassisStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.chassis[id]; ok && old == status {
		return
	}
	s.chassis[id] = status
	s.changed()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Version:   s.version,
		Datapaths: make(map[models.DatapathID]models.DatapathRow, len(s.datapaths)),
		Reports:   make(map[models.MembershipKey]models.MembershipReport, len(s.reports)),
		Chassis:   maps.Clone(s.chassis),
	}
	for id, row := range s.datapaths {
		row.OtherConfig = maps.Clone(row.OtherConfig)
		snap.Datapaths[id] = row
	}
	for key, r := range s.reports {
		r.Ports = r.Ports.Clone()
		snap.Reports[key] = r
	}
	return snap
}
