package etcd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

type datapathDto struct {
	OtherConfig map[string]string `json:"other_config"`
}

type reportDto struct {
	Ports []string `json:"ports"`
}

type groupDto struct {
	Datapath  models.DatapathID `json:"datapath"`
	Name      string            `json:"name"`
	TunnelKey uint32            `json:"tunnel_key"`
	Ports     []string          `json:"ports"`
}

type flowDto struct {
	Datapath models.DatapathID `json:"datapath"`
	Pipeline models.Pipeline   `json:"pipeline"`
	Table    string            `json:"table"`
	Priority uint16            `json:"priority"`
	Match    string            `json:"match"`
	Actions  string            `json:"actions"`
}

// outputDto is the committed output of one datapath.
type outputDto struct {
	Groups []groupDto `json:"groups"`
	Flows  []flowDto  `json:"flows"`
}

// outputToDto keeps rows sorted by key so unchanged output encodes to the
// same bytes.
func outputToDto(s models.OutputState) outputDto {
	dto := outputDto{
		Groups: make([]groupDto, 0, len(s.Groups)),
		Flows:  make([]flowDto, 0, len(s.Flows)),
	}
	for _, g := range s.Groups {
		dto.Groups = append(dto.Groups, groupToDto(g))
	}
	for _, f := range s.Flows {
		dto.Flows = append(dto.Flows, flowToDto(f))
	}
	slices.SortFunc(dto.Groups, func(a, b groupDto) int {
		return cmp.Compare(a.Name, b.Name)
	})
	slices.SortFunc(dto.Flows, func(a, b flowDto) int {
		return cmp.Compare(a.toModel().Key().String(), b.toModel().Key().String())
	})
	return dto
}

// addTo puts the rows into s, rows of a foreign datapath are rejected.
func (d outputDto) addTo(id models.DatapathID, s models.OutputState) error {
	for _, g := range d.Groups {
		if g.Datapath != id {
			return fmt.Errorf("multicast group %s stored under datapath %s", g.toModel().Key(), id)
		}
		s.AddGroup(g.toModel())
	}
	for _, f := range d.Flows {
		if f.Datapath != id {
			return fmt.Errorf("logical flow %s stored under datapath %s", f.toModel().Key(), id)
		}
		s.AddFlow(f.toModel())
	}
	return nil
}

func decodeOutput(key string, value []byte, s models.OutputState) error {
	id, err := parseOutputKey(key)
	if err != nil {
		return err
	}
	dto := outputDto{}
	err = json.Unmarshal(value, &dto)
	if err != nil {
		return fmt.Errorf("unmarshaling output of datapath %s: %w", id, err)
	}
	return dto.addTo(id, s)
}

func groupToDto(g models.MulticastGroup) groupDto {
	return groupDto{
		Datapath:  g.Datapath,
		Name:      g.Name,
		TunnelKey: g.TunnelKey,
		Ports:     g.Ports.Sorted(),
	}
}

func (d groupDto) toModel() models.MulticastGroup {
	return models.MulticastGroup{
		Datapath:  d.Datapath,
		Name:      d.Name,
		TunnelKey: d.TunnelKey,
		Ports:     models.NewPortSet(d.Ports...),
	}
}

func flowToDto(f models.LogicalFlow) flowDto {
	return flowDto(f)
}

func (d flowDto) toModel() models.LogicalFlow {
	return models.LogicalFlow(d)
}

func decodeDatapath(key string, value []byte) (models.DatapathRow, error) {
	id, err := parseDatapathKey(key)
	if err != nil {
		return models.DatapathRow{}, err
	}
	dto := datapathDto{}
	err = json.Unmarshal(value, &dto)
	if err != nil {
		return models.DatapathRow{}, fmt.Errorf("unmarshaling datapath %s: %w", id, err)
	}
	return models.DatapathRow{Datapath: id, OtherConfig: dto.OtherConfig}, nil
}

func decodeReport(key string, value []byte) (models.MembershipReport, error) {
	mk, err := parseReportKey(key)
	if err != nil {
		return models.MembershipReport{}, err
	}
	dto := reportDto{}
	err = json.Unmarshal(value, &dto)
	if err != nil {
		return models.MembershipReport{}, fmt.Errorf("unmarshaling igmp group %s: %w", key, err)
	}
	return models.MembershipReport{
		Chassis:  mk.Chassis,
		Address:  mk.Address,
		Datapath: mk.Datapath,
		Ports:    models.NewPortSet(dto.Ports...),
	}, nil
}

func mustJsonMarshal(val any) string {
	js, err := json.Marshal(val)
	if err != nil {
		panic(err)
	}
	return string(js)
}
