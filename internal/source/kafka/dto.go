package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

// Value is a Debezium change event envelope.
//
//	{"before":null,"after":{"datapath":"ls1","other_config":{"mcast_snoop":"true"}},"op":"c","ts_ms":1763998525108}
type Value[T any] struct {
	Before *T     `json:"before"`
	After  *T     `json:"after"`
	Op     string `json:"op"`
	TsMs   int64  `json:"ts_ms"`
}

const (
	opCreate   = "c"
	opSnapshot = "r"
	opUpdate   = "u"
	opDelete   = "d"
)

var (
	ErrTombstone   = errors.New("tombstone message")
	ErrUnknownOp   = errors.New("unknown cdc operation")
	ErrMissingRows = errors.New("cdc event without row image")
)

type DatapathDto struct {
	Datapath    string            `json:"datapath"`
	OtherConfig map[string]string `json:"other_config"`
}

func (d DatapathDto) toModel() models.DatapathRow {
	return models.DatapathRow{
		Datapath:    models.DatapathID(d.Datapath),
		OtherConfig: d.OtherConfig,
	}
}

type IgmpGroupDto struct {
	Chassis  string   `json:"chassis"`
	Address  string   `json:"address"`
	Datapath string   `json:"datapath"`
	Ports    []string `json:"ports"`
}

func (d IgmpGroupDto) toModel() models.MembershipReport {
	return models.MembershipReport{
		Chassis:  models.ChassisID(d.Chassis),
		Address:  d.Address,
		Datapath: models.DatapathID(d.Datapath),
		Ports:    models.NewPortSet(d.Ports...),
	}
}

// Change is a decoded row change: Upsert is set for create, snapshot read
// and update, Remove for delete and for updates that changed the row key.
type Change[T any] struct {
	Upsert *T
	Remove *T
}

func parseChange[T any, K comparable](raw []byte, key func(T) K) (Change[T], error) {
	if len(raw) == 0 {
		return Change[T]{}, ErrTombstone
	}
	msg := Value[T]{}
	err := json.Unmarshal(raw, &msg)
	if err != nil {
		return Change[T]{}, fmt.Errorf("failed to decode message from json: %w", err)
	}

	switch msg.Op {
	case opCreate, opSnapshot:
		if msg.After == nil {
			return Change[T]{}, fmt.Errorf("%w: op=%s", ErrMissingRows, msg.Op)
		}
		return Change[T]{Upsert: msg.After}, nil
	case opUpdate:
		if msg.After == nil {
			return Change[T]{}, fmt.Errorf("%w: op=%s", ErrMissingRows, msg.Op)
		}
		change := Change[T]{Upsert: msg.After}
		if msg.Before != nil && key(*msg.Before) != key(*msg.After) {
			change.Remove = msg.Before
		}
		return change, nil
	case opDelete:
		if msg.Before == nil {
			return Change[T]{}, fmt.Errorf("%w: op=%s", ErrMissingRows, msg.Op)
		}
		return Change[T]{Remove: msg.Before}, nil
	}
	return Change[T]{}, fmt.Errorf("%w: %q", ErrUnknownOp, msg.Op)
}

func ParseDatapathChange(raw []byte) (Change[DatapathDto], error) {
	return parseChange(raw, func(d DatapathDto) string {
		return d.Datapath
	})
}

func ParseIgmpGroupChange(raw []byte) (Change[IgmpGroupDto], error) {
	return parseChange(raw, func(d IgmpGroupDto) models.MembershipKey {
		return d.toModel().Key()
	})
}
