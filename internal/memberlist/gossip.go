package memberlist

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

type Config struct {
	NodeName            string
	Port                int
	GossipProbeInterval time.Duration
	GossipProbeTimeout  time.Duration
	SeedNodes           []string
}

// StatusSink receives chassis liveness. Gossip member names are chassis ids.
type StatusSink interface {
	SetChassisStatus(id models.ChassisID, status models.ChassisStatus)
}

type MemberList struct {
	list      *memberlist.Memberlist
	events    chan memberlist.NodeEvent
	sink      StatusSink
	seedNodes []string

	log zerolog.Logger
}

func New(cfg Config, sink StatusSink, logger zerolog.Logger) (*MemberList, error) {
	const eventBufSize = 256

	events := make(chan memberlist.NodeEvent, eventBufSize)
	config := memberlist.DefaultLocalConfig()
	config.Name = cfg.NodeName
	config.BindPort = cfg.Port
	config.AdvertisePort = cfg.Port
	config.LogOutput = io.Discard
	if cfg.GossipProbeInterval > 0 {
		config.ProbeInterval = cfg.GossipProbeInterval
	}
	if cfg.GossipProbeTimeout > 0 {
		config.ProbeTimeout = cfg.GossipProbeTimeout
	}
	config.Events = &memberlist.ChannelEventDelegate{
		Ch: events,
	}

	ml, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	return &MemberList{
		list:      ml,
		events:    events,
		sink:      sink,
		seedNodes: cfg.SeedNodes,
		log:       logger.With().Str("component", "gossip").Logger(),
	}, nil
}

// Run forwards membership events to the sink until ctx is done.
func (l *MemberList) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case mlEvent, opened := <-l.events:
			if !opened {
				return nil
			}
			l.log.Debug().Msgf(
				"got event from node %s: type=%d, node.status=%d",
				mlEvent.Node.Name,
				mlEvent.Event,
				mlEvent.Node.State,
			)
			status, ok := statusFromEvent(mlEvent)
			if !ok {
				continue
			}
			l.sink.SetChassisStatus(models.ChassisID(mlEvent.Node.Name), status)
		}
	}
}

// statusFromEvent maps gossip events onto chassis liveness. Suspect nodes
// stay alive: their reports are only dropped once the node is declared dead
// or leaves.
func statusFromEvent(ev memberlist.NodeEvent) (models.ChassisStatus, bool) {
	switch ev.Event {
	case memberlist.NodeJoin:
		return models.ChassisAlive, true
	case memberlist.NodeLeave:
		return models.ChassisDead, true
	case memberlist.NodeUpdate:
		if ev.Node.State == memberlist.StateAlive {
			return models.ChassisAlive, true
		}
	}
	return models.ChassisUnknown, false
}

func (l *MemberList) Join(ctx context.Context) error {
	if len(l.seedNodes) == 0 {
		return nil
	}
	_, err := l.list.Join(l.seedNodes)
	if err != nil {
		return fmt.Errorf("failed to join memberlist: %w", err)
	}
	return nil
}

func (l *MemberList) GracefulClose(timeout time.Duration) error {
	l.log.Warn().Msg("start graceful leaving from gossip cluster")

	err := l.list.Leave(timeout)
	if err != nil {
		return fmt.Errorf("failed to leave gossip cluster: %w", err)
	}
	return l.list.Shutdown()
}
