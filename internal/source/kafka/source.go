package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

type InputSink interface {
	UpsertDatapath(row models.DatapathRow)
	RemoveDatapath(id models.DatapathID)
	UpsertReport(report models.MembershipReport)
	RemoveReport(key models.MembershipKey)
}

const defaultReadRetryDelay = time.Second

type Config struct {
	Brokers        []string
	DatapathsTopic string
	GroupsTopic    string
	NodeID         string
	ReadRetryDelay time.Duration
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Config() kafka.ReaderConfig
	Close() error
}

// Source replays the compacted datapath and IGMP group CDC topics from the
// first offset on every start, the snapshot store lives in memory only.
type Source struct {
	datapaths  messageReader
	groups     messageReader
	sink       InputSink
	retryDelay time.Duration

	log zerolog.Logger
}

func NewSource(cfg Config, sink InputSink, logger zerolog.Logger) (*Source, error) {
	groupID, err := consumerGroupID(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	if cfg.ReadRetryDelay <= 0 {
		cfg.ReadRetryDelay = defaultReadRetryDelay
	}
	return &Source{
		datapaths:  kafka.NewReader(readerConfig(cfg.Brokers, cfg.DatapathsTopic, groupID)),
		groups:     kafka.NewReader(readerConfig(cfg.Brokers, cfg.GroupsTopic, groupID)),
		sink:       sink,
		retryDelay: cfg.ReadRetryDelay,
		log:        logger.With().Str("component", "kafka-source").Str("group_id", groupID).Logger(),
	}, nil
}

// consumerGroupID is unique per start: a fresh group gets all partitions
// assigned to this instance and has no committed offsets yet.
func consumerGroupID(nodeID string) (string, error) {
	startID, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("failed to generate consumer group id: %w", err)
	}
	return fmt.Sprintf("mcast-northd-%s-%s", nodeID, startID), nil
}

func readerConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MaxBytes:    10 * 1024 * 1024,
	}
}

func (s *Source) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.consume(ctx, s.datapaths, s.applyDatapath)
	})
	eg.Go(func() error {
		return s.consume(ctx, s.groups, s.applyIgmpGroup)
	})
	return eg.Wait()
}

func (s *Source) consume(ctx context.Context, reader messageReader, apply func([]byte) error) error {
	logger := s.log.With().Str("topic", reader.Config().Topic).Logger()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("reader closed, stop consuming")
				return nil
			}
			logger.Error().Err(err).Msgf("failed to read message, retry in %s", s.retryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
			continue
		}
		err = apply(msg.Value)
		if errors.Is(err, ErrTombstone) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msgf("skip cdc event at offset %d", msg.Offset)
		}
	}
}

func (s *Source) applyDatapath(raw []byte) error {
	change, err := ParseDatapathChange(raw)
	if err != nil {
		return err
	}
	if change.Remove != nil {
		s.sink.RemoveDatapath(models.DatapathID(change.Remove.Datapath))
	}
	if change.Upsert != nil {
		if change.Upsert.Datapath == "" {
			return fmt.Errorf("datapath row without id")
		}
		s.sink.UpsertDatapath(change.Upsert.toModel())
	}
	return nil
}

func (s *Source) applyIgmpGroup(raw []byte) error {
	change, err := ParseIgmpGroupChange(raw)
	if err != nil {
		return err
	}
	if change.Remove != nil {
		s.sink.RemoveReport(change.Remove.toModel().Key())
	}
	if change.Upsert != nil {
		s.sink.UpsertReport(change.Upsert.toModel())
	}
	return nil
}

func (s *Source) Close() error {
	return errors.Join(s.datapaths.Close(), s.groups.Close())
}
