package kafka

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
)

func TestParseDatapathChange(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		upsert  string
		remove  string
		wantErr error
	}{
		{
			name:   "create",
			raw:    `{"before":null,"after":{"datapath":"ls1","other_config":{"mcast_snoop":"true"}},"op":"c","ts_ms":1}`,
			upsert: "ls1",
		},
		{
			name:   "snapshot read",
			raw:    `{"before":null,"after":{"datapath":"ls1"},"op":"r"}`,
			upsert: "ls1",
		},
		{
			name:   "update same key",
			raw:    `{"before":{"datapath":"ls1"},"after":{"datapath":"ls1"},"op":"u"}`,
			upsert: "ls1",
		},
		{
			name:   "update renames",
			raw:    `{"before":{"datapath":"ls1"},"after":{"datapath":"ls2"},"op":"u"}`,
			upsert: "ls2",
			remove: "ls1",
		},
		{
			name:   "delete",
			raw:    `{"before":{"datapath":"ls1"},"after":null,"op":"d"}`,
			remove: "ls1",
		},
		{
			name:    "tombstone",
			raw:     ``,
			wantErr: ErrTombstone,
		},
		{
			name:    "truncate",
			raw:     `{"op":"t"}`,
			wantErr: ErrUnknownOp,
		},
		{
			name:    "delete without before",
			raw:     `{"before":null,"after":null,"op":"d"}`,
			wantErr: ErrMissingRows,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, err := ParseDatapathChange([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.upsert == "" {
				assert.Nil(t, change.Upsert)
			} else {
				require.NotNil(t, change.Upsert)
				assert.Equal(t, tt.upsert, change.Upsert.Datapath)
			}
			if tt.remove == "" {
				assert.Nil(t, change.Remove)
			} else {
				require.NotNil(t, change.Remove)
				assert.Equal(t, tt.remove, change.Remove.Datapath)
			}
		})
	}
}

func TestParseIgmpGroupChangeKeepsKeyOnPortUpdate(t *testing.T) {
	change, err := ParseIgmpGroupChange([]byte(`{
		"before":{"chassis":"ch1","address":"239.0.0.1","datapath":"ls1","ports":["p1"]},
		"after":{"chassis":"ch1","address":"239.0.0.1","datapath":"ls1","ports":["p1","p2"]},
		"op":"u"}`))
	require.NoError(t, err)
	assert.Nil(t, change.Remove)
	require.NotNil(t, change.Upsert)
	assert.Equal(t, []string{"p1", "p2"}, change.Upsert.Ports)
}

func TestSourceAppliesChanges(t *testing.T) {
	var (
		store = snapshot.NewStore(nil)
		s     = &Source{sink: store, log: zerolog.Nop()}
		key   = models.MembershipKey{Chassis: "ch1", Address: "239.0.0.1", Datapath: "ls1"}
	)

	require.NoError(t, s.applyDatapath([]byte(`{"after":{"datapath":"ls1","other_config":{"mcast_snoop":"true"}},"op":"c"}`)))
	require.NoError(t, s.applyIgmpGroup([]byte(`{"after":{"chassis":"ch1","address":"239.0.0.1","datapath":"ls1","ports":["p1"]},"op":"c"}`)))

	snap := store.Snapshot()
	assert.Contains(t, snap.Datapaths, models.DatapathID("ls1"))
	require.Contains(t, snap.Reports, key)
	assert.True(t, snap.Reports[key].Ports.Equal(models.NewPortSet("p1")))

	require.NoError(t, s.applyIgmpGroup([]byte(`{"before":{"chassis":"ch1","address":"239.0.0.1","datapath":"ls1"},"op":"d"}`)))
	assert.Empty(t, store.Snapshot().Reports)

	err := s.applyDatapath([]byte(`{"after":{"other_config":{}},"op":"c"}`))
	assert.Error(t, err)
}

var errBrokerDown = errors.New("broker down")

// scriptedReader returns errs one by one, then blocks until ctx is done.
type scriptedReader struct {
	errs  []error
	reads atomic.Int32
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	n := int(r.reads.Add(1))
	if n <= len(r.errs) {
		return kafka.Message{}, r.errs[n-1]
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "igmp_groups"}
}

func (r *scriptedReader) Close() error {
	return nil
}

func TestConsumerGroupPerStart(t *testing.T) {
	first, err := consumerGroupID("node1")
	require.NoError(t, err)
	second, err := consumerGroupID("node1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "mcast-northd-node1-"))

	cfg := readerConfig([]string{"localhost:9092"}, "igmp_groups", first)
	assert.Equal(t, first, cfg.GroupID)
	assert.Equal(t, kafka.FirstOffset, cfg.StartOffset)
	assert.Zero(t, cfg.Partition)
}

func TestConsumeStopsOnClosedReader(t *testing.T) {
	var (
		s      = &Source{log: zerolog.Nop(), retryDelay: time.Hour}
		reader = &scriptedReader{errs: []error{io.EOF}}
	)
	err := s.consume(context.Background(), reader, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.EqualValues(t, 1, reader.reads.Load())
}

func TestConsumeBacksOffOnReadErrors(t *testing.T) {
	var (
		s      = &Source{log: zerolog.Nop(), retryDelay: 100 * time.Millisecond}
		reader = &scriptedReader{errs: []error{errBrokerDown, errBrokerDown, errBrokerDown, errBrokerDown}}
	)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.consume(ctx, reader, func([]byte) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// one read right away and one after the first delay
	assert.EqualValues(t, 2, reader.reads.Load())
}
