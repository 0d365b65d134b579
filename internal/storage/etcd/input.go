package etcd

import (
	"context"
	"fmt"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

// InputSink receives northbound datapath rows and southbound IGMP group
// reports. Implemented by snapshot.Store.
type InputSink interface {
	ResetDatapaths(rows []models.DatapathRow)
	UpsertDatapath(row models.DatapathRow)
	RemoveDatapath(id models.DatapathID)
	ResetReports(reports []models.MembershipReport)
	UpsertReport(report models.MembershipReport)
	RemoveReport(key models.MembershipKey)
}

// InputWatchers returns watchers for the datapath and IGMP group prefixes.
// Rows that cannot be decoded are logged and skipped.
func (c *Client) InputWatchers(sink InputSink) []*Watcher {
	return []*Watcher{
		NewWatcher(
			DatapathsFolder+"/",
			func(ctx context.Context) (int64, error) {
				return c.syncDatapaths(ctx, sink)
			},
			func(ctx context.Context, events []*clientv3.Event) error {
				return c.handleDatapathEvents(sink, events)
			},
			c.etcd.Watcher,
			c.log,
		),
		NewWatcher(
			ReportsFolder+"/",
			func(ctx context.Context) (int64, error) {
				return c.syncReports(ctx, sink)
			},
			func(ctx context.Context, events []*clientv3.Event) error {
				return c.handleReportEvents(sink, events)
			},
			c.etcd.Watcher,
			c.log,
		),
	}
}

func (c *Client) syncDatapaths(ctx context.Context, sink InputSink) (int64, error) {
	resp, err := c.etcd.Get(ctx, DatapathsFolder+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to get datapaths: %w", err)
	}
	rows := make([]models.DatapathRow, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		row, err := decodeDatapath(string(kv.Key), kv.Value)
		if err != nil {
			c.log.Error().Err(err).Msg("skip malformed datapath row")
			continue
		}
		rows = append(rows, row)
	}
	sink.ResetDatapaths(rows)
	c.log.Info().Msgf("synced %d datapaths at revision %d", len(rows), resp.Header.Revision)
	return resp.Header.Revision, nil
}

func (c *Client) syncReports(ctx context.Context, sink InputSink) (int64, error) {
	resp, err := c.etcd.Get(ctx, ReportsFolder+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to get igmp groups: %w", err)
	}
	reports := make([]models.MembershipReport, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		report, err := decodeReport(string(kv.Key), kv.Value)
		if err != nil {
			c.log.Error().Err(err).Msg("skip malformed igmp group row")
			continue
		}
		reports = append(reports, report)
	}
	sink.ResetReports(reports)
	c.log.Info().Msgf("synced %d igmp groups at revision %d", len(reports), resp.Header.Revision)
	return resp.Header.Revision, nil
}

func (c *Client) handleDatapathEvents(sink InputSink, events []*clientv3.Event) error {
	for _, ev := range events {
		key := string(ev.Kv.Key)
		switch ev.Type {
		case mvccpb.PUT:
			row, err := decodeDatapath(key, ev.Kv.Value)
			if err != nil {
				c.log.Error().Err(err).Msg("skip malformed datapath row")
				continue
			}
			sink.UpsertDatapath(row)
		case mvccpb.DELETE:
			id, err := parseDatapathKey(key)
			if err != nil {
				c.log.Error().Err(err).Msg("skip malformed datapath delete")
				continue
			}
			sink.RemoveDatapath(id)
		}
	}
	return nil
}

func (c *Client) handleReportEvents(sink InputSink, events []*clientv3.Event) error {
	for _, ev := range events {
		key := string(ev.Kv.Key)
		switch ev.Type {
		case mvccpb.PUT:
			report, err := decodeReport(key, ev.Kv.Value)
			if err != nil {
				c.log.Error().Err(err).Msg("skip malformed igmp group row")
				continue
			}
			sink.UpsertReport(report)
		case mvccpb.DELETE:
			mk, err := parseReportKey(key)
			if err != nil {
				c.log.Error().Err(err).Msg("skip malformed igmp group delete")
				continue
			}
			sink.RemoveReport(mk)
		}
	}
	return nil
}
