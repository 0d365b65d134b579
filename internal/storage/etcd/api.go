package etcd

import (
	"context"
	"fmt"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

// PutDatapath writes a northbound datapath row, normally done by the
// northbound database sync. Used by tools and tests.
func (c *Client) PutDatapath(ctx context.Context, row models.DatapathRow) error {
	_, err := c.etcd.Put(ctx, DatapathKey(row.Datapath), mustJsonMarshal(datapathDto{
		OtherConfig: row.OtherConfig,
	}))
	if err != nil {
		return fmt.Errorf("failed to put datapath %s: %w", row.Datapath, err)
	}
	return nil
}

// DeleteDatapath removes a datapath row, its output goes away with the
// next round.
func (c *Client) DeleteDatapath(ctx context.Context, id models.DatapathID) error {
	_, err := c.etcd.Delete(ctx, DatapathKey(id))
	if err != nil {
		return fmt.Errorf("failed to delete datapath %s: %w", id, err)
	}
	return nil
}

// PutReport writes the IGMP group a chassis controller observed.
func (c *Client) PutReport(ctx context.Context, report models.MembershipReport) error {
	_, err := c.etcd.Put(ctx, ReportKey(report.Key()), mustJsonMarshal(reportDto{
		Ports: report.Ports.Sorted(),
	}))
	if err != nil {
		return fmt.Errorf("failed to put igmp group %s: %w", ReportKey(report.Key()), err)
	}
	return nil
}

func (c *Client) DeleteReport(ctx context.Context, key models.MembershipKey) error {
	_, err := c.etcd.Delete(ctx, ReportKey(key))
	if err != nil {
		return fmt.Errorf("failed to delete igmp group %s: %w", ReportKey(key), err)
	}
	return nil
}
