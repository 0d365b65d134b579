package etcd

import (
	"context"
	"fmt"
	"maps"
	"slices"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/storage"
)

// Snapshot reads the output of all datapaths at a single revision.
func (c *Client) Snapshot(ctx context.Context) (models.OutputState, error) {
	state := models.NewOutputState()

	resp, err := c.etcd.Get(ctx, OutputFolder+"/", clientv3.WithPrefix())
	if err != nil {
		return state, fmt.Errorf("failed to get committed output: %w", err)
	}
	for _, kv := range resp.Kvs {
		err = decodeOutput(string(kv.Key), kv.Value, state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// Commit rewrites the output values of changed datapaths in one transaction
// guarded by the election key, so a deposed leader can never overwrite
// output of the new one. When more datapaths changed than fit into one
// transaction, the first MaxTxnOps of them are written and
// storage.ErrPartialCommit is returned.
func (c *Client) Commit(ctx context.Context, d delta.Delta) error {
	if c.election == nil {
		return storage.ErrNotLeader
	}
	perDatapath := d.ByDatapath()
	batch, rest := commitBatch(perDatapath, c.cfg.MaxTxnOps)

	// only the leader writes output, so values read here are what the
	// guarded txn below replaces
	current, err := c.getOutputs(ctx, batch)
	if err != nil {
		return err
	}

	resp, err := c.etcd.Txn(ctx).If(
		clientv3.Compare(clientv3.Value(c.election.Key()), "=", c.cfg.NodeID),
		clientv3.Compare(clientv3.LeaseValue(c.election.Key()), ">", 0),
	).Then(
		outputOps(batch, current, perDatapath)...,
	).Commit()
	if err != nil {
		return fmt.Errorf("committing output delta tx: %w", err)
	}
	if !resp.Succeeded {
		return storage.ErrNotLeader
	}
	if rest > 0 {
		c.log.Warn().Msgf("committed %d datapaths, %d left for the next round", len(batch), rest)
		return fmt.Errorf("%w: %d of %d datapaths written", storage.ErrPartialCommit, len(batch), len(batch)+rest)
	}
	return nil
}

func (c *Client) getOutputs(ctx context.Context, ids []models.DatapathID) (map[models.DatapathID]models.OutputState, error) {
	ops := make([]clientv3.Op, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, clientv3.OpGet(outputKey(id)))
	}
	resp, err := c.etcd.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to get output of changed datapaths: %w", err)
	}

	res := make(map[models.DatapathID]models.OutputState, len(ids))
	for i, r := range resp.Responses {
		state := models.NewOutputState()
		for _, kv := range r.GetResponseRange().Kvs {
			err = decodeOutput(string(kv.Key), kv.Value, state)
			if err != nil {
				return nil, err
			}
		}
		res[ids[i]] = state
	}
	return res, nil
}

// commitBatch picks changed datapaths in id order, at most limit of them.
func commitBatch(perDatapath map[models.DatapathID]delta.Delta, limit int) ([]models.DatapathID, int) {
	ids := slices.Sorted(maps.Keys(perDatapath))
	if len(ids) <= limit {
		return ids, 0
	}
	return ids[:limit], len(ids) - limit
}

func outputOps(
	batch []models.DatapathID,
	current map[models.DatapathID]models.OutputState,
	perDatapath map[models.DatapathID]delta.Delta,
) []clientv3.Op {
	ops := make([]clientv3.Op, 0, len(batch))
	for _, id := range batch {
		next := perDatapath[id].ApplyTo(current[id])
		if len(next.Groups) == 0 && len(next.Flows) == 0 {
			ops = append(ops, clientv3.OpDelete(outputKey(id)))
			continue
		}
		ops = append(ops, clientv3.OpPut(outputKey(id), mustJsonMarshal(outputToDto(next))))
	}
	return ops
}
