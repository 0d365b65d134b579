package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/pgerror"
	"github.com/Sh00ty/mcast-northd/internal/storage"
)

const (
	groupsTable = "multicast_groups"
	flowsTable  = "logical_flows"

	groupsTunnelKeyConstraint = "multicast_groups_datapath_tunnel_key_key"
)

type Config struct {
	User     string
	Password string
	Host     string
	Port     uint16
	Database string
	MaxConns int
}

// Repository stores committed output in the multicast_groups and
// logical_flows tables. When a lock is attached every commit first checks
// that this instance still holds it.
type Repository struct {
	db   *pgxpool.Pool
	lock *AdvisoryLock

	log zerolog.Logger
}

func NewRepo(ctx context.Context, cfg Config, logger zerolog.Logger) (*Repository, error) {
	pgCfg, err := pgxpool.ParseConfig(
		fmt.Sprintf(
			"user=%s password=%s host=%s port=%d dbname=%s sslmode=disable pool_max_conns=%d",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, max(cfg.MaxConns, 2),
		),
	)
	if pgCfg == nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Repository{
		db:  pool,
		log: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

func (r *Repository) Pool() *pgxpool.Pool {
	return r.db
}

// GuardWith makes commits fail with storage.ErrNotLeader unless lock is held.
func (r *Repository) GuardWith(lock *AdvisoryLock) {
	r.lock = lock
}

func (r *Repository) Close() {
	r.db.Close()
}

func selectGroupsQuery() (string, []any, error) {
	return squirrel.Select("datapath", "name", "tunnel_key", "ports").
		From(groupsTable).
		OrderBy("datapath", "name").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

func selectFlowsQuery() (string, []any, error) {
	return squirrel.Select("datapath", "pipeline", "table_name", "priority", "match", "actions").
		From(flowsTable).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
}

// Snapshot reads both tables in one repeatable read transaction.
func (r *Repository) Snapshot(ctx context.Context) (models.OutputState, error) {
	state := models.NewOutputState()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return state, fmt.Errorf("failed to start snapshot transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sql, args, err := selectGroupsQuery()
	if err != nil {
		return state, fmt.Errorf("failed to create db request: %w", err)
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return state, fmt.Errorf("failed to execute query: %w", err)
	}
	for rows.Next() {
		var (
			g     models.MulticastGroup
			ports []string
		)
		err = rows.Scan(&g.Datapath, &g.Name, &g.TunnelKey, &ports)
		if err != nil {
			rows.Close()
			return state, fmt.Errorf("failed to scan multicast group: %w", err)
		}
		g.Ports = models.NewPortSet(ports...)
		state.AddGroup(g)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return state, fmt.Errorf("failed to read multicast groups: %w", err)
	}

	sql, args, err = selectFlowsQuery()
	if err != nil {
		return state, fmt.Errorf("failed to create db request: %w", err)
	}
	rows, err = tx.Query(ctx, sql, args...)
	if err != nil {
		return state, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		f := models.LogicalFlow{}
		err = rows.Scan(&f.Datapath, &f.Pipeline, &f.Table, &f.Priority, &f.Match, &f.Actions)
		if err != nil {
			return state, fmt.Errorf("failed to scan logical flow: %w", err)
		}
		state.AddFlow(f)
	}
	if err = rows.Err(); err != nil {
		return state, fmt.Errorf("failed to read logical flows: %w", err)
	}
	return state, nil
}

// Commit applies the delta in one repeatable read transaction. Deletes run
// first so a freed unique tunnel key never collides with a changed row.
func (r *Repository) Commit(ctx context.Context, d delta.Delta) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel: pgx.RepeatableRead,
	})
	if err != nil {
		return fmt.Errorf("failed to start commit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if r.lock != nil {
		held, err := r.lock.heldBy(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to check leader lock: %w", err)
		}
		if !held {
			return storage.ErrNotLeader
		}
	}

	batch := commitBatch(d)
	bResult := tx.SendBatch(ctx, batch)
	defer bResult.Close()

	for _, q := range batch.QueuedQueries {
		_, err := bResult.Exec()
		if err != nil {
			return r.commitError(err, q.SQL)
		}
	}
	if err := bResult.Close(); err != nil {
		return r.commitError(err, "batch close")
	}
	if err := tx.Commit(ctx); err != nil {
		return r.commitError(err, "commit")
	}
	return nil
}

func (r *Repository) commitError(err error, stage string) error {
	if pgerror.IsTxConflict(err) {
		r.log.Warn().Err(err).Msg("output commit lost to concurrent transaction")
		return fmt.Errorf("concurrent output commit: %w", err)
	}
	constraint, ok := pgerror.GetConstraintName(err)
	if !ok {
		return fmt.Errorf("failed to commit output delta on %s: %w", stage, err)
	}
	switch constraint {
	case groupsTunnelKeyConstraint:
		return fmt.Errorf("%w: tunnel key already used on datapath: %w", storage.ErrConstraint, err)
	}
	return fmt.Errorf("%w: %s: %w", storage.ErrConstraint, constraint, err)
}

func commitBatch(d delta.Delta) *pgx.Batch {
	const (
		deleteGroup = `delete from multicast_groups where datapath = $1 and name = $2`
		upsertGroup = `
		insert into multicast_groups (datapath, name, tunnel_key, ports)
		values ($1, $2, $3, $4)
		on conflict (datapath, name)
		do update set tunnel_key = excluded.tunnel_key, ports = excluded.ports`
		deleteFlow = `
		delete from logical_flows
		where datapath = $1 and pipeline = $2 and table_name = $3 and priority = $4 and match = $5`
		upsertFlow = `
		insert into logical_flows (datapath, pipeline, table_name, priority, match, actions)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (datapath, pipeline, table_name, priority, match)
		do update set actions = excluded.actions`
	)

	batch := &pgx.Batch{}
	for _, g := range d.Groups.Deletes {
		batch.Queue(deleteGroup, string(g.Datapath), g.Name)
	}
	for _, f := range d.Flows.Deletes {
		batch.Queue(deleteFlow, string(f.Datapath), string(f.Pipeline), f.Table, int32(f.Priority), f.Match)
	}
	for _, changes := range [][]models.MulticastGroup{d.Groups.Updates, d.Groups.Inserts} {
		for _, g := range changes {
			batch.Queue(upsertGroup, string(g.Datapath), g.Name, int64(g.TunnelKey), g.Ports.Sorted())
		}
	}
	for _, changes := range [][]models.LogicalFlow{d.Flows.Updates, d.Flows.Inserts} {
		for _, f := range changes {
			batch.Queue(upsertFlow, string(f.Datapath), string(f.Pipeline), f.Table, int32(f.Priority), f.Match, f.Actions)
		}
	}
	return batch
}
