package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`create table if not exists multicast_groups (
		datapath   text    not null,
		name       text    not null,
		tunnel_key bigint  not null check (tunnel_key > 0 and tunnel_key <= 4294967295),
		ports      text[]  not null default '{}',
		primary key (datapath, name),
		constraint multicast_groups_datapath_tunnel_key_key unique (datapath, tunnel_key)
	)`,
	`create table if not exists logical_flows (
		datapath   text     not null,
		pipeline   text     not null check (pipeline in ('ingress', 'egress')),
		table_name text     not null,
		priority   integer  not null check (priority >= 0 and priority <= 65535),
		match      text     not null,
		actions    text     not null,
		primary key (datapath, pipeline, table_name, priority, match)
	)`,
}

// Migrate creates the output tables if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for i, m := range migrations {
		_, err := r.db.Exec(ctx, m)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
