package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mcast-northd/internal/reconciler"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
	"github.com/Sh00ty/mcast-northd/internal/source/kafka"
	"github.com/Sh00ty/mcast-northd/internal/storage/etcd"
	"github.com/Sh00ty/mcast-northd/internal/storage/inmemory"
	"github.com/Sh00ty/mcast-northd/internal/storage/postgres"
)

type Elector interface {
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
}

type backend struct {
	output  reconciler.OutputStore
	elector Elector
	etcd    *etcd.Client
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backend) etcdClient(appCfg Config) (*etcd.Client, error) {
	if b.etcd != nil {
		return b.etcd, nil
	}
	clnt, err := etcd.NewClient(etcd.Config{
		Endpoints:   appCfg.EtcdEndpoints,
		DialTimeout: appCfg.EtcdDialTimeout,
		NodeID:      appCfg.NodeID,
		MaxTxnOps:   appCfg.EtcdMaxTxnOps,
	}, log.Logger)
	if err != nil {
		return nil, err
	}
	b.etcd = clnt
	b.closers = append(b.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), appCfg.EtcdDialTimeout)
		defer cancel()
		_ = clnt.GracefulClose(ctx)
	})
	return clnt, nil
}

func newBackend(ctx context.Context, appCfg Config) (*backend, error) {
	b := &backend{}
	switch appCfg.StoreBackend {
	case backendMemory:
		b.output = inmemory.NewStore()
		b.elector = inmemory.Elector{}
	case backendEtcd:
		clnt, err := b.etcdClient(appCfg)
		if err != nil {
			return nil, err
		}
		b.output = clnt
		b.elector = clnt
	case backendPostgres:
		repo, err := postgres.NewRepo(ctx, postgres.Config{
			User:     appCfg.DatabaseUser,
			Password: appCfg.DatabasePassword,
			Host:     appCfg.DatabaseHost,
			Port:     appCfg.DatabasePort,
			Database: appCfg.DatabaseName,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres repository: %w", err)
		}
		b.closers = append(b.closers, repo.Close)
		lock := postgres.NewAdvisoryLock(repo.Pool(), appCfg.LeaderLockPoll, log.Logger)
		repo.GuardWith(lock)
		b.output = repo
		b.elector = lock
	default:
		return nil, fmt.Errorf("unknown store backend %q", appCfg.StoreBackend)
	}
	return b, nil
}

func newInputSources(
	ctx context.Context,
	appCfg Config,
	b *backend,
	input *snapshot.Store,
) ([]func(ctx context.Context) error, error) {
	switch appCfg.InputSource {
	case sourceEtcd:
		clnt, err := b.etcdClient(appCfg)
		if err != nil {
			return nil, err
		}
		var runs []func(ctx context.Context) error
		for _, w := range clnt.InputWatchers(input) {
			err = w.InitialSync(ctx)
			if err != nil {
				return nil, err
			}
			runs = append(runs, w.Watch)
		}
		return runs, nil
	case sourceKafka:
		src, err := kafka.NewSource(kafka.Config{
			Brokers:        appCfg.QueueBrokers,
			DatapathsTopic: appCfg.QueueDatapathsTopic,
			GroupsTopic:    appCfg.QueueGroupsTopic,
			NodeID:         appCfg.NodeID,
			ReadRetryDelay: appCfg.QueueRetryDelay,
		}, input, log.Logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			_ = src.Close()
		})
		return []func(ctx context.Context) error{src.Run}, nil
	case sourceNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown input source %q", appCfg.InputSource)
}
