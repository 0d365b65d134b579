package etcd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type WatchHandler func(ctx context.Context, events []*clientv3.Event) error

// SyncFunc loads the whole prefix and returns the revision it was read at.
type SyncFunc func(ctx context.Context) (int64, error)

// Watcher keeps a prefix in sync: full load first, then watch from the next
// revision. A compacted revision triggers a new full load.
type Watcher struct {
	prefix       string
	sync         SyncFunc
	handler      WatchHandler
	lastRevision int64
	watcher      clientv3.Watcher

	log zerolog.Logger
}

func NewWatcher(
	prefix string,
	sync SyncFunc,
	handler WatchHandler,
	watcher clientv3.Watcher,
	logger zerolog.Logger,
) *Watcher {
	return &Watcher{
		prefix:  prefix,
		sync:    sync,
		handler: handler,
		watcher: watcher,
		log:     logger.With().Str("prefix", prefix).Logger(),
	}
}

// InitialSync loads the prefix once, Watch then continues from there.
func (w *Watcher) InitialSync(ctx context.Context) error {
	rev, err := w.sync(ctx)
	if err != nil {
		return fmt.Errorf("initial sync of %s: %w", w.prefix, err)
	}
	w.lastRevision = rev + 1
	return nil
}

func (w *Watcher) Watch(ctx context.Context) error {
	if w.lastRevision == 0 {
		err := w.InitialSync(ctx)
		if err != nil {
			return err
		}
	}
	ctx = clientv3.WithRequireLeader(ctx)
	watch := func(rev int64) clientv3.WatchChan {
		return w.watcher.Watch(
			ctx,
			w.prefix,
			clientv3.WithRev(rev),
			clientv3.WithPrefix(),
			clientv3.WithCreatedNotify(),
			clientv3.WithProgressNotify(),
		)
	}
	watcherChan := watch(w.lastRevision)
	for {
		select {
		case event, ok := <-watcherChan:
			if !ok {
				w.log.Info().Msg("watcher channel closed")
				return nil
			}
			if event.CompactRevision != 0 {
				w.log.Warn().Msgf("revision %d compacted, resync prefix", event.CompactRevision)
				err := w.InitialSync(ctx)
				if err != nil {
					w.log.Error().Err(err).Msg("resync failed")
					return err
				}
				watcherChan = watch(w.lastRevision)
				continue
			}
			if event.Canceled {
				w.log.Error().Err(event.Err()).Msg("watcher failure: canceled, retry")
				watcherChan = watch(w.lastRevision)
				continue
			}
			if event.Err() != nil {
				w.log.Error().Err(event.Err()).Msg("got unexpected watch error")
				continue
			}
			if event.IsProgressNotify() || event.Created {
				w.log.Debug().Msgf("got progress notify message with revision %d", event.Header.Revision)
				continue
			}
			w.lastRevision = event.Header.Revision + 1
			err := w.handler(ctx, event.Events)
			if err != nil {
				w.log.Error().Err(err).Msg("handler error, skip")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
