package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	leaderLockName          = "mcast-northd/leader"
	defaultLockPollInterval = 2 * time.Second
)

// LockID maps a lock name onto the bigint key space of advisory locks.
func LockID(name string) int64 {
	return int64(xxhash.Sum64String(name))
}

// AdvisoryLock elects a leader with a session level pg_try_advisory_lock.
// The lock lives as long as the dedicated connection does, so the connection
// is kept out of the pool and pinged while leading.
type AdvisoryLock struct {
	db           *pgxpool.Pool
	id           int64
	pollInterval time.Duration

	mu   *sync.Mutex
	conn *pgxpool.Conn
	pid  uint32
	stop chan struct{}

	log zerolog.Logger
}

func NewAdvisoryLock(db *pgxpool.Pool, pollInterval time.Duration, logger zerolog.Logger) *AdvisoryLock {
	if pollInterval <= 0 {
		pollInterval = defaultLockPollInterval
	}
	return &AdvisoryLock{
		db:           db,
		id:           LockID(leaderLockName),
		pollInterval: pollInterval,
		mu:           &sync.Mutex{},
		log:          logger.With().Str("component", "pg-leader-lock").Logger(),
	}
}

// Campaign polls the lock until it is taken. The returned channel is closed
// once the connection holding it breaks.
func (l *AdvisoryLock) Campaign(ctx context.Context) (<-chan struct{}, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		var locked bool
		err = conn.QueryRow(ctx, `select pg_try_advisory_lock($1)`, l.id).Scan(&locked)
		if err != nil {
			conn.Release()
			return nil, fmt.Errorf("failed to try advisory lock: %w", err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var pid uint32
	err = conn.QueryRow(ctx, `select pg_backend_pid()`).Scan(&pid)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to get backend pid: %w", err)
	}

	lost := make(chan struct{})
	l.mu.Lock()
	l.conn = conn
	l.pid = pid
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	l.log.Warn().Msgf("instance took advisory lock %d on backend %d", l.id, pid)
	go l.keepAlive(conn, stop, lost)
	return lost, nil
}

func (l *AdvisoryLock) keepAlive(conn *pgxpool.Conn, stop <-chan struct{}, lost chan<- struct{}) {
	defer close(lost)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !l.ping(conn) {
				return
			}
		}
	}
}

func (l *AdvisoryLock) ping(conn *pgxpool.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// resigned
	if l.conn != conn {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.pollInterval)
	defer cancel()
	err := conn.Ping(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("leader lock connection broken")
		return false
	}
	return true
}

// heldBy checks inside tx that the lock is still granted to our backend.
func (l *AdvisoryLock) heldBy(ctx context.Context, tx pgx.Tx) (bool, error) {
	l.mu.Lock()
	pid := l.pid
	l.mu.Unlock()
	if pid == 0 {
		return false, nil
	}

	var held bool
	err := tx.QueryRow(
		ctx,
		`select exists(
			select 1 from pg_locks
			where locktype = 'advisory' and granted and pid = $1 and objsubid = 1
			and ((classid::bigint << 32) | objid::bigint) = $2
		)`,
		pid,
		l.id,
	).Scan(&held)
	if err != nil {
		return false, err
	}
	return held, nil
}

func (l *AdvisoryLock) Resign(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	close(l.stop)
	defer func() {
		l.conn.Release()
		l.conn = nil
		l.pid = 0
	}()

	var unlocked bool
	err := l.conn.QueryRow(ctx, `select pg_advisory_unlock($1)`, l.id).Scan(&unlocked)
	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	if !unlocked {
		return errors.New("advisory lock was not held")
	}
	return nil
}
