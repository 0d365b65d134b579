package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

var ErrParseKey = errors.New("failed to parse etcd key")

const (
	leaderLeaseTTLInSeconds = 10
	// etcd server default for --max-txn-ops
	DefaultMaxTxnOps = 128
)

type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	NodeID      string
	// MaxTxnOps must not exceed --max-txn-ops of the etcd cluster, it caps
	// the datapaths written by one commit.
	MaxTxnOps int
}

// Client owns the etcd connection, the leader election session and the
// committed output stored under OutputFolder, one value per datapath.
type Client struct {
	cfg      Config
	etcd     *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election

	log zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	if cfg.MaxTxnOps <= 0 {
		cfg.MaxTxnOps = DefaultMaxTxnOps
	}
	return &Client{
		cfg:  cfg,
		etcd: clnt,
		log:  logger.With().Str("component", "etcd").Logger(),
	}, nil
}

// Campaign blocks until this node wins the election. The returned channel
// is closed when the session lease is lost.
func (c *Client) Campaign(ctx context.Context) (<-chan struct{}, error) {
	session, err := concurrency.NewSession(
		c.etcd,
		concurrency.WithContext(ctx),
		concurrency.WithTTL(leaderLeaseTTLInSeconds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	election := concurrency.NewElection(session, LeadershipKey)

	for {
		err = election.Campaign(ctx, c.cfg.NodeID)
		if errors.Is(err, concurrency.ErrElectionNotLeader) {
			continue
		}
		if err != nil {
			closeErr := session.Close()
			if closeErr != nil {
				c.log.Error().Err(closeErr).Msg("failed to destroy session")
			}
			return nil, fmt.Errorf("campaign for %s: %w", LeadershipKey, err)
		}
		if c.session != nil {
			// session of a previous term, its lease is already gone
			_ = c.session.Close()
		}
		c.session = session
		c.election = election
		c.log.Warn().Msgf("instance %s won leader election for %s", c.cfg.NodeID, LeadershipKey)
		return session.Done(), nil
	}
}

func (c *Client) Resign(ctx context.Context) error {
	if c.election == nil {
		return nil
	}
	err := c.election.Resign(ctx)
	if err != nil {
		return fmt.Errorf("failed to resign leader: %w", err)
	}
	return nil
}

func (c *Client) GracefulClose(ctx context.Context) error {
	err := c.Resign(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to gracefully resign leader")
	}
	return c.Close()
}

func (c *Client) Close() error {
	if c.session != nil {
		err := c.session.Close()
		if err != nil {
			c.log.Error().Err(err).Msg("failed to destroy session")
		}
	}
	err := c.etcd.Close()
	if err != nil {
		c.log.Error().Err(err).Msg("failed to close etcd client")
		return err
	}
	return nil
}
