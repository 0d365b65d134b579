package main

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	backendMemory   = "memory"
	backendEtcd     = "etcd"
	backendPostgres = "postgres"

	sourceEtcd  = "etcd"
	sourceKafka = "kafka"
	sourceNone  = "none"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Config struct {
	NodeID      string `envconfig:"NORTHD_NODE_ID"`
	LoggerLevel string `envconfig:"LOGGER_LEVEL,optional"`

	StoreBackend string `envconfig:"STORE_BACKEND,default=memory"`
	InputSource  string `envconfig:"INPUT_SOURCE,default=etcd"`

	TunnelKeyMin uint32 `envconfig:"TUNNEL_KEY_MIN,default=32768"`
	TunnelKeyMax uint32 `envconfig:"TUNNEL_KEY_MAX,default=65529"`

	ForceReconcileInterval time.Duration `envconfig:"FORCE_RECONCILE_INTERVAL,default=5m"`
	RetryRoundDelay        time.Duration `envconfig:"RETRY_ROUND_DELAY,default=10s"`
	RoundTimeout           time.Duration `envconfig:"ROUND_TIMEOUT,default=30s"`
	CommitAttempts         uint          `envconfig:"COMMIT_ATTEMPTS,default=3"`
	MinRoundInterval       time.Duration `envconfig:"MIN_ROUND_INTERVAL,default=100ms"`
	ChassisDeathDelay      time.Duration `envconfig:"CHASSIS_DEATH_DELAY,default=10s"`

	EtcdEndpoints   []string      `envconfig:"ETCD_ENDPOINTS,default=localhost:2379"`
	EtcdDialTimeout time.Duration `envconfig:"ETCD_DIAL_TIMEOUT,default=5s"`
	EtcdMaxTxnOps   int           `envconfig:"ETCD_MAX_TXN_OPS,default=128"`

	DatabaseHost     string        `envconfig:"DATABASE_HOST,optional"`
	DatabaseUser     string        `envconfig:"DATABASE_USER,optional"`
	DatabasePassword string        `envconfig:"DATABASE_PASSWORD,optional"`
	DatabasePort     uint16        `envconfig:"DATABASE_PORT,default=5432"`
	DatabaseName     string        `envconfig:"DATABASE_NAME,default=postgres"`
	LeaderLockPoll   time.Duration `envconfig:"LEADER_LOCK_POLL_INTERVAL,default=2s"`

	QueueBrokers        []string      `envconfig:"QUEUE_BROKERS,optional"`
	QueueDatapathsTopic string        `envconfig:"QUEUE_DATAPATHS_TOPIC,default=northbound.public.datapaths"`
	QueueGroupsTopic    string        `envconfig:"QUEUE_IGMP_GROUPS_TOPIC,default=southbound.public.igmp_groups"`
	QueueRetryDelay     time.Duration `envconfig:"QUEUE_READ_RETRY_DELAY,default=1s"`

	GossipPort          int           `envconfig:"GOSSIP_PORT,optional"`
	GossipSeedNodes     []string      `envconfig:"GOSSIP_SEED_NODES,optional"`
	GossipProbeInterval time.Duration `envconfig:"GOSSIP_PROBE_INTERVAL,default=1s"`
	GossipProbeTimeout  time.Duration `envconfig:"GOSSIP_PROBE_TIMEOUT,default=500ms"`

	StatsdAddr string `envconfig:"STATSD_ADDR,optional"`

	GrpcServerAddr string `envconfig:"GRPC_SERVER_ADDR,default=0.0.0.0:9090"`
	GrpcDebug      bool   `envconfig:"GRPC_DEBUG,optional"`
	ProbeAddr      string `envconfig:"PROBE_ADDR,default=0.0.0.0:8080"`
}
