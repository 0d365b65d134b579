package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Sh00ty/mcast-northd/internal/idalloc"
	"github.com/Sh00ty/mcast-northd/internal/memberlist"
	"github.com/Sh00ty/mcast-northd/internal/metrics"
	"github.com/Sh00ty/mcast-northd/internal/reconciler"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
)

const serviceName = "mcast-northd"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to load .env file")
	}

	appCfg := Config{}
	err = envconfig.Init(&appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(appCfg.LoggerLevel)).
		With().Str("node", appCfg.NodeID).Logger()

	log.Warn().Msgf("running node %s: store=%s, input=%s", appCfg.NodeID, appCfg.StoreBackend, appCfg.InputSource)

	var m metrics.Metrics = metrics.Nop{}
	if appCfg.StatsdAddr != "" {
		statsd := metrics.NewStatsd(appCfg.NodeID, appCfg.StatsdAddr)
		defer statsd.Close()
		m = statsd
	}

	alloc, err := idalloc.New(
		idalloc.Range{Min: appCfg.TunnelKeyMin, Max: appCfg.TunnelKeyMax},
		log.Logger,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("bad tunnel key range")
	}

	notifier := snapshot.NewNotifier()
	defer notifier.Close()
	input := snapshot.NewStore(notifier)

	out, err := newBackend(ctx, appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init output store")
	}
	defer out.close()

	sources, err := newInputSources(ctx, appCfg, out, input)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init input source")
	}

	reconcilerCfg := reconciler.DefaultConfig()
	reconcilerCfg.ForceReconcileInterval = appCfg.ForceReconcileInterval
	reconcilerCfg.RetryDelay = appCfg.RetryRoundDelay
	reconcilerCfg.RoundTimeout = appCfg.RoundTimeout
	reconcilerCfg.CommitAttempts = appCfg.CommitAttempts
	reconcilerCfg.MinRoundInterval = appCfg.MinRoundInterval
	reconcilerCfg.ChassisDeathDelay = appCfg.ChassisDeathDelay
	rec := reconciler.NewReconciler(input, out.output, alloc, m, notifier.C(), reconcilerCfg, log.Logger)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rec.Run(ctx)
	})
	for _, run := range sources {
		eg.Go(func() error {
			return run(ctx)
		})
	}

	if appCfg.GossipPort != 0 {
		memberList, err := memberlist.New(memberlist.Config{
			NodeName:            appCfg.NodeID,
			Port:                appCfg.GossipPort,
			GossipProbeInterval: appCfg.GossipProbeInterval,
			GossipProbeTimeout:  appCfg.GossipProbeTimeout,
			SeedNodes:           appCfg.GossipSeedNodes,
		}, rec, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init memberlist: chassis liveness unavailable")
		}
		err = memberList.Join(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to join gossip cluster")
		}
		log.Info().Msg("successfully joined gossip cluster")
		eg.Go(func() error {
			return memberList.Run(ctx)
		})
		defer func() {
			err := memberList.GracefulClose(time.Second)
			if err != nil {
				log.Error().Err(err).Msg("failed to leave gossip cluster")
			}
		}()
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	if appCfg.GrpcDebug {
		reflection.Register(srv)
	}
	go func() {
		log.Info().Msgf("running grpc server on %s", appCfg.GrpcServerAddr)

		ls, err := net.Listen("tcp", appCfg.GrpcServerAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bind server addr")
		}
		err = srv.Serve(ls)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start serving grpc requests")
		}
	}()
	defer srv.GracefulStop()

	serverClose := startProbeServer(appCfg.ProbeAddr)
	defer serverClose()

	eg.Go(func() error {
		return lead(ctx, out.elector, func(ctx context.Context) error {
			healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
			defer healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

			return leaderTerm(ctx, rec.GetEventsChan())
		})
	})

	err = eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("stopped with error")
	}
	log.Warn().Msg("shutting down")
}

// lead runs fn for every leadership term until ctx is done.
func lead(ctx context.Context, elector Elector, fn func(ctx context.Context) error) error {
	for {
		log.Info().Msg("campaign for leadership")
		lost, err := elector.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("leader campaign: %w", err)
		}

		termCtx, cancelTerm := context.WithCancel(ctx)
		go func() {
			select {
			case <-lost:
				log.Warn().Msg("lost leadership")
				cancelTerm()
			case <-termCtx.Done():
			}
		}()
		err = fn(termCtx)
		cancelTerm()
		if err != nil {
			return err
		}

		resignCtx, cancelResign := context.WithTimeout(context.Background(), time.Second)
		err = elector.Resign(resignCtx)
		cancelResign()
		if err != nil {
			log.Error().Err(err).Msg("failed to resign leadership")
		}
		if ctx.Err() != nil {
			log.Info().Msg("go off as a leader")
			return nil
		}
	}
}

// leaderTerm lets the reconciler run rounds until the term is over.
func leaderTerm(ctx context.Context, events chan<- reconciler.Event) error {
	events <- reconciler.Event{Type: reconciler.LeadershipAcquired}
	<-ctx.Done()
	events <- reconciler.Event{Type: reconciler.LeadershipLost}
	return nil
}

func startProbeServer(addr string) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	srv := http.Server{
		Handler: mux,
		Addr:    addr,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
