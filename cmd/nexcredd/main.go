// Command nexcredd runs a Nexcredis node: the ledger network, its HTTP API and
// gRPC health service, the event sinks and the invariant auditor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/fhayvy/Nexcredis/internal/audit"
	"github.com/fhayvy/Nexcredis/internal/auth"
	"github.com/fhayvy/Nexcredis/internal/chain"
	"github.com/fhayvy/Nexcredis/internal/clock"
	"github.com/fhayvy/Nexcredis/internal/config"
	"github.com/fhayvy/Nexcredis/internal/events"
	"github.com/fhayvy/Nexcredis/internal/events/kafka"
	"github.com/fhayvy/Nexcredis/internal/events/redisstream"
	"github.com/fhayvy/Nexcredis/internal/httpapi"
	"github.com/fhayvy/Nexcredis/internal/invariant"
	"github.com/fhayvy/Nexcredis/internal/migrate"
	"github.com/fhayvy/Nexcredis/internal/network"
	"github.com/fhayvy/Nexcredis/internal/obs"
	"github.com/fhayvy/Nexcredis/internal/store/pg"
	"github.com/fhayvy/Nexcredis/internal/stream"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*envFile)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.SetBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("nexcredd stopped")
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg config.Env, log *logrus.Logger) error {
	g, err := config.LoadGenesis(cfg.GenesisFile, cfg.Deployer)
	if err != nil {
		return err
	}

	history := events.NewRecorder()
	live := stream.New(0)
	sinks := events.Multi{history, live}
	if cfg.AuditEvents {
		sinks = append(sinks, named("audit", audit.Sink{}))
	}

	var ready httpapi.ReadyCheck
	if cfg.DatabaseURL != "" {
		j, err := openJournal(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer j.Close()
		ready.DB = j.DB()
		sinks = append(sinks, named("journal", j))
	}
	if cfg.RedisAddr != "" {
		client, err := redisstream.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, named("redis", redisstream.New(client, cfg.RedisStream, redisstream.WithMaxLen(100_000))))
		log.WithField("stream", cfg.RedisStream).Info("redis sink enabled")
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		client, err := kafka.Dial(brokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer client.Close()
		sinks = append(sinks, named("kafka", kafka.New(client, cfg.KafkaTopic)))
		log.WithField("topic", cfg.KafkaTopic).Info("kafka sink enabled")
	}

	n, err := network.Deploy(ctx, clock.System{}, g,
		chain.WithSink(sinks),
		chain.WithLogger(log.WithField("component", "chain")),
	)
	if err != nil {
		return err
	}
	height, _ := n.Chain.Height()
	log.WithFields(logrus.Fields{"deployer": g.Deployer, "height": height, "head": n.Chain.Head()}).Info("network deployed")

	api := httpapi.New(n, httpapi.Options{
		Version:        cfg.Version,
		Ready:          ready,
		Signer:         auth.NewSigner(cfg.JWTSecret, cfg.JWTIssuer),
		TokenTTL:       cfg.TokenTTL,
		DevTokens:      cfg.DevTokens,
		History:        history,
		Stream:         live,
		CORSOrigins:    cfg.Origins(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: cfg.Proxies(),
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	auditor := invariant.New(n)
	if err := auditor.Check(ctx); err != nil {
		return fmt.Errorf("genesis audit: %w", err)
	}

	var grpcSrv *grpc.Server
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = httpapi.NewGRPCServer(ready)
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": cfg.Version}).Info("starting nexcredd")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if grpcSrv != nil {
		grp.Go(func() error {
			log.WithField("addr", grpcLis.Addr().String()).Info("starting grpc health")
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}
	grp.Go(func() error {
		return auditor.Run(gctx, cfg.AuditorSchedule)
	})
	grp.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(sctx)
	})
	return grp.Wait()
}

// openJournal migrates the journal database. The network state is not
// replayed from it, so a journal that already holds blocks is refused.
func openJournal(ctx context.Context, cfg config.Env, log *logrus.Logger) (*pg.Journal, error) {
	driver, dsn, err := cfg.Journal()
	if err != nil {
		return nil, err
	}
	j, err := pg.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	applied, err := migrate.NewManager(j.DB(), pg.Migrations(), migrate.WithLogger(log)).Up(ctx)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	block, hash, err := j.Head(ctx)
	if err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journal head: %w", err)
	}
	if block > 0 {
		_ = j.Close()
		return nil, fmt.Errorf("journal already holds %d blocks (head %s); use an empty database", block, hash)
	}
	log.WithFields(logrus.Fields{"driver": driver, "migrations": applied}).Info("journal ready")
	return j, nil
}

// named counts failures of one sink under its own label.
func named(name string, s events.Sink) events.Sink {
	return events.SinkFunc(func(ctx context.Context, b events.Batch) error {
		if err := s.Publish(ctx, b); err != nil {
			obs.SinkFailed(name)
			return fmt.Errorf("%s sink: %w", name, err)
		}
		return nil
	})
}
