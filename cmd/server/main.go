package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fleetops/internal/auth"
	"fleetops/internal/broadcast"
	"fleetops/internal/config"
	"fleetops/internal/consistency"
	"fleetops/internal/db"
	"fleetops/internal/flightlog"
	"fleetops/internal/gateway"
	grpcserver "fleetops/internal/grpc"
	"fleetops/internal/httpapi"
	"fleetops/internal/influx"
	"fleetops/internal/logging"
	natsclient "fleetops/internal/nats"
	"fleetops/internal/progress"
	redisclient "fleetops/internal/redis"
	"fleetops/models"
	"fleetops/repository"
)

func main() {
	dev := flag.Bool("dev", false, "use a development JWT secret when JWT_SECRET is unset")
	issue := flag.String("issue-token", "", "print a signed token for name:kind and exit")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token; 0 never expires")
	flag.Parse()

	if *issue != "" {
		if err := issueToken(*dev, *issue, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "fleetops: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(*dev); err != nil {
		fmt.Fprintf(os.Stderr, "fleetops: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(dev bool) (*config.Config, error) {
	load := config.Load
	if dev {
		load = config.LoadWithDefaults
	}
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func issueToken(dev bool, spec string, ttl time.Duration) error {
	cfg, err := loadConfig(dev)
	if err != nil {
		return err
	}
	name, kind, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("-issue-token wants name:kind, got %q", spec)
	}
	tok, err := auth.Issue(cfg.Auth.JWTSecret, name, kind, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func run(dev bool) error {
	cfg, err := loadConfig(dev)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, GraylogAddress: cfg.Log.GraylogAddress})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = closeLog() }()
	log.Info().Stringer("config", cfg).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open DB
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Error().Err(err).Msg("close db")
		}
	}()
	if v, err := db.CurrentVersion(d); err == nil {
		log.Info().Int("schema_version", v).Str("path", cfg.Database.Path).Msg("database ready")
	}
	store := repository.NewStore(d)
	if err := bootstrapAdmin(ctx, store, cfg.Auth.BootstrapAdmin, log); err != nil {
		return err
	}

	bus, err := broadcast.New(log, broadcast.WithBuffer(cfg.Broadcast.SubscriberBuffer))
	if err != nil {
		return fmt.Errorf("init broadcaster: %w", err)
	}
	defer bus.Close()

	sinks, cache, history, closeSinks := openSinks(ctx, cfg, log)
	defer closeSinks()

	gw, err := gateway.New(store, bus,
		progress.NewTracker(progress.Proximity(cfg.Mission.ProximityMeters, cfg.Mission.AltitudeToleranceMeters)),
		consistency.NewManager(log),
		log,
		gateway.Config{
			MaxRetries:          cfg.Mission.MaxRetries,
			AutoComplete:        cfg.Mission.AutoComplete,
			TelemetryTimeout:    cfg.Mission.TelemetryTimeout,
			HealthCheckInterval: cfg.Mission.HealthCheckInterval,
		},
		gateway.WithSinks(sinks...),
	)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	go func() {
		if err := gw.NewMonitor().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("telemetry monitor stopped")
		}
	}()

	// Start gRPC
	stopGRPC, err := grpcserver.StartGRPC(cfg, &grpcserver.MissionServer{Users: store.Users, Gateway: gw, Bus: bus, Log: log})
	if err != nil {
		return fmt.Errorf("start grpc: %w", err)
	}

	api := &httpapi.Server{Users: store.Users, Gateway: gw, Bus: bus, DB: store, Secret: cfg.Auth.JWTSecret, Log: log}
	// Assigned only when configured so the handlers see a nil interface otherwise.
	if cache != nil {
		api.Telemetry = cache
	}
	if history != nil {
		api.History = history
	}
	stopHTTP, err := httpapi.Start(cfg, api)
	if err != nil {
		return fmt.Errorf("start http: %w", err)
	}

	if cfg.NATS.URL != "" {
		nc, err := natsclient.New(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		if _, err := nc.SubscribeTelemetry(cfg.NATS.TelemetrySubject, cfg.NATS.QueueGroup, gw); err != nil {
			return err
		}
		go func() {
			if err := nc.RelayEvents(ctx, bus, cfg.NATS.EventPrefix); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}

	// Wait for signal
	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Ends open event streams so graceful stops do not wait on them.
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stopHTTP(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := stopGRPC(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("grpc shutdown")
	}
	return nil
}

func bootstrapAdmin(ctx context.Context, store *repository.Store, name string, log zerolog.Logger) error {
	if name == "" {
		return nil
	}
	u, err := store.Users.GetByUsername(ctx, name)
	if err != nil {
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}
	if u != nil {
		return nil
	}
	if _, err := store.Users.Create(ctx, name, models.RoleAdmin); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	log.Info().Str("user", name).Msg("bootstrap admin created")
	return nil
}

// openSinks connects the optional integrations. A failing integration is logged and skipped.
func openSinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]gateway.Sink, *redisclient.Client, *flightlog.Client, func()) {
	var (
		sinks   []gateway.Sink
		cache   *redisclient.Client
		history *flightlog.Client
		closers []func()
	)
	if cfg.Redis.Addr != "" {
		c, err := redisclient.New(cfg.Redis.Addr, cfg.Redis.TelemetryTTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis telemetry cache disabled")
		} else {
			cache = c
			sinks = append(sinks, c)
			closers = append(closers, func() { _ = c.Close() })
		}
	}
	if cfg.FlightLog.DSN != "" {
		c, err := flightlog.New(cfg.FlightLog.DSN)
		if err == nil {
			err = c.EnsureSchema(ctx)
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("flight log disabled")
		} else {
			history = c
			sinks = append(sinks, c)
			closers = append(closers, func() { _ = c.Close() })
		}
	}
	if cfg.Influx.URL != "" {
		w, err := influx.New(ctx, influx.Options{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("influx metrics disabled")
		} else {
			sinks = append(sinks, w)
			closers = append(closers, w.Close)
		}
	}
	return sinks, cache, history, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
