package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/gateway/internal/config"
	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/fanout"
	"github.com/vango-dev/gateway/pkg/gateway"
	"github.com/vango-dev/gateway/pkg/metrics"
	"github.com/vango-dev/gateway/pkg/presence"
)

func serveCmd(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway server.

Settings are read from the config file, GATEWAY_* environment
variables and the flags below, in increasing precedence.

Examples:
  gatewayd serve
  gatewayd serve --addr :9000 --redis localhost:6379
  GATEWAY_AUTH_JWT_SECRET=s3cret gatewayd serve --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "Listen address")
	flags.String("redis", "", "Redis address for fan-out and presence")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, text)")
	bindFlags(v, flags, map[string]string{
		"addr":       "server.address",
		"redis":      "redis.addr",
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	return cmd
}

// bindFlags binds flags to config keys so set flags override file and
// environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// serve wires the gateway stack from cfg and runs it until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	verifier, err := auth.NewJWTVerifier(cfg.JWTConfig())
	if err != nil {
		return err
	}
	opts := []gateway.Option{gateway.WithLogger(logger)}

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	if cfg.Presence.Enabled {
		var store presence.Store
		if rdb != nil {
			store = presence.NewRedisStore(rdb)
		} else {
			store = presence.NewMemoryStore()
		}
		tracker := presence.NewTracker(store,
			presence.WithTTL(cfg.PresenceTTL()),
			presence.WithKeyPrefix(cfg.Presence.KeyPrefix),
			presence.WithInstance(cfg.Presence.Instance),
			presence.WithLogger(logger),
		)
		defer tracker.Close()
		opts = append(opts, gateway.WithPresence(tracker))
	}

	var observer *metrics.Observer
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observer = metrics.New(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRegistry(registry),
		)
		opts = append(opts, gateway.WithObserver(observer))
	}

	gw, err := gateway.New(cfg.GatewayConfig(), verifier, opts...)
	if err != nil {
		return err
	}

	srvCfg := cfg.ServerConfig()
	if observer != nil {
		observer.TrackStats(gw.Stats)
		srvCfg.MetricsHandler = observer.Handler()
	}
	srv := gateway.NewServer(gw, srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	if rdb != nil {
		srv.SetEventSink(fanout.NewPublisher(rdb, cfg.Redis.Channel))
		source := fanout.NewSource(rdb, cfg.Redis.Channel, gw, logger)
		g.Go(func() error { return source.Run(gctx) })
	}
	g.Go(func() error { return srv.Run(gctx) })

	logger.Info("gatewayd started",
		"version", version,
		"address", srvCfg.Address,
		"config", cfg.Path(),
		"redis", cfg.Redis.Addr != "",
	)
	return g.Wait()
}
