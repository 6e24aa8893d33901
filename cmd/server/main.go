package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	router "github.com/dkeye/Broadcast/internal/adapters/http"
	"github.com/dkeye/Broadcast/internal/adapters/rtc"
	sig "github.com/dkeye/Broadcast/internal/adapters/signal"
	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/app/orch"
	"github.com/dkeye/Broadcast/internal/auth"
	"github.com/dkeye/Broadcast/internal/config"
	"github.com/dkeye/Broadcast/internal/domain"
	redisplug "github.com/dkeye/Broadcast/internal/plugins/redis"
	"github.com/dkeye/Broadcast/internal/plugins/sqlstore"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgPath string

	root := &cobra.Command{
		Use:          "broadcast",
		Short:        "One-to-many WebRTC broadcast signaling server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgPath)
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	root.Flags().Int("port", 0, "listen port")
	root.Flags().String("mode", "", "release, debug or test")
	_ = v.BindPFlag("port", root.Flags().Lookup("port"))
	_ = v.BindPFlag("mode", root.Flags().Lookup("mode"))

	root.AddCommand(newTokenCmd(v, &cfgPath))
	return root
}

func newTokenCmd(v *viper.Viper, cfgPath *string) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *cfgPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			if _, err := domain.NewUser(user); err != nil {
				return err
			}
			tok, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).GenerateToken(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := cfg.CheckTLS(); err != nil {
		log.Error().Err(err).Msg("tls material missing")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	factory, err := rtc.NewPionFactory(rtc.NetworkConfig{
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.MinPort,
		MaxPort:     cfg.Media.MaxPort,
	})
	if err != nil {
		return err
	}
	engine := rtc.NewEngine(factory, rtc.WithInitialOutgoingBitrate(cfg.Media.InitialOutgoingBitrate))
	defer engine.Close()

	scope, err := app.ParseSlotScope(cfg.Producer.Scope)
	if err != nil {
		return err
	}
	action, err := app.ParseBackpressureAction(cfg.Signal.Backpressure)
	if err != nil {
		return err
	}

	rooms := app.NewRoomManager()
	o := &orch.Orchestrator{
		Gateway:  engine,
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Slots:    app.NewProducerSlots(scope),
		Policy:   app.SimplePolicy{Action: action},
		Opts: orch.Options{
			GatewayTimeout:   cfg.Media.GatewayTimeout,
			DefaultRoom:      domain.RoomID(cfg.DefaultRoom),
			TeardownReplaced: cfg.Producer.TeardownReplaced,
			RecordingsDir:    cfg.Storage.RecordingsDir,

			MaxIncomingBitrate: cfg.Media.MaxIncomingBitrate,
		},
	}
	if err := o.OpenRouter(ctx, cfg.Media.Codecs); err != nil {
		log.Error().Err(err).Msg("create router")
		return err
	}

	if cfg.Storage.Driver != "" {
		db, err := openStore(ctx, cfg)
		if err != nil {
			log.Error().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage")
			return err
		}
		defer db.Close()
		o.Records = sqlstore.NewRepository(db)
	}
	if cfg.Redis.URL != "" {
		rdb, err := redisplug.NewRedisClient(ctx, redisplug.Config{URL: cfg.Redis.URL})
		if err != nil {
			log.Error().Err(err).Msg("redis")
			return err
		}
		defer rdb.Close()
		o.Presence = redisplug.NewPresenceStore(rdb, cfg.Redis.PresenceTTL)
	}

	var verifier sig.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	var limiter *sig.RateLimiter
	if cfg.Signal.RateLimit > 0 {
		limiter = sig.NewRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval)
	}
	ctrl := sig.NewSignalWSController(o, verifier, limiter, sig.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.Signal.SendBuffer,
		AuthRequired: cfg.Auth.Required,
	})

	go func() {
		select {
		case err := <-engine.Died():
			log.Error().Err(err).Str("module", "rtc").Msg("media engine died, exiting")
			time.Sleep(cfg.Media.WorkerExitDelay)
			os.Exit(1)
		case <-ctx.Done():
		}
	}()
	go rooms.RunReaper(ctx, cfg.Rooms.ReapInterval)

	r := router.SetupRouter(ctx, cfg, o, ctrl, engine)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.TLS.Enabled).Msg("Broadcast server started")
		var err error
		if cfg.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sqlstore.Open(ctx, sqlstore.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, err
	}
	if err := sqlstore.NewRepository(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
