package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"

	"github.com/suPer8Hu/commerce-chat/internal/channel"
	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/db"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/commerce-chat/internal/logging"
	"github.com/suPer8Hu/commerce-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/commerce-chat/internal/store/redisstore"
)

const (
	expireFactsSpec = "@hourly"
	zaloRefreshSpec = "@every 45m"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run schema migration on startup")
	return cmd
}

func serve(migrate bool) error {
	cfg := config.Load()
	logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(cfg.DBDSN)
	if migrate {
		if err := db.Migrate(gdb); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}

	// 1) redis: token cache + shared rate limit counters, both optional
	var (
		tokenCache channel.TokenCache
		limitStore limiter.Store
	)
	if rs, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.JWTSecret); err != nil {
		log.WithError(err).Warn("redis store disabled")
	} else if err := rs.Ping(ctx); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unreachable, using in-memory caches")
		_ = rs.Close()
	} else {
		defer rs.Close()
		tokenCache = rs
		if limitStore, err = middleware.NewRedisStore(rs.Client()); err != nil {
			log.WithError(err).Warn("redis limiter store disabled")
			limitStore = nil
		}
	}

	// 2) pipeline
	rt, err := chat.Build(ctx, cfg, gdb, tokenCache)
	if err != nil {
		return err
	}
	defer rt.Close()

	// 3) async inbound jobs (optional)
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.WithError(err).Warn("rabbitmq publisher disabled, async endpoint unavailable")
		} else {
			defer pub.Close()
			rt.Service.SetPublisher(pub)
		}
	}

	// 4) scheduled jobs
	sched := cron.New()
	if _, err := sched.AddFunc(expireFactsSpec, func() {
		n, err := rt.Memory.ExpireFacts(ctx)
		if err != nil {
			log.WithError(err).Warn("expire memory facts failed")
			return
		}
		if n > 0 {
			log.WithField("count", n).Info("memory facts expired")
		}
	}); err != nil {
		return errors.Wrap(err, "schedule fact expiry")
	}
	if rt.Tokens.Configured() {
		if _, err := sched.AddFunc(zaloRefreshSpec, func() {
			if _, err := rt.Tokens.Refresh(ctx); err != nil {
				log.WithError(err).Warn("zalo token refresh failed")
			}
		}); err != nil {
			return errors.Wrap(err, "schedule zalo refresh")
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// 5) http
	r, err := httpapi.NewRouter(gdb, cfg, rt.Service, rt.Notify, limitStore)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	case <-ctx.Done():
		log.Info("server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
