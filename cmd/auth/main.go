package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/taskhub/internal/config"
	"github.com/Skotchmaster/taskhub/internal/events"
	"github.com/Skotchmaster/taskhub/internal/hash"
	"github.com/Skotchmaster/taskhub/internal/httpserver"
	"github.com/Skotchmaster/taskhub/internal/logging"
	loggingmw "github.com/Skotchmaster/taskhub/internal/middleware/logging"
	"github.com/Skotchmaster/taskhub/internal/middleware/ratelimit"
	"github.com/Skotchmaster/taskhub/internal/oauth"
	"github.com/Skotchmaster/taskhub/internal/provision"
	"github.com/Skotchmaster/taskhub/internal/repo"
	"github.com/Skotchmaster/taskhub/internal/service"
	"github.com/Skotchmaster/taskhub/internal/session"
	"github.com/Skotchmaster/taskhub/internal/tokens"
	"github.com/Skotchmaster/taskhub/pkg/db"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gdb, err := db.Open(initCtx, db.Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Warn("db_close_failed", "error", err)
		}
	}()

	if err := repo.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rp := &repo.GormRepo{DB: gdb}
	if cfg.SeedRoles {
		if err := rp.SeedRoles(initCtx); err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
	}

	// Redis is required for the redis session backend and optional for
	// rate limiting.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = config.NewRedisClient(initCtx, cfg)
		if err != nil {
			if cfg.SessionBackend == config.SessionBackendRedis {
				return err
			}
			logger.Warn("redis_unavailable", "error", err)
		} else {
			defer rdb.Close()
		}
	}

	var store session.Store = session.NewGormStore(gdb)
	if cfg.SessionBackend == config.SessionBackendRedis {
		store = session.NewRedisStore(rdb, cfg.RedisPrefix)
	}
	go (&session.Sweeper{Store: store, Interval: cfg.SessionSweepInterval, Logger: logger}).Run(ctx)

	tok, err := tokens.NewService(tokens.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	svc := &service.AuthService{
		Repo:        rp,
		Sessions:    store,
		Tokens:      tok,
		Provisioner: provision.New(gdb),
		Hasher:      &hash.Hasher{Cost: cfg.BcryptCost},
		Events:      pub,
		Rotation:    service.RotationPolicy{Enabled: cfg.RefreshRotation, Grace: cfg.RotationGrace},
	}

	handler := &httpserver.AuthHTTP{
		Svc: svc,
		Cookies: httpserver.CookieConfig{
			Secure: cfg.IsProduction(),
			Domain: cfg.CookieDomain,
			MaxAge: cfg.RefreshTTL,
		},
		FrontendCallbackURL: cfg.FrontendCallbackURL,
	}
	if cfg.GoogleEnabled() {
		handler.Google = oauth.NewGoogle(oauth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
		})
	}

	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.New(rdb, cfg.RedisPrefix, cfg.RateLimitEnabled)
	} else {
		limiter = ratelimit.New(nil, "", cfg.RateLimitEnabled)
	}

	ipExtractor, err := httpserver.NewIPExtractor(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		loggingmw.RequestLogger(logger),
		middleware.SecureWithConfig(middleware.SecureConfig{
			XSSProtection:      "1; mode=block",
			ContentTypeNosniff: "nosniff",
			XFrameOptions:      "DENY",
			HSTSMaxAge:         hstsMaxAge(cfg),
		}),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{cfg.FrontendOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
			AllowCredentials: true,
		}),
		middleware.BodyLimit("1M"),
	)

	httpserver.Register(e, &httpserver.Deps{
		BasePath:       cfg.BasePath,
		AuthHandler:    handler,
		Limiter:        limiter,
		IPExtractor:    ipExtractor,
		AllowedOrigins: []string{cfg.FrontendOrigin},
		Ready:          readiness(gdb, rdb),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started", "addr", srv.Addr, "env", cfg.AppEnv, "sessions", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting_down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server_shutdown_failed", "error", err)
	}
	logger.Info("shutdown_complete")
	return nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	var multi events.Multi
	for _, b := range cfg.EventBackends {
		switch strings.TrimSpace(b) {
		case "kafka":
			p, err := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return nil, err
			}
			multi = append(multi, p)
		case "rabbitmq":
			p, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue)
			if err != nil {
				return nil, err
			}
			multi = append(multi, p)
		case "elasticsearch":
			p, err := events.NewElasticAudit(events.ElasticConfig{
				URL: cfg.ESURL, Username: cfg.ESUser, Password: cfg.ESPassword, Index: cfg.ESIndex,
			})
			if err != nil {
				return nil, err
			}
			multi = append(multi, p)
		}
	}
	if len(multi) == 0 {
		return events.Nop{}, nil
	}
	return multi, nil
}

func hstsMaxAge(cfg *config.Config) int {
	if cfg.IsProduction() {
		return 31536000
	}
	return 0
}

func readiness(gdb *gorm.DB, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}
