// Command goguard-server runs the goGuard engine behind a JSON API.
//
//	goguard-server -config /etc/goguard/config.yaml
//	goguard-server -cleanup   # delete expired audit events and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/config"
	"github.com/MrEthical07/goGuard/internal/httpapi"
	"github.com/MrEthical07/goGuard/internal/observability"
	"github.com/MrEthical07/goGuard/mail"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/store"
	"github.com/MrEthical07/goGuard/store/gormstore"
	"github.com/MrEthical07/goGuard/store/memstore"
	"github.com/MrEthical07/goGuard/store/sqlstore"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		cfgFile = flag.String("config", "", "config file (default: search ./, ./configs, /etc/goguard)")
		cleanup = flag.Bool("cleanup", false, "delete audit events past retention and exit")
	)
	flag.Parse()

	if err := run(*cfgFile, *cleanup); err != nil {
		fmt.Fprintf(os.Stderr, "goguard-server: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgFile string, cleanupOnly bool) error {
	settings, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := observability.NewLogger(observability.LoggerConfig{
		Level:   settings.Log.Level,
		Format:  settings.Log.Format,
		Service: "goguard",
	})
	if err := observability.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment); err != nil {
		log.WithError(err).Warn("sentry disabled")
	}
	defer observability.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer closeQuietly(log, "store", st)

	mailer, err := newMailer(settings, log)
	if err != nil {
		return err
	}
	if c, ok := mailer.(interface{ Close() }); ok {
		defer c.Close()
	}

	engineCfg, err := settings.EngineConfig()
	if err != nil {
		return err
	}
	builder := goGuard.New().
		WithConfig(engineCfg).
		WithStore(st).
		WithMailer(mailer).
		WithLogger(log).
		WithErrorReporter(observability.NewSentryReporter(nil))
	if settings.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer closeQuietly(log, "redis", rdb)
		builder = builder.WithRedis(rdb)
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if cleanupOnly {
		n, err := engine.CleanupAuditEvents(ctx, settings.Audit.Retention)
		if err != nil {
			return err
		}
		log.WithField("deleted", n).Info("audit cleanup finished")
		return nil
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestLogger(log))
	httpapi.Register(e, engine, httpapi.Options{
		TrustProxy:     settings.Server.TrustProxy,
		AdminToken:     settings.Server.AdminToken,
		AuditRetention: settings.Audit.Retention,
		Logger:         log,
	})
	if settings.Metrics.Enabled {
		h, err := promexport.Handler(engine)
		if err != nil {
			return err
		}
		e.GET("/metrics", echo.WrapHandler(h))
	}

	srv := &http.Server{
		Addr:         settings.Server.Addr,
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "driver": settings.Store.Driver}).Info("goguard-server listening")
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

type closableStore interface {
	store.Store
	io.Closer
}

func openStore(ctx context.Context, s *config.Settings) (closableStore, error) {
	switch s.Store.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite, config.DriverPostgres:
		dialect := sqlstore.SQLite
		if s.Store.Driver == config.DriverPostgres {
			dialect = sqlstore.Postgres
		}
		return sqlstore.Open(ctx, sqlstore.Config{
			Dialect:         dialect,
			DSN:             s.Store.DSN,
			MaxOpenConns:    s.Store.MaxOpenConns,
			MaxIdleConns:    s.Store.MaxIdleConns,
			ConnMaxLifetime: s.Store.ConnMaxLifetime,
		})
	case config.DriverGorm:
		return gormstore.Open(ctx, gormstore.Config{
			DSN:             s.Store.DSN,
			MaxOpenConns:    s.Store.MaxOpenConns,
			MaxIdleConns:    s.Store.MaxIdleConns,
			ConnMaxLifetime: s.Store.ConnMaxLifetime,
			Debug:           s.Log.Level == "debug",
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", s.Store.Driver)
}

func newMailer(s *config.Settings, log logrus.FieldLogger) (mail.Dispatcher, error) {
	switch {
	case s.SMTP.Host == "":
		log.Warn("smtp.host not set, mail is logged instead of sent")
		return mail.NewLogDispatcher(log), nil
	case s.SMTP.Pool:
		return mail.NewPoolDispatcher(s.SMTPConfig())
	default:
		return mail.NewDirectDispatcher(s.SMTPConfig())
	}
}

func requestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogMethod:    true,
		LogURIPath:   true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			log.WithFields(logrus.Fields{
				"status":     v.Status,
				"method":     v.Method,
				"path":       v.URIPath,
				"latency_ms": v.Latency.Milliseconds(),
				"request_id": v.RequestID,
			}).Info("request")
			return nil
		},
	})
}

func closeQuietly(log logrus.FieldLogger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.WithError(err).WithField("component", name).Warn("close failed")
	}
}
