// Command lifecycled serves the entity lifecycle core over HTTP: SQLite-backed
// snapshot and audit stores, the built-in kind definitions or a YAML/JSON
// configuration file, a cron janitor for the lock table, and a prometheus
// endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	lifecycle "github.com/goliatone/go-lifecycle"
	"github.com/goliatone/go-lifecycle/audit"
	"github.com/goliatone/go-lifecycle/executor"
	"github.com/goliatone/go-lifecycle/httpapi"
	"github.com/goliatone/go-lifecycle/lock"
	"github.com/goliatone/go-lifecycle/metrics"
	"github.com/goliatone/go-lifecycle/query"
	"github.com/goliatone/go-lifecycle/registry"
	"github.com/goliatone/go-lifecycle/store"
)

var cli struct {
	Addr          string        `help:"HTTP listen address." default:":8080"`
	MetricsAddr   string        `help:"Prometheus listen address." default:":9091"`
	DBPath        string        `help:"SQLite database path." default:"lifecycle.db"`
	KindsFile     string        `help:"Kind configuration file (YAML or JSON); built-in kinds when empty."`
	HiddenRole    string        `help:"Role allowed to see hidden entities." default:"supervisor"`
	LockTTL       time.Duration `help:"Mutation lock TTL." default:"30s"`
	SweepSchedule string        `help:"Cron schedule for the lock sweep." default:"@every 1m"`
	LogLevel      string        `help:"Log level." enum:"trace,debug,info,warn,error" default:"info"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("lifecycled"),
		kong.Description("Entity lifecycle and audit service."),
		kong.UsageOnError(),
	)
	logger := newGlogAdapter(cli.LogLevel)
	kctx.FatalIfErrorf(run(logger))
}

func run(logger lifecycle.Logger) error {
	kinds := registry.DefaultKinds()
	if cli.KindsFile != "" {
		cfg, err := registry.LoadFile(cli.KindsFile)
		if err != nil {
			return err
		}
		kinds = cfg.Kinds
	}
	reg, err := registry.New(kinds, registry.NewGuardRegistry())
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", cli.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	recorder, err := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	locks := lock.NewTable(lock.WithDefaultTTL(cli.LockTTL), lock.WithLogger(logger))
	janitor, err := lock.NewJanitor(locks, cli.SweepSchedule, logger)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	snapshots := store.NewSQLiteStore(db, "entities")
	auditLog := audit.New(audit.NewSQLiteStore(db, "audit_records"), audit.WithLogger(logger))

	exec, err := executor.New(reg, snapshots, auditLog, locks,
		executor.WithLogger(logger),
		executor.WithRecorder(recorder),
		executor.WithLockTTL(cli.LockTTL),
	)
	if err != nil {
		return err
	}
	gateway, err := query.New(reg, snapshots,
		query.WithHiddenRole(cli.HiddenRole),
		query.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	api, err := httpapi.New(exec, gateway, auditLog, httpapi.WithLogger(logger))
	if err != nil {
		return err
	}

	apiServer := &http.Server{Addr: cli.Addr, Handler: api.Handler()}
	metricsServer := &http.Server{Addr: cli.MetricsAddr, Handler: promhttp.Handler()}

	errs := make(chan error, 2)
	go func() {
		logger.Info("lifecycled listening on %s", cli.Addr)
		errs <- apiServer.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics listening on %s", cli.MetricsAddr)
		errs <- metricsServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("api shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown: %v", err)
	}
	return nil
}
