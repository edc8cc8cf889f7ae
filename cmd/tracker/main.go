// tracker captures desktop activity and ships it to Kafka and the local store.
//
// "tracker supervise" runs the supervisor, which re-executes this binary as
// "tracker worker" and talks to it over stdin/stdout. "tracker purge" trims
// old events from the local store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"example.com/deskactivity/internal/auth"
	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/ipc"
	"example.com/deskactivity/internal/monitor"
	"example.com/deskactivity/internal/observability"
	"example.com/deskactivity/internal/persistence"
	"example.com/deskactivity/internal/supervisor"
	"example.com/deskactivity/internal/worker"
)

const usage = `usage: tracker <command> [flags]

commands:
  supervise   run the capture pipeline under a restarting supervisor
  worker      run the capture pipeline, driven over stdin/stdout
  purge       delete stored events older than --days
  token       mint a bearer token for the events API
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "supervise":
		return runSupervise(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "purge":
		return runPurge(args[1:])
	case "token":
		return runToken(args[1:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

func runSupervise(args []string) error {
	fs := pflag.NewFlagSet("tracker supervise", pflag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "[tracker] ", log.LstdFlags|log.Lshortfile)
	observability.RecordComponent("supervisor")

	launcher, err := supervisor.SelfLauncher(workerArgs(cfg)...)
	if err != nil {
		return err
	}
	sup := supervisor.New(launcher, supervisor.Config{
		MaxRestarts:    cfg.MaxRestartAttempts,
		RestartBackoff: cfg.RestartBackoffUnit,
		StopTimeout:    cfg.StopTimeout,
	},
		supervisor.WithLogger(log.New(os.Stderr, "[supervisor] ", log.LstdFlags|log.Lshortfile)),
		supervisor.WithReportHandler(func(r ipc.Report) {
			if r.Kind == ipc.ReportError {
				logger.Printf("worker error: %s", r.Message)
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := observability.ServeMetrics(ctx, cfg.MetricsAddress, logger); err != nil {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	if cfg.Pipeline.AutoStart || cfg.Pipeline.UserID != "" {
		if err := sup.Start(ctx, cfg.Pipeline); err != nil {
			return fmt.Errorf("start pipeline: %w", err)
		}
	} else {
		logger.Printf("no user id configured, waiting for SIGHUP with a config file")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	ticker := time.NewTicker(cfg.StatsInterval)
	defer ticker.Stop()

	// set once the pipeline has been seen running
	active := false

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				reload(ctx, sup, cfg, logger)
				continue
			}
			logger.Printf("received %s, stopping", sig)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopTimeout+time.Second)
			err := sup.Stop(stopCtx)
			stopCancel()
			return err
		case <-ticker.C:
			status := sup.Status()
			if status.State != supervisor.StateStopped {
				active = true
				continue
			}
			if status.LastError != "" {
				return fmt.Errorf("pipeline stopped: %s", status.LastError)
			}
			if active {
				logger.Printf("worker exited, shutting down")
				return nil
			}
		}
	}
}

// reload re-reads the pipeline section of the config file and applies it.
// Watch changes go to the running worker; anything else restarts it.
func reload(ctx context.Context, sup *supervisor.Supervisor, cfg config.Config, logger *log.Logger) {
	if cfg.ConfigFile == "" {
		logger.Printf("SIGHUP ignored: no config file")
		return
	}
	next, err := config.ReadPipeline(cfg.ConfigFile)
	if err != nil {
		logger.Printf("reload config: %v", err)
		return
	}

	err = sup.UpdateConfig(next)
	switch {
	case err == nil:
		logger.Printf("watch configuration updated")
		return
	case errors.Is(err, supervisor.ErrRestartRequired), errors.Is(err, supervisor.ErrNotRunning):
	default:
		logger.Printf("update config: %v", err)
		return
	}

	stopCtx, cancel := context.WithTimeout(ctx, cfg.StopTimeout+time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		logger.Printf("stop for restart: %v", err)
		return
	}
	if err := sup.Start(ctx, next); err != nil {
		logger.Printf("restart with new config: %v", err)
		return
	}
	logger.Printf("pipeline restarted with new configuration")
}

// workerArgs forwards the settings the worker cannot receive over ipc.
func workerArgs(cfg config.Config) []string {
	args := []string{
		"worker",
		"--store-driver", cfg.StoreDriver,
		"--store", cfg.StoreDSN,
		"--topic", cfg.KafkaTopic,
		"--metrics-address", cfg.WorkerMetricsAddress,
	}
	if cfg.ConfigFile != "" {
		args = append(args, "--config", cfg.ConfigFile)
	}
	return args
}

func runWorker(args []string) error {
	fs := pflag.NewFlagSet("tracker worker", pflag.ContinueOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	// stdout carries the ipc stream
	logger := log.New(os.Stderr, "[worker] ", log.LstdFlags|log.Lshortfile)
	observability.RecordComponent("worker")

	// the supervisor shares our terminal and sends stop on interrupt
	signal.Ignore(syscall.SIGINT)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := observability.ServeMetrics(ctx, cfg.MetricsAddress, logger); err != nil {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	factory, err := worker.NewFactory(cfg, monitor.NewCommandSource(), logger)
	if err != nil {
		return err
	}
	w := worker.New(factory,
		worker.WithLogger(logger),
		worker.WithStatsInterval(cfg.StatsInterval),
	)
	return w.Run(ctx, ipc.NewWorkerConn(os.Stdin, os.Stdout))
}

func runPurge(args []string) error {
	fs := pflag.NewFlagSet("tracker purge", pflag.ContinueOnError)
	days := fs.Int("days", persistence.DefaultRetentionDays, "delete events older than this many days")
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", *days)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := persistence.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	deleted, err := store.PurgeOlderThan(ctx, *days)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d events older than %d days\n", deleted, *days)
	return nil
}

func runToken(args []string) error {
	fs := pflag.NewFlagSet("tracker token", pflag.ContinueOnError)
	subject := fs.String("subject", "", "token subject")
	scopes := fs.StringSlice("scopes", []string{auth.ScopeEventsRead}, "granted scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	token, err := auth.Issue(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, *subject, *scopes, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
