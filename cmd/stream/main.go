// stream follows the activity topic and shows events as they arrive, either
// in a terminal view or as log lines with --plain.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/observability"
	"example.com/deskactivity/internal/stream"
	"example.com/deskactivity/internal/tui"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	plain := fs.Bool("plain", false, "print events as log lines instead of the terminal view")
	logFile := fs.String("log-file", "", "write consumer logs to this file while the terminal view is active")
	cfg, err := config.Load(fs, args)
	if err != nil {
		return err
	}
	observability.RecordComponent("stream")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// the terminal view owns the screen, so logs go elsewhere
	var logOut io.Writer = os.Stderr
	if !*plain {
		logOut = io.Discard
		if *logFile != "" {
			f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logOut = f
		}
	}
	logger := log.New(logOut, "[stream] ", log.LstdFlags|log.Lshortfile)

	go func() {
		if err := observability.ServeMetrics(ctx, cfg.MetricsAddress, logger); err != nil {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	consumer := stream.New(
		stream.KafkaDialer(stream.KafkaConfig{
			Brokers: []string{cfg.Pipeline.BrokerAddress},
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.ConsumerGroupID,
		}),
		stream.WithLogger(logger),
		stream.WithWindowSize(cfg.StreamWindowSize),
		stream.WithStatsInterval(cfg.StreamStatsInterval),
		stream.WithReconnectInterval(cfg.StreamReconnectInterval),
	)

	if *plain {
		return runPlain(ctx, consumer, logger)
	}
	return runView(ctx, cancel, consumer, cfg.StreamWindowSize)
}

func runPlain(ctx context.Context, consumer *stream.Consumer, logger *log.Logger) error {
	unsubscribe := consumer.Subscribe(func(evt events.ActivityEvent) {
		logger.Printf("%s %s %s", evt.Timestamp.Format("15:04:05"), evt.EventType, evt.EventID)
	})
	defer unsubscribe()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runView(ctx context.Context, cancel context.CancelFunc, consumer *stream.Consumer, limit int) error {
	program := tea.NewProgram(
		tui.NewModel(consumer.Recent(), tui.WithLimit(limit), tui.WithClear(consumer.Clear)),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	detach := tui.Attach(program, consumer)
	defer detach()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	_, err := program.Run()
	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
