package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"task-tracker/internal/config"
	"task-tracker/internal/task-notifier/consumer"
	"task-tracker/internal/task-notifier/notifiers"
)

func main() {
	cfg, err := config.Bootstrap(os.Stdout)
	if err != nil {
		os.Exit(1)
	}
	hlog.Info("Starting Task Notifier Service...")

	if !cfg.EventsEnabled() {
		hlog.Fatal("KAFKA_BROKERS must be set for the notifier.")
	}
	notifier, err := notifiers.GetNotifier(cfg.Notifier)
	if err != nil {
		hlog.Fatalf("Task Notifier: %v (known: %v)", err, notifiers.Registered())
	}

	c := consumer.New(consumer.NewKafkaReader(cfg.KafkaBrokers, cfg.TaskEventsTopic, cfg.NotifierGroupID), notifier)
	defer func() {
		if err := c.Close(); err != nil {
			hlog.Errorf("Task Notifier: error closing Kafka reader: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Task Notifier: shutdown signal received (%s). Cancelling context...", sig)
		cancel()
	}()

	hlog.Infof("Task Notifier listening for %s events with the %q notifier...", cfg.TaskEventsTopic, cfg.Notifier)
	c.Run(ctx)
	hlog.Info("Task Notifier Service has been shut down.")
}
