package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"

	"task-tracker/internal/config"
	"task-tracker/internal/task-tracker/api"
	taskDB "task-tracker/internal/task-tracker/db"
	"task-tracker/internal/task-tracker/health"
	ttKafka "task-tracker/internal/task-tracker/kafka"
	"task-tracker/internal/task-tracker/recurrence"
	"task-tracker/internal/task-tracker/services"
	"task-tracker/internal/task-tracker/storage"
	gormdb "task-tracker/pkg/db"
)

func main() {
	cfg, err := config.Bootstrap(os.Stdout)
	if err != nil {
		os.Exit(1)
	}
	hlog.Info("Task Tracker Service starting...")

	appCtx, appCancel := context.WithCancel(context.Background())

	gormDB, err := gormdb.NewGormDB(cfg.DBType, cfg.DBDSN, cfg.GormLogLevel())
	if err != nil {
		hlog.Fatalf("Failed to initialize database: %v", err)
	}
	hlog.Infof("Database (%s) initialized successfully.", cfg.DBType)

	if err := gormdb.AutoMigrate(gormDB, taskDB.All()...); err != nil {
		hlog.Fatalf("Failed to migrate database: %v", err)
	}
	if err := taskDB.EnsureDefaultAssignee(gormDB); err != nil {
		hlog.Fatalf("Failed to create the %s assignee: %v", taskDB.Unassigned, err)
	}
	hlog.Info("Database migration successful.")

	runnerOpts := []recurrence.Option{recurrence.WithCatchUpMode(cfg.CatchUpMode)}
	var publisher *ttKafka.EventPublisher
	if cfg.EventsEnabled() {
		publisher = ttKafka.NewEventPublisher(ttKafka.NewKafkaProducer(cfg.KafkaBrokers, cfg.TaskEventsTopic))
		runnerOpts = append(runnerOpts, recurrence.WithPublisher(publisher))
	} else {
		hlog.Info("KAFKA_BROKERS not set, generated-task events are disabled.")
	}
	runner := recurrence.NewRunner(recurrence.NewGormStore(gormDB), runnerOpts...)

	schedulerService, err := services.NewSchedulerService(appCtx, runner, cfg.RecurrenceCron)
	if err != nil {
		hlog.Fatalf("Failed to create scheduler service: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		hlog.Fatalf("Failed to start scheduler service: %v", err)
	}

	var healthServer *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthServer = health.NewServer(cfg.GRPCHealthAddr)
		if err := healthServer.Start(); err != nil {
			hlog.Fatalf("Failed to start gRPC health server: %v", err)
		}
	}

	h := server.Default(
		server.WithHostPorts(cfg.ServerAddr),
		server.WithMaxRequestBodySize(cfg.MaxUploadBytes),
		server.WithExitWaitTime(5*time.Second),
	)
	api.RegisterRoutes(h.Engine, api.Dependencies{
		DB:         gormDB,
		Files:      storage.NewFileStore(cfg.UploadRoot),
		Recurrence: runner,
	})

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		hlog.Infof("Received signal: %s. Initiating graceful shutdown...", sig)

		if healthServer != nil {
			healthServer.Stop()
		}
		appCancel()

		shutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpShutdownCancel()
		if err := h.Shutdown(shutdownCtx); err != nil {
			hlog.Errorf("Hertz server shutdown error: %v", err)
		} else {
			hlog.Info("Hertz server gracefully stopped.")
		}

		schedulerService.Stop()
		runner.Wait()

		if publisher != nil {
			if err := publisher.Close(); err != nil {
				hlog.Errorf("Kafka producer close error: %v", err)
			} else {
				hlog.Info("Kafka producer closed.")
			}
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
		hlog.Info("Task Tracker gracefully shut down.")
	}()

	hlog.Infof("Task Tracker Service fully initialized and starting Hertz server on %s...", cfg.ServerAddr)
	h.Spin()
}
