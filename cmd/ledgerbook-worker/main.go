package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledgerbook/internal/amqp"
	"ledgerbook/internal/cli"
	"ledgerbook/internal/events"
	"ledgerbook/internal/log"
	"ledgerbook/internal/services"
	"ledgerbook/internal/store"
	"ledgerbook/internal/worker"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.SetupLogger("info").Error("Configuration validation failed", log.FieldError, err.Error())
		return err
	}

	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)
	logger.Info("Starting ledgerbook-worker",
		"backend", cfg.DataBackend,
		"audit_interval", cfg.AuditInterval.String(),
		"repair", cfg.AuditRepair)

	bus := events.NewBus()
	backend, err := cli.OpenBackend(cfg, bus, logger)
	if err != nil {
		logger.Error("Failed to open backend", log.FieldError, err.Error())
		return err
	}
	defer backend.Close()

	engine := services.New(store.FromBackend(backend), cli.EngineOptions(cfg, logger))
	defer engine.Close()

	auditWorker := worker.NewAuditWorker(engine.Auditor, backend, cfg.AuditRepair, logger)

	// Without a broker the worker only sweeps on its interval.
	var consumer worker.ChangeConsumer
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			return err
		}
		defer client.Close()
		consumer = worker.Mirror(client, amqp.Inject(bus, cli.InstanceID("ledgerbook-worker")))
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	err = auditWorker.Run(ctx, consumer, cfg.AuditInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, err.Error())
		return err
	}
	<-done
	return nil
}
