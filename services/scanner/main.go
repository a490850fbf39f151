// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/WikiSentinel/pkg/logging"
	"github.com/AleutianAI/WikiSentinel/pkg/masking"
	"github.com/AleutianAI/WikiSentinel/services/scanner/audit"
	"github.com/AleutianAI/WikiSentinel/services/scanner/config"
	"github.com/AleutianAI/WikiSentinel/services/scanner/crypto"
	"github.com/AleutianAI/WikiSentinel/services/scanner/datatypes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/detect"
	"github.com/AleutianAI/WikiSentinel/services/scanner/extract"
	"github.com/AleutianAI/WikiSentinel/services/scanner/observability"
	"github.com/AleutianAI/WikiSentinel/services/scanner/orchestrator"
	"github.com/AleutianAI/WikiSentinel/services/scanner/routes"
	"github.com/AleutianAI/WikiSentinel/services/scanner/source"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage/badgerstore"
	"github.com/AleutianAI/WikiSentinel/services/scanner/storage/pgstore"
	"github.com/AleutianAI/WikiSentinel/services/scanner/subscribe"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "sentinel-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("scanner-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildStores opens the configured backend and returns the three stores
// plus a close function.
func buildStores(cfg config.Config, cipher crypto.Cipher, logger *slog.Logger) (
	storage.EventStore, storage.CheckpointStore, storage.AuditStore, func(), error) {

	retention := cfg.RetentionPeriod()

	switch cfg.Storage.Backend {
	case "postgres":
		db, err := pgstore.Open(pgstore.DefaultConfig(cfg.Storage.PostgresDSN))
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return pgstore.NewEventStore(db, cipher, retention, logger),
			pgstore.NewCheckpointStore(db, logger),
			pgstore.NewAuditStore(db, retention, logger),
			func() { _ = db.Close() },
			nil

	default: // badger
		bcfg := badgerstore.DefaultConfig(cfg.Storage.Path)
		bcfg.Logger = logger
		db, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		stop := make(chan struct{})
		go badgerstore.RunGC(db, bcfg, stop)
		return badgerstore.NewEventStore(db, cipher, retention, logger),
			badgerstore.NewCheckpointStore(db, logger),
			badgerstore.NewAuditStore(db, retention, logger),
			func() { close(stop); _ = db.Close() },
			nil
	}
}

// buildSource assembles the content source. There is no wiki API client
// here; content is injected (demo seed or an external adapter implementing
// source.ContentSource). The retry decorator applies rate limiting and
// transient-failure retries regardless of the inner source.
func buildSource(cfg config.Config, logger *slog.Logger) source.ContentSource {
	mem := source.NewMemorySource()
	if v := os.Getenv("SENTINEL_DEMO"); v != "" {
		seedDemoContent(mem)
		logger.Info("demo content seeded")
	}
	return source.NewRetrySource(mem, cfg.Source.RateLimit, cfg.Source.RetryAttempts, logger)
}

// seedDemoContent loads a small corpus so the API can be exercised
// without a real wiki behind it.
func seedDemoContent(mem *source.MemorySource) {
	mem.AddSpace(datatypes.Space{Key: "RH", Name: "Ressources Humaines"}).
		AddPage("RH", datatypes.Page{
			ID:    "1001",
			Title: "Annuaire équipe",
			Body:  "Contact RH : marie.dupont@exemple.fr ou au 06 12 34 56 78.",
		}).
		AddPage("RH", datatypes.Page{
			ID:    "1002",
			Title: "Processus onboarding",
			Body:  "Les nouveaux arrivants écrivent à onboarding@exemple.fr.",
		}).
		AddSpace(datatypes.Space{Key: "DOC", Name: "Documentation"}).
		AddPage("DOC", datatypes.Page{
			ID:    "2001",
			Title: "Architecture",
			Body:  "Document technique sans donnée personnelle.",
		})
}

func main() {
	cfgPath := os.Getenv("SENTINEL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "scanner",
		LogDir:  os.Getenv("SENTINEL_LOG_DIR"),
		JSON:    true,
	})
	defer func() { _ = logger.Close() }()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	if cfg.EncryptionKey == "" {
		log.Fatalf("FATAL: SENTINEL_ENCRYPTION_KEY is required; sensitive values are encrypted at rest")
	}
	cipher, err := crypto.NewAESCipher([]byte(cfg.EncryptionKey))
	if err != nil {
		log.Fatalf("FATAL: could not initialize the PII cipher: %v", err)
	}

	events, checkpoints, audits, closeStores, err := buildStores(cfg, cipher, logger.Slog())
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer closeStores()

	metrics := observability.New(prometheus.DefaultRegisterer)
	live := config.NewLive(cfg, cfgPath, logger.Slog())

	src := buildSource(cfg, logger.Slog())

	var detector detect.PiiDetector
	if cfg.Detector.URL != "" {
		detector = detect.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Language, logger.Slog())
		slog.Info("using HTTP PII detector", "url", cfg.Detector.URL, "language", cfg.Detector.Language)
	} else {
		detector = detect.NewStaticDetector()
		slog.Warn("detector.url not set, using the built-in static pattern detector")
	}

	processor := extract.NewProcessor(src, extract.NewHeuristicExtractor(), cfg.Attachment.ExtractableExtensions)
	enricher := orchestrator.NewEnricher(
		masking.NewExtractor(cfg.PiiContext.MaxLength, cfg.PiiContext.SideLength), logger.Slog())

	orch := orchestrator.New(src, detector, processor, events, checkpoints, cipher, enricher,
		metrics, logger.Slog(), orchestrator.Options{
			BaseURL:      cfg.Source.BaseURL,
			ScanTimeout:  cfg.Scan.Timeout,
			GraceTimeout: cfg.Scan.GraceTimeout,
		})

	hub := subscribe.NewHub(cfg.Scan.KeepaliveInterval, metrics, logger.Slog())
	auditSvc := audit.NewService(events, audits, live, logger.Slog())
	purger := audit.NewPurger(audits, cfg.Audit.PurgeSchedule, metrics, logger.Slog())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("scanner-service"))
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: orch,
		Hub:          hub,
		Source:       src,
		Events:       events,
		Checkpoints:  checkpoints,
		Audit:        auditSvc,
		AuthToken:    cfg.Auth.Token,
		Logger:       logger.Slog(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("scanner server listening", "port", cfg.Server.Port, "backend", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := purger.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// Hot reload of the policy section; stops with the context.
		return live.Watch(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("scanner exited: %v", err)
	}
	slog.Info("scanner stopped")
}
