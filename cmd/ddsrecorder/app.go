package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ddsrecorder/internal/broker"
	"ddsrecorder/internal/config"
	"ddsrecorder/internal/constants"
	"ddsrecorder/internal/control"
	"ddsrecorder/internal/filtering"
	"ddsrecorder/internal/logger"
	"ddsrecorder/internal/output"
	"ddsrecorder/internal/payload"
	"ddsrecorder/internal/recorder"
	"ddsrecorder/pkg/health"
	"ddsrecorder/pkg/metrics"
	"ddsrecorder/pkg/middleware"
	"ddsrecorder/pkg/models"
)

type App struct {
	config  *config.Config
	logger  logger.Logger
	pool    *payload.Pool
	handler *recorder.Handler
	filter  *filtering.TopicFilter
	source  *broker.KafkaSource
	server  *http.Server
	router  *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
		pool:   payload.NewPool(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.Register()

	if err := a.initRecorder(); err != nil {
		return fmt.Errorf("failed to initialize recorder: %w", err)
	}

	if err := a.initSource(); err != nil {
		return fmt.Errorf("failed to initialize sample source: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.initServer()
	return nil
}

func (a *App) initRecorder() error {
	outSettings := output.Settings{
		Path:            a.config.Output.Path,
		Prefix:          a.config.Output.Prefix,
		MaxFileSize:     a.config.Output.MaxFileSize,
		MaxSize:         a.config.Output.MaxSize,
		SafetyMargin:    a.config.Output.SafetyMargin,
		TimestampFormat: a.config.Output.TimestampFormat,
		Compression:     a.config.Output.Compression,
		RecordTypes:     a.config.Recorder.RecordTypes,
	}

	recorderCfg := recorder.Config{
		Output:            outSettings,
		BufferSize:        a.config.Recorder.BufferSize,
		EventWindow:       a.config.Recorder.EventWindow,
		CleanupPeriod:     a.config.Recorder.CleanupPeriod,
		MaxPendingSamples: a.config.Recorder.MaxPendingSamples,
		OnlyWithSchema:    a.config.Recorder.OnlyWithSchema,
		RecordTypes:       a.config.Recorder.RecordTypes,
		Downsampling:      a.config.Recorder.Downsampling,
	}

	initState, _ := recorder.ParseState(a.config.Recorder.InitialState)

	tracker := output.NewFileTracker(outSettings, a.logger)

	handler, err := recorder.NewHandler(
		recorderCfg,
		a.pool,
		tracker,
		initState,
		func() { a.logger.Errorw("Disk full, recording disabled") },
		a.logger,
	)
	if err != nil {
		return err
	}
	a.handler = handler

	filter, err := filtering.NewTopicFilter(a.config.Recorder.TopicFilter, a.logger)
	if err != nil {
		return err
	}
	a.filter = filter

	return nil
}

func (a *App) initSource() error {
	a.source = broker.NewKafkaSource(
		a.config.Broker.Kafka,
		a.onSample,
		a.onSchema,
		a.logger,
	)
	return nil
}

func (a *App) onSample(ctx context.Context, envelope *models.SampleEnvelope) error {
	if !a.filter.Allows(ctx, envelope.Topic) {
		return nil
	}

	sample := &recorder.Sample{
		Payload:        a.pool.Wrap(envelope.Data),
		PublishTime:    envelope.PublishTime,
		ReceptionTime:  time.Now(),
		WriterGUID:     envelope.WriterGUID,
		SequenceNumber: envelope.SequenceNumber,
	}
	a.handler.AddData(envelope.Topic, sample)
	return nil
}

func (a *App) onSchema(ctx context.Context, announcement *models.TypeAnnouncement) error {
	return a.handler.AddSchema(announcement)
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	control.NewHandler(a.handler, a.logger).RegisterRoutes(router)

	checkers := health.NewCheckerRegistry()
	checkers.Register(health.NewDiskSpaceChecker(a.config.Output.Path, a.config.Output.SafetyMargin))
	checkers.Register(health.NewWriterChecker(a.handler.WriterEnabled))

	router.GET("/healthz", func(c *gin.Context) {
		result := checkers.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() {
	port := a.config.Server.Port
	if port == 0 {
		port = 8080
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds,
	}
}

// Run blocks until the context is canceled, then shuts down the control
// server, the source, and finally the recorder, which closes and renames the
// last output file.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Infow("Control server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.source.Run(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (a *App) shutdown() error {
	a.logger.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorw("Error shutting down control server", "error", err)
	}

	if err := a.source.Close(); err != nil {
		a.logger.Errorw("Error closing sample source", "error", err)
	}

	if err := a.handler.Close(); err != nil {
		a.logger.Errorw("Error closing recorder", "error", err)
	}

	a.logger.Infow("Shutdown complete")
	return nil
}
