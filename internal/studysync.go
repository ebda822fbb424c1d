/*
 *    Copyright 2025 blockarchitech
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package studysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockarchitech.com/studysync/internal/config"
	"blockarchitech.com/studysync/internal/handler"
	"blockarchitech.com/studysync/internal/repository"
	"blockarchitech.com/studysync/internal/service"
	"blockarchitech.com/studysync/internal/storage"
	"blockarchitech.com/studysync/internal/view"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// App wires configuration, storage and services together.
type App struct {
	logger *zap.Logger
	cfg    *config.Config

	tp           *sdktrace.TracerProvider
	tracer       trace.Tracer
	store        *repository.Store
	locker       storage.Locker
	accounts     *service.AccountService
	orchestrator *service.SyncOrchestrator
	reminders    *service.ReminderEngine
	scheduler    *service.Scheduler
	server       *http.Server
}

// NewApp loads the configuration and connects to storage.
func NewApp(ctx context.Context, logger *zap.Logger) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &App{logger: logger, cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if a.cfg.OtelExporterEndpoint != "" {
		tp, err := a.initTracerProvider(ctx)
		if err != nil {
			return err
		}
		a.tp = tp
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	a.tracer = otel.Tracer("studysync")

	store, err := a.initStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	locker, err := a.initLocker(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize job locker: %w", err)
	}
	a.locker = locker

	clock := service.SystemClock{}
	loc := a.cfg.Location()

	classroom := service.NewClassroomService(a.cfg.GoogleOAuthConfig, a.cfg.ClassroomRPS, a.tracer, a.logger)
	push := service.NewExpoPushService(a.cfg.ExpoPushURL, a.cfg.ExpoAccessToken, a.tracer, a.logger)

	credentials := service.NewCredentialManager(store.Connections, classroom, clock, a.tracer, a.logger)
	syncer := service.NewCourseSyncService(credentials, store.Courses, store.Tasks, clock, a.tracer, a.logger)
	notifier := service.NewNotificationService(store.Preferences, store.PushTokens, push, clock, loc, a.tracer, a.logger)

	a.accounts = service.NewAccountService(store.Connections, store.Courses, classroom, clock, a.tracer, a.logger)
	a.orchestrator = service.NewSyncOrchestrator(store.Connections, store.Tasks, syncer, notifier, clock, a.tracer, a.logger)
	a.reminders = service.NewReminderEngine(store, notifier, clock, loc, a.tracer, a.logger)
	a.scheduler = service.NewScheduler(service.SchedulerConfig{
		SyncInterval:     a.cfg.SyncInterval,
		ReminderInterval: a.cfg.ReminderInterval,
		LockTTL:          a.cfg.JobLockTTL,
	}, a.orchestrator, a.reminders, locker, a.logger)
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Accounts returns the account linking service.
func (a *App) Accounts() *service.AccountService { return a.accounts }

// RunSyncOnce runs one sync pass through the job guard.
func (a *App) RunSyncOnce(ctx context.Context) (service.SyncSummary, error) {
	return a.scheduler.RunSyncNow(ctx)
}

// RunRemindersOnce runs one reminder pass through the job guard.
func (a *App) RunRemindersOnce(ctx context.Context) (service.ReminderSummary, error) {
	return a.scheduler.RunRemindersNow(ctx)
}

// Serve starts the scheduler and the ops server and blocks until SIGINT or SIGTERM.
func (a *App) Serve() error {
	templates, err := view.NewHTMLTemplateManager(a.logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	handlers := handler.NewHttpHandlers(a.logger, a.cfg, a.accounts, a.scheduler, templates, a.tracer)
	router := a.setupRouter(handlers)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if err := a.scheduler.Start(); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", zap.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-quit:
		a.logger.Info("Server shutting down...")
	case err := <-serverErr:
		a.logger.Error("Could not listen on address", zap.String("address", a.server.Addr), zap.Error(err))
		runErr = err
	}

	a.scheduler.Stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := a.server.Shutdown(ctxShutdown); err != nil {
		a.logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}
	a.logger.Info("Server exited properly")
	return runErr
}

// Close releases storage, the locker and the tracer provider.
func (a *App) Close() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.logger.Error("Error closing job locker", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Error closing storage", zap.Error(err))
		}
	}
	if a.tp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tp.Shutdown(ctx); err != nil {
			a.logger.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}
}

func (a *App) initTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(a.cfg.OtelExporterEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("studysync"),
			semconv.ServiceVersionKey.String(a.cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	a.logger.Info("OTLP HTTP trace exporter initialized", zap.String("endpoint", a.cfg.OtelExporterEndpoint))
	return tp, nil
}

func (a *App) initStore(ctx context.Context) (*repository.Store, error) {
	switch a.cfg.StorageType {
	case config.StorageFirestore:
		return repository.NewFirestoreStore(ctx, a.cfg.GCPProjectID, a.logger, a.cfg)
	case config.StorageSQLite:
		return repository.NewGormStore(a.cfg, a.logger)
	case config.StorageInMemory:
		a.logger.Warn("using inmemory storage. Did you mean to do this?")
		return repository.NewInMemoryStore(a.logger), nil
	default:
		return nil, fmt.Errorf("invalid storage type: %s", a.cfg.StorageType)
	}
}

// initLocker prefers Redis, then Firestore when it is the store, then a
// process-local locker.
func (a *App) initLocker(ctx context.Context) (storage.Locker, error) {
	switch {
	case a.cfg.RedisAddr != "":
		l, err := storage.NewRedisLocker(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case a.cfg.StorageType == config.StorageFirestore:
		l, err := storage.NewFirestoreLocker(ctx, a.cfg.GCPProjectID, a.logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return storage.NewInMemoryLocker(a.logger), nil
	}
}

func (a *App) setupRouter(handlers *handler.HttpHandlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if a.tp != nil {
		router.Use(otelgin.Middleware("studysync-http", otelgin.WithTracerProvider(a.tp)))
	}

	handlers.RegisterRoutes(router)
	return router
}
