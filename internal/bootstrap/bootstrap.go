// Package bootstrap turns a loaded config into the running object graph
// shared by api-service, worker-service and dubctl.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/auth"
	"github.com/cuongbtq/dubbing-be/internal/blob"
	"github.com/cuongbtq/dubbing-be/internal/bridge"
	"github.com/cuongbtq/dubbing-be/internal/config"
	"github.com/cuongbtq/dubbing-be/internal/orchestrator"
	"github.com/cuongbtq/dubbing-be/internal/pipeline"
	"github.com/cuongbtq/dubbing-be/internal/store"
	"github.com/cuongbtq/dubbing-be/shared/database"
	"github.com/cuongbtq/dubbing-be/shared/logger"
	"github.com/cuongbtq/dubbing-be/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// OpenDatabase opens the configured SQL database
func OpenDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// OpenRabbitMQ connects to the broker and declares the advance topology
func OpenRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}, logger)
}

// OpenBlobStore returns the configured object store
func OpenBlobStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (blob.Store, error) {
	switch cfg.Driver {
	case config.StorageLocal:
		local, err := blob.NewLocalStore(cfg.LocalRoot, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.StorageGCS, "":
		gcs, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		return gcs, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

// Option adjusts Build
type Option func(*options)

type options struct {
	withoutBroker bool
	storeOpts     []store.Option
}

// WithoutBroker skips the RabbitMQ connection even in queue mode. dubctl uses
// it for read-only commands; created jobs are then left for the watchdog.
func WithoutBroker() Option {
	return func(o *options) { o.withoutBroker = true }
}

// WithStoreOptions forwards options to store.New
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// App is the wired object graph
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	DB           *database.Client
	Store        *store.Store
	Rabbit       *rabbitmq.Client // nil in inprocess mode
	Blobs        blob.Store
	Bridge       *bridge.Bridge
	YouTube      *pipeline.YouTube
	Registry     *orchestrator.Registry
	Orchestrator *orchestrator.Orchestrator
	Claims       *auth.ClaimCache
	Verifier     *auth.SessionVerifier
	Roles        *auth.RoleService

	inProcess *orchestrator.InProcessDispatcher
	cancel    context.CancelFunc
}

// Build opens every dependency and wires the pipeline into the orchestrator.
// Callers must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.DB, err = OpenDatabase(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.Store = store.New(app.DB, logger, o.storeOpts...)

	app.Blobs, err = OpenBlobStore(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	var dispatcher orchestrator.Dispatcher
	switch cfg.Pipeline.Dispatch {
	case config.DispatchInProcess:
		base, cancel := context.WithCancel(context.Background())
		app.cancel = cancel
		app.inProcess = orchestrator.NewInProcessDispatcher(base, cfg.Pipeline.InProcessLimit, logger)
		dispatcher = app.inProcess
	default:
		if !o.withoutBroker {
			app.Rabbit, err = OpenRabbitMQ(&cfg.RabbitMQ, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
			}
			dispatcher = orchestrator.NewQueueDispatcher(app.Rabbit, logger)
		}
	}
	if dispatcher != nil {
		app.Store.SetDispatcher(dispatcher)
	}

	providerHTTP := &http.Client{Timeout: cfg.Provider.Timeout}
	client := bridge.NewClient(cfg.Provider.APIKey, bridge.ClientOptions{
		BaseURL:    cfg.Provider.BaseURL,
		ModelID:    cfg.Provider.ModelID,
		HTTPClient: providerHTTP,
	}, logger)
	app.Bridge = bridge.New(
		client,
		app.Store,
		blob.NewSampleResolver(app.Blobs, providerHTTP),
		app.Blobs,
		bridge.Config{
			DefaultVoiceID: cfg.Provider.DefaultVoiceID,
			WebhookTimeout: cfg.Provider.WebhookTimeout,
		},
		logger,
	)

	app.YouTube, err = pipeline.NewYouTube(ctx, pipeline.YouTubeConfig{
		APIKey:       cfg.Pipeline.YouTube.APIKey,
		ClientID:     cfg.Pipeline.YouTube.ClientID,
		ClientSecret: cfg.Pipeline.YouTube.ClientSecret,
		RefreshToken: cfg.Pipeline.YouTube.RefreshToken,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize YouTube client: %w", err)
	}

	ai := pipeline.NewOpenAI(pipeline.OpenAIConfig{
		APIKey:          cfg.Pipeline.OpenAI.APIKey,
		BaseURL:         cfg.Pipeline.OpenAI.BaseURL,
		TranscribeModel: cfg.Pipeline.OpenAI.TranscribeModel,
		TranslateModel:  cfg.Pipeline.OpenAI.TranslateModel,
		Timeout:         cfg.Pipeline.OpenAI.Timeout,
		MaxRetries:      cfg.Pipeline.OpenAI.MaxRetries,
	}, logger)

	// without a key translation falls back to passthrough
	var translator pipeline.Translator
	if cfg.Pipeline.OpenAI.APIKey != "" {
		translator = ai
	}

	media := pipeline.NewMedia(pipeline.NewExecRunner(logger), pipeline.MediaConfig{
		YTDLPPath:  cfg.Pipeline.Media.YTDLPPath,
		FFmpegPath: cfg.Pipeline.Media.FFmpegPath,
		WorkDir:    cfg.Pipeline.Media.WorkDir,
	})

	steps := pipeline.New(pipeline.Deps{
		Blobs:       app.Blobs,
		Videos:      app.Store,
		AppConfig:   app.Store,
		Media:       media,
		Platform:    app.YouTube,
		Transcriber: ai,
		Translator:  translator,
		Speech:      app.Bridge,
	}, pipeline.Config{TTSEnabled: cfg.Pipeline.TTSEnabled}, logger)
	app.Registry = steps.Register(orchestrator.NewRegistry())

	app.Orchestrator = orchestrator.New(app.Store, app.Store, app.Registry, dispatcher, orchestrator.Config{
		StepTimeout:       cfg.Pipeline.StepTimeout,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
	}, logger)
	if app.inProcess != nil {
		app.inProcess.Bind(app.Orchestrator)
	}

	app.Claims = auth.NewClaimCache(cfg.Auth.ClaimCacheTTL)
	app.Verifier = auth.NewSessionVerifier(app.Store, app.Claims, auth.VerifierConfig{
		SessionTTL:        cfg.Auth.SessionTTL,
		DevBootstrapRoles: cfg.Auth.DevBootstrapRoles,
	}, logger)
	app.Roles = auth.NewRoleService(app.Store, app.Claims, logger)

	return app, nil
}

// Close stops in-process advances, waits for webhook deliveries and releases
// connections. It is safe on a partially built App.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.inProcess != nil {
		a.inProcess.Close()
	}
	if a.Bridge != nil {
		a.Bridge.Wait()
	}

	var errs []error
	if a.Rabbit != nil {
		if err := a.Rabbit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if closer, ok := a.Blobs.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close blob store: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
