package pushreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-receiver/internal/api"
	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
	"github.com/tinywideclouds/go-push-receiver/internal/keystore"
	"github.com/tinywideclouds/go-push-receiver/internal/pipeline"
	"github.com/tinywideclouds/go-push-receiver/internal/registration"
	"github.com/tinywideclouds/go-push-receiver/internal/router"
	"github.com/tinywideclouds/go-push-receiver/internal/token"
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
	"github.com/tinywideclouds/go-push-receiver/pushreceiver/config"
)

// Dependencies are the assembled components the service runs.
type Dependencies struct {
	Keys        *keystore.KeyStore
	Router      *router.Router
	Tokens      *token.Broadcaster
	Registrar   *registration.Registrar
	Credentials *credentials.Store
	Prefs       keystore.Preferences

	// Optional surface capabilities; nil when the surface lacks them.
	Notifications surface.NotificationLister
	Shortcuts     surface.ShortcutLister
	Channels      surface.ChannelRegistrar
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.Batch]
	deps            Dependencies
	logger          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New assembles the service. consumer may be nil, in which case pushes only
// arrive through the HTTP ingest endpoint.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	deps Dependencies,
	logger *slog.Logger,
) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	decoder := pipeline.NewDecoder(deps.Keys, logger)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[notification.Batch]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.NewPushMessageTransformer(decoder, logger),
			pipeline.NewProcessor(deps.Router, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	var saver api.CredentialSaver = unconfiguredCredentials{}
	if deps.Credentials != nil {
		saver = deps.Credentials
	}
	var refresher api.Refresher
	if deps.Registrar != nil {
		refresher = deps.Registrar
	}
	pushAPI := api.NewPushAPI(
		pipeline.NewHandler(decoder, deps.Router),
		deps.Tokens,
		saver,
		refresher,
		deps.Notifications,
		deps.Shortcuts,
		logger,
	)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	auth := api.RequireBearer(cfg.APIToken)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(auth(handlerFunc)))
	}

	handle("POST /api/v1/push", pushAPI.Push)
	handle("PUT /api/v1/token", pushAPI.UpdateToken)
	handle("PUT /api/v1/credentials", pushAPI.SaveCredentials)
	handle("GET /api/v1/notifications", pushAPI.ListNotifications)
	handle("GET /api/v1/shortcuts", pushAPI.ListShortcuts)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		deps:            deps,
		logger:          logger,
	}, nil
}

type unconfiguredCredentials struct{}

func (unconfiguredCredentials) Save(context.Context, credentials.Credentials) error {
	return errors.New("credential storage is not configured")
}

// Start registers channels, restores the last push token, starts the
// pipeline and registrar, then serves HTTP until Shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.deps.Channels != nil {
		if err := w.deps.Channels.RegisterChannels(ctx, router.Channels()); err != nil {
			return fmt.Errorf("failed to register notification channels: %w", err)
		}
	}

	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, gctx := errgroup.WithContext(runCtx)
	w.mu.Lock()
	w.cancel = cancel
	w.group = group
	w.mu.Unlock()

	if w.deps.Registrar != nil {
		group.Go(func() error {
			return w.deps.Registrar.Run(gctx)
		})
	}
	w.restoreToken(ctx)

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// restoreToken re-publishes the token persisted by the last run so it is
// registered again even if the platform does not rotate it.
func (w *Wrapper) restoreToken(ctx context.Context) {
	if w.deps.Prefs == nil || w.deps.Tokens == nil {
		return
	}
	last, ok, err := w.deps.Prefs.Get(ctx, registration.TokenPreference)
	if err != nil {
		w.logger.Warn("Failed to read persisted push token", "err", err)
		return
	}
	if ok && last != "" {
		w.deps.Tokens.Publish(last)
		w.logger.Debug("Restored persisted push token")
	}
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error

	w.mu.Lock()
	cancel, group := w.cancel, w.group
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Registrar stopped with error.", "err", err)
			finalErr = err
		}
	}

	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
