package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-receiver/internal/avatar"
	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
	"github.com/tinywideclouds/go-push-receiver/internal/keystore"
	"github.com/tinywideclouds/go-push-receiver/internal/platform/shelf"
	"github.com/tinywideclouds/go-push-receiver/internal/registration"
	"github.com/tinywideclouds/go-push-receiver/internal/router"
	"github.com/tinywideclouds/go-push-receiver/internal/shortcut"
	"github.com/tinywideclouds/go-push-receiver/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-receiver/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-receiver/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-receiver/internal/token"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
	"github.com/tinywideclouds/go-push-receiver/pushreceiver"
	"github.com/tinywideclouds/go-push-receiver/pushreceiver/config"
)

//go:embed local.yaml
var configFile []byte

// credentialsKeyAlias keeps the password key apart from the push key.
const credentialsKeyAlias = "credentials_key_alias"

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-receiver")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Device State ---
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		logger.Error("Failed to create state dir", "dir", cfg.StateDir, "err", err)
		os.Exit(1)
	}
	db, err := sqlite.Open(filepath.Join(cfg.StateDir, "device.db"))
	if err != nil {
		logger.Error("Failed to open device database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	migrated, err := db.Migrate()
	if err != nil {
		logger.Error("Failed to migrate device database", "err", err)
		os.Exit(1)
	}
	logger.Info("Device database ready", "version", migrated.Version, "dirty", migrated.Dirty)
	prefs := sqlite.NewPreferences(db)

	deviceID, err := pushreceiver.EnsureDeviceID(ctx, prefs)
	if err != nil {
		logger.Error("Failed to establish device id", "err", err)
		os.Exit(1)
	}

	// --- Keys & Credentials ---
	backend, err := newKeyBackend(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize key backend", "err", err)
		os.Exit(1)
	}
	logger.Info("Key backend initialized", "type", cfg.Keystore.Backend)
	if cfg.Keystore.Backend == config.KeystoreMemory {
		logger.Warn("Memory key backend in use; keys and the stored login are lost on every restart")
	}
	pushKeys := keystore.New(backend, prefs, logger)
	credentialKeys := keystore.New(backend, prefs, logger, keystore.WithAliasPreference(credentialsKeyAlias))
	creds := credentials.NewStore(prefs, credentialKeys, logger)
	if err := dropUnreadableState(ctx, creds, pushKeys, credentialKeys); err != nil {
		logger.Error("Failed to check stored keys", "err", err)
		os.Exit(1)
	}

	// --- Redis (optional) ---
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: deviceID,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// --- Surface ---
	deviceShelf := shelf.New(shelf.Options{
		MaxShortcuts: cfg.Surface.MaxShortcuts,
		Permitted:    cfg.Surface.NotificationsPermitted,
	}, logger)

	var notifications surface.NotificationManager = deviceShelf
	if redisClient != nil {
		notifications = cache.NewNotificationStore(deviceShelf, redisClient, cfg.Redis.NotificationTTL, logger)
		logger.Info("NotificationManager upgraded", "type", "redis_backed_shelf")
	}

	var shortcuts interface {
		surface.ShortcutPublisher
		surface.ShortcutLister
	} = deviceShelf
	if cfg.FirestoreEnabled {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		shortcuts = fsStore.NewShortcutStore(fsClient, deviceID, cfg.Surface.MaxShortcuts, logger)
		logger.Info("ShortcutPublisher initialized", "type", "firestore")
	}

	// --- Avatars ---
	fetcher := avatar.NewFetcher(&http.Client{}, creds, avatar.Options{
		Size:    cfg.Avatar.Size,
		Timeout: cfg.Avatar.Timeout,
	}, logger)
	var icons router.IconSource = fetcher
	if redisClient != nil {
		icons = avatar.NewCached(fetcher, redisClient, cfg.Redis.AvatarTTL, logger)
	}

	notificationRouter := router.New(
		notifications,
		shortcut.NewManager(shortcuts, logger),
		icons,
		router.Options{Scheme: cfg.DeepLinkScheme},
		logger,
	)

	// --- Registration ---
	tokens := token.NewBroadcaster()
	registrar := registration.NewRegistrar(
		registration.Config{DeviceID: deviceID},
		tokens,
		pushKeys,
		creds,
		registration.NewHTTPServer(&http.Client{Timeout: 30 * time.Second}, cfg.RegistrationPath),
		prefs,
		logger,
	)

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.Pubsub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()
		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer creation failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Service ---
	notificationLister, _ := notifications.(surface.NotificationLister)
	service, err := pushreceiver.New(cfg, consumer, pushreceiver.Dependencies{
		Keys:          pushKeys,
		Router:        notificationRouter,
		Tokens:        tokens,
		Registrar:     registrar,
		Credentials:   creds,
		Prefs:         prefs,
		Notifications: notificationLister,
		Shortcuts:     shortcuts,
		Channels:      deviceShelf,
	}, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "device_id", deviceID, "pubsub", cfg.Pubsub.Enabled())
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newKeyBackend(cfg *config.Config, logger *slog.Logger) (keystore.Backend, error) {
	switch cfg.Keystore.Backend {
	case config.KeystoreSealed:
		secret := []byte(cfg.Keystore.Secret)
		if len(secret) == 0 {
			path := filepath.Join(cfg.StateDir, "keystore.secret")
			logger.Warn("No KEYSTORE_SECRET set; sealing keys with a generated secret in the state directory", "path", path)
			var err error
			if secret, err = keystore.LoadOrCreateSecret(path); err != nil {
				return nil, err
			}
		}
		return keystore.NewSealedFileBackend(
			filepath.Join(cfg.StateDir, "keys"),
			secret,
			keystore.DefaultArgon2Params,
		)
	case config.KeystoreMemory:
		return keystore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown keystore backend %q", cfg.Keystore.Backend)
	}
}

// dropUnreadableState clears a password and key aliases that outlived their
// key material, so the device asks for a fresh login instead of failing
// registration forever. The password goes first: it needs the old alias to
// tell a lost key apart from a readable one.
func dropUnreadableState(ctx context.Context, creds *credentials.Store, keys ...*keystore.KeyStore) error {
	if _, err := creds.DropUnreadable(ctx); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := k.DropStaleAlias(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.Pubsub.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.Pubsub.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.Pubsub.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Pubsub.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
