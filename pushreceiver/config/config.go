package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	KeystoreMemory = "memory"
	KeystoreSealed = "sealed"
)

type PubsubConfig struct {
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
}

// Enabled reports whether pushes are consumed from a Pub/Sub subscription.
func (p PubsubConfig) Enabled() bool {
	return p.SubscriptionID != ""
}

type KeystoreConfig struct {
	// Backend is KeystoreMemory or KeystoreSealed.
	Backend string
	// Secret unlocks sealed key files. When empty the sealed backend uses a
	// generated secret kept in the state directory.
	Secret string
}

type RedisConfig struct {
	Enabled         bool
	Addr            string
	Password        string
	DB              int
	NotificationTTL time.Duration
	AvatarTTL       time.Duration
}

type AvatarConfig struct {
	Size    int
	Timeout time.Duration
}

type SurfaceConfig struct {
	NotificationsPermitted bool
	MaxShortcuts           int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	NumPipelineWorkers int
	StateDir           string
	APIToken           string
	DeepLinkScheme     string
	RegistrationPath   string
	FirestoreEnabled   bool

	CorsConfig middleware.CorsConfig
	Pubsub     PubsubConfig
	Keystore   KeystoreConfig
	Redis      RedisConfig
	Avatar     AvatarConfig
	Surface    SurfaceConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}
	overrideInt := func(key string, apply func(int)) {
		override(key, func(val string) {
			if n, err := strconv.Atoi(val); err == nil {
				apply(n)
			} else {
				logger.Warn("Ignoring malformed integer override", "key", key, "err", err)
			}
		})
	}
	overrideBool := func(key string, apply func(bool)) {
		override(key, func(val string) {
			if b, err := strconv.ParseBool(val); err == nil {
				apply(b)
			} else {
				logger.Warn("Ignoring malformed boolean override", "key", key, "err", err)
			}
		})
	}
	overrideDuration := func(key string, apply func(time.Duration)) {
		override(key, func(val string) {
			if d, err := time.ParseDuration(val); err == nil {
				apply(d)
			} else {
				logger.Warn("Ignoring malformed duration override", "key", key, "err", err)
			}
		})
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.Pubsub.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.Pubsub.SubscriptionDLQTopicID = v })
	override("TOPIC_ID", func(v string) { cfg.Pubsub.TopicID = v })
	overrideInt("NUM_PIPELINE_WORKERS", func(n int) {
		if n > 0 {
			cfg.NumPipelineWorkers = n
		}
	})
	override("STATE_DIR", func(v string) { cfg.StateDir = v })
	override("KEYSTORE_BACKEND", func(v string) { cfg.Keystore.Backend = strings.ToLower(v) })
	override("KEYSTORE_SECRET", func(v string) { cfg.Keystore.Secret = v })

	// Redis Overrides
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	overrideInt("REDIS_DB", func(n int) { cfg.Redis.DB = n })
	overrideBool("REDIS_ENABLED", func(b bool) { cfg.Redis.Enabled = b })

	overrideBool("FIRESTORE_ENABLED", func(b bool) { cfg.FirestoreEnabled = b })
	overrideInt("AVATAR_SIZE", func(n int) { cfg.Avatar.Size = n })
	overrideDuration("AVATAR_TIMEOUT", func(d time.Duration) { cfg.Avatar.Timeout = d })
	overrideBool("NOTIFICATIONS_PERMITTED", func(b bool) { cfg.Surface.NotificationsPermitted = b })
	overrideInt("MAX_SHORTCUTS", func(n int) { cfg.Surface.MaxShortcuts = n })
	override("DEEP_LINK_SCHEME", func(v string) { cfg.DeepLinkScheme = v })
	override("REGISTRATION_PATH", func(v string) { cfg.RegistrationPath = v })
	override("API_TOKEN", func(v string) { cfg.APIToken = v })

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Final Validation
	if (cfg.Pubsub.Enabled() || cfg.FirestoreEnabled) && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when pubsub or firestore is enabled (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Pubsub.Enabled() && cfg.Pubsub.TopicID == "" {
		return nil, fmt.Errorf("topic_id is required when subscription_id is set")
	}
	switch cfg.Keystore.Backend {
	case "":
		cfg.Keystore.Backend = KeystoreSealed
	case KeystoreMemory, KeystoreSealed:
	default:
		return nil, fmt.Errorf("unknown keystore backend %q", cfg.Keystore.Backend)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when redis is enabled")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}
	if cfg.DeepLinkScheme == "" {
		cfg.DeepLinkScheme = "matrix"
	}
	if cfg.Avatar.Size <= 0 {
		cfg.Avatar.Size = 128
	}
	if cfg.Avatar.Timeout <= 0 {
		cfg.Avatar.Timeout = 5 * time.Second
	}
	if cfg.Redis.NotificationTTL <= 0 {
		cfg.Redis.NotificationTTL = 24 * time.Hour
	}
	if cfg.Redis.AvatarTTL <= 0 {
		cfg.Redis.AvatarTTL = time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.Pubsub.Enabled() {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Pubsub.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
