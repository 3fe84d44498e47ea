package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	Enabled         bool   `yaml:"enabled"`
	NotificationTTL string `yaml:"notification_ttl"`
	AvatarTTL       string `yaml:"avatar_ttl"`
}

type YamlKeystoreConfig struct {
	Backend string `yaml:"backend"`
}

type YamlAvatarConfig struct {
	Size    int    `yaml:"size"`
	Timeout string `yaml:"timeout"`
}

type YamlSurfaceConfig struct {
	NotificationsPermitted bool `yaml:"notifications_permitted"`
	MaxShortcuts           int  `yaml:"max_shortcuts"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (keystore secret, api token) are only accepted from the environment.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	StateDir               string             `yaml:"state_dir"`
	DeepLinkScheme         string             `yaml:"deep_link_scheme"`
	RegistrationPath       string             `yaml:"registration_path"`
	FirestoreEnabled       bool               `yaml:"firestore_enabled"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	KeystoreConfig         YamlKeystoreConfig `yaml:"keystore"`
	AvatarConfig           YamlAvatarConfig   `yaml:"avatar"`
	SurfaceConfig          YamlSurfaceConfig  `yaml:"surface"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	avatarTimeout, err := parseDuration("avatar.timeout", baseCfg.AvatarConfig.Timeout)
	if err != nil {
		return nil, err
	}
	notificationTTL, err := parseDuration("redis.notification_ttl", baseCfg.RedisConfig.NotificationTTL)
	if err != nil {
		return nil, err
	}
	avatarTTL, err := parseDuration("redis.avatar_ttl", baseCfg.RedisConfig.AvatarTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		NumPipelineWorkers: baseCfg.NumPipelineWorkers,
		StateDir:           baseCfg.StateDir,
		DeepLinkScheme:     baseCfg.DeepLinkScheme,
		RegistrationPath:   baseCfg.RegistrationPath,
		FirestoreEnabled:   baseCfg.FirestoreEnabled,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Pubsub: PubsubConfig{
			TopicID:                baseCfg.TopicID,
			SubscriptionID:         baseCfg.SubscriptionID,
			SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		},
		Keystore: KeystoreConfig{
			Backend: baseCfg.KeystoreConfig.Backend,
		},
		Redis: RedisConfig{
			Addr:            baseCfg.RedisConfig.Addr,
			Password:        baseCfg.RedisConfig.Password,
			DB:              baseCfg.RedisConfig.DB,
			Enabled:         baseCfg.RedisConfig.Enabled,
			NotificationTTL: notificationTTL,
			AvatarTTL:       avatarTTL,
		},
		Avatar: AvatarConfig{
			Size:    baseCfg.AvatarConfig.Size,
			Timeout: avatarTimeout,
		},
		Surface: SurfaceConfig{
			NotificationsPermitted: baseCfg.SurfaceConfig.NotificationsPermitted,
			MaxShortcuts:           baseCfg.SurfaceConfig.MaxShortcuts,
		},
	}

	if cfg.Pubsub.Enabled() {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Pubsub.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.Pubsub.SubscriptionID,
		"keystore", cfg.Keystore.Backend,
	)

	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}
