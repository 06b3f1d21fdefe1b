// Package config loads service configuration from defaults, an optional
// config.yaml, a .env file and SUPPORT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

const EnvPrefix = "SUPPORT"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	NATS      NATSConfig      `mapstructure:"nats"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"   validate:"min=1024"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  validate:"min=100ms"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"           validate:"oneof=postgres memory"`
	URL            string `mapstructure:"url"              validate:"required_if=Driver postgres"`
	MaxConns       int32  `mapstructure:"max_conns"        validate:"min=1"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// RedisConfig is optional: an empty URL disables the conversation cache and
// the media resolution queue.
type RedisConfig struct {
	URL             string        `mapstructure:"url"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl" validate:"min=0"`
}

type QueueConfig struct {
	Concurrency int    `mapstructure:"concurrency" validate:"min=1"`
	Queues      string `mapstructure:"queues"`
	MaxRetry    int    `mapstructure:"max_retry"   validate:"min=0"`
}

// NATSConfig is optional: an empty URL keeps notifications node-local.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Stream        string        `mapstructure:"stream"         validate:"required_with=URL"`
	SubjectPrefix string        `mapstructure:"subject_prefix" validate:"required_with=URL"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

type WhatsAppConfig struct {
	APIURL         string        `mapstructure:"api_url"          validate:"required,url"`
	APIVersion     string        `mapstructure:"api_version"      validate:"required"`
	PhoneNumberID  string        `mapstructure:"phone_number_id"`
	AccessToken    string        `mapstructure:"access_token"`
	VerifyToken    string        `mapstructure:"verify_token"     validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout"          validate:"min=1s"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"min=1024"`
}

type WebhookConfig struct {
	RequireMessages bool          `mapstructure:"require_messages"`
	FirstChangeOnly bool          `mapstructure:"first_change_only"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout" validate:"min=100ms"`
}

type SchedulerConfig struct {
	MediaBackfill      string        `mapstructure:"media_backfill"`
	MediaBackfillAge   time.Duration `mapstructure:"media_backfill_age"   validate:"min=0"`
	MediaBackfillBatch int           `mapstructure:"media_backfill_batch" validate:"min=1"`
}

// Load resolves configuration in order: defaults, config.yaml found in one of
// paths (the working directory when none is given), then environment. A
// missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config file: %v", ErrConfiguration, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.conversation_ttl", 30*time.Minute)

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", "media=2,default=1")
	v.SetDefault("queue.max_retry", 10)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "SUPPORT_EVENTS")
	v.SetDefault("nats.subject_prefix", "support.conversation")
	v.SetDefault("nats.max_age", 24*time.Hour)

	v.SetDefault("whatsapp.api_url", "https://graph.facebook.com")
	v.SetDefault("whatsapp.api_version", "v20.0")
	v.SetDefault("whatsapp.phone_number_id", "")
	v.SetDefault("whatsapp.access_token", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.timeout", 15*time.Second)
	v.SetDefault("whatsapp.max_upload_bytes", 16<<20)

	v.SetDefault("webhook.require_messages", true)
	v.SetDefault("webhook.first_change_only", false)
	v.SetDefault("webhook.process_timeout", 20*time.Second)

	v.SetDefault("scheduler.media_backfill", "*/5 * * * *")
	v.SetDefault("scheduler.media_backfill_age", 2*time.Minute)
	v.SetDefault("scheduler.media_backfill_batch", 100)
}

// bindLegacyEnv keeps the unprefixed variable names older deployments use.
// The prefixed name is listed first and wins when both are set.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DB_URL")
	_ = v.BindEnv("redis.url", EnvPrefix+"_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("nats.url", EnvPrefix+"_NATS_URL", "NATS_URL")
	_ = v.BindEnv("whatsapp.verify_token", EnvPrefix+"_WHATSAPP_VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN")
	_ = v.BindEnv("whatsapp.access_token", EnvPrefix+"_WHATSAPP_ACCESS_TOKEN", "WHATSAPP_ACCESS_TOKEN")
	_ = v.BindEnv("whatsapp.phone_number_id", EnvPrefix+"_WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_PHONE_NUMBER_ID")
}
