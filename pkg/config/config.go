package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		EnableTracing  bool   `mapstructure:"ENABLE_TRACING"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Scheduler struct {
		RuleTickInterval  time.Duration `mapstructure:"RULE_TICK_INTERVAL"`
		DispatchInterval  time.Duration `mapstructure:"DISPATCH_INTERVAL"`
		DispatchBatchSize int           `mapstructure:"DISPATCH_BATCH_SIZE"`
		// A publish claim older than this is assumed crashed and becomes
		// eligible for retry on the next reconcile pass.
		PublishStuckAfter time.Duration `mapstructure:"PUBLISH_STUCK_AFTER"`
		RetryBaseDelay    time.Duration `mapstructure:"RETRY_BASE_DELAY"`
		RetryMaxDelay     time.Duration `mapstructure:"RETRY_MAX_DELAY"`
		// Emit a RULE_ERROR notification once a rule has been skipped this
		// many consecutive ticks because its queue is full.
		QueueSkipAlertAfter int `mapstructure:"QUEUE_SKIP_ALERT_AFTER"`
		// Deactivate a rule after this many consecutive failed executions.
		DeactivateAfterFailures int `mapstructure:"DEACTIVATE_AFTER_FAILURES"`
	} `mapstructure:"SCHEDULER"`
	OpenAI struct {
		APIKey string `mapstructure:"API_KEY"`
		Model  string `mapstructure:"MODEL"`
	} `mapstructure:"OPENAI"`
	// Social carries the OAuth app registrations used to refresh platform
	// tokens. These identify the deployment, not a company.
	Social struct {
		Instagram OAuthApp `mapstructure:"INSTAGRAM"`
		Facebook  OAuthApp `mapstructure:"FACEBOOK"`
		LinkedIn  OAuthApp `mapstructure:"LINKEDIN"`
	} `mapstructure:"SOCIAL"`
}

// OAuthApp is one platform's client registration.
type OAuthApp struct {
	ClientID     string `mapstructure:"CLIENT_ID"`
	ClientSecret string `mapstructure:"CLIENT_SECRET"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		// config.yaml is optional, env vars + defaults carry the rest
		zap.L().Warn("[Config] no config file found, using env and defaults", zap.Error(err))
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Fatal("[Config] failed to unmarshal config", zap.Error(err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "contentplane")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 30*time.Second)

	v.SetDefault("SCHEDULER.RULE_TICK_INTERVAL", time.Minute)
	v.SetDefault("SCHEDULER.DISPATCH_INTERVAL", time.Minute)
	v.SetDefault("SCHEDULER.DISPATCH_BATCH_SIZE", 50)
	v.SetDefault("SCHEDULER.PUBLISH_STUCK_AFTER", 10*time.Minute)
	v.SetDefault("SCHEDULER.RETRY_BASE_DELAY", 5*time.Minute)
	v.SetDefault("SCHEDULER.RETRY_MAX_DELAY", 2*time.Hour)
	v.SetDefault("SCHEDULER.QUEUE_SKIP_ALERT_AFTER", 3)
	v.SetDefault("SCHEDULER.DEACTIVATE_AFTER_FAILURES", 5)

	v.SetDefault("OPENAI.MODEL", "gpt-4o-mini")
}
