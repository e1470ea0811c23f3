/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the tontine-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                     string `mapstructure:"SERVER_PORT"`
	DatabaseURL                    string `mapstructure:"DATABASE_URL"`
	RedisURL                       string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix           string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                    string `mapstructure:"RABBITMQ_URL"`
	GatewayEventQueue              string `mapstructure:"GATEWAY_EVENT_QUEUE"`
	GatewayAPIBaseURL              string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey                  string `mapstructure:"GATEWAY_API_KEY"`
	JWTSecret                      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey                 string `mapstructure:"INTERNAL_API_KEY"`
	DefaultCurrency                string `mapstructure:"DEFAULT_CURRENCY"`
	InvitationTTLHours             int    `mapstructure:"INVITATION_TTL_HOURS"`
	RefundMaxAttempts              int    `mapstructure:"REFUND_MAX_ATTEMPTS"`
	RefundPollIntervalSeconds      int    `mapstructure:"REFUND_POLL_INTERVAL_SECONDS"`
	RefundStaleAfterSeconds        int    `mapstructure:"REFUND_STALE_AFTER_SECONDS"`
	ContributionRateLimitPerMinute int    `mapstructure:"CONTRIBUTION_RATE_LIMIT_PER_MINUTE"`
	InviteRateLimitPerMinute       int    `mapstructure:"INVITE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("GATEWAY_EVENT_QUEUE", "tontine_service.charge_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "tontine:rate_limit")
	viper.SetDefault("DEFAULT_CURRENCY", "XOF")
	viper.SetDefault("INVITATION_TTL_HOURS", 72)
	viper.SetDefault("REFUND_MAX_ATTEMPTS", 8)
	viper.SetDefault("REFUND_POLL_INTERVAL_SECONDS", 15)
	viper.SetDefault("REFUND_STALE_AFTER_SECONDS", 300)
	viper.SetDefault("CONTRIBUTION_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("INVITE_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TONTINE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_EVENT_QUEUE")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TONTINE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("INVITATION_TTL_HOURS")
	_ = viper.BindEnv("REFUND_MAX_ATTEMPTS")
	_ = viper.BindEnv("REFUND_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("REFUND_STALE_AFTER_SECONDS")
	_ = viper.BindEnv("CONTRIBUTION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("INVITE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TONTINE_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "tontine:rate_limit"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "XOF"
	}

	if config.InvitationTTLHours <= 0 {
		config.InvitationTTLHours = 72
	}
	if config.RefundMaxAttempts <= 0 {
		config.RefundMaxAttempts = 8
	}
	if config.RefundPollIntervalSeconds <= 0 {
		config.RefundPollIntervalSeconds = 15
	}
	if config.RefundStaleAfterSeconds <= 0 {
		config.RefundStaleAfterSeconds = 300
	}
	if config.ContributionRateLimitPerMinute <= 0 {
		config.ContributionRateLimitPerMinute = 30
	}
	if config.InviteRateLimitPerMinute <= 0 {
		config.InviteRateLimitPerMinute = 60
	}

	return
}
