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

// Config holds all the configuration variables for the booking-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	BookingEventExchange      string `mapstructure:"BOOKING_EVENT_EXCHANGE"`
	CheckoutAPIBaseURL        string `mapstructure:"CHECKOUT_API_BASE_URL"`
	CheckoutAPIKey            string `mapstructure:"CHECKOUT_API_KEY"`
	CheckoutWebhookSecret     string `mapstructure:"CHECKOUT_WEBHOOK_SECRET"`
	CheckoutSuccessURL        string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL         string `mapstructure:"CHECKOUT_CANCEL_URL"`
	CheckoutTimeoutSeconds    int    `mapstructure:"CHECKOUT_TIMEOUT_SECONDS"`
	Currency                  string `mapstructure:"CURRENCY"`
	JWKSURL                   string `mapstructure:"JWKS_URL"`
	AllowedOrigins            string `mapstructure:"ALLOWED_ORIGINS"`
	BookingRateLimitPerMinute int    `mapstructure:"BOOKING_RATE_LIMIT_PER_MINUTE"`
	StaleCheckoutSweepCron    string `mapstructure:"STALE_CHECKOUT_SWEEP_SCHEDULE"`
	StaleCheckoutTTLMinutes   int    `mapstructure:"STALE_CHECKOUT_TTL_MINUTES"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "coursekit:rate_limit")
	viper.SetDefault("BOOKING_EVENT_EXCHANGE", "coursekit.events")
	viper.SetDefault("CHECKOUT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("CURRENCY", "sek")
	viper.SetDefault("BOOKING_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("STALE_CHECKOUT_SWEEP_SCHEDULE", "")
	viper.SetDefault("STALE_CHECKOUT_TTL_MINUTES", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BOOKING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BOOKING_EVENT_EXCHANGE")
	_ = viper.BindEnv("CHECKOUT_API_BASE_URL")
	_ = viper.BindEnv("CHECKOUT_API_KEY")
	_ = viper.BindEnv("CHECKOUT_WEBHOOK_SECRET")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("CHECKOUT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("BOOKING_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STALE_CHECKOUT_SWEEP_SCHEDULE")
	_ = viper.BindEnv("STALE_CHECKOUT_TTL_MINUTES")

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

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "coursekit:rate_limit"
	}

	config.Currency = strings.ToLower(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "sek"
	}

	if config.CheckoutTimeoutSeconds <= 0 {
		config.CheckoutTimeoutSeconds = 10
	}
	if config.BookingRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative booking rate limit configured; disabling\" limit=%d", config.BookingRateLimitPerMinute)
		config.BookingRateLimitPerMinute = 0
	}
	if config.StaleCheckoutTTLMinutes <= 0 {
		config.StaleCheckoutTTLMinutes = 60
	}

	return
}

// AllowedOriginList splits the comma-separated ALLOWED_ORIGINS value.
func (c Config) AllowedOriginList() []string {
	raw := strings.TrimSpace(c.AllowedOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
