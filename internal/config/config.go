/**
 * @description
 * This package handles the configuration management for the escrow-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env file.
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

const (
	defaultPlatformFeePercent  = 6.0
	defaultAutoReleaseDays     = 3
	defaultDeliveryDays        = 7
	defaultAutoReleaseBatch    = 100
	defaultAutoReleaseSchedule = "@every 5m"
	defaultRateLimitPrefix     = "escrow:rate_limit"
)

// Config holds all the configuration variables for the escrow-service.
type Config struct {
	ServerPort                 string  `mapstructure:"SERVER_PORT"`
	Store                      string  `mapstructure:"STORE"`
	DatabaseURL                string  `mapstructure:"DATABASE_URL"`
	RedisURL                   string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string  `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string  `mapstructure:"EVENTS_EXCHANGE"`
	ClerkJWKSURL               string  `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey             string  `mapstructure:"INTERNAL_API_KEY"`
	Currency                   string  `mapstructure:"CURRENCY"`
	PlatformFeePercent         float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	AutoReleaseDays            int     `mapstructure:"AUTO_RELEASE_DAYS"`
	DefaultDeliveryDays        int     `mapstructure:"DEFAULT_DELIVERY_DAYS"`
	AutoReleaseEnabled         bool    `mapstructure:"AUTO_RELEASE_ENABLED"`
	AutoReleaseSchedule        string  `mapstructure:"AUTO_RELEASE_SCHEDULE"`
	AutoReleaseBatchSize       int     `mapstructure:"AUTO_RELEASE_BATCH_SIZE"`
	CheckoutRateLimitPerMinute int     `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`
	PayRateLimitPerMinute      int     `mapstructure:"PAY_RATE_LIMIT_PER_MINUTE"`
}

// UsesMemoryStore reports whether the in-process store was selected.
func (c Config) UsesMemoryStore() bool {
	return strings.EqualFold(c.Store, "memory")
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("STORE", "postgres")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", "marketplace.events")
	viper.SetDefault("CURRENCY", "USD")
	viper.SetDefault("PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	viper.SetDefault("AUTO_RELEASE_DAYS", defaultAutoReleaseDays)
	viper.SetDefault("DEFAULT_DELIVERY_DAYS", defaultDeliveryDays)
	viper.SetDefault("AUTO_RELEASE_ENABLED", true)
	viper.SetDefault("AUTO_RELEASE_SCHEDULE", defaultAutoReleaseSchedule)
	viper.SetDefault("AUTO_RELEASE_BATCH_SIZE", defaultAutoReleaseBatch)
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("PAY_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ESCROW_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ESCROW_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("AUTO_RELEASE_DAYS")
	_ = viper.BindEnv("DEFAULT_DELIVERY_DAYS")
	_ = viper.BindEnv("AUTO_RELEASE_ENABLED")
	_ = viper.BindEnv("AUTO_RELEASE_SCHEDULE")
	_ = viper.BindEnv("AUTO_RELEASE_BATCH_SIZE")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PAY_RATE_LIMIT_PER_MINUTE")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ESCROW_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.Currency = strings.ToUpper(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "USD"
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}

	if config.AutoReleaseDays <= 0 {
		log.Printf("level=warn component=config msg=\"invalid auto-release days; using default\" value=%d default=%d", config.AutoReleaseDays, defaultAutoReleaseDays)
		config.AutoReleaseDays = defaultAutoReleaseDays
	}
	if config.DefaultDeliveryDays <= 0 {
		config.DefaultDeliveryDays = defaultDeliveryDays
	}
	if strings.TrimSpace(config.AutoReleaseSchedule) == "" {
		config.AutoReleaseSchedule = defaultAutoReleaseSchedule
	}
	if config.AutoReleaseBatchSize <= 0 {
		config.AutoReleaseBatchSize = defaultAutoReleaseBatch
	}
	if config.CheckoutRateLimitPerMinute < 0 {
		config.CheckoutRateLimitPerMinute = 0
	}
	if config.PayRateLimitPerMinute < 0 {
		config.PayRateLimitPerMinute = 0
	}

	return
}
