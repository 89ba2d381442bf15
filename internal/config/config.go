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

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	PaymentEventExchange   string `mapstructure:"PAYMENT_EVENT_EXCHANGE"`
	GatewayServerKey       string `mapstructure:"GATEWAY_SERVER_KEY"`
	PayoutAPIBaseURL       string `mapstructure:"PAYOUT_API_BASE_URL"`
	PayoutAPIKey           string `mapstructure:"PAYOUT_API_KEY"`
	MessagingAPIBaseURL    string `mapstructure:"MESSAGING_API_BASE_URL"`
	MessagingAPIKey        string `mapstructure:"MESSAGING_API_KEY"`
	OtpRequestLimit        int    `mapstructure:"OTP_REQUEST_LIMIT"`
	OtpRequestWindowMin    int    `mapstructure:"OTP_REQUEST_WINDOW_MINUTES"`
	OperatorJWTSecret      string `mapstructure:"OPERATOR_JWT_SECRET"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOriginsCSV  string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// CORSAllowedOrigins returns the configured origins as a slice, empty when
// CORS is not configured.
func (c Config) CORSAllowedOrigins() []string {
	raw := strings.TrimSpace(c.CORSAllowedOriginsCSV)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "pasarkita:rate_limit")
	viper.SetDefault("PAYMENT_EVENT_EXCHANGE", "payment_events")
	viper.SetDefault("OTP_REQUEST_LIMIT", 3)
	viper.SetDefault("OTP_REQUEST_WINDOW_MINUTES", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("GATEWAY_SERVER_KEY")
	_ = viper.BindEnv("PAYOUT_API_BASE_URL")
	_ = viper.BindEnv("PAYOUT_API_KEY")
	_ = viper.BindEnv("MESSAGING_API_BASE_URL")
	_ = viper.BindEnv("MESSAGING_API_KEY")
	_ = viper.BindEnv("OTP_REQUEST_LIMIT")
	_ = viper.BindEnv("OTP_REQUEST_WINDOW_MINUTES")
	_ = viper.BindEnv("OPERATOR_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "pasarkita:rate_limit"
	}
	config.PaymentEventExchange = strings.TrimSpace(config.PaymentEventExchange)
	if config.PaymentEventExchange == "" {
		config.PaymentEventExchange = "payment_events"
	}

	if config.OtpRequestLimit <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive otp limit configured; using default\" limit=%d", config.OtpRequestLimit)
		config.OtpRequestLimit = 3
	}
	if config.OtpRequestWindowMin <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive otp window configured; using default\" window_minutes=%d", config.OtpRequestWindowMin)
		config.OtpRequestWindowMin = 60
	}

	return
}
