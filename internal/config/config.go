// Package config collects every environment-backed setting in one struct,
// populated once at startup. Nothing else in the codebase reads the process
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type CardConfig struct {
	BaseURL      string `envconfig:"CARD_BASE_URL"`
	SecretKey    string `envconfig:"CARD_SECRET_KEY"`
	WebhookToken string `envconfig:"CARD_WEBHOOK_TOKEN"`
}

type MTNConfig struct {
	BaseURL         string `envconfig:"MTN_BASE_URL"`
	APIUser         string `envconfig:"MTN_API_USER"`
	APIKey          string `envconfig:"MTN_API_KEY"`
	SubscriptionKey string `envconfig:"MTN_SUBSCRIPTION_KEY"`
	TargetEnv       string `envconfig:"MTN_TARGET_ENVIRONMENT" default:"mtncameroon"`
	WebhookToken    string `envconfig:"MTN_WEBHOOK_TOKEN"`
}

type OrangeConfig struct {
	BaseURL      string `envconfig:"ORANGE_BASE_URL"`
	ClientID     string `envconfig:"ORANGE_CLIENT_ID"`
	ClientSecret string `envconfig:"ORANGE_CLIENT_SECRET"`
	MerchantPin  string `envconfig:"ORANGE_MERCHANT_PIN"`
	WebhookToken string `envconfig:"ORANGE_WEBHOOK_TOKEN"`
}

type Config struct {
	Port          string  `envconfig:"PORT" default:"8080"`
	MongoURI      string  `envconfig:"MONGOURI" required:"true"`
	MongoDatabase string  `envconfig:"MONGO_DATABASE" default:"payraildb"`
	JWTSecret     string  `envconfig:"JWT_SECRET" required:"true"`
	FeePercentage float64 `envconfig:"FEE_PERCENTAGE" default:"2.5"`

	SettlementInterval time.Duration `envconfig:"SETTLEMENT_INTERVAL" default:"24h"`

	Card   CardConfig
	MTN    MTNConfig
	Orange OrangeConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	if cfg.FeePercentage < 0 {
		return nil, fmt.Errorf("FEE_PERCENTAGE must not be negative, got %v", cfg.FeePercentage)
	}
	return &cfg, nil
}
