package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain/subscription"
	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds broker and topic settings.
type KafkaConfig struct {
	Brokers            []string
	GroupPrefix        string
	PSPEventsTopic     string
	PaymentEventsTopic string
}

// StripeConfig holds Stripe-specific configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ManualCapture bool
}

// SubscriptionConfig holds subscription defaults and billing-cycle handling.
type SubscriptionConfig struct {
	BillingPolicy       subscription.BillingPolicy
	Settings            subscription.Settings
	PriceSyncEnabled    bool
	MetadataRaceDelay   time.Duration
	MetadataRaceRetries uint64
}

// ServiceConfig holds all configuration for the payment sync service.
type ServiceConfig struct {
	Port               string
	AppEnv             string
	ProjectKey         string
	CORSAllowedOrigins []string
	DBConfig           DatabaseConfig
	KafkaConfig        KafkaConfig
	StripeConfig       StripeConfig
	SubscriptionConfig SubscriptionConfig
}

// Load reads configuration from environment variables, and from an optional
// config file named by CONFIG_FILE, and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_PORT", "8085")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PROJECT_KEY", "commerce")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "payment_sync")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_PREFIX", "")
	v.SetDefault("KAFKA_PSP_EVENTS_TOPIC", "psp.events")
	v.SetDefault("KAFKA_PAYMENT_EVENTS_TOPIC", "payment.events")

	v.SetDefault("STRIPE_MANUAL_CAPTURE", false)

	v.SetDefault("SUBSCRIPTION_BILLING_POLICY", string(subscription.PolicyCreateOrder))
	v.SetDefault("SUBSCRIPTION_PRICE_SYNC_ENABLED", false)
	v.SetDefault("SUBSCRIPTION_TRIAL_PERIOD_DAYS", 0)
	v.SetDefault("SUBSCRIPTION_BILLING_ANCHOR_DAY", 0)
	v.SetDefault("SUBSCRIPTION_COLLECTION_METHOD", "charge_automatically")
	v.SetDefault("SUBSCRIPTION_DAYS_UNTIL_DUE", 0)
	v.SetDefault("SUBSCRIPTION_PAYMENT_BEHAVIOR", "default_incomplete")
	v.SetDefault("SUBSCRIPTION_PRORATION_BEHAVIOR", "create_prorations")
	v.SetDefault("METADATA_RACE_DELAY", "2s")
	v.SetDefault("METADATA_RACE_RETRIES", 3)
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	policy, err := subscription.ParseBillingPolicy(v.GetString("SUBSCRIPTION_BILLING_POLICY"))
	if err != nil {
		return nil, err
	}

	anchorDay := v.GetInt64("SUBSCRIPTION_BILLING_ANCHOR_DAY")
	// Days 29 to 31 do not exist in every month.
	if anchorDay < 0 || anchorDay > 28 {
		return nil, fmt.Errorf("SUBSCRIPTION_BILLING_ANCHOR_DAY must be between 0 and 28, got %d", anchorDay)
	}

	cfg := &ServiceConfig{
		Port:               ":" + strings.TrimPrefix(v.GetString("SERVICE_PORT"), ":"),
		AppEnv:             v.GetString("APP_ENV"),
		ProjectKey:         v.GetString("PROJECT_KEY"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		DBConfig: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		KafkaConfig: KafkaConfig{
			Brokers:            splitList(v.GetString("KAFKA_BROKERS")),
			GroupPrefix:        v.GetString("KAFKA_GROUP_PREFIX"),
			PSPEventsTopic:     v.GetString("KAFKA_PSP_EVENTS_TOPIC"),
			PaymentEventsTopic: v.GetString("KAFKA_PAYMENT_EVENTS_TOPIC"),
		},
		StripeConfig: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			ManualCapture: v.GetBool("STRIPE_MANUAL_CAPTURE"),
		},
		SubscriptionConfig: SubscriptionConfig{
			BillingPolicy:    policy,
			PriceSyncEnabled: v.GetBool("SUBSCRIPTION_PRICE_SYNC_ENABLED"),
			Settings: subscription.Settings{
				TrialPeriodDays:   v.GetInt64("SUBSCRIPTION_TRIAL_PERIOD_DAYS"),
				BillingAnchorDay:  anchorDay,
				CollectionMethod:  v.GetString("SUBSCRIPTION_COLLECTION_METHOD"),
				DaysUntilDue:      v.GetInt64("SUBSCRIPTION_DAYS_UNTIL_DUE"),
				PaymentBehavior:   v.GetString("SUBSCRIPTION_PAYMENT_BEHAVIOR"),
				ProrationBehavior: v.GetString("SUBSCRIPTION_PRORATION_BEHAVIOR"),
			},
			MetadataRaceDelay:   v.GetDuration("METADATA_RACE_DELAY"),
			MetadataRaceRetries: v.GetUint64("METADATA_RACE_RETRIES"),
		},
	}

	if cfg.AppEnv != "development" {
		if cfg.StripeConfig.SecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required")
		}
		if cfg.StripeConfig.WebhookSecret == "" {
			return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
		}
	}
	if len(cfg.KafkaConfig.Brokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
