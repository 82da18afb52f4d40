package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Server struct {
	Port string `mapstructure:"port"`
}

type App struct {
	// BaseURL is the public storefront URL used to build redirect URLs.
	BaseURL string `mapstructure:"base_url"`
}

type AWS struct {
	Region           string `mapstructure:"region"`
	EndpointOverride string `mapstructure:"endpoint_override"`
}

type Tables struct {
	Products     string `mapstructure:"products"`
	Transactions string `mapstructure:"transactions"`
	Contacts     string `mapstructure:"contacts"`
	Accounts     string `mapstructure:"accounts"`
	SystemConfig string `mapstructure:"system_config"`
	Ledger       string `mapstructure:"ledger"`
	Refunds      string `mapstructure:"refunds"`
	Idempotency  string `mapstructure:"idempotency"`
}

type Queue struct {
	ReconciliationURL string `mapstructure:"reconciliation_url"`
}

type PayPal struct {
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	Mode            string        `mapstructure:"mode"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	WebhookID       string        `mapstructure:"webhook_id"`
	VerifySignature bool          `mapstructure:"verify_signature"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Media struct {
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type Metrics struct {
	Namespace    string        `mapstructure:"namespace"`
	PushURL      string        `mapstructure:"push_url"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Idempotency struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type Sweep struct {
	// Timezone is the IANA zone whose midnight starts a new sweep day.
	Timezone string `mapstructure:"timezone"`
}

type Config struct {
	Server      Server      `mapstructure:"server"`
	App         App         `mapstructure:"app"`
	AWS         AWS         `mapstructure:"aws"`
	Tables      Tables      `mapstructure:"tables"`
	Queue       Queue       `mapstructure:"queue"`
	PayPal      PayPal      `mapstructure:"paypal"`
	Auth        Auth        `mapstructure:"auth"`
	Media       Media       `mapstructure:"media"`
	Metrics     Metrics     `mapstructure:"metrics"`
	Logs        Logs        `mapstructure:"logs"`
	Idempotency Idempotency `mapstructure:"idempotency"`
	Sweep       Sweep       `mapstructure:"sweep"`
}

var defaults = map[string]interface{}{
	"server.port":              ":8080",
	"app.base_url":             "http://localhost:3000",
	"aws.region":               "us-east-1",
	"aws.endpoint_override":    "",
	"tables.products":          "payments",
	"tables.transactions":      "transactions",
	"tables.contacts":          "contacts",
	"tables.accounts":          "accounts",
	"tables.system_config":     "system_config",
	"tables.ledger":            "transaction_ledger",
	"tables.refunds":           "refunds",
	"tables.idempotency":       "idempotency",
	"queue.reconciliation_url": "",
	"paypal.client_id":         "",
	"paypal.client_secret":     "",
	"paypal.mode":              "",
	"paypal.api_base_url":      "",
	"paypal.webhook_id":        "",
	"paypal.verify_signature":  false,
	"paypal.timeout":           "15s",
	"auth.jwt_secret":          "",
	"media.bucket":             "",
	"media.public_base_url":    "",
	"metrics.namespace":        "PaymentID",
	"metrics.push_url":         "",
	"metrics.push_interval":    "10s",
	"logs.url":                 "",
	"logs.level":               "info",
	"idempotency.ttl":          "48h",
	"sweep.timezone":           "UTC",
}

// LoadConfig reads config.yaml from path (optional) and lets environment
// variables override every key: paypal.client_id <- PAYPAL_CLIENT_ID.
func LoadConfig(path string) (*Config, error) {
	// .env is a development convenience; absence is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	config.App.BaseURL = strings.TrimRight(config.App.BaseURL, "/")
	config.Media.PublicBaseURL = strings.TrimRight(config.Media.PublicBaseURL, "/")

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

// PathFromEnv returns CONFIG_PATH or the working directory.
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "."
}
