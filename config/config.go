package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Websocket WebsocketConfig `yaml:"websocket"`
	HTTP      HTTPConfig      `yaml:"http"`
	History   HistoryConfig   `yaml:"history"`
	Exchanges ExchangesConfig `yaml:"exchanges"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	TradeBuffer int `yaml:"trade_buffer"`
	BookBuffer  int `yaml:"book_buffer"`
}

// WebsocketConfig holds the base watchdog timeout; each exchange scales it
// with its own factor since quiet markets go longer between frames.
type WebsocketConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	Window         time.Duration `yaml:"window"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
}

type ExchangesConfig struct {
	Binance ExchangeConfig `yaml:"binance"`
	Bybit   ExchangeConfig `yaml:"bybit"`
}

type ExchangeConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Key           string   `yaml:"key"`
	Secret        string   `yaml:"secret"`
	BrokerID      string   `yaml:"broker_id"`
	RestURL       string   `yaml:"rest_url"`
	StreamURL     string   `yaml:"stream_url"`
	TimeoutFactor float64  `yaml:"timeout_factor"`
	Pairs         []string `yaml:"pairs"`
	// Proxies routes the exchange's REST traffic; the first usable entry
	// wins, an empty list keeps the environment default.
	Proxies []string `yaml:"proxies"`
	// ContractValues overrides per-currency contract sizing on
	// contract-based exchanges. Ignored elsewhere.
	ContractValues map[string]float64 `yaml:"contract_values"`
}

// WSTimeout scales the base websocket timeout by the exchange's factor.
func (e ExchangeConfig) WSTimeout(base time.Duration) time.Duration {
	if e.TimeoutFactor <= 0 {
		return base
	}
	return time.Duration(float64(base) * e.TimeoutFactor)
}

type StorageConfig struct {
	// Backend selects where imported trade history lands:
	// memory, s3 or kafka.
	Backend string      `yaml:"backend"`
	S3      S3Config    `yaml:"s3"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	TradeTopic   string   `yaml:"trade_topic"`
	HistoryTopic string   `yaml:"history_topic"`
}

type LoggingConfig struct {
	Level          string           `yaml:"level"`
	Format         string           `yaml:"format"`
	Output         string           `yaml:"output"`
	MaxAge         int              `yaml:"max_age"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

const (
	defaultConfigPath    = "config/config.yaml"
	productionConfigPath = "config/config.production.yaml"
	stagingConfigPath    = "config/config.staging.yaml"
)

// ResolveConfigPath maps the requested config path onto an environment
// specific file when one exists for the current APP_ENV. Explicit paths that
// differ from the defaults are returned unchanged.
func ResolveConfigPath(path string) string {
	return resolveEnvSpecificPath(path, defaultConfigPath, map[string]string{
		environmentProduction: productionConfigPath,
		environmentStaging:    stagingConfigPath,
	})
}

// envPattern matches ${VAR} placeholders that are substituted from the
// environment before the yaml is parsed. Unset variables expand to an empty
// string so optional credentials can stay out of the file entirely.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(os.Getenv(name))
	})
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{TradeBuffer: 1000, BookBuffer: 1000},
	}
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// AWS credentials from the environment win over file values
	if config.Storage.Backend == "s3" {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.BookBuffer <= 0 {
		return fmt.Errorf("channels.book_buffer must be greater than 0")
	}

	switch cfg.Storage.Backend {
	case "", "memory":
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when the s3 backend is selected")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when the s3 backend is selected")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	case "kafka":
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when the kafka backend is selected")
		}
		if cfg.Storage.Kafka.TradeTopic == "" {
			return fmt.Errorf("storage.kafka.trade_topic is required when the kafka backend is selected")
		}
	default:
		return fmt.Errorf("storage.backend '%s' is not supported", cfg.Storage.Backend)
	}

	// production deployments must not trade unauthenticated
	if IsProductionLike(AppEnvironment()) {
		for name, ex := range map[string]ExchangeConfig{
			"binance": cfg.Exchanges.Binance,
			"bybit":   cfg.Exchanges.Bybit,
		} {
			if ex.Enabled && (ex.Key == "" || ex.Secret == "") {
				return fmt.Errorf("exchanges.%s requires key and secret in %s", name, AppEnvironment())
			}
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
