package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	SampleDataURL string `envconfig:"SAMPLE_DATA_URL" required:"true"`
	DataServerURL string `envconfig:"DATA_SERVER_URL" required:"true"`
	SampleDataKey string `envconfig:"SAMPLE_DATA_KEY" default:"SampleData"`

	UploadURL   string `envconfig:"UPLOAD_URL"`
	UploadToken string `envconfig:"UPLOAD_TOKEN"`
	Corpus      string `envconfig:"CORPUS" required:"true"`

	SessionURL      string `envconfig:"SESSION_URL"`
	PublicUsername  string `envconfig:"PUBLIC_USERNAME"`
	PublicPassword  string `envconfig:"PUBLIC_PASSWORD"`
	DefaultUsername string `envconfig:"DEFAULT_USERNAME" default:"default"`

	OutputDir     string        `envconfig:"OUTPUT_DIR" required:"true"`
	DBPath        string        `envconfig:"DB_PATH" default:"fieldsync.db"`
	MinUploadSize int64         `envconfig:"MIN_UPLOAD_SIZE" default:"5000"`
	OfflineMode   bool          `envconfig:"OFFLINE_MODE"`
	SyncInterval  time.Duration `envconfig:"SYNC_INTERVAL" default:"6h"`

	Connectivity   string        `envconfig:"CONNECTIVITY" default:"wifi"`
	WifiInterfaces []string      `envconfig:"WIFI_INTERFACES" default:"wlan,wlp,wifi"`
	ProbeAddress   string        `envconfig:"PROBE_ADDRESS"`
	ProbeTimeout   time.Duration `envconfig:"PROBE_TIMEOUT" default:"3s"`

	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2m"`
	InsecureSkipVerify bool          `envconfig:"INSECURE_SKIP_VERIFY"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	BugReport struct {
		URL      string `split_words:"true"`
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Retry struct {
		MaxAttempts uint64        `split_words:"true" default:"3"`
		BaseDelay   time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"fieldsync"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8977"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("FIELDSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.SessionURL == "" {
		cfg.SessionURL = strings.TrimRight(cfg.DataServerURL, "/") + "/_session"
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultSampleDataURL builds the map/reduce endpoint for the sample data view
// when the trigger did not supply an explicit URL.
func (c *Config) DefaultSampleDataURL() string {
	return fmt.Sprintf("%s?key=%%22%s%%22", c.SampleDataURL, c.SampleDataKey)
}
