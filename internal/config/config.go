package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Speech credentials. An API key is the simple credential; an access
	// token (service credential) unlocks long-running recognition via
	// object storage.
	SpeechAPIKey      string        `env:"SPEECH_API_KEY"`
	SpeechAccessToken string        `env:"SPEECH_ACCESS_TOKEN"`
	SpeechBaseURL     string        `env:"SPEECH_BASE_URL"`
	SpeechTimeout     time.Duration `env:"SPEECH_TIMEOUT" envDefault:"2m"`
	SpeechModel       string        `env:"SPEECH_MODEL" envDefault:"latest_long"`
	SpeechEnhanced    bool          `env:"SPEECH_ENHANCED" envDefault:"false"`
	Language          string        `env:"LANGUAGE" envDefault:"en-US"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	RecordingsDir      string        `env:"RECORDINGS_DIR" envDefault:"./recordings"`
	RecordingRetention time.Duration `env:"RECORDING_RETENTION" envDefault:"0"`
	RecordingMaxGB     int           `env:"RECORDING_MAX_GB" envDefault:"0"`
	WatchDir           string        `env:"WATCH_DIR"`

	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS" envDefault:"2"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"scribe-engine"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"scribe/notifications"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	S3 S3Config `envPrefix:"S3_"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"HTTP_MAX_UPLOAD_MB" envDefault:"200"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the transient object store used by long-running
// recognition.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX" envDefault:"scribe"`
}

// Enabled reports whether the object store is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	WatchDir    string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	return cfg, nil
}
