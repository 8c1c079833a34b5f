package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Port           int
	// RedisURL enables the shared session registry. Empty keeps sessions in memory only.
	RedisURL       string
	RedisPassword  string
	MaxSessions    int
	SessionTimeout time.Duration
	AllowedOrigins []string
	MaxBufferSize  int // Maximum mic audio buffer size in bytes per session

	GeminiAPIKey    string
	ChatModel       string
	TTSModel        string
	VoiceName       string
	TranscribeModel string // voice input to text

	InferenceTimeout time.Duration
	SpeechTimeout    time.Duration
	PersistTimeout   time.Duration
	WeatherTimeout   time.Duration

	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	UploadDir      string
	PublicBaseURL  string

	// Farm coordinates used when a client never reports its location.
	FarmLat *float64
	FarmLng *float64

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

// fileConfig mirrors the optional YAML file named by CONFIG_FILE.
type fileConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Redis          struct {
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Gemini struct {
		ChatModel string `yaml:"chat_model"`
		TTSModel  string `yaml:"tts_model"`
		STTModel  string `yaml:"transcribe_model"`
		Voice     string `yaml:"voice"`
	} `yaml:"gemini"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Storage struct {
		UploadDir     string `yaml:"upload_dir"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"storage"`
	Farm struct {
		Lat *float64 `yaml:"lat"`
		Lng *float64 `yaml:"lng"`
	} `yaml:"farm"`
	LogLevel string `yaml:"log_level"`
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (env wins).
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:             8080,
		MaxSessions:      100,
		SessionTimeout:   30 * time.Minute,
		AllowedOrigins:   []string{"*"},
		MaxBufferSize:    5 * 1024 * 1024, // 5MB default
		ChatModel:        "gemini-3-pro-preview",
		TTSModel:         "gemini-2.5-flash-preview-tts",
		VoiceName:        "Puck",
		TranscribeModel:  "gemini-2.5-flash",
		InferenceTimeout: 60 * time.Second,
		SpeechTimeout:    30 * time.Second,
		PersistTimeout:   30 * time.Second,
		WeatherTimeout:   5 * time.Second,
		DatabaseDriver:   "sqlite",
		DatabaseURL:      "iacfarm.db",
		UploadDir:        "uploads",
		PublicBaseURL:    "http://localhost:8080",
		RateLimitRPS:     5,
		RateLimitBurst:   20,
		LogLevel:         "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	setString(&c.RedisURL, fc.Redis.URL)
	setString(&c.RedisPassword, fc.Redis.Password)
	setString(&c.ChatModel, fc.Gemini.ChatModel)
	setString(&c.TTSModel, fc.Gemini.TTSModel)
	setString(&c.VoiceName, fc.Gemini.Voice)
	setString(&c.TranscribeModel, fc.Gemini.STTModel)
	setString(&c.DatabaseDriver, fc.Database.Driver)
	setString(&c.DatabaseURL, fc.Database.URL)
	setString(&c.UploadDir, fc.Storage.UploadDir)
	setString(&c.PublicBaseURL, fc.Storage.PublicBaseURL)
	setString(&c.LogLevel, fc.LogLevel)
	if fc.Farm.Lat != nil && fc.Farm.Lng != nil {
		c.FarmLat, c.FarmLng = fc.Farm.Lat, fc.Farm.Lng
	}
	return nil
}

func (c *Config) applyEnv() error {
	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = p
	}

	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.RedisPassword, os.Getenv("REDIS_PASSWORD"))
	setString(&c.ChatModel, os.Getenv("CHAT_MODEL"))
	setString(&c.TTSModel, os.Getenv("TTS_MODEL"))
	setString(&c.VoiceName, os.Getenv("VOICE_NAME"))
	setString(&c.TranscribeModel, os.Getenv("TRANSCRIBE_MODEL"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.UploadDir, os.Getenv("UPLOAD_DIR"))
	setString(&c.PublicBaseURL, os.Getenv("PUBLIC_BASE_URL"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		c.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		c.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		c.MaxBufferSize = b
	}

	// Optional upstream timeouts (in seconds)
	for key, dst := range map[string]*time.Duration{
		"INFERENCE_TIMEOUT": &c.InferenceTimeout,
		"SPEECH_TIMEOUT":    &c.SpeechTimeout,
		"PERSIST_TIMEOUT":   &c.PersistTimeout,
		"WEATHER_TIMEOUT":   &c.WeatherTimeout,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		s, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = time.Duration(s) * time.Second
	}

	// Optional: DATABASE_DRIVER ("postgres" or "sqlite")
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.DatabaseDriver = driver
	}

	// Optional: FARM_LAT / FARM_LNG (both or neither)
	lat, lng := os.Getenv("FARM_LAT"), os.Getenv("FARM_LNG")
	if lat != "" || lng != "" {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return fmt.Errorf("invalid FARM_LAT: %w", err)
		}
		lo, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return fmt.Errorf("invalid FARM_LNG: %w", err)
		}
		c.FarmLat, c.FarmLng = &la, &lo
	}

	if rps := os.Getenv("RATE_LIMIT_RPS"); rps != "" {
		r, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimitRPS = r
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		b, err := strconv.Atoi(burst)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimitBurst = b
	}
	return nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER: must be 'postgres' or 'sqlite'")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: must be between 1 and 65535")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("invalid SESSION_TIMEOUT: must be positive")
	}
	for name, d := range map[string]time.Duration{
		"INFERENCE_TIMEOUT": c.InferenceTimeout,
		"SPEECH_TIMEOUT":    c.SpeechTimeout,
		"PERSIST_TIMEOUT":   c.PersistTimeout,
		"WEATHER_TIMEOUT":   c.WeatherTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}
	if c.FarmLat != nil && (*c.FarmLat < -90 || *c.FarmLat > 90) {
		return fmt.Errorf("invalid FARM_LAT: out of range")
	}
	if c.FarmLng != nil && (*c.FarmLng < -180 || *c.FarmLng > 180) {
		return fmt.Errorf("invalid FARM_LNG: out of range")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
