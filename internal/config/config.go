package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Artwork   ArtworkConfig   `yaml:"artwork" json:"artwork"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"VIEWRA_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"VIEWRA_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"VIEWRA_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"VIEWRA_WRITE_TIMEOUT" default:"60s"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" env:"VIEWRA_MAX_UPLOAD_BYTES" default:"20971520"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"viewra"`
	Password        string        `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"viewra"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"VIEWRA_DATA_DIR" default:"/app/viewra-data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"VIEWRA_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
}

// ArtworkConfig holds the artwork pipeline configuration
type ArtworkConfig struct {
	CacheDir      string `yaml:"cache_dir" json:"cache_dir" env:"VIEWRA_ARTWORK_CACHE_DIR"`
	Workers       int    `yaml:"workers" json:"workers" env:"VIEWRA_ARTWORK_WORKERS"`
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule" env:"VIEWRA_ARTWORK_SWEEP" default:"@every 5m"`
	SweepBatch    int    `yaml:"sweep_batch" json:"sweep_batch" env:"VIEWRA_ARTWORK_SWEEP_BATCH" default:"500"`
	MaxCandidates int    `yaml:"max_candidates" json:"max_candidates" env:"VIEWRA_ARTWORK_MAX_CANDIDATES" default:"5"`
	MinDimension  int    `yaml:"min_dimension" json:"min_dimension" env:"VIEWRA_ARTWORK_MIN_DIMENSION" default:"2"`
	EnableLocal   bool   `yaml:"enable_local" json:"enable_local" env:"VIEWRA_ARTWORK_LOCAL"`
	EnableEmbedded bool  `yaml:"enable_embedded" json:"enable_embedded" env:"VIEWRA_ARTWORK_EMBEDDED"`

	Queue QueueConfig `yaml:"queue" json:"queue"`
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`
	Guard GuardConfig `yaml:"guard" json:"guard"`

	// Sources maps "<kind>/<owner>" to provider names in priority order.
	Sources  map[string][]string `yaml:"sources" json:"sources"`
	Profiles []ProfileConfig     `yaml:"profiles" json:"profiles"`
}

// QueueConfig selects the work queue backend
type QueueConfig struct {
	Backend       string `yaml:"backend" json:"backend" env:"VIEWRA_ARTWORK_QUEUE" default:"memory"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" env:"REDIS_DB"`
	MaxRetry      int    `yaml:"max_retry" json:"max_retry" env:"VIEWRA_ARTWORK_MAX_RETRY" default:"5"`
}

// FetchConfig bounds remote and local reads of candidates
type FetchConfig struct {
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"VIEWRA_ARTWORK_FETCH_TIMEOUT" default:"30s"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes" env:"VIEWRA_ARTWORK_MAX_BYTES" default:"20971520"`
	ProbeBytes int64         `yaml:"probe_bytes" json:"probe_bytes" env:"VIEWRA_ARTWORK_PROBE_BYTES" default:"65536"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent" env:"VIEWRA_ARTWORK_USER_AGENT" default:"Viewra-Artwork/1.0"`
}

// GuardConfig limits decode memory
type GuardConfig struct {
	MaxPixels      int64  `yaml:"max_pixels" json:"max_pixels" env:"VIEWRA_ARTWORK_MAX_PIXELS" default:"100000000"`
	MinAvailableMB uint64 `yaml:"min_available_mb" json:"min_available_mb" env:"VIEWRA_ARTWORK_MIN_AVAILABLE_MB" default:"256"`
}

// ProfileConfig declares a derivative profile
type ProfileConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Kind           string   `yaml:"kind" json:"kind"`
	Width          int      `yaml:"width" json:"width"`
	Height         int      `yaml:"height" json:"height"`
	Scaling        string   `yaml:"scaling" json:"scaling"`
	CornerQuality  float64  `yaml:"corner_quality" json:"corner_quality"`
	RoundedCorners bool     `yaml:"rounded_corners" json:"rounded_corners"`
	CornerRadius   int      `yaml:"corner_radius" json:"corner_radius"`
	Format         string   `yaml:"format" json:"format"`
	PreProcess     bool     `yaml:"pre_process" json:"pre_process"`
	AppliesTo      []string `yaml:"applies_to" json:"applies_to"`
}

// ProvidersConfig holds the remote artwork providers
type ProvidersConfig struct {
	TMDb     TMDbConfig     `yaml:"tmdb" json:"tmdb"`
	FanartTV FanartTVConfig `yaml:"fanarttv" json:"fanarttv"`
}

// TMDbConfig configures The Movie Database provider
type TMDbConfig struct {
	APIKey       string        `yaml:"api_key" json:"api_key" env:"TMDB_API_KEY"`
	Language     string        `yaml:"language" json:"language" env:"TMDB_LANGUAGE" default:"en"`
	Priority     int           `yaml:"priority" json:"priority" default:"10"`
	RequestDelay time.Duration `yaml:"request_delay" json:"request_delay" env:"TMDB_REQUEST_DELAY" default:"250ms"`
}

// FanartTVConfig configures the fanart.tv provider
type FanartTVConfig struct {
	APIKey   string `yaml:"api_key" json:"api_key" env:"FANARTTV_API_KEY"`
	Language string `yaml:"language" json:"language" env:"FANARTTV_LANGUAGE" default:"en"`
	Priority int    `yaml:"priority" json:"priority" default:"20"`
}

// ConfigManager manages application configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	cfg := DefaultConfig()
	applyDerivedConfig(cfg)
	return &ConfigManager{config: cfg}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadBytes: 20 << 20,
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "viewra",
			Database:        "viewra",
			DataDir:         "/app/viewra-data",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Artwork: ArtworkConfig{
			SweepSchedule:  "@every 5m",
			SweepBatch:     500,
			MaxCandidates:  5,
			MinDimension:   2,
			EnableLocal:    true,
			EnableEmbedded: true,
			Queue: QueueConfig{
				Backend:   "memory",
				RedisAddr: "localhost:6379",
				MaxRetry:  5,
			},
			Fetch: FetchConfig{
				Timeout:    30 * time.Second,
				MaxBytes:   20 << 20,
				ProbeBytes: 64 << 10,
				UserAgent:  "Viewra-Artwork/1.0",
			},
			Guard: GuardConfig{
				MaxPixels:      100_000_000,
				MinAvailableMB: 256,
			},
			Sources: map[string][]string{},
		},
		Providers: ProvidersConfig{
			TMDb:     TMDbConfig{Language: "en", Priority: 10, RequestDelay: 250 * time.Millisecond},
			FanartTV: FanartTVConfig{Language: "en", Priority: 20},
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.configPath = configPath
	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)
	cm.config = newConfig
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the file the configuration was loaded from.
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadStructFromEnv applies env overrides, and default tags to fields that
// are still zero.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		value := ""
		if envTag := fieldType.Tag.Get("env"); envTag != "" {
			value = os.Getenv(envTag)
		}
		if value == "" && field.IsZero() {
			value = fieldType.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(uintVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	switch config.Artwork.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue backend: %s", config.Artwork.Queue.Backend)
	}

	if config.Artwork.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", config.Artwork.Workers)
	}

	if config.Artwork.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("invalid max fetch size: %d", config.Artwork.Fetch.MaxBytes)
	}

	if config.Artwork.Fetch.ProbeBytes <= 0 || config.Artwork.Fetch.ProbeBytes > config.Artwork.Fetch.MaxBytes {
		return fmt.Errorf("invalid probe size: %d", config.Artwork.Fetch.ProbeBytes)
	}

	for key := range config.Artwork.Sources {
		if !strings.Contains(key, "/") {
			return fmt.Errorf("invalid source order key %q, expected <kind>/<owner>", key)
		}
	}

	for _, p := range config.Artwork.Profiles {
		if p.Name == "" || p.Kind == "" {
			return fmt.Errorf("profile needs a name and a kind")
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("profile %s/%s has invalid size %dx%d", p.Kind, p.Name, p.Width, p.Height)
		}
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "viewra-artwork.db")
	}

	if config.Artwork.CacheDir == "" {
		config.Artwork.CacheDir = filepath.Join(config.Database.DataDir, "artwork")
	}

	if config.Artwork.Workers == 0 {
		config.Artwork.Workers = min(max(1, runtime.NumCPU()/2), 8)
	}
}

// DatabaseURL returns the connection string for the configured database.
func (c DatabaseConfig) DatabaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Type == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			c.Host, c.Username, c.Password, c.Database, c.Port)
	}
	return c.DatabasePath
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
