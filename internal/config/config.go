package config

import (
	"os"
	"strconv"
	"time"

	"sleepstage/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	HealthAPI  HealthAPIConfig
	Server     ServerConfig
	Classifier ClassifierConfig
	Training   TrainingConfig
	Logging    LoggingConfig
}

// DatabaseConfig holds model store connection settings
type DatabaseConfig struct {
	Driver string // postgres or sqlite3
	URL    string
}

// RedisConfig holds the model cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// MQTTConfig holds the broker used for stage events and breathing summaries.
// An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	BreathingTopic string
}

// HealthAPIConfig holds the vendor health API client settings
type HealthAPIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// ExportFile, when set, replaces the HTTP API with a local JSON export.
	ExportFile string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// ClassifierConfig holds the live classification knobs
type ClassifierConfig struct {
	UseLearnedAwakeParams bool
	UseRRFeature          bool
	UseSmoother           bool
	AwakeConsecutiveTicks int
	RemConsecutiveTicks   int
}

// TrainingConfig holds batch training settings
type TrainingConfig struct {
	HoursBack int
	MaxNights int
	CVWorkers int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}
	config.Database = *dbConfig

	config.Redis = *loadRedisConfig()
	config.MQTT = *loadMQTTConfig()
	config.HealthAPI = *loadHealthAPIConfig()
	config.Server = *loadServerConfig()
	config.Classifier = *LoadClassifierConfig()
	config.Training = *loadTrainingConfig()
	config.Logging = *loadLoggingConfig()

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	driver := getEnvOrDefault("DB_DRIVER", "sqlite3")
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		if driver != "sqlite3" {
			return nil, errors.ConfigInvalid("DATABASE_URL is required")
		}
		url = "file:sleepstage.db?cache=shared"
	}
	return &DatabaseConfig{Driver: driver, URL: url}, nil
}

func loadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     getEnvOrDefault("REDIS_ADDR", ""),
		Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		DB:       getEnvIntOrDefault("REDIS_DB", 0),
		TTL:      getEnvDurationOrDefault("REDIS_MODEL_TTL", 24*time.Hour),
	}
}

func loadMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		Broker:         getEnvOrDefault("MQTT_BROKER", ""),
		ClientID:       getEnvOrDefault("MQTT_CLIENT_ID", "sleepstage"),
		Username:       getEnvOrDefault("MQTT_USERNAME", ""),
		Password:       getEnvOrDefault("MQTT_PASSWORD", ""),
		TopicPrefix:    getEnvOrDefault("MQTT_TOPIC_PREFIX", "sleepstage"),
		BreathingTopic: getEnvOrDefault("MQTT_BREATHING_TOPIC", "sleepstage/+/breathing"),
	}
}

func loadHealthAPIConfig() *HealthAPIConfig {
	return &HealthAPIConfig{
		BaseURL:    getEnvOrDefault("HEALTH_API_URL", ""),
		Token:      getEnvOrDefault("HEALTH_API_TOKEN", ""),
		Timeout:    getEnvDurationOrDefault("HEALTH_API_TIMEOUT", 30*time.Second),
		ExportFile: getEnvOrDefault("HEALTH_EXPORT_FILE", ""),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

// LoadClassifierConfig reads only the classifier knobs from the environment.
func LoadClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		UseLearnedAwakeParams: getEnvBoolOrDefault("USE_LEARNED_AWAKE_PARAMS", true),
		UseRRFeature:          getEnvBoolOrDefault("USE_RR_FEATURE", false),
		UseSmoother:           getEnvBoolOrDefault("USE_SMOOTHER", true),
		AwakeConsecutiveTicks: getEnvIntOrDefault("AWAKE_CONSECUTIVE_TICKS", 1),
		RemConsecutiveTicks:   getEnvIntOrDefault("REM_CONSECUTIVE_TICKS", 2),
	}
}

func loadTrainingConfig() *TrainingConfig {
	return &TrainingConfig{
		HoursBack: getEnvIntOrDefault("TRAINING_HOURS_BACK", 720),
		MaxNights: getEnvIntOrDefault("TRAINING_MAX_NIGHTS", 30),
		CVWorkers: getEnvIntOrDefault("CV_WORKERS", 4),
	}
}

func loadLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
	}
}

func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return errors.ConfigInvalid("DB_DRIVER must be postgres or sqlite3")
	}
	if config.Training.HoursBack <= 0 {
		return errors.ConfigInvalid("TRAINING_HOURS_BACK must be positive")
	}
	if config.Training.CVWorkers <= 0 {
		return errors.ConfigInvalid("CV_WORKERS must be positive")
	}
	if config.Classifier.AwakeConsecutiveTicks < 1 || config.Classifier.RemConsecutiveTicks < 1 {
		return errors.ConfigInvalid("consecutive tick thresholds must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
