package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Notification backends.
const (
	NotifyNone  = "none"
	NotifyKafka = "kafka"
	NotifyAMQP  = "amqp"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Local artifact locations.
	CacheDir   string
	UpdatesDir string
	GraphFile  string

	// Enfuser object store.
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SSL             bool

	AQIVariable          string
	ArchiveMemberPattern string

	// Nodata repair.
	NoDataValue           float64
	NoDataMinCells        int
	NoDataMinFraction     float64
	FillMaxSearchDistance int

	PollInterval time.Duration
	RetryPause   time.Duration

	// Update notification.
	NotifyBackend string
	KafkaBrokers  []string
	KafkaTopic    string
	AMQPURL       string
	AMQPQueue     string

	// RunsDB is the sqlite run ledger path; empty disables the ledger.
	RunsDB string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("POLL_INTERVAL", "10s")
	if err != nil {
		return nil, err
	}
	retryPause, err := parseDuration("RETRY_PAUSE", "30s")
	if err != nil {
		return nil, err
	}
	s3SSL, err := strconv.ParseBool(sharedcfg.EnvOrDefault("ENFUSER_S3_SSL", "true"))
	if err != nil {
		return nil, errors.New("invalid ENFUSER_S3_SSL")
	}
	nodataValue, err := parseFloat("NODATA_VALUE", "1.0")
	if err != nil {
		return nil, err
	}
	minFraction, err := parseFloat("NODATA_MIN_FRACTION", "0")
	if err != nil {
		return nil, err
	}
	if minFraction < 0 || minFraction >= 1 {
		return nil, errors.New("NODATA_MIN_FRACTION must be in [0, 1)")
	}
	minCells, err := parseNonNegativeInt("NODATA_MIN_CELLS", "180000")
	if err != nil {
		return nil, err
	}
	maxDistance, err := parseNonNegativeInt("FILL_MAX_SEARCH_DISTANCE", "100")
	if err != nil {
		return nil, err
	}
	if maxDistance == 0 {
		return nil, errors.New("FILL_MAX_SEARCH_DISTANCE must be positive")
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CacheDir:   sharedcfg.EnvOrDefault("AQI_CACHE_DIR", "aqi_cache"),
		UpdatesDir: sharedcfg.EnvOrDefault("AQI_UPDATES_DIR", "aqi_updates"),
		GraphFile:  sharedcfg.EnvOrDefault("GRAPH_FILE", "graph/kumpula.graphml"),

		S3Bucket:          sharedcfg.EnvOrDefault("ENFUSER_S3_BUCKET", "enfusernow2"),
		S3Region:          sharedcfg.EnvOrDefault("ENFUSER_S3_REGION", "eu-central-1"),
		S3Endpoint:        sharedcfg.EnvOrDefault("ENFUSER_S3_ENDPOINT", "s3.eu-central-1.amazonaws.com"),
		S3Prefix:          sharedcfg.EnvOrDefault("ENFUSER_S3_PREFIX", "Finland/pks"),
		S3AccessKeyID:     sharedcfg.EnvOrDefault("ENFUSER_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: sharedcfg.EnvOrDefault("ENFUSER_S3_SECRET_ACCESS_KEY", ""),
		S3SSL:             s3SSL,

		AQIVariable:          sharedcfg.EnvOrDefault("AQI_VARIABLE", "AQI"),
		ArchiveMemberPattern: sharedcfg.EnvOrDefault("ARCHIVE_MEMBER_PATTERN", "allPollutants"),

		NoDataValue:           nodataValue,
		NoDataMinCells:        minCells,
		NoDataMinFraction:     minFraction,
		FillMaxSearchDistance: maxDistance,

		PollInterval: pollInterval,
		RetryPause:   retryPause,

		NotifyBackend: sharedcfg.EnvOrDefault("NOTIFY_BACKEND", NotifyNone),
		KafkaBrokers:  parseBrokers(),
		KafkaTopic:    sharedcfg.EnvOrDefault("KAFKA_TOPIC", "aqi-updates"),
		AMQPURL:       sharedcfg.EnvOrDefault("AMQP_URL", ""),
		AMQPQueue:     sharedcfg.EnvOrDefault("AMQP_QUEUE", "aqi-updates"),

		RunsDB: sharedcfg.EnvOrDefault("RUNS_DB", ""),
	}

	if cfg.S3Bucket == "" {
		return nil, errors.New("ENFUSER_S3_BUCKET is required")
	}
	if cfg.AQIVariable == "" {
		return nil, errors.New("AQI_VARIABLE is required")
	}
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, errors.New("ENFUSER_S3_ACCESS_KEY_ID and ENFUSER_S3_SECRET_ACCESS_KEY must be set together")
	}

	switch cfg.NotifyBackend {
	case NotifyNone:
	case NotifyKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when NOTIFY_BACKEND is kafka")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when NOTIFY_BACKEND is kafka")
		}
	case NotifyAMQP:
		if cfg.AMQPURL == "" {
			return nil, errors.New("AMQP_URL is required when NOTIFY_BACKEND is amqp")
		}
		if cfg.AMQPQueue == "" {
			return nil, errors.New("AMQP_QUEUE is required when NOTIFY_BACKEND is amqp")
		}
	default:
		return nil, fmt.Errorf("invalid NOTIFY_BACKEND %q (want none, kafka or amqp)", cfg.NotifyBackend)
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseNonNegativeInt(key, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers() []string {
	s := sharedcfg.EnvOrDefault("KAFKA_BROKERS", "")
	if s == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}
