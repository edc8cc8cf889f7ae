// Package config centralises configuration parsing for the tracker binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration values shared by the tracker binaries.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`

	StoreDriver string `yaml:"storeDriver"`
	StoreDSN    string `yaml:"storeDSN"`

	KafkaTopic       string `yaml:"kafkaTopic"`
	KafkaCompression string `yaml:"kafkaCompression"`

	BrokerFlushInterval  time.Duration `yaml:"brokerFlushInterval"`
	BrokerFlushThreshold int           `yaml:"brokerFlushThreshold"`
	StoreFlushInterval   time.Duration `yaml:"storeFlushInterval"`
	StoreFlushThreshold  int           `yaml:"storeFlushThreshold"`
	MaxBufferedEvents    int           `yaml:"maxBufferedEvents"` // Zero keeps sink buffers unbounded.
	StatsInterval        time.Duration `yaml:"statsInterval"`     // Worker stats heartbeat period.

	WatchDepth         int           `yaml:"watchDepth"`
	StabilityThreshold time.Duration `yaml:"stabilityThreshold"`
	StabilityPoll      time.Duration `yaml:"stabilityPoll"`

	MaxRestartAttempts int           `yaml:"maxRestartAttempts"`
	RestartBackoffUnit time.Duration `yaml:"restartBackoffUnit"` // Restart n waits n units.
	StopTimeout        time.Duration `yaml:"stopTimeout"`

	ConsumerGroupID         string        `yaml:"consumerGroupId"`
	StreamWindowSize        int           `yaml:"streamWindowSize"`
	StreamStatsInterval     time.Duration `yaml:"streamStatsInterval"`
	StreamReconnectInterval time.Duration `yaml:"streamReconnectInterval"`

	HTTPAddress          string `yaml:"httpAddress"`
	MetricsAddress       string `yaml:"metricsAddress"`
	WorkerMetricsAddress string `yaml:"workerMetricsAddress"`
	JWTSecret            string `yaml:"jwtSecret"`
	JWTIssuer            string `yaml:"jwtIssuer"`

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			BrokerAddress:  "localhost:9092",
			IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
			PollInterval:   DefaultPollInterval,
		},
		StoreDriver:             "sqlite",
		StoreDSN:                defaultStorePath(),
		KafkaTopic:              "user-activity-events",
		KafkaCompression:        "gzip",
		BrokerFlushInterval:     5 * time.Second,
		BrokerFlushThreshold:    100,
		StoreFlushInterval:      10 * time.Second,
		StoreFlushThreshold:     50,
		StatsInterval:           2 * time.Second,
		WatchDepth:              5,
		StabilityThreshold:      300 * time.Millisecond,
		StabilityPoll:           100 * time.Millisecond,
		MaxRestartAttempts:      3,
		RestartBackoffUnit:      time.Second,
		StopTimeout:             5 * time.Second,
		ConsumerGroupID:         "activity-stream-viewer",
		StreamWindowSize:        1000,
		StreamStatsInterval:     time.Second,
		StreamReconnectInterval: 5 * time.Second,
		HTTPAddress:             ":8080",
		MetricsAddress:          ":9463",
		WorkerMetricsAddress:    ":9464",
		JWTIssuer:               "deskactivity",
	}
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment and finally command-line flags, each overriding the previous.
// Flags not relevant to a binary may be left unregistered by passing a nil fs.
func Load(fs *pflag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	var flags *flagValues
	if fs != nil {
		flags = registerFlags(fs)
		if err := fs.Parse(args); err != nil {
			return Config{}, err
		}
	}

	path := getEnv("ACTIVITY_CONFIG", "")
	if flags != nil && *flags.configFile != "" {
		path = *flags.configFile
	}
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)
	if flags != nil {
		flags.apply(fs, &cfg)
	}
	cfg.Pipeline = cfg.Pipeline.WithDefaults()
	return cfg, nil
}

// ReadPipeline re-reads only the pipeline section of a config file.
func ReadPipeline(path string) (Pipeline, error) {
	cfg := Default()
	if err := readFile(path, &cfg); err != nil {
		return Pipeline{}, err
	}
	return cfg.Pipeline.WithDefaults(), nil
}

func readFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	p := &cfg.Pipeline
	p.UserID = getEnv("ACTIVITY_USER_ID", p.UserID)
	p.BrokerAddress = getEnv("KAFKA_BROKER", p.BrokerAddress)
	if paths, ok := os.LookupEnv("ACTIVITY_WATCH_PATHS"); ok {
		p.WatchPaths = splitAndTrim(paths)
	}
	if patterns, ok := os.LookupEnv("ACTIVITY_IGNORE_PATTERNS"); ok {
		p.IgnorePatterns = splitAndTrim(patterns)
	}
	p.AutoStart = getBoolEnv("ACTIVITY_AUTO_START", p.AutoStart)
	p.PollInterval = getDurationEnv("ACTIVITY_POLL_INTERVAL", p.PollInterval)

	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.StoreDSN = getEnv("STORE_DSN", cfg.StoreDSN)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaCompression = getEnv("KAFKA_COMPRESSION", cfg.KafkaCompression)
	cfg.BrokerFlushInterval = getDurationEnv("BROKER_FLUSH_INTERVAL", cfg.BrokerFlushInterval)
	cfg.BrokerFlushThreshold = getIntEnv("BROKER_FLUSH_THRESHOLD", cfg.BrokerFlushThreshold)
	cfg.StoreFlushInterval = getDurationEnv("STORE_FLUSH_INTERVAL", cfg.StoreFlushInterval)
	cfg.StoreFlushThreshold = getIntEnv("STORE_FLUSH_THRESHOLD", cfg.StoreFlushThreshold)
	cfg.MaxBufferedEvents = getIntEnv("MAX_BUFFERED_EVENTS", cfg.MaxBufferedEvents)
	cfg.StatsInterval = getDurationEnv("WORKER_STATS_INTERVAL", cfg.StatsInterval)
	cfg.WatchDepth = getIntEnv("WATCH_DEPTH", cfg.WatchDepth)
	cfg.StabilityThreshold = getDurationEnv("WATCH_STABILITY_THRESHOLD", cfg.StabilityThreshold)
	cfg.StabilityPoll = getDurationEnv("WATCH_STABILITY_POLL", cfg.StabilityPoll)
	cfg.MaxRestartAttempts = getIntEnv("MAX_RESTART_ATTEMPTS", cfg.MaxRestartAttempts)
	cfg.RestartBackoffUnit = getDurationEnv("RESTART_BACKOFF_UNIT", cfg.RestartBackoffUnit)
	cfg.StopTimeout = getDurationEnv("WORKER_STOP_TIMEOUT", cfg.StopTimeout)
	cfg.ConsumerGroupID = getEnv("CONSUMER_GROUP_ID", cfg.ConsumerGroupID)
	cfg.StreamWindowSize = getIntEnv("STREAM_WINDOW_SIZE", cfg.StreamWindowSize)
	cfg.StreamStatsInterval = getDurationEnv("STREAM_STATS_INTERVAL", cfg.StreamStatsInterval)
	cfg.StreamReconnectInterval = getDurationEnv("STREAM_RECONNECT_INTERVAL", cfg.StreamReconnectInterval)
	cfg.HTTPAddress = getEnv("HTTP_ADDRESS", cfg.HTTPAddress)
	cfg.MetricsAddress = getEnv("METRICS_ADDRESS", cfg.MetricsAddress)
	cfg.WorkerMetricsAddress = getEnv("WORKER_METRICS_ADDRESS", cfg.WorkerMetricsAddress)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
}

type flagValues struct {
	configFile     *string
	userID         *string
	broker         *string
	watchPaths     *[]string
	ignorePatterns *[]string
	autoStart      *bool
	pollInterval   *time.Duration
	storeDriver    *string
	storeDSN       *string
	topic          *string
	httpAddress    *string
	metricsAddress *string
}

func registerFlags(fs *pflag.FlagSet) *flagValues {
	return &flagValues{
		configFile:     fs.String("config", "", "path to a YAML config file (env ACTIVITY_CONFIG)"),
		userID:         fs.String("user-id", "", "user id stamped on every event"),
		broker:         fs.String("broker", "", "Kafka broker address (host:port)"),
		watchPaths:     fs.StringSlice("watch", nil, "directories to watch for file changes"),
		ignorePatterns: fs.StringSlice("ignore", nil, "glob patterns excluded from watching"),
		autoStart:      fs.Bool("start", false, "start tracking immediately"),
		pollInterval:   fs.Duration("poll-interval", 0, "active window sampling interval"),
		storeDriver:    fs.String("store-driver", "", "event store driver (sqlite or postgres)"),
		storeDSN:       fs.String("store", "", "event store path or DSN"),
		topic:          fs.String("topic", "", "Kafka topic"),
		httpAddress:    fs.String("http-address", "", "HTTP listen address"),
		metricsAddress: fs.String("metrics-address", "", "Prometheus metrics listen address"),
	}
}

func (f *flagValues) apply(fs *pflag.FlagSet, cfg *Config) {
	set := func(name string) bool { return fs.Changed(name) }

	if set("user-id") {
		cfg.Pipeline.UserID = *f.userID
	}
	if set("broker") {
		cfg.Pipeline.BrokerAddress = *f.broker
	}
	if set("watch") {
		cfg.Pipeline.WatchPaths = *f.watchPaths
	}
	if set("ignore") {
		cfg.Pipeline.IgnorePatterns = *f.ignorePatterns
	}
	if set("start") {
		cfg.Pipeline.AutoStart = *f.autoStart
	}
	if set("poll-interval") {
		cfg.Pipeline.PollInterval = *f.pollInterval
	}
	if set("store-driver") {
		cfg.StoreDriver = *f.storeDriver
	}
	if set("store") {
		cfg.StoreDSN = *f.storeDSN
	}
	if set("topic") {
		cfg.KafkaTopic = *f.topic
	}
	if set("http-address") {
		cfg.HTTPAddress = *f.httpAddress
	}
	if set("metrics-address") {
		cfg.MetricsAddress = *f.metricsAddress
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "desktop-activity-tracker", "activity-events.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
