package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func validPipeline() Pipeline {
	return Pipeline{
		UserID:         "user-1",
		BrokerAddress:  "localhost:9092",
		WatchPaths:     []string{"/home/user/projects"},
		IgnorePatterns: []string{"node_modules", "*.tmp"},
		PollInterval:   2 * time.Second,
	}
}

func TestPipelineValidate(t *testing.T) {
	require.NoError(t, validPipeline().Validate())

	cases := map[string]func(*Pipeline){
		"empty user":        func(p *Pipeline) { p.UserID = "  " },
		"missing broker":    func(p *Pipeline) { p.BrokerAddress = "" },
		"broker no port":    func(p *Pipeline) { p.BrokerAddress = "localhost" },
		"broker port zero":  func(p *Pipeline) { p.BrokerAddress = "localhost:0" },
		"broker port range": func(p *Pipeline) { p.BrokerAddress = "localhost:70000" },
		"broker bad host":   func(p *Pipeline) { p.BrokerAddress = "bad host:9092" },
		"relative path":     func(p *Pipeline) { p.WatchPaths = []string{"projects"} },
		"empty pattern":     func(p *Pipeline) { p.IgnorePatterns = []string{""} },
		"bad glob":          func(p *Pipeline) { p.IgnorePatterns = []string{"[abc"} },
		"poll too fast":     func(p *Pipeline) { p.PollInterval = time.Millisecond },
	}
	for name, mutate := range cases {
		p := validPipeline()
		mutate(&p)
		require.ErrorIs(t, p.Validate(), ErrInvalidPipeline, name)
	}
}

func TestValidateBrokerAddressAcceptsIPs(t *testing.T) {
	require.NoError(t, ValidateBrokerAddress("127.0.0.1:29092"))
	require.NoError(t, ValidateBrokerAddress("[::1]:9092"))
	require.NoError(t, ValidateBrokerAddress("kafka.internal:9092"))
}

func TestOnlyWatchChanged(t *testing.T) {
	base := validPipeline()

	next := base
	next.WatchPaths = []string{"/tmp"}
	next.IgnorePatterns = []string{"*.bak"}
	require.True(t, base.OnlyWatchChanged(next))
	require.False(t, base.Equal(next))

	next.BrokerAddress = "other:9092"
	require.False(t, base.OnlyWatchChanged(next))
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  userId: from-file
  brokerAddress: file-broker:9092
  watchPaths: [/srv/a]
  pollInterval: 3s
storeFlushThreshold: 25
kafkaTopic: file-topic
`), 0o600))

	t.Setenv("ACTIVITY_CONFIG", path)
	t.Setenv("KAFKA_BROKER", "env-broker:9092")
	t.Setenv("STORE_FLUSH_INTERVAL", "15s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(fs, []string{"--user-id", "from-flag", "--watch", "/srv/b,/srv/c"})
	require.NoError(t, err)

	require.Equal(t, path, cfg.ConfigFile)
	require.Equal(t, "from-flag", cfg.Pipeline.UserID)
	require.Equal(t, "env-broker:9092", cfg.Pipeline.BrokerAddress)
	require.Equal(t, []string{"/srv/b", "/srv/c"}, cfg.Pipeline.WatchPaths)
	require.Equal(t, 3*time.Second, cfg.Pipeline.PollInterval)
	require.Equal(t, 25, cfg.StoreFlushThreshold)
	require.Equal(t, 15*time.Second, cfg.StoreFlushInterval)
	require.Equal(t, "file-topic", cfg.KafkaTopic)
	require.Equal(t, 100, cfg.BrokerFlushThreshold)
	require.Equal(t, DefaultIgnorePatterns, cfg.Pipeline.IgnorePatterns)
}

func TestLoadWithoutFlags(t *testing.T) {
	cfg, err := Load(nil, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultPollInterval, cfg.Pipeline.PollInterval)
	require.Equal(t, "sqlite", cfg.StoreDriver)
	require.Equal(t, 3, cfg.MaxRestartAttempts)
}

func TestReadPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  userId: u\n  ignorePatterns: ['*.swp']\n"), 0o600))

	p, err := ReadPipeline(path)
	require.NoError(t, err)
	require.Equal(t, "u", p.UserID)
	require.Equal(t, []string{"*.swp"}, p.IgnorePatterns)
	require.Equal(t, "localhost:9092", p.BrokerAddress)

	_, err = ReadPipeline(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
