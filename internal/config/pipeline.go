package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultIgnorePatterns are applied when the caller supplies none.
var DefaultIgnorePatterns = []string{"node_modules", ".git", ".DS_Store", "*.tmp", "*.log"}

const (
	// DefaultPollInterval is the active-window sampling period.
	DefaultPollInterval = 2 * time.Second
	minPollInterval     = 100 * time.Millisecond
)

var hostPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.\-]*[A-Za-z0-9])?$`)

// Pipeline is the configuration handed from the supervisor to the worker.
type Pipeline struct {
	UserID         string        `yaml:"userId" json:"userId" cbor:"userId"`
	BrokerAddress  string        `yaml:"brokerAddress" json:"brokerAddress" cbor:"brokerAddress"`
	WatchPaths     []string      `yaml:"watchPaths" json:"watchPaths" cbor:"watchPaths"`
	IgnorePatterns []string      `yaml:"ignorePatterns" json:"ignorePatterns" cbor:"ignorePatterns"`
	AutoStart      bool          `yaml:"autoStart" json:"autoStart" cbor:"autoStart"`
	PollInterval   time.Duration `yaml:"pollInterval" json:"pollInterval" cbor:"pollInterval"`
}

// ErrInvalidPipeline wraps every validation failure.
var ErrInvalidPipeline = errors.New("invalid pipeline config")

// Validate rejects configurations that must never reach the worker.
func (p Pipeline) Validate() error {
	var errs []error

	if strings.TrimSpace(p.UserID) == "" {
		errs = append(errs, errors.New("userId is required"))
	}
	if err := ValidateBrokerAddress(p.BrokerAddress); err != nil {
		errs = append(errs, err)
	}
	for _, path := range p.WatchPaths {
		if strings.TrimSpace(path) == "" || !filepath.IsAbs(path) {
			errs = append(errs, fmt.Errorf("watch path %q must be absolute", path))
		}
	}
	for _, pattern := range p.IgnorePatterns {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, errors.New("ignore patterns must be non-empty"))
			continue
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("ignore pattern %q: %w", pattern, err))
		}
	}
	if p.PollInterval != 0 && p.PollInterval < minPollInterval {
		errs = append(errs, fmt.Errorf("pollInterval must be at least %s", minPollInterval))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPipeline, errors.Join(errs...))
}

// ValidateBrokerAddress checks the host:port form with a port in 1-65535.
func ValidateBrokerAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("brokerAddress is required")
	}
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("brokerAddress %q must be host:port", addr)
	}
	if !hostPattern.MatchString(host) && net.ParseIP(host) == nil {
		return fmt.Errorf("brokerAddress %q has an invalid host", addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("brokerAddress %q port must be between 1 and 65535", addr)
	}
	return nil
}

// WithDefaults fills unset optional fields.
func (p Pipeline) WithDefaults() Pipeline {
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.IgnorePatterns == nil {
		p.IgnorePatterns = slices.Clone(DefaultIgnorePatterns)
	}
	return p
}

// OnlyWatchChanged reports whether next differs from p in watch paths or ignore
// patterns at most, the fields a running worker can apply in place.
func (p Pipeline) OnlyWatchChanged(next Pipeline) bool {
	return p.UserID == next.UserID &&
		p.BrokerAddress == next.BrokerAddress &&
		p.PollInterval == next.PollInterval
}

// Equal reports whether both configurations are identical.
func (p Pipeline) Equal(other Pipeline) bool {
	return p.OnlyWatchChanged(other) &&
		p.AutoStart == other.AutoStart &&
		slices.Equal(p.WatchPaths, other.WatchPaths) &&
		slices.Equal(p.IgnorePatterns, other.IgnorePatterns)
}
