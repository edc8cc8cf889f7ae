package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/segmentio/kafka-go"

	"example.com/deskactivity/internal/events"
)

// DefaultTopic is the topic activity events are published to.
const DefaultTopic = "user-activity-events"

const (
	defaultMaxMessageBytes = 1 << 20
	truncatedFieldRunes    = 2048
)

// MessageWriter is the subset of kafka.Writer used by the committer.
type MessageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the broker committer.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	Compression     kafka.Compression
	MaxMessageBytes int
	WriteTimeout    time.Duration
}

// ParseCompression maps a codec name to the kafka-go compression codec.
func ParseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	case "none":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown compression codec %q", name)
}

// KafkaCommitter publishes batches of events to a Kafka topic keyed by user id.
type KafkaCommitter struct {
	cfg       KafkaConfig
	logger    *log.Logger
	dial      func(ctx context.Context, broker string) error
	newWriter func(KafkaConfig) MessageWriter
	writer    MessageWriter
}

// NewKafkaCommitter constructs a committer; nothing is dialled until Open.
func NewKafkaCommitter(cfg KafkaConfig, logger *log.Logger) *KafkaCommitter {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[sink:kafka] ", log.LstdFlags|log.Lshortfile)
	}
	return &KafkaCommitter{
		cfg:       cfg,
		logger:    logger,
		dial:      dialBroker,
		newWriter: newKafkaWriter,
	}
}

// Open verifies that at least one broker is reachable and creates the writer.
func (k *KafkaCommitter) Open(ctx context.Context) error {
	if len(k.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	var errs []error
	reachable := false
	for _, broker := range k.cfg.Brokers {
		if err := k.dial(ctx, broker); err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}
		reachable = true
		break
	}
	if !reachable {
		return errors.Join(errs...)
	}

	k.writer = k.newWriter(k.cfg)
	return nil
}

// Commit writes batch as a single produce call.
func (k *KafkaCommitter) Commit(ctx context.Context, batch []events.ActivityEvent) error {
	if k.writer == nil {
		return ErrNotConnected
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for _, evt := range batch {
		msg, err := k.message(evt)
		if err != nil {
			// An event that cannot be encoded would block every later flush.
			k.logger.Printf("dropping unencodable event (event_id=%s): %v", evt.EventID, err)
			recordDropped("kafka", 1)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

// Close releases the writer.
func (k *KafkaCommitter) Close() error {
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

func (k *KafkaCommitter) message(evt events.ActivityEvent) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, err
	}
	if len(value) > k.cfg.MaxMessageBytes {
		value, err = json.Marshal(truncateEvent(evt))
		if err != nil {
			return kafka.Message{}, err
		}
		if len(value) > k.cfg.MaxMessageBytes {
			return kafka.Message{}, fmt.Errorf("message size %d exceeds limit %d", len(value), k.cfg.MaxMessageBytes)
		}
	}

	return kafka.Message{
		Key:   []byte(evt.UserID),
		Value: value,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "event_id", Value: []byte(evt.EventID)},
		},
	}, nil
}

// truncateEvent shortens the free-text fields of a copy of evt.
func truncateEvent(evt events.ActivityEvent) events.ActivityEvent {
	switch {
	case evt.App != nil:
		app := *evt.App
		app.AppPath = truncate(app.AppPath)
		if app.WindowTitle != nil {
			title := truncate(*app.WindowTitle)
			app.WindowTitle = &title
		}
		evt.App = &app
	case evt.Browser != nil:
		tab := *evt.Browser
		tab.TabTitle = truncate(tab.TabTitle)
		tab.TabURL = truncate(tab.TabURL)
		evt.Browser = &tab
	case evt.File != nil:
		file := *evt.File
		file.FilePath = truncate(file.FilePath)
		file.Directory = truncate(file.Directory)
		file.FileName = truncate(file.FileName)
		evt.File = &file
	}
	return evt
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= truncatedFieldRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:truncatedFieldRunes])
}

func dialBroker(ctx context.Context, broker string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	return conn.Close()
}

func newKafkaWriter(cfg KafkaConfig) MessageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Murmur2Balancer{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            cfg.Compression,
		BatchBytes:             int64(cfg.MaxMessageBytes),
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
}
