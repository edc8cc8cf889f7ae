package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultGroupID keeps the live view's offsets apart from other consumers.
const DefaultGroupID = "activity-stream-viewer"

// KafkaConfig selects the topic and consumer group to read.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaDialer returns a Dialer that checks broker reachability before handing
// out a group reader positioned at the newest offsets.
func KafkaDialer(cfg KafkaConfig) Dialer {
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID
	}
	return func(ctx context.Context) (Reader, error) {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("no brokers configured")
		}
		var errs []error
		reachable := false
		for _, broker := range cfg.Brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", broker, err))
				continue
			}
			conn.Close()
			reachable = true
			break
		}
		if !reachable {
			return nil, errors.Join(errs...)
		}

		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Brokers,
			GroupID:         cfg.GroupID,
			Topic:           cfg.Topic,
			MinBytes:        1,
			MaxBytes:        10e6,
			MaxWait:         500 * time.Millisecond,
			CommitInterval:  time.Second,
			StartOffset:     kafka.LastOffset,
			ReadLagInterval: -1,
		}), nil
	}
}
