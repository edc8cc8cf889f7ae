package worker

import (
	"log"

	"example.com/deskactivity/internal/config"
	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/formatter"
	"example.com/deskactivity/internal/monitor"
	"example.com/deskactivity/internal/sink"
)

// NewFactory returns the production Factory: a Kafka sink and an embedded
// store sink, the window poller on source, and an fsnotify watcher. Static
// settings come from base; per-start settings from the pipeline passed in.
func NewFactory(base config.Config, source monitor.WindowSource, logger *log.Logger) (Factory, error) {
	compression, err := sink.ParseCompression(base.KafkaCompression)
	if err != nil {
		return nil, err
	}
	watchCfg := monitor.WatchConfig{
		MaxDepth:           base.WatchDepth,
		StabilityThreshold: base.StabilityThreshold,
		StabilityPoll:      base.StabilityPoll,
	}

	return func(cfg config.Pipeline, publisher monitor.Publisher) (Components, error) {
		f := formatter.New(cfg.UserID)

		kafkaLogger := log.New(logger.Writer(), "[sink:kafka] ", logger.Flags())
		broker := sink.NewBuffered[events.ActivityEvent](
			sink.NewKafkaCommitter(sink.KafkaConfig{
				Brokers:     []string{cfg.BrokerAddress},
				Topic:       base.KafkaTopic,
				Compression: compression,
			}, kafkaLogger),
			sink.Config{
				Name:           "kafka",
				FlushInterval:  base.BrokerFlushInterval,
				FlushThreshold: base.BrokerFlushThreshold,
				MaxBuffered:    base.MaxBufferedEvents,
			},
			sink.WithLogger(kafkaLogger),
		)

		store := sink.NewBuffered[events.ActivityEvent](
			sink.NewStoreCommitter(sink.StoreConfig{Driver: base.StoreDriver, DSN: base.StoreDSN}),
			sink.Config{
				Name:           "store",
				FlushInterval:  base.StoreFlushInterval,
				FlushThreshold: base.StoreFlushThreshold,
				MaxBuffered:    base.MaxBufferedEvents,
			},
			sink.WithLogger(log.New(logger.Writer(), "[sink:store] ", logger.Flags())),
		)

		return Components{
			Broker: broker,
			Store:  store,
			Poller: monitor.NewAppPoller(source, f, publisher,
				monitor.WithLogger(log.New(logger.Writer(), "[poller] ", logger.Flags()))),
			Watcher: monitor.NewFSWatcher(f, publisher, watchCfg,
				monitor.WithLogger(log.New(logger.Writer(), "[watcher] ", logger.Flags()))),
		}, nil
	}, nil
}
