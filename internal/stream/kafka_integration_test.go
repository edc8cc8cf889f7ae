//go:build integration

package stream

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/deskactivity/internal/events"
	"example.com/deskactivity/internal/formatter"
	"example.com/deskactivity/internal/sink"
)

func TestStreamReadsEventsPublishedBySink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := "user-activity-events-it"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	conn.Close()

	consumer := New(KafkaDialer(KafkaConfig{Brokers: brokers, Topic: topic, GroupID: "stream-it"}),
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithReconnectInterval(time.Second))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Run(runCtx) }()
	require.Eventually(t, func() bool { return consumer.Stats().Connected }, time.Minute, 100*time.Millisecond)

	committer := sink.NewKafkaCommitter(sink.KafkaConfig{Brokers: brokers, Topic: topic, Compression: kafka.Gzip}, log.New(testWriter{t}, "", 0))
	require.NoError(t, committer.Open(ctx))
	defer committer.Close()

	f := formatter.New("user-it")
	seen := make(chan events.ActivityEvent, 64)
	consumer.Subscribe(func(evt events.ActivityEvent) { seen <- evt })

	// The group may still be joining; keep publishing until one arrives.
	require.Eventually(t, func() bool {
		evt := f.Window(formatter.Window{Title: "editor", OwnerName: "Code", OwnerPID: 42, OwnerPath: "/usr/bin/code"})
		if err := committer.Commit(ctx, []events.ActivityEvent{evt}); err != nil {
			t.Logf("commit: %v", err)
			return false
		}
		select {
		case got := <-seen:
			return got.UserID == "user-it" && got.EventType == events.AppActive
		case <-time.After(2 * time.Second):
			return false
		}
	}, 2*time.Minute, 100*time.Millisecond, fmt.Sprintf("no event consumed from %s", topic))

	require.GreaterOrEqual(t, consumer.Stats().TotalEvents, int64(1))
}
