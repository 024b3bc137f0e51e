package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"

	"task-tracker/internal/task-tracker/events"
)

const (
	DefaultTaskEventsTopic = "task_generated"
	defaultWriteTimeout    = 10 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaProducer builds a synchronous writer for the task events topic.
func NewKafkaProducer(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTaskEventsTopic
	}
	producer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
		Async:        false,
	})
	hlog.Infof("Task Tracker Kafka producer configured for topic: %s, brokers: %v", topic, brokers)
	return producer
}

// EventPublisher publishes generated tasks keyed by task id.
type EventPublisher struct {
	Writer  MessageWriter
	Timeout time.Duration
}

func NewEventPublisher(writer MessageWriter) *EventPublisher {
	return &EventPublisher{Writer: writer, Timeout: defaultWriteTimeout}
}

func (p *EventPublisher) PublishTaskGenerated(ctx context.Context, payload events.TaskGeneratedPayload) error {
	value, err := payload.Marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(payload.TaskID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/x-protobuf")},
			{Key: "event", Value: []byte("task.generated")},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := p.Writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("write task %d event to kafka: %w", payload.TaskID, err)
	}
	hlog.Infof("EventPublisher: task %d generated event dispatched to Kafka", payload.TaskID)
	return nil
}

func (p *EventPublisher) Close() error {
	return p.Writer.Close()
}
