package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"

	"task-tracker/internal/task-notifier/notifiers"
	"task-tracker/internal/task-tracker/events"
)

const (
	DefaultGroupID     = "task-notifier-group"
	defaultReadTimeout = 5 * time.Second
	defaultRetryDelay  = time.Second
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader joins groupID on the task events topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	hlog.Infof("Task Notifier Kafka consumer configured for topic: %s, groupID: %s", topic, groupID)
	return reader
}

// Consumer hands every generated-task event to a Notifier.
type Consumer struct {
	Reader      MessageReader
	Notifier    notifiers.Notifier
	ReadTimeout time.Duration
	RetryDelay  time.Duration
}

func New(reader MessageReader, notifier notifiers.Notifier) *Consumer {
	return &Consumer{
		Reader:      reader,
		Notifier:    notifier,
		ReadTimeout: defaultReadTimeout,
		RetryDelay:  defaultRetryDelay,
	}
}

// Run reads until ctx is cancelled or the reader is closed. A message that
// cannot be decoded or delivered is logged and skipped.
func (c *Consumer) Run(ctx context.Context) {
	hlog.Info("Consumer: starting to consume task generated events...")
	for {
		select {
		case <-ctx.Done():
			hlog.Info("Consumer: context cancelled, stopping consumer.")
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, c.ReadTimeout)
		msg, err := c.Reader.ReadMessage(readCtx)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, context.Canceled):
			hlog.Info("Consumer: read context cancelled, stopping consumer.")
			return
		case errors.Is(err, io.EOF):
			hlog.Info("Consumer: Kafka reader closed (EOF), stopping consumption.")
			return
		default:
			hlog.Errorf("Consumer: error reading message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.RetryDelay):
			}
			continue
		}

		hlog.Debugf("Consumer: received message on topic %s, partition %d, offset %d", msg.Topic, msg.Partition, msg.Offset)
		if err := c.Handle(ctx, msg); err != nil {
			hlog.Errorf("Consumer: %v", err)
		}
	}
}

// Handle decodes one message and notifies.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	payload, err := events.UnmarshalTaskGenerated(msg.Value)
	if err != nil {
		return fmt.Errorf("skipping message at offset %d: %w", msg.Offset, err)
	}
	if err := c.Notifier.Notify(ctx, payload); err != nil {
		return fmt.Errorf("notify for task %d failed: %w", payload.TaskID, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	if c.Reader == nil {
		return nil
	}
	hlog.Info("Consumer: closing Kafka reader.")
	return c.Reader.Close()
}
