package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageWriter is the part of *kafka.Writer the producer uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureSink keeps events that could not be written so they can be
// redelivered later
type FailureSink interface {
	Store(ctx context.Context, event Event, body []byte, cause error) error
}

// ProducerOptions tunes the worker pool
type ProducerOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Sink      FailureSink
	Recorder  Recorder
}

// KafkaProducer publishes events asynchronously through a worker pool
type KafkaProducer struct {
	writer   MessageWriter
	topic    string
	queue    chan Event
	workers  int
	timeout  time.Duration
	sink     FailureSink
	recorder Recorder

	shutdownChan chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// NewKafkaWriter builds the writer for broker
func NewKafkaWriter(broker string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaProducer starts the worker pool
func NewKafkaProducer(writer MessageWriter, topic string, opts ProducerOptions) *KafkaProducer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}

	kp := &KafkaProducer{
		writer:       writer,
		topic:        topic,
		queue:        make(chan Event, opts.QueueSize),
		workers:      opts.Workers,
		timeout:      opts.Timeout,
		sink:         opts.Sink,
		recorder:     opts.Recorder,
		shutdownChan: make(chan struct{}),
	}

	for i := 0; i < kp.workers; i++ {
		kp.wg.Add(1)
		go kp.worker(i)
	}
	logrus.Infof("Kafka producer started %d workers for topic %s", kp.workers, topic)
	return kp
}

// Publish queues event without blocking. When the queue is full the event
// goes straight to the failure sink.
func (kp *KafkaProducer) Publish(ctx context.Context, event Event) error {
	select {
	case <-kp.shutdownChan:
		return kp.fail(ctx, event, fmt.Errorf("producer closed"))
	default:
	}

	select {
	case kp.queue <- event:
		return nil
	default:
		return kp.fail(ctx, event, fmt.Errorf("event queue full"))
	}
}

func (kp *KafkaProducer) worker(id int) {
	defer kp.wg.Done()

	for {
		select {
		case event := <-kp.queue:
			kp.send(event)
		case <-kp.shutdownChan:
			// drain what is already queued before exiting
			for {
				select {
				case event := <-kp.queue:
					kp.send(event)
				default:
					logrus.Debugf("Kafka worker %d shutting down", id)
					return
				}
			}
		}
	}
}

func (kp *KafkaProducer) send(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), kp.timeout)
	defer cancel()

	err := kp.WriteSync(ctx, event)
	if err == nil {
		return
	}
	log := logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})
	log.WithError(err).Warn("Failed to publish event")
	if kp.sink == nil {
		return
	}

	// the write context is usually spent by now
	sinkCtx, sinkCancel := context.WithTimeout(context.Background(), kp.timeout)
	defer sinkCancel()
	if err := kp.fail(sinkCtx, event, err); err != nil {
		log.WithError(err).Error("Event dropped")
	}
}

// WriteSync writes one event to Kafka and waits for the ack
func (kp *KafkaProducer) WriteSync(ctx context.Context, event Event) error {
	msg, err := Message(kp.topic, event)
	if err != nil {
		return err
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		kp.recorder.RecordPublish(event.Type, false)
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}
	kp.recorder.RecordPublish(event.Type, true)
	return nil
}

func (kp *KafkaProducer) fail(ctx context.Context, event Event, cause error) error {
	if kp.sink == nil {
		return cause
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := kp.sink.Store(ctx, event, body, cause); err != nil {
		return fmt.Errorf("failed to store undelivered event: %w", err)
	}
	return nil
}

// Close stops accepting events, flushes the queue and closes the writer
func (kp *KafkaProducer) Close() error {
	var err error
	kp.closeOnce.Do(func() {
		close(kp.shutdownChan)
		kp.wg.Wait()
		if cerr := kp.writer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close Kafka writer: %w", cerr)
		}
		logrus.Info("Kafka producer shut down")
	})
	return err
}

// Message encodes event as a Kafka message on topic
func Message(topic string, event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "event_id", Value: []byte(event.ID)},
	}
	if event.TenantID != nil {
		headers = append(headers, kafka.Header{Key: "tenant_id", Value: []byte(event.TenantID.String())})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(event.Key()),
		Value:   value,
		Headers: headers,
	}, nil
}

// Decode parses a message produced by Message
func Decode(msg kafka.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, fmt.Errorf("event is missing id or type")
	}
	return event, nil
}
