package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/config"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	sinkQueueSize = 256
	writeTimeout  = 5 * time.Second
)

const (
	RECORD_MEASUREMENT = "measurement"
	RECORD_DECISION    = "decision"
	RECORD_MANUAL      = "manual_relay"
	RECORD_POLL_FAILED = "poll_failed"
)

var errSinkNilWriter = errors.New("kafka sink requires a writer")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the envelope written to the topic.
type Record struct {
	Id        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type pollFailedPayload struct {
	Poller  string `json:"poller"`
	Command string `json:"command"`
	Failure string `json:"failure"`
	Error   string `json:"error,omitempty"`
}

type decisionPayload struct {
	Decision domain.ControlDecision `json:"decision"`
	Log      domain.ActionLog       `json:"log"`
	Error    string                 `json:"error,omitempty"`
}

// Sink streams engine events to a Kafka topic. Events are queued and written
// by a single goroutine; a full queue drops the event.
type Sink struct {
	writer messageWriter
	queue  chan kafka.Message
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSink(cfg config.KafkaConfig, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
	}
	return newSinkWithWriter(writer, logger)
}

func newSinkWithWriter(writer messageWriter, logger *zap.Logger) (*Sink, error) {
	if writer == nil {
		return nil, errSinkNilWriter
	}
	return &Sink{
		writer: writer,
		queue:  make(chan kafka.Message, sinkQueueSize),
		logger: logger.With(zap.String("component", "kafka")),
	}, nil
}

func (s *Sink) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Sink) Subscribe(eventStream *eventstream.EventStream) *eventstream.Subscription {
	return eventStream.Subscribe(func(evt any) {
		s.Offer(evt)
	})
}

// Offer queues evt when it is a streamed event type. It never blocks.
func (s *Sink) Offer(evt any) bool {
	record, key, ok := toRecord(evt)
	if !ok {
		return false
	}
	value, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("kafka: could not encode record", zap.String("type", record.Type), zap.Error(err))
		return false
	}
	select {
	case s.queue <- kafka.Message{Key: []byte(key), Value: value, Time: record.Timestamp}:
		return true
	default:
		s.logger.Warn("kafka: queue full, record dropped", zap.String("type", record.Type))
		return false
	}
}

// Stop drains the queue and closes the writer.
func (s *Sink) Stop() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		err = s.writer.Close()
	})
	return err
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			s.write(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-s.queue:
					s.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("kafka: write failed", zap.String("key", string(msg.Key)), zap.Error(err))
	}
}

func toRecord(evt any) (Record, string, bool) {
	record := Record{
		Id:        uuid.NewString(),
		Timestamp: time.Now(),
	}
	key := "vcmon"
	switch ev := evt.(type) {
	case domain.MeasurementRecorded:
		record.Type = RECORD_MEASUREMENT
		record.Timestamp = ev.Measurement.Timestamp
		record.Payload = ev.Measurement
		if ev.Measurement.CycleID != "" {
			key = ev.Measurement.CycleID
		}
	case domain.DecisionApplied:
		record.Type = RECORD_DECISION
		record.Payload = decisionPayload{Decision: ev.Decision, Log: ev.Log, Error: errString(ev.Error)}
		key = ev.Log.Channel.Name()
	case domain.ManualRelaySet:
		record.Type = RECORD_MANUAL
		record.Payload = decisionPayload{Log: ev.Log, Error: errString(ev.Error)}
		key = ev.Log.Channel.Name()
	case domain.PollFailed:
		record.Type = RECORD_POLL_FAILED
		record.Payload = pollFailedPayload{
			Poller:  ev.Poller,
			Command: ev.Command,
			Failure: ev.Failure.String(),
			Error:   errString(ev.Error),
		}
		key = ev.Poller
	default:
		return record, "", false
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	return record, key, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
