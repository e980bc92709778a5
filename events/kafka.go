// Package events ships committed ledger changes to Kafka for downstream
// consumers (dashboards, invoicing). Publishing happens after the store
// transaction commits; the engine logs and drops publish failures.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/fuel-ledger/stock"
)

// DefaultTopic receives every ledger event. Messages are keyed by trip ID so
// a trip's events stay ordered within one partition.
const DefaultTopic = "fuel-ledger-events"

// =============================================================================
// PAYLOAD
// =============================================================================

type Message struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	TripID     string          `json:"trip_id"`
	Product    string          `json:"product"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to"`
	Litres     string          `json:"litres"`
	Depletions []DepletionLine `json:"depletions,omitempty"`
	At         time.Time       `json:"at"`
}

type DepletionLine struct {
	BatchID  string `json:"batch_id"`
	Quantity string `json:"quantity"`
	Seq      int    `json:"seq"`
}

// NewMessage converts an engine event to its wire form.
func NewMessage(e stock.Event) Message {
	m := Message{
		EventID:   uuid.NewString(),
		EventType: string(e.Type),
		TripID:    string(e.TripID),
		Product:   string(e.Product),
		From:      string(e.From),
		To:        string(e.To),
		Litres:    e.Demand.String(),
		At:        e.At,
	}
	for _, d := range e.Depletions {
		m.Depletions = append(m.Depletions, DepletionLine{
			BatchID:  string(d.BatchID),
			Quantity: d.Quantity.String(),
			Seq:      d.Seq,
		})
	}
	return m
}

// =============================================================================
// PUBLISHER
// =============================================================================

// KafkaPublisher implements stock.Publisher on a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      zerolog.Logger
}

// NewProducerConfig returns the producer settings used in production.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.MaxMessageBytes = 1000000
	return config
}

// NewKafkaPublisher connects a SyncProducer to brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Kafka publisher initialized")
	return NewKafkaPublisherWithProducer(producer, topic, log), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log zerolog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Publish sends one event and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, e stock.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := NewMessage(e)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.TripID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(msg.EventType)},
			{Key: []byte("event_id"), Value: []byte(msg.EventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send %s for trip %s: %w", msg.EventType, msg.TripID, err)
	}

	p.log.Debug().
		Str("event_id", msg.EventID).
		Str("event_type", msg.EventType).
		Str("trip_id", msg.TripID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("ledger event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ stock.Publisher = (*KafkaPublisher)(nil)
