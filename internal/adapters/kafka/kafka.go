package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chat-relay/internal/config"
	"chat-relay/internal/models"

	"github.com/IBM/sarama"
)

const eventHeader = "event"

// NewProducerConfig returns the producer settings used for the message journal.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Version = sarama.V2_0_0_0
	cfg.ClientID = clientID
	cfg.Producer.MaxMessageBytes = 1000000
	return cfg
}

func InitKafkaProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
}

// MessageJournal appends every stored chat message to a topic. Messages are
// keyed by conversation so one conversation's history stays on one partition
// and in order.
type MessageJournal struct {
	producer sarama.SyncProducer
	topic    string
}

func NewMessageJournal(producer sarama.SyncProducer, topic string) *MessageJournal {
	return &MessageJournal{producer: producer, topic: topic}
}

func (j *MessageJournal) PublishMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	partition, offset, err := j.producer.SendMessage(&sarama.ProducerMessage{
		Topic: j.topic,
		Key:   sarama.StringEncoder(msg.ConversationID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(eventHeader), Value: []byte("message.created")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}

	slog.Debug("Message journaled", "messageID", msg.ID, "topic", j.topic, "partition", partition, "offset", offset)
	return nil
}

func (j *MessageJournal) Close() error {
	return j.producer.Close()
}
