// Package kafkasink publishes classified console messages to a Kafka topic,
// keyed by server id so one server's stream stays ordered within a partition.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/wdc-gp/gustlink"
)

// Sink implements gustlink.MessageSink on top of a kafka.Writer.
type Sink struct {
	writer *kafka.Writer
}

// New builds a sink writing to topic on broker.
func New(broker, topic string) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(broker),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes one message. The payload is the JSON form of the Message.
func (s *Sink) Publish(ctx context.Context, msg gustlink.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(msg.ServerID)),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
