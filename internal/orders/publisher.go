package orders

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/agrimanager-orders/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

// KafkaPublisher hands envelopes to the async producer.
type KafkaPublisher struct {
	Producer *kafkax.Producer
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env Envelope) {
	p.Producer.Publish(ctx, topic, PartitionKey(env.CorrelationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
