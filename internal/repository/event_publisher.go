package repository

import (
	"context"
	"fmt"

	"SignalLab/internal/domain/models"
	drepo "SignalLab/internal/domain/repository"
	pkgkafka "SignalLab/pkg/kafka"
)

// KafkaEventPublisher writes model events keyed by model id so one model's
// events stay ordered within a partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) drepo.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, e *models.ModelEvent) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(e.ModelID), e); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher drops events; used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishEvent(context.Context, *models.ModelEvent) error { return nil }
func (NopEventPublisher) Close() error                                           { return nil }
