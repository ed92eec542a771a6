// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"context"

	"github.com/juju/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig holds the settings of a KafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Validate returns an error if the config cannot drive a KafkaPublisher.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.NotValidf("empty kafka brokers")
	}
	if c.Topic == "" {
		return errors.NotValidf("empty kafka topic")
	}
	return nil
}

// KafkaPublisher publishes to a Kafka topic. Records are produced
// synchronously, so Publish returns after the partition leader (and, with
// the client defaults, all in sync replicas) stored the record.
type KafkaPublisher struct {
	topic   string
	produce func(context.Context, *kgo.Record) error
	close   func()
}

// NewKafkaPublisher returns a publisher for config. Extra client options
// are appended to the ones derived from config.
func NewKafkaPublisher(config KafkaConfig, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.DefaultProduceTopic(config.Topic),
	}
	if config.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(config.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, errors.Annotate(err, "creating kafka client")
	}
	return &KafkaPublisher{
		topic: config.Topic,
		produce: func(ctx context.Context, r *kgo.Record) error {
			return cl.ProduceSync(ctx, r).FirstErr()
		},
		close: cl.Close,
	}, nil
}

// Publish is part of the Publisher interface.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	r := &kgo.Record{
		Topic: p.topic,
		Value: payload,
	}
	if key != "" {
		r.Key = []byte(key)
	}
	return errors.Annotatef(p.produce(ctx, r), "producing to %q", p.topic)
}

// Close is part of the Publisher interface.
func (p *KafkaPublisher) Close() error {
	p.close()
	return nil
}
