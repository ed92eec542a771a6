// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/consumer"
)

// Setting keys read by the handler factory.
const (
	TypeKey         = "export_type"
	QueueNameKey    = "queue_name"
	KeyFieldKey     = "queue_field"
	KafkaBrokersKey = "kafka_brokers"
	KafkaTopicKey   = "kafka_topic"
	AMQPURLKey      = "amqp_url"
	AMQPExchangeKey = "amqp_exchange"
	JobNameKey      = "job_name"
)

// Export types.
const (
	TypeKafka = "kafka"
	TypeAMQP  = "amqp"
)

func init() {
	consumer.RegisterHandler("export", NewHandler)
}

// NewHandler builds an exporter from the service settings.
func NewHandler(settings consumer.Settings) (consumer.Handler, error) {
	publisher, err := newPublisher(settings)
	if err != nil {
		return nil, errors.Trace(err)
	}
	exp, err := NewExporter(settings.String(QueueNameKey), settings.String(KeyFieldKey), publisher)
	if err != nil {
		_ = publisher.Close()
		return nil, errors.Trace(err)
	}
	return exp, nil
}

func newPublisher(settings consumer.Settings) (Publisher, error) {
	switch t := settings.String(TypeKey); t {
	case TypeKafka:
		return NewKafkaPublisher(KafkaConfig{
			Brokers:  settings.Strings(KafkaBrokersKey),
			Topic:    settings.String(KafkaTopicKey),
			ClientID: settings.String(JobNameKey),
		})
	case TypeAMQP:
		return NewAMQPPublisher(AMQPConfig{
			URL:      settings.String(AMQPURLKey),
			Exchange: settings.String(AMQPExchangeKey),
		})
	case "":
		return nil, errors.NotValidf("empty %s", TypeKey)
	default:
		return nil, errors.NotValidf("%s %q", TypeKey, t)
	}
}
