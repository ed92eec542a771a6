// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package export

import (
	"context"

	"github.com/juju/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig holds the settings of an AMQPPublisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// Validate returns an error if the config cannot drive an AMQPPublisher.
func (c AMQPConfig) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty amqp url")
	}
	return nil
}

// AMQPPublisher publishes to an AMQP exchange on a channel in confirm
// mode. The empty exchange is the default exchange, where the routing key
// names the destination queue.
type AMQPPublisher struct {
	exchange string
	publish  func(ctx context.Context, exchange, key string, msg amqp.Publishing) (bool, error)
	close    func() error
}

// NewAMQPPublisher connects to config.URL and opens a confirming channel.
func NewAMQPPublisher(config AMQPConfig) (*AMQPPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, errors.Annotate(err, "dialing amqp broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Annotate(err, "opening amqp channel")
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Annotate(err, "enabling publisher confirms")
	}
	return &AMQPPublisher{
		exchange: config.Exchange,
		publish: func(ctx context.Context, exchange, key string, msg amqp.Publishing) (bool, error) {
			dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, true, false, msg)
			if err != nil {
				return false, err
			}
			return dc.WaitContext(ctx)
		},
		close: func() error {
			_ = ch.Close()
			return conn.Close()
		},
	}, nil
}

// Publish is part of the Publisher interface.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	acked, err := p.publish(ctx, p.exchange, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return errors.Annotatef(err, "publishing to exchange %q", p.exchange)
	}
	if !acked {
		return errors.Errorf("broker refused message for %q on exchange %q", key, p.exchange)
	}
	return nil
}

// Close is part of the Publisher interface.
func (p *AMQPPublisher) Close() error {
	return errors.Trace(p.close())
}
