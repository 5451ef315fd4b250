// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker wraps the NATS client used as this pipeline's transport.
// NATS subjects play the role spec.md §6 assigns to AMQP exchange +
// routing key: a direct exchange with routing key `bucket.3` becomes the
// subject "vumi.metrics.buckets.bucket.3"; a queue-subscription with a
// single member plays the role of an exclusive, durable consumer queue.
//
// All Client methods are safe for concurrent use; subscription callbacks
// themselves run on NATS's own dispatch goroutines and must not mutate
// component state directly (see internal/aggregator for the one place
// that matters).
package broker

import (
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MessageHandler processes one delivered message on a subject.
type MessageHandler func(subject string, data []byte)

// clientMetrics instruments the connection-level events every component's
// own `metrics` struct can't see, since they happen inside this package's
// NATS callbacks rather than at the call site.
type clientMetrics struct {
	reconnects        prometheus.Counter
	disconnects       prometheus.Counter
	asyncErrors       prometheus.Counter
	subscribeFailures *prometheus.CounterVec
	publishFailures   prometheus.Counter
}

func newClientMetrics() *clientMetrics {
	return &clientMetrics{
		reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Times the NATS connection was re-established after a disconnect.",
		}),
		disconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_disconnects_total",
			Help: "Times the NATS connection was lost.",
		}),
		asyncErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_async_errors_total",
			Help: "Asynchronous NATS errors reported outside any single call (e.g. slow consumer).",
		}),
		subscribeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_subscribe_failures_total",
			Help: "Subscribe/QueueSubscribe calls that failed to register.",
		}, []string{"kind"}),
		publishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "broker_publish_failures_total",
			Help: "Publish calls that returned an error.",
		}),
	}
}

// Client wraps a NATS connection with subscription bookkeeping so Close
// can tear every subscription down cleanly during graceful shutdown, and
// with the connection-lifecycle counters every other component in this
// module exposes for its own concern.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
	metrics       *clientMetrics
}

// Connect dials the broker described by cfg. Reconnect/disconnect/error
// handlers log and count, so an operator watching `/metrics` can see how
// often the connection drops. Core NATS pub/sub has no redelivery: messages
// that were not delivered while the connection was down are not resent
// once it is restored.
func Connect(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("broker: address is required")
	}

	metrics := newClientMetrics()

	var opts []nats.Option

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		metrics.disconnects.Inc()
		if err != nil {
			cclog.Warnf("broker: disconnected: %v", err)
		}
	}))

	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		metrics.reconnects.Inc()
		cclog.Infof("broker: reconnected to %s", nc.ConnectedUrl())
	}))

	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
		metrics.asyncErrors.Inc()
		if sub != nil {
			cclog.Errorf("broker: async error on %q: %v", sub.Subject, err)
			return
		}
		cclog.Errorf("broker: async error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: connect failed: %w", err)
	}

	cclog.Infof("broker: connected to %s", cfg.Address)

	return &Client{
		conn:          nc,
		subscriptions: make([]*nats.Subscription, 0),
		metrics:       metrics,
	}, nil
}

// Subscribe registers handler for every message on subject. Any number of
// Subscribe calls across any number of processes receive every message -
// used where fan-out, not load-balancing, is wanted.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		c.metrics.subscribeFailures.WithLabelValues("fanout").Inc()
		return fmt.Errorf("broker: subscribe to %q failed: %w", subject, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	cclog.Infof("broker: subscribed to %q", subject)
	return nil
}

// QueueSubscribe registers handler as one member of the named queue group.
// When exactly one process subscribes with a given queue name, this gives
// the exclusive-consumer guarantee spec.md §5 requires of each Aggregator's
// bucket queue: messages for that subject are delivered to that one
// process only, and restarting it does not require coordinating with any
// other instance. NATS does not stop a second process from joining the same
// queue group; keeping each group to one member is left to the operator.
func (c *Client) QueueSubscribe(subject, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		c.metrics.subscribeFailures.WithLabelValues("queue").Inc()
		return fmt.Errorf("broker: queue subscribe to %q (queue %q) failed: %w", subject, queue, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	cclog.Infof("broker: queue subscribed to %q (queue %q)", subject, queue)
	return nil
}

// Publish sends data to subject. Transient transport errors are returned
// to the caller to decide the negative-ack/redelivery policy spec.md §7
// assigns to publish failures.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		c.metrics.publishFailures.Inc()
		return fmt.Errorf("broker: publish to %q failed: %w", subject, err)
	}
	return nil
}

// Flush blocks until the broker has acknowledged every buffered publish.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close unsubscribes everything and closes the connection. Safe to call
// during graceful shutdown after in-flight handlers have drained.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			cclog.Warnf("broker: unsubscribe failed: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
		cclog.Info("broker: connection closed")
	}
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
