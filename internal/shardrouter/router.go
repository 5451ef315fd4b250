// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shardrouter implements the ShardRouter component (spec.md §4.1):
// a stateless map from raw datapoints to bucket-exchange routing keys.
//
// Any number of ShardRouter instances may run concurrently against the
// same ingress subject; there is no router-local state beyond the broker
// connection, so any instance may be restarted at any time without
// coordinating with the others.
package shardrouter

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vumi-metrics/pipeline/pkg/broker"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// brokerClient is the subset of *broker.Client the Router needs; narrowed
// to an interface so tests can exercise handle()/route() against a fake
// instead of a live NATS connection.
type brokerClient interface {
	Subscribe(subject string, handler broker.MessageHandler) error
	Publish(subject string, data []byte) error
}

// IngressSubject is where producers publish raw Datapoints (spec.md §6,
// the "vumi.metrics" ingress exchange).
const IngressSubject = "vumi.metrics"

// BucketSubjectPrefix, combined with a shard number, is where routed
// Datapoints land (spec.md §6, the "vumi.metrics.buckets" exchange, routing
// key "bucket.<n>").
const BucketSubjectPrefix = "vumi.metrics.buckets.bucket."

// Config is the ShardRouter's configuration (spec.md §6).
type Config struct {
	Buckets    int   `json:"buckets"`     // B, total number of shards, >= 1
	BucketSize int64 `json:"bucket_size"` // seconds, > 0
}

// ConfigSchema validates a ShardRouter Config.
const ConfigSchema = `{
    "type": "object",
    "description": "ShardRouter configuration.",
    "properties": {
        "buckets": {"type": "integer", "minimum": 1},
        "bucket_size": {"type": "integer", "minimum": 1}
    },
    "required": ["buckets", "bucket_size"]
}`

// BucketSubject returns the bucket-exchange subject for shard.
func BucketSubject(shard int) string {
	return fmt.Sprintf("%s%d", BucketSubjectPrefix, shard)
}

// BucketKey computes the closed-open time-bucket index for timestamp
// (spec.md §3): floor(timestamp / bucketSize).
func BucketKey(timestamp, bucketSize int64) int64 {
	return timestamp / bucketSize
}

// Hash is H from spec.md §4.1/§6: MD5 over the ASCII encoding of
// "<metric_name>:<bucket_key>", the full 128-bit digest read as an
// unsigned big-endian integer, reduced mod buckets. It is specified down
// to this level of detail because independently written routers - possibly
// in different languages - must agree on exactly which shard a
// (metric_name, bucket_key) pair belongs to. Truncating the digest to a
// machine word (e.g. a uint64) would silently disagree with an
// implementation that does not truncate.
func Hash(metricName string, bucketKey int64, buckets int) int {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d", metricName, bucketKey)))
	digest := new(big.Int).SetBytes(sum[:])
	shard := new(big.Int).Mod(digest, big.NewInt(int64(buckets)))
	return int(shard.Int64())
}

type metrics struct {
	datapointsRouted  prometheus.Counter
	messagesPublished prometheus.Counter
	decodeErrors      prometheus.Counter
	publishErrors     prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers this package's counters on the first call and
// returns that same set on every later call.
func newMetrics() *metrics {
	metricsOnce.Do(func() { sharedMetrics = registerMetrics() })
	return sharedMetrics
}

func registerMetrics() *metrics {
	return &metrics{
		datapointsRouted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shardrouter_datapoints_routed_total",
			Help: "Datapoints grouped and routed to a bucket subject.",
		}),
		messagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shardrouter_messages_published_total",
			Help: "MetricMessages published to bucket subjects.",
		}),
		decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shardrouter_decode_errors_total",
			Help: "Inbound messages that failed to decode and were dropped.",
		}),
		publishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shardrouter_publish_errors_total",
			Help: "Publishes to a bucket subject that failed.",
		}),
	}
}

// Router is the ShardRouter component.
type Router struct {
	client  brokerClient
	cfg     Config
	metrics *metrics
}

// New builds a Router bound to client with the given configuration.
func New(client *broker.Client, cfg Config) *Router {
	return &Router{client: client, cfg: cfg, metrics: newMetrics()}
}

// Start subscribes to the ingress subject. Any number of Router instances
// may call Start against the same subject concurrently (plain fan-out
// subscribe, not a queue group - every router instance sees every
// message, which is required since grouping/shard computation is pure and
// idempotent per message, not a once-only work assignment).
func (r *Router) Start() error {
	return r.client.Subscribe(IngressSubject, r.handle)
}

// handle implements spec.md §4.1's per-message contract: decode, then for
// each Datapoint, group its values by bucket_key and publish one
// MetricMessage per (metric_name, bucket_key) group to that group's shard.
//
// A malformed inbound message is logged and dropped (spec.md §7's
// "poison-message policy"); this pipeline's broker transport (NATS core
// pub/sub) has no message-level ack/nak, so "log + ack" and "log + drop"
// collapse to the same action here - the distinction spec.md draws at the
// broker-redelivery layer is simply not observable above a transport with
// no redelivery, and is documented as such in DESIGN.md.
func (r *Router) handle(_ string, data []byte) {
	msg, err := metricwire.Decode(data)
	if err != nil {
		r.metrics.decodeErrors.Inc()
		cclog.Warnf("shardrouter: dropping malformed message: %v", err)
		return
	}

	for _, dp := range msg.Datapoints {
		if err := dp.Validate(); err != nil {
			r.metrics.decodeErrors.Inc()
			cclog.Warnf("shardrouter: dropping invalid datapoint: %v", err)
			continue
		}
		r.route(dp)
	}
}

func (r *Router) route(dp metricwire.Datapoint) {
	groups := make(map[int64][]metricwire.Sample)
	order := make([]int64, 0, 2)
	for _, v := range dp.Values {
		key := BucketKey(v.Timestamp, r.cfg.BucketSize)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	for _, key := range order {
		values := groups[key]
		r.metrics.datapointsRouted.Inc()

		shard := Hash(dp.MetricName, key, r.cfg.Buckets)
		out := metricwire.NewMessage(metricwire.Datapoint{
			MetricName:  dp.MetricName,
			Aggregators: dp.Aggregators,
			Values:      values,
		})

		buf, err := metricwire.Encode(out)
		if err != nil {
			cclog.Errorf("shardrouter: encode failed for %q: %v", dp.MetricName, err)
			continue
		}

		if err := r.client.Publish(BucketSubject(shard), buf); err != nil {
			r.metrics.publishErrors.Inc()
			cclog.Warnf("shardrouter: publish to shard %d failed (will rely on redelivery if supported): %v", shard, err)
			continue
		}
		r.metrics.messagesPublished.Inc()
	}
}
