// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metricsgenerator

import (
	"fmt"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/vumi-metrics/pipeline/pkg/metricwire"
)

// decodeLineProtocol parses InfluxDB line protocol text (one measurement
// per line, a single numeric "value" field, an optional trailing
// timestamp) into Datapoints for replay through the ingress subject.
// This is the same decode loop as the teacher's NATS line-protocol
// consumer, adapted here to feed recorded or hand-written traffic into
// the pipeline for debugging and load replay instead of live NATS
// delivery.
func decodeLineProtocol(data []byte) ([]metricwire.Datapoint, error) {
	dec := lineprotocol.NewDecoderWithBytes(data)

	var out []metricwire.Datapoint
	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return nil, fmt.Errorf("metricsgenerator: replay: %w", err)
		}
		metricName := string(measurement)

		for {
			key, _, err := dec.NextTag()
			if err != nil {
				return nil, fmt.Errorf("metricsgenerator: replay: %w", err)
			}
			if key == nil {
				break
			}
		}

		var value float64
		haveValue := false
		for {
			key, val, err := dec.NextField()
			if err != nil {
				return nil, fmt.Errorf("metricsgenerator: replay: %w", err)
			}
			if key == nil {
				break
			}
			if string(key) != "value" {
				continue
			}
			switch val.Kind() {
			case lineprotocol.Float:
				value = val.FloatV()
			case lineprotocol.Int:
				value = float64(val.IntV())
			case lineprotocol.Uint:
				value = float64(val.UintV())
			default:
				return nil, fmt.Errorf("metricsgenerator: replay: unsupported field kind %s for %q", val.Kind(), metricName)
			}
			haveValue = true
		}
		if !haveValue {
			return nil, fmt.Errorf("metricsgenerator: replay: %q has no \"value\" field", metricName)
		}

		t, err := dec.Time(lineprotocol.Second, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("metricsgenerator: replay: %w", err)
		}

		out = append(out, metricwire.Datapoint{
			MetricName:  metricName,
			Aggregators: aggregatorsFor(metricName),
			Values:      []metricwire.Sample{{Timestamp: t.Unix(), Value: value}},
		})
	}

	return out, nil
}

// aggregatorsFor returns the aggregator tags a known synthetic metric
// name was generated with, or a general-purpose set for anything else
// found in replayed traffic.
func aggregatorsFor(metricName string) []string {
	for _, m := range metricNames {
		if m.name == metricName {
			return m.aggregators
		}
	}
	return []string{"sum", "avg", "min", "max", "count"}
}
