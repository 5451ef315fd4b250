// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metricwire

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

// CurrentSchemaVersion is bumped whenever the Avro schema below gains or
// changes a field. Readers encountering a higher version than they know
// about should fail the decode rather than silently misinterpret it.
const CurrentSchemaVersion int32 = 1

// metricMessageSchema is the canonical, self-describing wire schema for a
// MetricMessage. It is deliberately flat and tag-free (no unions) so that
// independently written routers and aggregators, possibly in different
// languages, decode it identically - the same cross-language contract
// spec.md §6 requires of the hash function.
const metricMessageSchema = `{
  "type": "record",
  "name": "MetricMessage",
  "fields": [
    {"name": "schema_version", "type": "int"},
    {"name": "datapoints", "type": {"type": "array", "items": {
      "type": "record",
      "name": "Datapoint",
      "fields": [
        {"name": "metric_name", "type": "string"},
        {"name": "aggregators", "type": {"type": "array", "items": "string"}},
        {"name": "values", "type": {"type": "array", "items": {
          "type": "record",
          "name": "Sample",
          "fields": [
            {"name": "timestamp", "type": "long"},
            {"name": "value", "type": "double"}
          ]
        }}}
      ]
    }}}
  ]
}`

var messageCodec *goavro.Codec

func init() {
	codec, err := goavro.NewCodec(metricMessageSchema)
	if err != nil {
		// The schema above is a compile-time constant; a failure here
		// means the schema itself is broken, which is a programmer
		// error, not a runtime condition callers can recover from.
		panic(fmt.Sprintf("metricwire: invalid Avro schema: %v", err))
	}
	messageCodec = codec
}

// Encode serializes a MetricMessage to its binary Avro wire form.
func Encode(msg MetricMessage) ([]byte, error) {
	native := map[string]any{
		"schema_version": msg.SchemaVersion,
		"datapoints":     make([]any, len(msg.Datapoints)),
	}
	datapoints := native["datapoints"].([]any)
	for i, dp := range msg.Datapoints {
		aggregators := make([]any, len(dp.Aggregators))
		for j, a := range dp.Aggregators {
			aggregators[j] = a
		}
		values := make([]any, len(dp.Values))
		for j, v := range dp.Values {
			values[j] = map[string]any{
				"timestamp": v.Timestamp,
				"value":     v.Value,
			}
		}
		datapoints[i] = map[string]any{
			"metric_name": dp.MetricName,
			"aggregators": aggregators,
			"values":      values,
		}
	}

	buf, err := messageCodec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("metricwire: encode failed: %w", err)
	}
	return buf, nil
}

// Decode parses a binary Avro MetricMessage. A malformed envelope fails the
// whole message - there is no partial-datapoint recovery, matching the
// "partial decode fails the whole message" rule in spec.md §3.
func Decode(buf []byte) (MetricMessage, error) {
	native, _, err := messageCodec.NativeFromBinary(buf)
	if err != nil {
		return MetricMessage{}, fmt.Errorf("metricwire: decode failed: %w", err)
	}

	root, ok := native.(map[string]any)
	if !ok {
		return MetricMessage{}, fmt.Errorf("metricwire: decode failed: unexpected native type %T", native)
	}

	version, _ := root["schema_version"].(int32)
	if version > CurrentSchemaVersion {
		return MetricMessage{}, fmt.Errorf("metricwire: decode failed: schema_version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	msg := MetricMessage{
		SchemaVersion: version,
	}

	rawDatapoints, _ := root["datapoints"].([]any)
	msg.Datapoints = make([]Datapoint, len(rawDatapoints))
	for i, raw := range rawDatapoints {
		rec, ok := raw.(map[string]any)
		if !ok {
			return MetricMessage{}, fmt.Errorf("metricwire: decode failed: malformed datapoint at index %d", i)
		}

		rawAggregators, _ := rec["aggregators"].([]any)
		aggregators := make([]string, len(rawAggregators))
		for j, a := range rawAggregators {
			aggregators[j], _ = a.(string)
		}

		rawValues, _ := rec["values"].([]any)
		values := make([]Sample, len(rawValues))
		for j, v := range rawValues {
			sample, ok := v.(map[string]any)
			if !ok {
				return MetricMessage{}, fmt.Errorf("metricwire: decode failed: malformed sample at datapoint %d index %d", i, j)
			}
			values[j] = Sample{
				Timestamp: sample["timestamp"].(int64),
				Value:     sample["value"].(float64),
			}
		}

		msg.Datapoints[i] = Datapoint{
			MetricName:  rec["metric_name"].(string),
			Aggregators: aggregators,
			Values:      values,
		}
	}

	return msg, nil
}
