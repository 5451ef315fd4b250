// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package broker

// Config holds the connection settings shared by every pipeline component.
// It is the NATS-backed stand-in for the broker connection settings
// spec.md §6 leaves external to ShardRouter/Aggregator/SinkForwarder
// configuration.
type Config struct {
	Address       string `json:"address"`         // e.g. "nats://localhost:4222"
	Username      string `json:"username"`        // optional
	Password      string `json:"password"`        // optional
	CredsFilePath string `json:"creds_file_path"` // optional, takes precedence over username/password
}

// ConfigSchema is a JSON schema for a broker Config section. The cmd/*
// binaries do not use it: each validates its broker section with its own
// inline schema, which checks only the "address" field.
const ConfigSchema = `{
    "type": "object",
    "description": "Connection settings for the message broker shared by all pipeline components.",
    "properties": {
        "address": {
            "description": "Address of the broker (e.g. 'nats://localhost:4222').",
            "type": "string"
        },
        "username": {
            "description": "Username for broker authentication (optional).",
            "type": "string"
        },
        "password": {
            "description": "Password for broker authentication (optional).",
            "type": "string"
        },
        "creds_file_path": {
            "description": "Path to a broker credentials file (optional).",
            "type": "string"
        }
    },
    "required": ["address"]
}`
