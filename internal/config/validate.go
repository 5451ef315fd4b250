// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the config-file loading and validation helpers
// shared by every cmd/* binary: read a JSON file, validate it against an
// inline JSON schema, decode it into a component-specific struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Validate checks instance against the given JSON schema, matching the
// jsonschema/v5 usage in the original internal/config/validate.go - but
// returns an error instead of aborting the process, so callers can decide
// severity themselves (a malformed section of a shared config file should
// not necessarily crash every component that shares the file).
func Validate(schema string, instance json.RawMessage) error {
	sch, err := compile(schema)
	if err != nil {
		return fmt.Errorf("config: invalid schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: malformed json: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: schema validation failed: %w", err)
	}
	return nil
}

// Load reads path, validates its bytes against schema (if non-empty), and
// decodes it into out with unknown-field rejection - the same
// read-validate-decode sequence cmd/cc-backend/main.go and
// internal/config/config.go apply to their own program configuration.
func Load(path string, schema string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if schema != "" {
		if err := Validate(schema, raw); err != nil {
			return fmt.Errorf("config: validating %s: %w", path, err)
		}
	}

	dec := json.NewDecoder(jsonReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return nil
}
