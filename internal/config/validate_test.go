// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `{
    "type": "object",
    "properties": {
        "buckets": {"type": "integer", "minimum": 1}
    },
    "required": ["buckets"]
}`

type testConfig struct {
	Buckets int `json:"buckets"`
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, Validate(testSchema, json.RawMessage(`{"buckets": 4}`)))
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	require.Error(t, Validate(testSchema, json.RawMessage(`{}`)))
}

func TestValidateRejectsWrongType(t *testing.T) {
	require.Error(t, Validate(testSchema, json.RawMessage(`{"buckets": "four"}`)))
}

func TestLoadDecodesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buckets": 8}`), 0o644))

	var cfg testConfig
	require.NoError(t, Load(path, testSchema, &cfg))
	require.Equal(t, 8, cfg.Buckets)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buckets": 8, "nonsense": true}`), 0o644))

	var cfg testConfig
	require.Error(t, Load(path, "", &cfg))
}
