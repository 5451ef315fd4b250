// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func compile(schema string) (*jsonschema.Schema, error) {
	return jsonschema.CompileString("schema.json", schema)
}

func jsonReader(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}
