// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides internal JSON utilities for the small, bounded
// request/response bodies (CreateSession, PostMessage) where exact-case
// field matching matters more than decode throughput. The unbounded
// GetMessages stream uses its own push parser (see the session package's
// stream.go) instead.
package json

import (
	"bytes"

	"github.com/segmentio/encoding/json"
)

// Unmarshal decodes data into v, matching object keys to struct fields
// case-sensitively.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DontMatchCaseInsensitiveStructFields()
	return dec.Decode(v)
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
