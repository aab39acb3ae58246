// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package robustdebug provides a mechanism to configure debug/compatibility
// parameters via the ROBUSTSESSIONDEBUG environment variable.
//
// The value of ROBUSTSESSIONDEBUG is a comma-separated list of key=value
// pairs. For example:
//
//	ROBUSTSESSIONDEBUG=traceframes=1,tracebackoff=1
package robustdebug

import (
	"fmt"
	"os"
	"strings"
)

const envKey = "ROBUSTSESSIONDEBUG"

var params map[string]string

func init() {
	var err error
	params, err = parse(os.Getenv(envKey))
	if err != nil {
		panic(err)
	}
}

// Value returns the value of the debug parameter with the given key.
// It returns an empty string if the key is not set.
func Value(key string) string {
	return params[key]
}

// Bool reports whether the named parameter is set to a truthy value ("1",
// "true", or "yes"). Unset or unrecognized values are false.
func Bool(key string) bool {
	switch params[key] {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parse(envValue string) (map[string]string, error) {
	if envValue == "" {
		return nil, nil
	}

	out := make(map[string]string)
	for _, part := range strings.Split(envValue, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%s: invalid format: %q", envKey, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
