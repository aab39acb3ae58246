// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robustirc/robustsession/internal/util"
)

const (
	connectTimeout      = 5 * time.Second
	shortRequestTimeout = 30 * time.Second
)

// Runner drives the two HTTP connection pools ยง4.B requires: one for short
// request/response calls (CreateSession, PostMessage) and a separate one
// for the long-poll GetMessages, so a stuck long-poll can never stall a
// POST and vice versa (ยง9). Each pool is capped at one connection per host
// and has HTTP/2 multiplexing disabled, since request ordering per target
// must not depend on stream multiplexing semantics.
type Runner struct {
	short  *http.Client
	stream *http.Client
}

// NewRunner builds a Runner. family forces IPv4 or IPv6 dialing when set;
// insecureSkipVerify disables TLS certificate verification (for test
// fixtures -- verification is on by default).
func NewRunner(family util.Family, insecureSkipVerify bool) *Runner {
	newTransport := func() *http.Transport {
		dialer := util.NewFamilyDialer(&net.Dialer{Timeout: connectTimeout}, family)
		return &http.Transport{
			DialContext:       dialer.DialContext,
			MaxConnsPerHost:   1,
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			TLSNextProto:      map[string]func(string, *tls.Conn) http.RoundTripper{},
			ForceAttemptHTTP2: false,
		}
	}
	return &Runner{
		short:  &http.Client{Transport: newTransport(), Timeout: shortRequestTimeout},
		stream: &http.Client{Transport: newTransport()},
	}
}

// DoShort issues req against the short-request pool.
func (r *Runner) DoShort(req *http.Request) (*http.Response, error) {
	return r.short.Do(req)
}

// DoStream issues req (a GetMessages long-poll) against the streaming
// pool. It carries no client-side timeout; idle detection is the caller's
// responsibility (ยง4.C).
func (r *Runner) DoStream(req *http.Request) (*http.Response, error) {
	return r.stream.Do(req)
}

// classification is the ยง4.B completion-classification outcome of one HTTP
// round trip.
type classification int

const (
	classSuccess classification = iota
	classTemporary
	classPermanent
	classCancelled
)

// classifyStatus implements the non-transport-error half of ยง4.B's
// completion-classification table for a response whose status line has
// already been read.
func classifyStatus(status int, isGetMessages bool) (classification, error) {
	switch {
	case status >= 500 && status < 600:
		return classTemporary, &HTTPStatusError{StatusCode: status}
	case status >= 200 && status < 300:
		if isGetMessages {
			return classTemporary, ErrStreamClosed
		}
		return classSuccess, nil
	default:
		return classPermanent, &HTTPStatusError{StatusCode: status}
	}
}

// classifyErr classifies a round trip that never produced a response
// (transport-level failure), distinguishing a deliberate cancellation
// (ยง7 Cancelled, silent) from a genuine TransientTransport failure.
func classifyErr(ctx context.Context, err error) (classification, error) {
	if ctx.Err() != nil {
		return classCancelled, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return classTemporary, err
}
