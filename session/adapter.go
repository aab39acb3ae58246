// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

// Adapter is the minimal capability set the engine requires from a host
// (ยง4.E "Host Adapter"). A host passes one to Dial; the engine never
// assumes anything about the host's own event loop beyond these two
// callbacks, both of which may be invoked from goroutines other than the
// one that called Dial.
type Adapter interface {
	// Incoming delivers one inbound IRC line from the GetMessages stream,
	// in server order, already unwrapped from its RobustIRC frame.
	Incoming(line string)

	// Signal delivers one lifecycle event (ยง4.E).
	Signal(Signal)
}

// Kind identifies the lifecycle event carried by a Signal.
type Kind int

const (
	// KindServerLooking fires once, on entering Resolving.
	KindServerLooking Kind = iota
	// KindServerConnectFinished fires once CreateSession succeeds and the
	// session enters Streaming.
	KindServerConnectFinished
	// KindErrorRetry fires on every retried request; Line carries a
	// formatted diagnostic (ยง7).
	KindErrorRetry
	// KindDisconnected fires exactly once, when the session reaches
	// Closed due to a Permanent failure. Err is nil if the host itself
	// requested the close (in which case this Signal is never actually
	// delivered -- see ยง4.D WriteOnly).
	KindDisconnected
)

// Signal is a lifecycle event emitted through an Adapter.
type Signal struct {
	Kind Kind
	// Line is set for KindErrorRetry: a formatted diagnostic. For a
	// retried HTTP request it gives the URL suffix, the target it failed
	// against, the newly picked target, the error, and a correlation ID
	// tying it to every other retry of the same logical request (ยง4.E).
	// For a retried DNS resolve it gives only the address and the error.
	Line string
	// Err is set for KindDisconnected: the terminal error that closed the
	// session.
	Err error
}
