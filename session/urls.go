// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package session

import (
	"fmt"

	"github.com/yosida95/uritemplate/v3"
)

// The three stable RobustIRC path shapes (ยง4.D), compiled once at package
// init rather than built with string concatenation on every request --
// lastseen in particular echoes server-controlled Id fields and is always
// escaped through the template expander.
var (
	createSessionTemplate = uritemplate.MustNew("/robustirc/v1/session")
	messagesTemplate      = uritemplate.MustNew("/robustirc/v1/{session}/messages{?lastseen}")
	messageTemplate       = uritemplate.MustNew("/robustirc/v1/{session}/message")
)

// lastSeen is the GetMessages cursor: the Id of the last frame the session
// has processed (ยง3, ยง6).
type lastSeen struct {
	id, reply uint64
}

func (s lastSeen) String() string {
	return fmt.Sprintf("%d.%d", s.id, s.reply)
}

// sessionURLs holds the session ID once CreateSession has succeeded, so
// the per-request path suffixes can be expanded without re-threading the
// ID through every caller.
type sessionURLs struct {
	sessionID string
}

func newSessionURLs(sessionID string) sessionURLs {
	return sessionURLs{sessionID: sessionID}
}

func (u sessionURLs) createSessionSuffix() (string, error) {
	return createSessionTemplate.Expand(uritemplate.Values{})
}

func (u sessionURLs) messageSuffix() (string, error) {
	values := uritemplate.Values{}
	values.Set("session", uritemplate.String(u.sessionID))
	return messageTemplate.Expand(values)
}

func (u sessionURLs) messagesSuffix(seen lastSeen) (string, error) {
	values := uritemplate.Values{}
	values.Set("session", uritemplate.String(u.sessionID))
	values.Set("lastseen", uritemplate.String(seen.String()))
	return messagesTemplate.Expand(values)
}
