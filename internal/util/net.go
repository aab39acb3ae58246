// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.
package util

import (
	"context"
	"net"
	"net/netip"
	"strings"
)

func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// If SplitHostPort fails, it might be just a host without a port.
		host = strings.Trim(addr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}

// Family is a forced IP family preference for outbound dials.
type Family int

const (
	// FamilyUnspecified leaves Go's default Happy-Eyeballs dialing in place.
	FamilyUnspecified Family = iota
	FamilyIPv4
	FamilyIPv6
)

// contextDialer is satisfied by *net.Dialer; split out so tests can inject a
// fake without opening real sockets.
type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// FamilyDialer wraps a dialer, forcing every DialContext call onto a single
// address family. It is assignable to http.Transport.DialContext.
type FamilyDialer struct {
	Dialer contextDialer
	Family Family
}

// NewFamilyDialer returns a FamilyDialer backed by base, forcing family.
func NewFamilyDialer(base *net.Dialer, family Family) *FamilyDialer {
	return &FamilyDialer{Dialer: base, Family: family}
}

// DialContext dials address, overriding the requested network ("tcp") with
// "tcp4" or "tcp6" when a family is forced. network values other than "tcp"
// (e.g. already-qualified "tcp4"/"tcp6" from a caller) are left alone.
func (d *FamilyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.Family != FamilyUnspecified && network == "tcp" {
		if d.Family == FamilyIPv4 {
			network = "tcp4"
		} else {
			network = "tcp6"
		}
	}
	return d.Dialer.DialContext(ctx, network, address)
}
