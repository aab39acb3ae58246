// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command robustirc-demo connects to a RobustIRC network, logs every
// inbound line and lifecycle signal, and sends a NICK/USER registration
// pair once the session reaches Streaming. It exists to exercise
// robustsession end to end; it is not a complete IRC client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/robustirc/robustsession/internal/util"
	"github.com/robustirc/robustsession/session"
)

func main() {
	var (
		address  = flag.String("network", "", "RobustIRC network address (DNS SRV name, or a comma-separated host:port list)")
		nick     = flag.String("nick", "robustsession-demo", "nickname to register")
		family   = flag.String("family", "", "force IP family for dialing: \"4\", \"6\", or empty for default")
		insecure = flag.Bool("insecure-skip-tls-verify", false, "disable TLS certificate verification (test fixtures only)")
	)
	flag.Parse()

	if *address == "" {
		log.Fatal("-network is required")
	}

	fam := util.FamilyUnspecified
	switch *family {
	case "4":
		fam = util.FamilyIPv4
	case "6":
		fam = util.FamilyIPv6
	case "":
	default:
		log.Fatalf("invalid -family %q, want \"4\", \"6\", or empty", *family)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := log.New(os.Stderr, "robustirc-demo: ", log.LstdFlags)

	if *insecure {
		first := strings.TrimSpace(strings.SplitN(*address, ",", 2)[0])
		if !util.IsLoopback(first) {
			logger.Printf("warning: -insecure-skip-tls-verify is set for non-loopback target %q", first)
		}
	}
	adapter := &loggingAdapter{logger: logger, registered: make(chan struct{})}

	registry := session.NewRegistry()
	runner := session.NewRunner(fam, *insecure)

	sess := session.Dial(ctx, registry, runner, session.Config{
		Address: *address,
		Adapter: adapter,
	})

	go func() {
		select {
		case <-adapter.registered:
			fmt.Fprintf(sess, "NICK %s\r\n", *nick)
			fmt.Fprintf(sess, "USER %s 0 * :robustsession demo\r\n", *nick)
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()
	logger.Print("shutting down")
	fmt.Fprintf(sess, "QUIT :signal received\r\n")
	sess.Close()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		logger.Print("timed out waiting for session to close")
	}
}

// loggingAdapter renders session.Adapter callbacks to a *log.Logger.
// Logging, like IRC line parsing, is entirely a host concern (ยง1
// non-goals); the engine itself never imports a logging package.
type loggingAdapter struct {
	logger     *log.Logger
	registered chan struct{}
	notifyOnce bool
}

func (a *loggingAdapter) Incoming(line string) {
	a.logger.Printf("<- %s", line)
}

func (a *loggingAdapter) Signal(sig session.Signal) {
	switch sig.Kind {
	case session.KindServerLooking:
		a.logger.Print("looking up network")
	case session.KindServerConnectFinished:
		a.logger.Print("connected")
		if !a.notifyOnce {
			a.notifyOnce = true
			close(a.registered)
		}
	case session.KindErrorRetry:
		a.logger.Print(sig.Line)
	case session.KindDisconnected:
		a.logger.Printf("disconnected: %v", sig.Err)
	}
}
