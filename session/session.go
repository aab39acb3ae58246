// Copyright 2026 The RobustIRC Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package session implements the client-side RobustIRC session
// engine: server discovery, session creation, the GetMessages long-poll,
// message delivery with idempotent retries, and network-wide failover. It
// never logs and never parses IRC; both are host concerns (see Adapter).
// The ROBUSTSESSIONDEBUG=traceframes=1 toggle is the one exception, and it
// writes straight to stderr rather than through the host's own logger.
package session

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	intjson "github.com/robustirc/robustsession/internal/json"
	"github.com/robustirc/robustsession/internal/robustdebug"
)

// traceFrames gates a raw per-frame dump to stderr, enabled via
// ROBUSTSESSIONDEBUG=traceframes=1. It bypasses the Adapter on purpose: it
// is a debug side channel, not part of the engine's normal output.
var traceFrames = robustdebug.Bool("traceframes")

const (
	resolveRetryDelay = 5 * time.Second
	idleTimeout       = 60 * time.Second
	sendQueueCapacity = 256
	userAgent         = "robustsession-go/1"
)

// state is the session's position in the ยง4.D state machine.
type state int

const (
	stateResolving state = iota
	stateCreating
	stateStreaming
	stateWriteOnly
	stateClosed
)

// Config configures a Session (ยง6 "host-side configuration input"). The
// transport-level knobs (IP family, TLS verification) live on Runner,
// which is ordinarily shared across every Session dialing the same host
// configuration.
type Config struct {
	// Address is the RobustIRC network address, e.g. "robustirc.net", or
	// (testing/pinned-server hook) a comma-separated list of host:port
	// targets.
	Address string
	// Adapter receives inbound lines and lifecycle signals. Required.
	Adapter Adapter
}

type createSessionResponse struct {
	Sessionid   string
	Sessionauth string
}

type postMessageBody struct {
	Data            string `json:"Data"`
	ClientMessageID int64  `json:"ClientMessageId"`
}

// Session is one RobustIRC session: the ยง4.D state machine plus the two
// background goroutines (GetMessages receiver, message sender) that drive
// it. Session implements io.ReadWriteCloser so a host built around a
// file-descriptor abstraction can treat it like a one-way connection.
type Session struct {
	cfg      Config
	registry *Registry
	runner   *Runner

	ctx    context.Context
	cancel context.CancelFunc

	stateMu     sync.Mutex
	state       state
	hostClosed  bool
	network     *Network
	sessionAuth string
	urls        sessionURLs
	seen        lastSeen

	sendMu          sync.Mutex
	sendCh          chan []byte
	closedForWrites bool

	streamingReady chan struct{}
	senderDone     chan struct{}
	closed         chan struct{}
	finalizeOnce   sync.Once

	rng func() int32
}

// Dial creates a Session against registry/runner with cfg and immediately
// begins connecting in the background (ยง4.D: "Resolving is entered by
// connect(server)"). The returned Session can be written to or closed
// right away; writes queue until the session reaches Streaming.
func Dial(parent context.Context, registry *Registry, runner *Runner, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:            cfg,
		registry:       registry,
		runner:         runner,
		ctx:            ctx,
		cancel:         cancel,
		state:          stateResolving,
		sendCh:         make(chan []byte, sendQueueCapacity),
		streamingReady: make(chan struct{}),
		senderDone:     make(chan struct{}),
		closed:         make(chan struct{}),
		rng:            rand.Int31,
	}
	go s.runSender()
	go s.connectLoop()
	return s
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Write enqueues p for delivery as one PostMessage. It never blocks on the
// network; ordering across calls is preserved (ยง5 "guaranteed
// fire-and-forget delivery, in submission order").
func (s *Session) Write(p []byte) (int, error) {
	buf := append([]byte(nil), p...)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closedForWrites {
		return 0, io.ErrClosedPipe
	}
	s.sendCh <- buf
	return len(p), nil
}

// Read always reports EOF: the fake channel this Session presents to a
// host is write-only (ยง4.E).
func (s *Session) Read(p []byte) (int, error) { return 0, io.EOF }

// Close transitions the session to WriteOnly: every in-flight GetMessages
// (and any still-Resolving/Creating attempt) is aborted immediately, no
// further Adapter callback will ever fire, and any already-queued sends
// are allowed to finish delivering before the session reaches Closed
// (ยง4.D).
func (s *Session) Close() error {
	s.stateMu.Lock()
	alreadyClosing := s.hostClosed
	s.hostClosed = true
	s.state = stateWriteOnly
	s.stateMu.Unlock()
	if alreadyClosing {
		return nil
	}

	s.cancel()

	s.sendMu.Lock()
	if !s.closedForWrites {
		s.closedForWrites = true
		close(s.sendCh)
	}
	s.sendMu.Unlock()

	go func() {
		<-s.senderDone
		s.finalize(nil)
	}()
	return nil
}

func (s *Session) finalize(err error) {
	s.finalizeOnce.Do(func() {
		s.cancel()
		s.stateMu.Lock()
		s.state = stateClosed
		hostClosed := s.hostClosed
		s.stateMu.Unlock()
		if !hostClosed {
			s.notifySignal(Signal{Kind: KindDisconnected, Err: err})
		}
		close(s.closed)
	})
}

func (s *Session) fail(err error) {
	s.finalize(err)
}

func (s *Session) setState(st state) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Session) getState() state {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setNetwork(n *Network) {
	s.stateMu.Lock()
	s.network = n
	s.stateMu.Unlock()
}

func (s *Session) getNetwork() *Network {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.network
}

func (s *Session) setCreated(auth string, urls sessionURLs) {
	s.stateMu.Lock()
	s.sessionAuth = auth
	s.urls = urls
	s.stateMu.Unlock()
}

func (s *Session) getSessionAuth() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.sessionAuth
}

func (s *Session) getURLs() sessionURLs {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.urls
}

func (s *Session) setLastSeen(seen lastSeen) {
	s.stateMu.Lock()
	s.seen = seen
	s.stateMu.Unlock()
}

func (s *Session) getLastSeen() lastSeen {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.seen
}

func (s *Session) isHostClosed() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.hostClosed
}

func (s *Session) notifySignal(sig Signal) {
	if s.isHostClosed() {
		return
	}
	s.cfg.Adapter.Signal(sig)
}

func (s *Session) notifyIncoming(line string) {
	if s.isHostClosed() {
		return
	}
	s.cfg.Adapter.Incoming(line)
}

func (s *Session) notifyRetry(reqID, suffix, oldTarget, newTarget string, err error) {
	s.notifySignal(Signal{
		Kind: KindErrorRetry,
		Line: fmt.Sprintf("[%s] retrying %s: %s -> %s: %v", reqID, suffix, oldTarget, newTarget, err),
	})
}

// connectLoop drives Resolving and Creating (ยง4.D), then hands off to the
// Streaming goroutines.
func (s *Session) connectLoop() {
	s.setState(stateResolving)
	s.notifySignal(Signal{Kind: KindServerLooking})

	var network *Network
	for {
		n, err := s.registry.Resolve(s.ctx, s.cfg.Address)
		if err == nil {
			network = n
			break
		}
		if s.ctx.Err() != nil {
			return
		}
		s.notifySignal(Signal{Kind: KindErrorRetry, Line: fmt.Sprintf("resolving %s: %v", s.cfg.Address, err)})
		timer := time.NewTimer(resolveRetryDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.setNetwork(network)

	s.setState(stateCreating)
	reqID := uuid.NewString()
	createSuffix, err := sessionURLs{}.createSessionSuffix()
	if err != nil {
		s.fail(err)
		return
	}
	target, err := network.Pick(s.ctx, true)
	if err != nil {
		return
	}
	for {
		if err := network.Wait(s.ctx); err != nil {
			return
		}
		class, data, rtErr := s.doShort(s.ctx, http.MethodPost, target, createSuffix, nil)
		switch class {
		case classCancelled:
			return
		case classSuccess:
			var csr createSessionResponse
			if uerr := intjson.Unmarshal(data, &csr); uerr != nil {
				network.Succeeded(target)
				s.fail(fmt.Errorf("%w: %v", ErrParseFailure, uerr))
				return
			}
			network.Succeeded(target)
			s.setCreated(csr.Sessionauth, newSessionURLs(csr.Sessionid))
			s.setState(stateStreaming)
			s.notifySignal(Signal{Kind: KindServerConnectFinished})
			close(s.streamingReady)
			go s.runGetMessages()
			return
		case classTemporary:
			network.Failed(target)
			newTarget, perr := network.Pick(s.ctx, true)
			if perr != nil {
				return
			}
			s.notifyRetry(reqID, createSuffix, target, newTarget, rtErr)
			target = newTarget
		case classPermanent:
			s.fail(rtErr)
			return
		}
	}
}

// runGetMessages drives the Streaming state's long-poll (ยง4.C, ยง4.D).
func (s *Session) runGetMessages() {
	network := s.getNetwork()
	reqID := uuid.NewString()

	target, err := network.Pick(s.ctx, true)
	if err != nil {
		return
	}
	for {
		if err := network.Wait(s.ctx); err != nil {
			return
		}
		class, rtErr := s.doGetMessages(s.ctx, target)
		switch class {
		case classCancelled:
			return
		case classPermanent:
			s.fail(rtErr)
			return
		default: // classTemporary (classSuccess is unreachable: ยง4.B)
			network.Failed(target)
			newTarget, perr := network.Pick(s.ctx, true)
			if perr != nil {
				return
			}
			suffix, _ := s.getURLs().messagesSuffix(s.getLastSeen())
			s.notifyRetry(reqID, suffix, target, newTarget, rtErr)
			target = newTarget
		}
	}
}

func (s *Session) doGetMessages(ctx context.Context, target string) (classification, error) {
	suffix, err := s.getURLs().messagesSuffix(s.getLastSeen())
	if err != nil {
		return classPermanent, err
	}
	req, err := s.newRequest(ctx, http.MethodGet, target, suffix, nil)
	if err != nil {
		return classPermanent, err
	}
	resp, err := s.runner.DoStream(req)
	if err != nil {
		return classifyErr(ctx, err)
	}

	class, classErr := classifyStatus(resp.StatusCode, true)
	if class != classTemporary || classErr != ErrStreamClosed {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return class, classErr
	}

	// 2xx: stream frames in real time until the body ends, by whatever
	// means (ยง4.C). Once it ends, the round trip is classified temporary
	// regardless (GetMessages is specified as infinite). streamFrames owns
	// closing resp.Body itself.
	streamErr := s.streamFrames(ctx, resp, target)
	if ctx.Err() != nil {
		return classCancelled, ctx.Err()
	}
	if streamErr == nil {
		streamErr = ErrStreamClosed
	}
	return classTemporary, streamErr
}

func (s *Session) streamFrames(ctx context.Context, resp *http.Response, target string) error {
	reader := newFrameReader()
	reader.onParseError = func(raw []byte, err error) {
		// ยง4.C: malformed frames are discarded, not fatal.
	}

	network := s.getNetwork()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	// closeBody is also called from the reader goroutine's perspective: on
	// ctx.Done()/idle timeout below, closing the body is what unblocks a
	// Read the goroutine is parked in. A plain deferred Close at the end of
	// this function would run too late for that.
	var closeOnce sync.Once
	closeBody := func() { closeOnce.Do(func() { resp.Body.Close() }) }
	defer closeBody()

	type readResult struct {
		frames []frame
		err    error
	}
	resultCh := make(chan readResult)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				resultCh <- readResult{frames: reader.Feed(buf[:n])}
			}
			if err != nil {
				if err == io.EOF {
					err = nil
				}
				resultCh <- readResult{err: err, frames: nil}
				close(resultCh)
				return
			}
		}
	}()

	// drain unblocks and retires the reader goroutine before this function
	// returns. Without it, a return while the goroutine is blocked sending
	// on the unbuffered resultCh (e.g. it just read more bytes right as we
	// hit idle timeout or ctx cancellation) leaks that goroutine forever,
	// once per GetMessages relaunch.
	drain := func() {
		closeBody()
		for range resultCh {
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return ctx.Err()
		case <-idleTimer.C:
			drain()
			return ErrIdleTimeout
		case res, ok := <-resultCh:
			if !ok {
				return nil
			}
			if res.err != nil {
				return res.err
			}
			for _, f := range res.frames {
				if traceFrames {
					fmt.Fprintf(os.Stderr, "robustsession: frame from %s: %+v\n", target, f)
				}
				switch f.Type {
				case frameTypeIRCToClient:
					if f.Data != "" {
						s.notifyIncoming(f.Data)
						s.setLastSeen(lastSeen{id: f.Id.Id, reply: f.Id.Reply})
					}
				case frameTypeRobustPing:
					network.UpdateTargets(f.Servers)
					if !idleTimer.Stop() {
						select {
						case <-idleTimer.C:
						default:
						}
					}
					idleTimer.Reset(idleTimeout)
				}
				network.Succeeded(target)
			}
		}
	}
}

// runSender drains queued Write()s (ยง4.D "send"), one at a time, in
// submission order. It runs for the whole life of the session, even
// during Resolving/Creating, so items written before the session reaches
// Streaming simply queue.
func (s *Session) runSender() {
	defer close(s.senderDone)
	for buf := range s.sendCh {
		// Once Streaming has been reached, queued sends go out even after
		// ctx is cancelled by Close, so streamingReady is checked first.
		select {
		case <-s.streamingReady:
		default:
			select {
			case <-s.streamingReady:
			case <-s.ctx.Done():
				// Session was torn down before ever reaching Streaming:
				// nothing to send to.
				continue
			}
		}
		s.sendWithRetry(buf)
	}
}

func (s *Session) sendWithRetry(buf []byte) {
	network := s.getNetwork()
	if network == nil {
		return
	}
	reqID := uuid.NewString()
	clientMessageID := hashMessage(buf) + int64(s.rng())

	// Queued sends use an unbounded context (not the session's own ctx) so
	// that a WriteOnly close, which cancels ctx immediately, still lets
	// already-queued POSTs complete (ยง4.D). Each attempt is bounded by the
	// transport's own 30s short-request timeout; temporary failures are
	// retried with no overall limit, so Close waits for this loop to end.
	ctx := context.Background()

	target, err := network.Pick(ctx, false)
	if err != nil {
		return
	}
	for {
		if err := network.Wait(ctx); err != nil {
			return
		}
		suffix, err := s.getURLs().messageSuffix()
		if err != nil {
			return
		}
		body, err := intjson.Marshal(postMessageBody{Data: string(buf), ClientMessageID: clientMessageID})
		if err != nil {
			return
		}
		req, err := s.newRequest(ctx, http.MethodPost, target, suffix, bytes.NewReader(body))
		if err != nil {
			return
		}
		resp, rtErr := s.runner.DoShort(req)
		var class classification
		var classErr error
		if rtErr != nil {
			class, classErr = classifyErr(ctx, rtErr)
		} else {
			class, classErr = classifyStatus(resp.StatusCode, false)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		switch class {
		case classSuccess, classCancelled:
			if class == classSuccess {
				network.Succeeded(target)
			}
			return
		case classTemporary:
			network.Failed(target)
			newTarget, perr := network.Pick(ctx, false)
			if perr != nil {
				return
			}
			s.notifyRetry(reqID, suffix, target, newTarget, classErr)
			target = newTarget
		case classPermanent:
			s.fail(classErr)
			return
		}
	}
}

func (s *Session) newRequest(ctx context.Context, method, target, suffix string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, "https://"+target+suffix, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if auth := s.getSessionAuth(); auth != "" {
		req.Header.Set("X-Session-Auth", auth)
	}
	return req, nil
}

// doShort issues a short (non-GetMessages) request and returns the
// response body on success, so CreateSession's caller can decode it.
func (s *Session) doShort(ctx context.Context, method, target, suffix string, body io.Reader) (classification, []byte, error) {
	req, err := s.newRequest(ctx, method, target, suffix, body)
	if err != nil {
		return classPermanent, nil, err
	}
	resp, err := s.runner.DoShort(req)
	if err != nil {
		class, classErr := classifyErr(ctx, err)
		return class, nil, classErr
	}
	defer resp.Body.Close()

	class, classErr := classifyStatus(resp.StatusCode, false)
	if class != classSuccess {
		io.Copy(io.Discard, resp.Body)
		return class, nil, classErr
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classPermanent, nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return classSuccess, data, nil
}

func hashMessage(buf []byte) int64 {
	h := fnv.New64a()
	h.Write(buf)
	return int64(h.Sum64())
}
