// Package forwarder dispatches buffered requests to backends with
// bounded retries and a per-attempt timeout, consulting the circuit
// breaker once before the first attempt and recording the outcome of
// every attempt.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/circuitbreaker"
	"github.com/C-NASIR/API-Gateway/internal/trace"
)

// Options are the effective per-route retry settings after merging
// route overrides over the gateway defaults.
type Options struct {
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Response is the forwarder outcome handed back to the pipeline:
// either a relayed upstream response or a synthesized 502.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	CircuitOpen bool
}

var errUpstreamStatus = errors.New("upstream returned 5xx")

// Forwarder owns the pooled backend client.
type Forwarder struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
	log     *zap.SugaredLogger
}

// New creates a Forwarder sharing one connection pool across backends,
// with per-host idle limits so each backend keeps its own warm pool.
func New(breaker *circuitbreaker.Breaker, log *zap.SugaredLogger) *Forwarder {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		client:  &http.Client{Transport: transport},
		breaker: breaker,
		log:     log,
	}
}

// Close drains the connection pool. Registered as a shutdown cleanup.
func (f *Forwarder) Close(context.Context) error {
	f.client.CloseIdleConnections()
	return nil
}

// Forward sends the request to target, retrying on transport errors
// and 5xx responses. It never returns nil.
func (f *Forwarder) Forward(ctx context.Context, method, target string, headers map[string]string, body []byte, opts Options) *Response {
	log := trace.Logger(ctx, f.log)

	u, err := url.Parse(target)
	if err != nil {
		log.Errorw("invalid target url", "target", target, "err", err)
		return synthesized502(fmt.Sprintf("Upstream error after %d retries", opts.Retries), false)
	}
	authority := u.Host

	if !f.breaker.Allow(authority) {
		log.Warnw("circuit breaker is open, request blocked", "backend", authority)
		return synthesized502("Upstream error after circuit breaker opened", true)
	}

	var out *Response
	attempt := 0
	op := func() error {
		attempt++
		log.Infow("forwarding attempt", "attempt", attempt, "target", target)

		resp, err := f.attempt(ctx, method, target, headers, body, opts.Timeout)
		if err != nil {
			log.Errorw("request error", "target", target, "err", err)
			f.breaker.RecordFailure(authority)
			return err
		}
		if resp.StatusCode >= 500 {
			f.breaker.RecordFailure(authority)
			return errUpstreamStatus
		}
		f.breaker.RecordSuccess(authority)
		out = resp
		return nil
	}

	// Constant delay between attempts; the context makes the sleep
	// abort as soon as the client disconnects.
	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), uint64(opts.Retries)),
		ctx,
	)
	if err := backoff.Retry(op, schedule); err != nil {
		log.Errorw("all attempts failed", "target", target, "attempts", attempt)
		return synthesized502(fmt.Sprintf("Upstream error after %d retries", opts.Retries), false)
	}
	return out
}

// attempt issues a single upstream request under its own deadline and
// buffers the response. A 5xx body is discarded since it will never be
// relayed.
func (f *Forwarder) attempt(ctx context.Context, method, target string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}, nil
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: buf}, nil
}

func synthesized502(body string, circuitOpen bool) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	if circuitOpen {
		h.Set("X-Circuit-Open", "true")
	}
	return &Response{
		StatusCode:  http.StatusBadGateway,
		Header:      h,
		Body:        []byte(body),
		CircuitOpen: circuitOpen,
	}
}
