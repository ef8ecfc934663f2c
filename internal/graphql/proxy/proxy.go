// Package proxy forwards GraphQL HTTP requests to an upstream server.
//
// The forwarder sits behind the execution capture middleware: the
// middleware records the operation, the forwarder relays it unchanged
// and streams the upstream response back so the middleware can capture
// it on the way out.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolkov/gqlscope/internal/observability"
)

// tracerName is the OpenTelemetry tracer name for forwarded requests.
const tracerName = "gqlscope/graphql-proxy"

// defaultTimeout is the default upstream request timeout.
const defaultTimeout = 30 * time.Second

// defaultMaxBodySize is the default maximum request body size (10MB).
const defaultMaxBodySize = 10 * 1024 * 1024

// Forwarder relays GraphQL requests to a single upstream endpoint.
type Forwarder struct {
	upstream    *url.URL
	transport   http.RoundTripper
	logger      observability.Logger
	timeout     time.Duration
	maxBodySize int64
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTransport sets the HTTP transport used for upstream requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithTimeout sets the upstream request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(maxBodySize int64) Option {
	return func(f *Forwarder) {
		if maxBodySize > 0 {
			f.maxBodySize = maxBodySize
		}
	}
}

// New creates a forwarder for the given upstream URL.
func New(upstream string, opts ...Option) (*Forwarder, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", upstream, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL %q must use http or https", upstream)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("upstream URL %q has no host", upstream)
	}

	f := &Forwarder{
		upstream:    target,
		timeout:     defaultTimeout,
		maxBodySize: defaultMaxBodySize,
		logger:      observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.transport == nil {
		f.transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}

	return f, nil
}

// ServeHTTP forwards the request upstream and copies the response back.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(r.Context(), "graphql.proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", f.upstream.String()),
		),
	)
	defer span.End()

	start := time.Now()

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	proxyReq, err := f.createProxyRequest(ctx, r)
	if err != nil {
		span.RecordError(err)
		f.logger.Error("failed to build upstream request", observability.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	resp, err := f.transport.RoundTrip(proxyReq)
	if err != nil {
		span.RecordError(err)
		f.logger.Error("upstream request failed",
			observability.String("upstream", f.upstream.String()),
			observability.Error(err),
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	duration := time.Since(start)
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Float64("http.duration_ms", float64(duration.Milliseconds())),
	)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warn("failed to copy upstream response", observability.Error(err))
	}

	f.logger.Debug("GraphQL request forwarded",
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", duration),
	)
}

// createProxyRequest builds the upstream request from the original one.
func (f *Forwarder) createProxyRequest(
	ctx context.Context, original *http.Request,
) (*http.Request, error) {
	var body io.Reader
	if original.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(original.Body, f.maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	reqURL := *f.upstream
	if reqURL.Path == "" || reqURL.Path == "/" {
		reqURL.Path = original.URL.Path
	}
	reqURL.RawQuery = original.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, original.Method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}

	copyHeaders(req.Header, original.Header)

	if clientIP := original.RemoteAddr; clientIP != "" {
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
				req.Header.Set("X-Forwarded-For", prior+", "+host)
			} else {
				req.Header.Set("X-Forwarded-For", host)
			}
		}
	}

	req.Header.Set("X-Forwarded-Host", original.Host)
	if original.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}

	return req, nil
}

// hopByHopHeaders are headers that should not be forwarded.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// copyHeaders copies headers from src to dst, excluding hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Upgrade") {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// Close releases idle upstream connections.
func (f *Forwarder) Close() {
	if transport, ok := f.transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
