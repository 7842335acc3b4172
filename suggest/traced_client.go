package suggest

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	TTFB       time.Duration
	Total      time.Duration
	ConnReused bool
}

// MetricsRecorder collects the timings of the requests made under one
// context. Trace hooks fire from transport goroutines, so access is locked.
type MetricsRecorder struct {
	mu sync.Mutex
	m  NetworkMetrics
}

func (r *MetricsRecorder) update(fn func(m *NetworkMetrics)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	fn(&r.m)
	r.mu.Unlock()
}

func (r *MetricsRecorder) Snapshot() NetworkMetrics {
	if r == nil {
		return NetworkMetrics{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

type metricsKey struct{}

// WithMetrics returns a context whose HTTP requests through a TracedClient
// are timed into the returned recorder.
func WithMetrics(ctx context.Context) (context.Context, *MetricsRecorder) {
	r := &MetricsRecorder{}
	return context.WithValue(ctx, metricsKey{}, r), r
}

type TracedClient struct {
	client *http.Client
}

func NewTracedClient() *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Transport: &tracingTransport{base: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			}},
		},
	}
}

func (c *TracedClient) HTTPClient() *http.Client { return c.client }

// WarmConnection opens a TLS connection to url ahead of the first request
// and returns the handshake time.
func (c *TracedClient) WarmConnection(url string) time.Duration {
	var tlsStart time.Time
	var tlsDuration time.Duration

	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tlsDuration
}

type tracingTransport struct {
	base http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, _ := req.Context().Value(metricsKey{}).(*MetricsRecorder)
	if rec == nil {
		return t.base.RoundTrip(req)
	}

	var getConnStart, dnsStart, tcpStart, tlsStart, wroteRequest time.Time
	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { getConnStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			wait := time.Since(getConnStart)
			rec.update(func(m *NetworkMetrics) {
				m.ConnWait = wait
				m.ConnReused = info.Reused
			})
		},
		DNSStart: func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			d := time.Since(dnsStart)
			rec.update(func(m *NetworkMetrics) { m.DNS = d })
		},
		ConnectStart: func(_, _ string) { tcpStart = time.Now() },
		ConnectDone: func(_, _ string, _ error) {
			d := time.Since(tcpStart)
			rec.update(func(m *NetworkMetrics) { m.TCP = d })
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			d := time.Since(tlsStart)
			rec.update(func(m *NetworkMetrics) { m.TLS = d })
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() {
			d := time.Since(wroteRequest)
			rec.update(func(m *NetworkMetrics) { m.TTFB = d })
		},
	}

	start := time.Now()
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err := t.base.RoundTrip(req)
	total := time.Since(start)
	rec.update(func(m *NetworkMetrics) { m.Total += total })
	return resp, err
}
