package llm

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Minute
)

// TransportOptions configures the shared upstream HTTP client. Connection
// setup is short; reads are long because generation latency is unbounded.
type TransportOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

var (
	sharedMu     sync.Mutex
	sharedClient *http.Client
)

// SharedHTTPClient returns the process-wide pooled client, creating it on
// first use. Options only apply to that first call.
func SharedHTTPClient(opts TransportOptions) *http.Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedClient == nil {
		sharedClient = NewHTTPClient(opts)
	}
	return sharedClient
}

// NewHTTPClient builds an unshared client with the given timeouts.
func NewHTTPClient(opts TransportOptions) *http.Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   opts.ReadTimeout,
	}
}
