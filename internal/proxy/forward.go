package proxy

import (
	"fmt"
	"net/http"
	"net/url"
)

// ForwardTransport routes client requests through a proxy Server. The real
// destination travels in X-Stories-Target, so HTTPS targets work without CONNECT.
type ForwardTransport struct {
	proxy *url.URL
	base  http.RoundTripper
}

// NewForwardTransport creates a transport that sends every request to proxyURL.
// base may be nil, in which case http.DefaultTransport is used.
func NewForwardTransport(proxyURL string, base http.RoundTripper) (*ForwardTransport, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy url %q is not absolute", proxyURL)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &ForwardTransport{proxy: u, base: base}, nil
}

func (t *ForwardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set(TargetHeader, req.URL.String())

	u := *req.URL
	u.Scheme = t.proxy.Scheme
	u.Host = t.proxy.Host
	u.User = nil
	out.URL = &u
	out.Host = t.proxy.Host

	return t.base.RoundTrip(out)
}
