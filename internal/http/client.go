package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/constants"
)

// CreateDownloadClient creates an HTTP client for streaming file content
// from Mega storage nodes. It shares the proxy configuration of
// ConfigureHTTPClient but has no overall timeout; callers bound each
// download with a context instead.
//
// HTTP/2 is attempted unless a proxy is active or DISABLE_HTTP2=true.
// FORCE_HTTP2=true keeps HTTP/2 even through a proxy.
//
// A nil cfg yields a direct client that honours the proxy environment variables.
func CreateDownloadClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	if cfg != nil {
		c, err := ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		baseClient = c
	} else {
		tr := newBaseTransport()
		tr.Proxy = nethttp.ProxyFromEnvironment
		baseClient = &nethttp.Client{Transport: tr}
	}
	baseClient.Timeout = 0

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; leave it as configured.
		return baseClient, nil
	}

	maxConns := constants.MaxMaxConcurrent * 2
	if cfg != nil && cfg.MaxConcurrent > 0 {
		maxConns = cfg.MaxConcurrent * 2
	}
	tr.MaxIdleConnsPerHost = maxConns
	tr.MaxConnsPerHost = maxConns
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout

	// Ciphertext does not compress.
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		disableHTTP2(tr)
	}

	baseClient.Transport = tr
	return baseClient, nil
}

// proxyActive reports whether requests from a client built for cfg go through a proxy.
func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.EffectiveProxyMode() {
	case config.ProxyNone:
		return false
	case config.ProxySystem:
		return envProxy
	default:
		return cfg.ProxyHost != ""
	}
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}
