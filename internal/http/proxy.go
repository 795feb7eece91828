// Package http builds the HTTP clients used for Mega API calls and content downloads.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/megadl/internal/config"
	"github.com/rescale/megadl/internal/constants"
)

// apiClientTimeout bounds a single metadata round trip. Content downloads clear it.
const apiClientTimeout = 300 * time.Second

const defaultProxyPort = 8080

// ConfigureHTTPClient returns a client routed according to cfg's proxy mode.
// Basic and NTLM modes without a host fall back to a direct connection.
// With ProxyWarmup set, one request is sent through the proxy before returning.
func ConfigureHTTPClient(cfg *config.Config) (*nethttp.Client, error) {
	mode := cfg.EffectiveProxyMode()
	transport := newBaseTransport()
	var rt nethttp.RoundTripper = transport
	warmup := false

	switch {
	case mode == config.ProxyNone:

	case mode == config.ProxySystem:
		transport.Proxy = nethttp.ProxyFromEnvironment
		warmup = cfg.ProxyWarmup

	case config.ProxyAuthMode(mode):
		if cfg.ProxyHost == "" {
			log.Warn().Str("mode", mode).Msg("proxy host missing, connecting directly")
			break
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy)
		hasCreds := cfg.ProxyUser != "" && cfg.ProxyPassword != ""
		if cfg.ProxyUser != "" && !hasCreds {
			log.Warn().Str("mode", mode).Msg("proxy user set but MEGADL_PROXY_PASSWORD is empty, proxy auth disabled")
		}
		if mode == config.ProxyNTLM {
			rt = ntlmssp.Negotiator{RoundTripper: transport}
		}
		warmup = cfg.ProxyWarmup && hasCreds

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.ProxyMode)
	}

	client := &nethttp.Client{Transport: rt, Timeout: apiClientTimeout}
	if warmup {
		if err := warmupProxy(client, cfg); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}
	return client, nil
}

func newBaseTransport() *nethttp.Transport {
	dialer := &net.Dialer{
		Timeout:   constants.HTTPDialTimeout,
		KeepAlive: constants.HTTPDialKeepAlive,
	}
	return &nethttp.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: constants.HTTPResponseHeaderTimeout,
	}
}

// buildProxyURL returns http://host:port for cfg, with user info only
// when both user and password are known. Some proxies reject an empty password.
func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.ProxyPort
	if port == 0 {
		port = defaultProxyPort
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(port))}
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return u
}

// warmupProxy sends one GET to the API host so the first metadata call
// does not pay for the proxy handshake. Only a 5xx reply counts as failure.
func warmupProxy(client *nethttp.Client, cfg *config.Config) error {
	target := cfg.APIURL
	if target == "" {
		target = constants.DefaultAPIURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ProxyWarmupTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}
	return nil
}

// proxyFuncWithBypass routes every request through proxyURL except hosts
// matched by the comma-separated noProxy list (domains, *.wildcards, CIDRs).
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	resolve := (&httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}).ProxyFunc()

	return func(req *nethttp.Request) (*url.URL, error) {
		via, err := resolve(req.URL)
		ev := log.Trace().Str("host", req.URL.Host)
		if via == nil {
			ev.Msg("proxy bypass")
		} else {
			ev.Str("proxy", via.Host).Msg("proxied")
		}
		return via, err
	}
}

// NeedsProxyPassword reports whether an authenticating proxy mode has a
// user but no password yet.
func NeedsProxyPassword(cfg *config.Config) bool {
	return config.ProxyAuthMode(cfg.EffectiveProxyMode()) && cfg.ProxyUser != "" && cfg.ProxyPassword == ""
}
