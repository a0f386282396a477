// Package httpclient builds the HTTP client used for provider calls.
//
// The client is pinned to the provider's host: redirects may not leave it or
// downgrade the scheme, so a bearer token can never follow a redirect to a
// third party.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// DefaultMaxRedirects caps redirect chains.
const DefaultMaxRedirects = 5

// Options configures a pinned client.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int // zero = DefaultMaxRedirects, negative = no redirects
	// AllowInsecure permits plain http, for local mock providers.
	AllowInsecure bool
}

// PinnedClient only talks to one host.
type PinnedClient struct {
	*http.Client
	host          string
	allowInsecure bool
	maxRedirects  int
}

// New returns a client pinned to baseURL's host.
func New(baseURL string, opts Options) (*PinnedClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse provider base url %q", baseURL)
	}
	c := &PinnedClient{
		host:          strings.ToLower(u.Hostname()),
		allowInsecure: opts.AllowInsecure,
		maxRedirects:  opts.MaxRedirects,
	}
	if c.maxRedirects == 0 {
		c.maxRedirects = DefaultMaxRedirects
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	c.Client = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: c.checkRedirect,
	}
	return c, nil
}

// Host returns the pinned host name.
func (c *PinnedClient) Host() string {
	return c.host
}

func (c *PinnedClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.maxRedirects || c.maxRedirects < 0 {
		return errors.Newf("stopped after %d redirects", len(via))
	}
	if err := c.validateURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	return nil
}

func (c *PinnedClient) validateURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !c.allowInsecure {
			return errors.Newf("plain http to %s is not allowed", u.Host)
		}
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.New("URL must not carry user info")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if host != c.host {
		return errors.Newf("host %s is not the provider host %s", host, c.host)
	}
	return nil
}
