// Package security checks the endpoints the chatbot is about to send credentials to.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsafeEndpoint = errors.New("unsafe endpoint")

type EndpointOptions struct {
	// AllowLocal permits plain http as well as loopback, private and link-local targets.
	AllowLocal bool
}

// ValidateEndpoint parses a provider base URL and rejects it when the bearer credential
// could leak: non-http(s) schemes, plain http, and local targets unless AllowLocal is set.
// IP literals are checked without DNS lookups.
func ValidateEndpoint(rawURL string, opts EndpointOptions) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(ErrUnsafeEndpoint, err.Error())
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !opts.AllowLocal {
			return nil, errors.Wrapf(ErrUnsafeEndpoint, "plain http to %s", u.Host)
		}
	default:
		return nil, errors.Wrapf(ErrUnsafeEndpoint, "scheme %q", u.Scheme)
	}

	if u.User != nil {
		return nil, errors.Wrap(ErrUnsafeEndpoint, "credentials in URL")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, errors.Wrap(ErrUnsafeEndpoint, "query or fragment in base URL")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, errors.Wrap(ErrUnsafeEndpoint, "no host")
	}
	if opts.AllowLocal {
		return u, nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return nil, errors.Wrapf(ErrUnsafeEndpoint, "local host %q", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" {
			return nil, errors.Wrapf(ErrUnsafeEndpoint, "zoned address %q", host)
		}
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() ||
			addr.IsLoopback() || addr.IsPrivate() ||
			addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			return nil, errors.Wrapf(ErrUnsafeEndpoint, "local address %q", host)
		}
	}

	return u, nil
}

// JoinPath appends path to the base URL, keeping any path prefix of the base (".../v1").
func JoinPath(base *url.URL, path string) string {
	return strings.TrimRight(base.String(), "/") + "/" + strings.TrimLeft(path, "/")
}
