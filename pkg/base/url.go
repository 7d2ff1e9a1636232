package base

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URL is a RTSP URL.
// This is basically an HTTP URL with some additional functions to handle
// control attributes.
type URL url.URL

// ParseURL parses a RTSP URL.
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	if u.Opaque != "" {
		return nil, fmt.Errorf("URLs with opaque data are not supported")
	}

	if u.Fragment != "" {
		return nil, fmt.Errorf("URLs with fragments are not supported")
	}

	return (*URL)(u), nil
}

// MustParseURL is like ParseURL but panics in case of errors.
func MustParseURL(s string) *URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	c := *u
	return &c
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u *URL) CloneWithoutCredentials() *URL {
	c := u.Clone()
	c.User = nil
	return c
}

// HostWithPort returns host and port of the URL,
// filling in the given port when the URL does not contain one.
func (u *URL) HostWithPort(defaultPort string) string {
	uu := (*url.URL)(u)
	if uu.Port() != "" {
		return uu.Host
	}
	return net.JoinHostPort(uu.Hostname(), defaultPort)
}

// CanonicalPath returns the path of the URL, without query and trailing slashes.
// It is the key used to match producers and listeners.
func (u *URL) CanonicalPath() string {
	p := u.Path
	if u.RawPath != "" {
		p = u.RawPath
	}

	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}

	if p[0] != '/' {
		p = "/" + p
	}

	return p
}
