package headers

import (
	"fmt"
	"strings"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

// AuthMethod is an authentication method.
type AuthMethod int

// authentication methods.
const (
	AuthMethodBasic AuthMethod = iota
	AuthMethodDigest
)

// Authenticate is a WWW-Authenticate header.
type Authenticate struct {
	// authentication method
	Method AuthMethod

	// realm
	Realm string

	// nonce, digest only
	Nonce string

	// (optional) opaque, digest only
	Opaque *string

	// (optional) stale, digest only
	Stale *string

	// (optional) algorithm, digest only. Only MD5 is supported.
	Algorithm *string
}

// Unmarshal decodes a WWW-Authenticate header.
func (h *Authenticate) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to split between method and keys (%v)", v0)
	}
	method, v0 := v0[:i], v0[i+1:]

	switch method {
	case "Basic":
		h.Method = AuthMethodBasic

	case "Digest":
		h.Method = AuthMethodDigest

	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	kvs, err := parseKeyVals(v0, ',')
	if err != nil {
		return err
	}

	realmReceived := false
	nonceReceived := false

	for k, rv := range kvs {
		v := rv

		switch k {
		case "realm":
			h.Realm = v
			realmReceived = true

		case "nonce":
			h.Nonce = v
			nonceReceived = true

		case "opaque":
			h.Opaque = &v

		case "stale":
			h.Stale = &v

		case "algorithm":
			if !strings.EqualFold(v, "MD5") {
				return fmt.Errorf("unsupported algorithm (%v)", v)
			}
			h.Algorithm = &v
		}
	}

	if !realmReceived {
		return fmt.Errorf("realm is missing")
	}

	if h.Method == AuthMethodDigest && !nonceReceived {
		return fmt.Errorf("nonce is missing")
	}

	return nil
}

// Marshal encodes a WWW-Authenticate header.
func (h Authenticate) Marshal() base.HeaderValue {
	if h.Method == AuthMethodBasic {
		return base.HeaderValue{"Basic realm=\"" + h.Realm + "\""}
	}

	ret := "Digest realm=\"" + h.Realm + "\", nonce=\"" + h.Nonce + "\""

	if h.Opaque != nil {
		ret += ", opaque=\"" + *h.Opaque + "\""
	}

	if h.Stale != nil {
		ret += ", stale=\"" + *h.Stale + "\""
	}

	if h.Algorithm != nil {
		ret += ", algorithm=\"" + *h.Algorithm + "\""
	}

	return base.HeaderValue{ret}
}
