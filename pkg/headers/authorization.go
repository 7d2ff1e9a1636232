package headers

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

// Authorization is an Authorization header.
type Authorization struct {
	// authentication method
	Method AuthMethod

	// username
	Username string

	// password, basic only
	BasicPass string

	// realm, digest only
	Realm string

	// nonce, digest only
	Nonce string

	// URI, digest only
	URI string

	// response, digest only
	Response string

	// (optional) opaque, digest only
	Opaque *string
}

// Unmarshal decodes an Authorization header.
func (h *Authorization) Unmarshal(v base.HeaderValue) error {
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

		tmp, err := base64.StdEncoding.DecodeString(v0)
		if err != nil {
			return fmt.Errorf("invalid value")
		}

		user, pass, ok := strings.Cut(string(tmp), ":")
		if !ok {
			return fmt.Errorf("invalid value")
		}

		h.Username, h.BasicPass = user, pass
		return nil

	case "Digest":
		h.Method = AuthMethodDigest

	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	kvs, err := parseKeyVals(v0, ',')
	if err != nil {
		return err
	}

	var received [5]bool

	for k, rv := range kvs {
		v := rv

		switch k {
		case "username":
			h.Username = v
			received[0] = true

		case "realm":
			h.Realm = v
			received[1] = true

		case "nonce":
			h.Nonce = v
			received[2] = true

		case "uri":
			h.URI = v
			received[3] = true

		case "response":
			h.Response = v
			received[4] = true

		case "opaque":
			h.Opaque = &v
		}
	}

	for _, r := range received {
		if !r {
			return fmt.Errorf("one or more digest fields are missing")
		}
	}

	return nil
}

// Marshal encodes an Authorization header.
func (h Authorization) Marshal() base.HeaderValue {
	if h.Method == AuthMethodBasic {
		return base.HeaderValue{"Basic " +
			base64.StdEncoding.EncodeToString([]byte(h.Username+":"+h.BasicPass))}
	}

	ret := "Digest username=\"" + h.Username + "\", realm=\"" + h.Realm + "\", " +
		"nonce=\"" + h.Nonce + "\", uri=\"" + h.URI + "\", response=\"" + h.Response + "\""

	if h.Opaque != nil {
		ret += ", opaque=\"" + *h.Opaque + "\""
	}

	return base.HeaderValue{ret}
}
