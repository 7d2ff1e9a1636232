package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtsprelay/pkg/base"
)

func stringPtr(v string) *string {
	return &v
}

var casesAuthenticate = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Authenticate
}{
	{
		"basic",
		base.HeaderValue{`Basic realm="4419b63f5e51"`},
		base.HeaderValue{`Basic realm="4419b63f5e51"`},
		Authenticate{
			Method: AuthMethodBasic,
			Realm:  "4419b63f5e51",
		},
	},
	{
		"digest",
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", stale="FALSE"`},
		base.HeaderValue{`Digest realm="4419b63f5e51", nonce="8b84a3b789283a8bea8da7fa7d41f08b", stale="FALSE"`},
		Authenticate{
			Method: AuthMethodDigest,
			Realm:  "4419b63f5e51",
			Nonce:  "8b84a3b789283a8bea8da7fa7d41f08b",
			Stale:  stringPtr("FALSE"),
		},
	},
	{
		"digest md5",
		base.HeaderValue{`Digest realm="r", nonce="n", opaque="o", algorithm="MD5"`},
		base.HeaderValue{`Digest realm="r", nonce="n", opaque="o", algorithm="MD5"`},
		Authenticate{
			Method:    AuthMethodDigest,
			Realm:     "r",
			Nonce:     "n",
			Opaque:    stringPtr("o"),
			Algorithm: stringPtr("MD5"),
		},
	},
}

func TestAuthenticateUnmarshal(t *testing.T) {
	for _, ca := range casesAuthenticate {
		t.Run(ca.name, func(t *testing.T) {
			var h Authenticate
			err := h.Unmarshal(ca.vin)
			require.NoError(t, err)
			require.Equal(t, ca.h, h)
		})
	}
}

func TestAuthenticateMarshal(t *testing.T) {
	for _, ca := range casesAuthenticate {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.vout, ca.h.Marshal())
		})
	}
}

func TestAuthenticateUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		hv   base.HeaderValue
		err  string
	}{
		{"empty", base.HeaderValue{}, "value not provided"},
		{"no keys", base.HeaderValue{"Basic"}, "unable to split between method and keys (Basic)"},
		{"invalid method", base.HeaderValue{"Bearer realm=\"a\""}, "invalid method (Bearer)"},
		{"missing realm", base.HeaderValue{"Basic test=\"v\""}, "realm is missing"},
		{"missing nonce", base.HeaderValue{"Digest realm=\"v\""}, "nonce is missing"},
		{"unsupported algorithm", base.HeaderValue{"Digest realm=\"v\", nonce=\"n\", algorithm=\"SHA-256\""},
			"unsupported algorithm (SHA-256)"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Authenticate
			err := h.Unmarshal(ca.hv)
			require.EqualError(t, err, ca.err)
		})
	}
}

var casesAuthorization = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Authorization
}{
	{
		"basic",
		base.HeaderValue{"Basic bXl1c2VyOm15cGFzcw=="},
		base.HeaderValue{"Basic bXl1c2VyOm15cGFzcw=="},
		Authorization{
			Method:    AuthMethodBasic,
			Username:  "myuser",
			BasicPass: "mypass",
		},
	},
	{
		"digest",
		base.HeaderValue{`Digest username="aa", realm="bb", nonce="cc", uri="dd", response="ee"`},
		base.HeaderValue{`Digest username="aa", realm="bb", nonce="cc", uri="dd", response="ee"`},
		Authorization{
			Method:   AuthMethodDigest,
			Username: "aa",
			Realm:    "bb",
			Nonce:    "cc",
			URI:      "dd",
			Response: "ee",
		},
	},
}

func TestAuthorizationUnmarshal(t *testing.T) {
	for _, ca := range casesAuthorization {
		t.Run(ca.name, func(t *testing.T) {
			var h Authorization
			err := h.Unmarshal(ca.vin)
			require.NoError(t, err)
			require.Equal(t, ca.h, h)
		})
	}
}

func TestAuthorizationMarshal(t *testing.T) {
	for _, ca := range casesAuthorization {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.vout, ca.h.Marshal())
		})
	}
}

func TestAuthorizationUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		hv   base.HeaderValue
		err  string
	}{
		{"empty", base.HeaderValue{}, "value not provided"},
		{"invalid basic", base.HeaderValue{"Basic aaa"}, "invalid value"},
		{"basic without colon", base.HeaderValue{"Basic bXl1c2Vy"}, "invalid value"},
		{"digest missing fields", base.HeaderValue{`Digest username="aa"`}, "one or more digest fields are missing"},
		{"digest unclosed apexes", base.HeaderValue{`Digest username="aa`}, `apexes not closed (username="aa)`},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Authorization
			err := h.Unmarshal(ca.hv)
			require.EqualError(t, err, ca.err)
		})
	}
}
