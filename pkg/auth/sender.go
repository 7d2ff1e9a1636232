// Package auth contains utilities to send credentials to RTSP servers.
package auth

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/headers"
)

func md5Hex(in string) string {
	h := md5.Sum([]byte(in))
	return hex.EncodeToString(h[:])
}

// Sender allows to send credentials.
// It uses the WWW-Authenticate header provided by the server, if any,
// and a set of credentials.
type Sender struct {
	WWWAuth base.HeaderValue
	User    string
	Pass    string

	authHeader *headers.Authenticate
}

// Initialize initializes a Sender.
// Basic authentication is used when the server does not state otherwise
// or when the server accepts it.
func (se *Sender) Initialize() {
	for _, v := range se.WWWAuth {
		var auth headers.Authenticate
		err := auth.Unmarshal(base.HeaderValue{v})
		if err != nil {
			continue // ignore unrecognized headers
		}

		if se.authHeader == nil || auth.Method == headers.AuthMethodBasic {
			se.authHeader = &auth
		}
	}

	if se.authHeader == nil {
		se.authHeader = &headers.Authenticate{Method: headers.AuthMethodBasic}
	}
}

// Method returns the authentication method in use.
func (se *Sender) Method() headers.AuthMethod {
	return se.authHeader.Method
}

// AddAuthorization adds the Authorization header to a Request.
func (se *Sender) AddAuthorization(req *base.Request) {
	h := headers.Authorization{
		Method:   se.authHeader.Method,
		Username: se.User,
	}

	if se.authHeader.Method == headers.AuthMethodBasic {
		h.BasicPass = se.Pass
	} else {
		urStr := req.URL.CloneWithoutCredentials().String()

		h.Realm = se.authHeader.Realm
		h.Nonce = se.authHeader.Nonce
		h.URI = urStr
		h.Opaque = se.authHeader.Opaque
		h.Response = md5Hex(md5Hex(se.User+":"+se.authHeader.Realm+":"+se.Pass) + ":" +
			se.authHeader.Nonce + ":" + md5Hex(string(req.Method)+":"+urStr))
	}

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	req.Header["Authorization"] = h.Marshal()
}
