package rtsprelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/pkg/auth"
	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/bytecounter"
	"github.com/bluenviron/rtsprelay/pkg/conn"
	"github.com/bluenviron/rtsprelay/pkg/description"
	"github.com/bluenviron/rtsprelay/pkg/headers"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
	"github.com/bluenviron/rtsprelay/pkg/scheduler"
)

const (
	clientDefaultPort = "554"
	clientUserAgent   = "rtsprelay"
)

func findBaseURL(res *base.Response, u *base.URL) (*base.URL, error) {
	for _, key := range []string{"Content-Base", "Content-Location"} {
		if cb, ok := res.Header[key]; ok {
			if len(cb) != 1 {
				return nil, fmt.Errorf("invalid %s: '%v'", key, cb)
			}

			ret, err := base.ParseURL(cb[0])
			if err != nil {
				return nil, fmt.Errorf("invalid %s: '%v'", key, cb)
			}

			// add credentials
			ret.User = u.User

			return ret, nil
		}
	}

	return u, nil
}

// statusError maps a non-successful response to an error.
func statusError(res *base.Response) error {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil

	case res.StatusCode == base.StatusUnauthorized:
		return liberrors.ErrClientAuthorized{}

	case res.StatusCode >= 400 && res.StatusCode < 500:
		return liberrors.ErrClientStreamNotFound{Code: res.StatusCode, Message: res.StatusMessage}
	}

	return liberrors.ErrClientConnect{Code: res.StatusCode, Message: res.StatusMessage}
}

// Client pulls a stream from a remote RTSP server
// and publishes it into a registry.
type Client struct {
	//
	// RTSP parameters (all optional except Registry)
	//
	// registry where the stream is published.
	Registry *Registry
	// path under which the stream is published.
	// It defaults to the path of the remote URL.
	Name string
	// timeout of read operations.
	// It defaults to 10 seconds.
	ReadTimeout time.Duration
	// timeout of write operations.
	// It defaults to 10 seconds.
	WriteTimeout time.Duration
	// period of keepalive requests.
	// It defaults to 30 seconds.
	KeepalivePeriod time.Duration
	// period of RTCP receiver reports.
	// It defaults to 5 seconds.
	RTCPPeriod time.Duration
	// user agent header.
	// It defaults to "rtsprelay".
	UserAgent string

	//
	// system functions (all optional)
	//
	// timer facility.
	Scheduler *scheduler.Scheduler
	// destination of log entries.
	// It defaults to the standard logger.
	Logger logrus.FieldLogger
	// function used to initialize the TCP client.
	// It defaults to (&net.Dialer{}).DialContext.
	DialContext func(ctx context.Context, network, address string) (net.Conn, error)

	ctx             context.Context
	ctxCancel       func()
	started         bool
	ownSched        bool
	log             logrus.FieldLogger
	keepalivePeriod time.Duration
	nconn           net.Conn
	bc              *bytecounter.Conn
	conn            *conn.Conn
	sender          *auth.Sender
	useGetParameter bool
	baseURL         *base.URL
	local           *Session
	localPublic     atomic.Pointer[Session]
	playing         atomic.Bool

	writeMutex sync.Mutex
	writeBuf   []byte
	cseq       int
	session    string

	closeMutex sync.Mutex
	closeErr   error

	// out
	connected chan error
	done      chan struct{}
}

// Connect connects to a remote server and starts pulling a stream.
// It blocks until the stream is being read or the handshake fails.
func (c *Client) Connect(ctx context.Context, address string) error {
	if c.started {
		return liberrors.ErrClientAlreadyConnected{}
	}

	u, err := base.ParseURL(address)
	if err != nil {
		return err
	}

	if c.Registry == nil {
		return fmt.Errorf("Registry not provided")
	}

	// RTSP parameters
	if c.Name == "" {
		c.Name = u.CanonicalPath()
	}
	if !strings.HasPrefix(c.Name, "/") {
		c.Name = "/" + c.Name
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.KeepalivePeriod == 0 {
		c.KeepalivePeriod = 30 * time.Second
	}
	if c.RTCPPeriod == 0 {
		c.RTCPPeriod = 5 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = clientUserAgent
	}

	// system functions
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Scheduler == nil {
		c.Scheduler = scheduler.New()
		c.ownSched = true
	}
	if c.DialContext == nil {
		c.DialContext = (&net.Dialer{}).DialContext
	}

	c.started = true
	c.keepalivePeriod = c.KeepalivePeriod
	c.writeBuf = make([]byte, 2048)
	c.log = c.Logger.WithFields(logrus.Fields{
		"url":  u.CloneWithoutCredentials().String(),
		"path": c.Name,
	})
	c.ctx, c.ctxCancel = context.WithCancel(context.Background())
	c.connected = make(chan error, 1)
	c.done = make(chan struct{})

	go c.run(u)

	select {
	case err = <-c.connected:
		if err != nil {
			<-c.done
			return err
		}
		return nil

	case <-ctx.Done():
		c.ctxCancel()
		<-c.done
		return ctx.Err()
	}
}

// Close closes all client resources and waits for them to close.
func (c *Client) Close() {
	if !c.started {
		return
	}

	if c.playing.Load() {
		c.writeTeardown()
	}
	c.ctxCancel()
	<-c.done
}

// Wait waits until all client resources are closed.
// This can happen when a fatal error occurs or when Close() is called.
func (c *Client) Wait() error {
	<-c.done

	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()
	return c.closeErr
}

// Session returns the local session that publishes the stream.
// It is nil until the stream description has been received.
func (c *Client) Session() *Session {
	return c.localPublic.Load()
}

// Stats returns connection statistics.
func (c *Client) Stats() *ConnStats {
	if c.bc == nil {
		return &ConnStats{}
	}
	return &ConnStats{
		BytesReceived: c.bc.BytesReceived(),
		BytesSent:     c.bc.BytesSent(),
	}
}

func (c *Client) run(u *base.URL) {
	defer close(c.done)

	err := c.runInner(u)

	// deregister before closing the connection
	if c.local != nil {
		c.local.close(err)
	}

	c.ctxCancel()

	if c.nconn != nil {
		c.nconn.Close()
	}

	if c.ownSched {
		c.Scheduler.Close()
	}

	c.closeMutex.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.closeMutex.Unlock()

	select {
	case c.connected <- err:
	default:
	}

	c.log.WithError(err).Info("closed")
}

func (c *Client) runInner(u *base.URL) error {
	var err error
	c.nconn, err = c.DialContext(c.ctx, "tcp", u.HostWithPort(clientDefaultPort))
	if err != nil {
		return err
	}

	c.bc = bytecounter.New(c.nconn)
	c.conn = conn.NewConn(c.bc)

	// unblock reads and writes when the client is closed
	go func() {
		<-c.ctx.Done()
		c.nconn.Close()
	}()

	err = c.handshake(u)
	if err != nil {
		if c.ctx.Err() != nil {
			return c.terminatedError()
		}
		return err
	}

	c.local.addTask(c.Scheduler.Every(c.keepalivePeriod, c.keepalive))

	c.playing.Store(true)
	c.connected <- nil
	c.log.Info("pulling")

	return c.runReader()
}

func (c *Client) terminatedError() error {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()

	if c.closeErr != nil {
		return c.closeErr
	}
	return liberrors.ErrClientTerminated{}
}

func (c *Client) handshake(u *base.URL) error {
	res, err := c.do(&base.Request{
		Method: base.Options,
		URL:    u,
	})
	if err != nil {
		return err
	}

	if pub, ok := res.Header["Public"]; ok && len(pub) == 1 {
		for _, m := range strings.Split(pub[0], ",") {
			if base.Method(strings.TrimSpace(m)) == base.GetParameter {
				c.useGetParameter = true
			}
		}
	}

	sdp, err := c.doDescribe(u)
	if err != nil {
		return err
	}

	c.local = newSession(sessionConf{
		uri:        c.Name,
		mode:       SessionModeClientPull,
		conn:       c,
		registry:   c.Registry,
		scheduler:  c.Scheduler,
		rtcpPeriod: c.RTCPPeriod,
		logger:     c.log,
	})

	c.localPublic.Store(c.local)

	err = c.local.transition(base.Describe)
	if err != nil {
		return err
	}

	err = c.local.setSDP(sdp)
	if err != nil {
		return liberrors.ErrClientSDPInvalid{Err: err}
	}

	for i, st := range c.local.Streams() {
		err = c.doSetup(i, st)
		if err != nil {
			return err
		}
	}

	err = c.doPlay()
	if err != nil {
		return err
	}

	err = c.local.play()
	if err != nil {
		return err
	}

	c.local.becomeProducer()
	return nil
}

func (c *Client) doDescribe(u *base.URL) ([]byte, error) {
	res, err := c.do(&base.Request{
		Method: base.Describe,
		URL:    u,
		Header: base.Header{
			"Accept": base.HeaderValue{"application/sdp"},
		},
	})
	if err != nil {
		return nil, err
	}

	ct, ok := res.Header["Content-Type"]
	if !ok || len(ct) != 1 {
		return nil, liberrors.ErrClientContentTypeMissing{}
	}

	// strip encoding information from Content-Type header
	ct = base.HeaderValue{strings.TrimSpace(strings.Split(ct[0], ";")[0])}

	if ct[0] != "application/sdp" {
		return nil, liberrors.ErrClientContentTypeUnsupported{CT: ct}
	}

	c.baseURL, err = findBaseURL(res, u)
	if err != nil {
		return nil, err
	}

	return res.Body, nil
}

func (c *Client) doSetup(index int, st description.Stream) error {
	u, err := st.URL(c.baseURL)
	if err != nil {
		return err
	}

	ids := [2]int{index * 2, index*2 + 1}
	delivery := headers.TransportDeliveryUnicast
	mode := headers.TransportModePlay

	res, err := c.do(&base.Request{
		Method: base.Setup,
		URL:    u,
		Header: base.Header{
			"Transport": headers.Transport{
				Protocol:       headers.TransportProtocolTCP,
				Delivery:       &delivery,
				InterleavedIDs: &ids,
				Mode:           &mode,
			}.Marshal(),
		},
	})
	if err != nil {
		return err
	}

	var th headers.Transport
	err = th.Unmarshal(res.Header["Transport"])
	if err != nil {
		return liberrors.ErrClientTransportHeaderInvalid{Err: err}
	}

	if th.Protocol != headers.TransportProtocolTCP {
		return liberrors.ErrClientTransportHeaderInvalid{Err: fmt.Errorf("server selected UDP")}
	}

	// the server can choose other channels
	if th.InterleavedIDs != nil {
		if th.InterleavedIDs[0]%2 != 0 || th.InterleavedIDs[1] != th.InterleavedIDs[0]+1 {
			return liberrors.ErrClientTransportHeaderInvalid{
				Err: fmt.Errorf("invalid interleaved IDs %v", *th.InterleavedIDs),
			}
		}
		ids = *th.InterleavedIDs
	}

	return c.local.setupStreamIndex(index, ids, th.SSRC)
}

func (c *Client) doPlay() error {
	_, err := c.do(&base.Request{
		Method: base.Play,
		URL:    c.baseURL,
		Header: base.Header{
			"Range": base.HeaderValue{"npt=0.000-"},
		},
	})
	return err
}

// writeRequest writes a request and returns its CSeq.
func (c *Client) writeRequest(req *base.Request) (string, error) {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	if c.session != "" {
		req.Header["Session"] = base.HeaderValue{c.session}
	}

	c.cseq++
	cseq := strconv.FormatInt(int64(c.cseq), 10)
	req.Header["CSeq"] = base.HeaderValue{cseq}

	req.Header["User-Agent"] = base.HeaderValue{c.UserAgent}

	if c.sender != nil {
		c.sender.AddAuthorization(req)
	}

	c.nconn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	return cseq, c.conn.WriteRequest(req)
}

// do writes a request and reads its response.
// A 401 response is retried once with the credentials of the URL.
func (c *Client) do(req *base.Request) (*base.Response, error) {
	return c.doWithRetry(req, false)
}

func (c *Client) doWithRetry(req *base.Request, retried bool) (*base.Response, error) {
	cseq, err := c.writeRequest(req)
	if err != nil {
		return nil, err
	}

	c.nconn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

	// interleaved frames can be received before the response
	// when the stream is already playing.
	res, err := c.conn.ReadResponseIgnoreFrames()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, liberrors.ErrClientReadTimeout{}
		}
		return nil, err
	}

	if v, ok := res.Header["CSeq"]; !ok || len(v) != 1 || v[0] != cseq {
		return nil, liberrors.ErrClientCSeqMismatch{Expected: cseq, Value: strings.Join(v, ",")}
	}

	// get session from response
	if v, ok := res.Header["Session"]; ok {
		var sx headers.Session
		err = sx.Unmarshal(v)
		if err != nil {
			return nil, liberrors.ErrClientSessionHeaderInvalid{Err: err}
		}

		c.writeMutex.Lock()
		c.session = sx.Session
		c.writeMutex.Unlock()

		if sx.Timeout != nil && *sx.Timeout > 0 {
			if p := time.Duration(float64(*sx.Timeout)*0.8) * time.Second; p < c.keepalivePeriod {
				c.keepalivePeriod = p
			}
		}
	}

	// if required, send request again with authentication
	if res.StatusCode == base.StatusUnauthorized && !retried && req.URL.User != nil {
		pass, _ := req.URL.User.Password()

		sender := &auth.Sender{
			WWWAuth: res.Header["WWW-Authenticate"],
			User:    req.URL.User.Username(),
			Pass:    pass,
		}
		sender.Initialize()

		c.writeMutex.Lock()
		c.sender = sender
		c.writeMutex.Unlock()

		c.log.Debug("retrying with credentials")

		return c.doWithRetry(req, true)
	}

	err = statusError(res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (c *Client) runReader() error {
	for {
		c.nconn.SetReadDeadline(time.Now().Add(c.ReadTimeout))

		what, err := c.conn.Read()
		if err != nil {
			if c.ctx.Err() != nil {
				return c.terminatedError()
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.writeTeardown()
				return liberrors.ErrClientReadTimeout{}
			}
			return err
		}

		switch what := what.(type) {
		case *base.InterleavedFrame:
			c.local.handleFrame(what)

		case *base.Response:
			// responses to keepalives
			if err = statusError(what); err != nil {
				c.log.WithError(err).Debug("keepalive failed")
			}

		case *base.Request:
			c.log.WithField("method", what.Method).Debug("request from server ignored")

		case *conn.InvalidMessage:
			c.log.WithError(what.Err).Warn("invalid message")
		}
	}
}

func (c *Client) keepalive() {
	method := base.Options
	if c.useGetParameter {
		method = base.GetParameter
	}

	_, err := c.writeRequest(&base.Request{
		Method: method,
		URL:    c.baseURL,
	})
	if err != nil {
		c.log.WithError(err).Debug("unable to send keepalive")
	}
}

func (c *Client) writeTeardown() {
	c.writeRequest(&base.Request{ //nolint:errcheck
		Method: base.Teardown,
		URL:    c.baseURL,
	})
}

// writeFrame implements sessionConn.
func (c *Client) writeFrame(fr *base.InterleavedFrame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.nconn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	return c.conn.WriteInterleavedFrame(fr, c.writeBuf)
}

// close implements sessionConn.
func (c *Client) close(err error) {
	c.closeMutex.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.closeMutex.Unlock()

	c.ctxCancel()
}
