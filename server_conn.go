package rtsprelay

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/bytecounter"
	"github.com/bluenviron/rtsprelay/pkg/conn"
	"github.com/bluenviron/rtsprelay/pkg/headers"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
)

var serverPublicMethods = strings.Join([]string{
	string(base.Describe),
	string(base.Announce),
	string(base.Setup),
	string(base.Play),
	string(base.Record),
	string(base.GetParameter),
	string(base.Teardown),
	string(base.Options),
}, ", ")

func getSessionID(header base.Header) string {
	if h, ok := header["Session"]; ok && len(h) == 1 {
		var sx headers.Session
		if err := sx.Unmarshal(h); err == nil {
			return sx.Session
		}
		return h[0]
	}
	return ""
}

// statusOfError returns the status code of a request that failed with err.
func statusOfError(err error) base.StatusCode {
	switch err.(type) {
	case liberrors.ErrServerInvalidState:
		return base.StatusForbidden

	case liberrors.ErrServerPathNotFound, liberrors.ErrServerStreamNotFound:
		return base.StatusNotFound

	case liberrors.ErrServerSessionNotFound:
		return base.StatusSessionNotFound

	case liberrors.ErrServerTransportUnsupported,
		liberrors.ErrServerInterleavedIDsInvalid,
		liberrors.ErrServerChannelInUse:
		return base.StatusUnsupportedTransport

	case liberrors.ErrServerContentTypeUnsupported:
		return base.StatusUnsupportedMediaType

	case liberrors.ErrServerCSeqMissing,
		liberrors.ErrServerInvalidMessage,
		liberrors.ErrServerContentTypeMissing,
		liberrors.ErrServerSDPInvalid,
		liberrors.ErrServerSDPAlreadySet,
		liberrors.ErrServerTransportHeaderInvalid,
		liberrors.ErrServerNoStreamsSetup:
		return base.StatusBadRequest
	}

	return base.StatusInternalServerError
}

// ServerConn is a server-side RTSP connection.
type ServerConn struct {
	s     *Server
	nconn net.Conn

	ctx        context.Context
	ctxCancel  func()
	bc         *bytecounter.Conn
	conn       *conn.Conn
	remoteAddr net.Addr
	log        logrus.FieldLogger

	writeMutex sync.Mutex
	writeBuf   []byte

	propsMutex sync.RWMutex
	session    *Session
	closeErr   error

	done chan struct{}
}

func (sc *ServerConn) initialize() {
	sc.ctx, sc.ctxCancel = context.WithCancel(sc.s.ctx)
	sc.bc = bytecounter.New(sc.nconn)
	sc.conn = conn.NewConn(sc.bc)
	sc.conn.SetLimits(sc.s.MaxInitialLineSize, sc.s.MaxHeaderSize, sc.s.MaxBodySize)
	sc.remoteAddr = sc.nconn.RemoteAddr()
	sc.log = sc.s.Logger.WithField("conn", sc.remoteAddr.String())
	sc.writeBuf = make([]byte, 2048)
	sc.done = make(chan struct{})

	go sc.run()
}

// Close closes the ServerConn.
func (sc *ServerConn) Close() {
	sc.close(liberrors.ErrServerTerminated{})
}

// NetConn returns the underlying net.Conn.
func (sc *ServerConn) NetConn() net.Conn {
	return sc.nconn
}

// Session returns the associated session.
func (sc *ServerConn) Session() *Session {
	sc.propsMutex.RLock()
	defer sc.propsMutex.RUnlock()
	return sc.session
}

// Stats returns connection statistics.
func (sc *ServerConn) Stats() *ConnStats {
	return &ConnStats{
		BytesReceived: sc.bc.BytesReceived(),
		BytesSent:     sc.bc.BytesSent(),
	}
}

// close implements sessionConn.
func (sc *ServerConn) close(err error) {
	sc.propsMutex.Lock()
	if sc.closeErr == nil {
		sc.closeErr = err
	}
	sc.propsMutex.Unlock()

	sc.ctxCancel()
	sc.nconn.Close()
}

// writeFrame implements sessionConn.
func (sc *ServerConn) writeFrame(fr *base.InterleavedFrame) error {
	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout))
	return sc.conn.WriteInterleavedFrame(fr, sc.writeBuf)
}

func (sc *ServerConn) writeResponse(res *base.Response) error {
	sc.writeMutex.Lock()
	defer sc.writeMutex.Unlock()

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout))
	return sc.conn.WriteResponse(res)
}

func (sc *ServerConn) setSession(ss *Session) {
	sc.propsMutex.Lock()
	defer sc.propsMutex.Unlock()
	sc.session = ss
}

func (sc *ServerConn) run() {
	defer sc.s.wg.Done()
	defer close(sc.done)

	sc.log.Info("opened")

	err := sc.runInner()

	// deregister before closing the connection
	if ss := sc.Session(); ss != nil {
		ss.close(err)
	}

	sc.ctxCancel()
	sc.nconn.Close()

	sc.s.closeConn(sc)

	sc.log.WithError(err).Info("closed")
}

func (sc *ServerConn) readError(err error) error {
	sc.propsMutex.RLock()
	closeErr := sc.closeErr
	sc.propsMutex.RUnlock()

	if closeErr != nil {
		return closeErr
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return liberrors.ErrServerReadTimeout{}
	}

	return err
}

func (sc *ServerConn) runInner() error {
	for {
		// only publishers are required to send data continuously
		if ss := sc.Session(); ss != nil && ss.State() == SessionStateRecord {
			sc.nconn.SetReadDeadline(time.Now().Add(sc.s.ReadTimeout))
		} else {
			sc.nconn.SetReadDeadline(time.Time{})
		}

		what, err := sc.conn.Read()
		if err != nil {
			return sc.readError(err)
		}

		switch what := what.(type) {
		case *base.Request:
			err = sc.handleRequestOuter(what)
			if err != nil {
				return err
			}

		case *base.InterleavedFrame:
			if ss := sc.Session(); ss != nil {
				st := ss.State()
				if st == SessionStatePlay || st == SessionStateRecord {
					ss.handleFrame(what)
				}
			}

		case *base.Response:
			sc.log.Debug("unexpected response, discarded")

		case *conn.InvalidMessage:
			sc.log.WithError(what.Err).Warn("invalid message")

			err = sc.writeResponse(&base.Response{
				StatusCode: base.StatusBadRequest,
				Header: base.Header{
					"Server": base.HeaderValue{serverHeader},
				},
			})
			if err != nil {
				return err
			}
		}
	}
}

func (sc *ServerConn) handleRequestOuter(req *base.Request) error {
	sc.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL,
	}).Debug("request")

	res, err := sc.handleRequestInner(req)

	if res.Header == nil {
		res.Header = make(base.Header)
	}

	if err != nil {
		if res.StatusCode == 0 {
			res.StatusCode = statusOfError(err)
		}
		sc.log.WithError(err).WithField("method", req.Method).Warn("request failed")
	}

	// add cseq
	if cseq, ok := req.Header["CSeq"]; ok && len(cseq) == 1 {
		res.Header["CSeq"] = cseq
	}

	// add server
	res.Header["Server"] = base.HeaderValue{serverHeader}

	// add session
	if ss := sc.Session(); ss != nil {
		if _, ok := res.Header["Session"]; !ok {
			v := uint(serverSessionTimeout)
			res.Header["Session"] = headers.Session{
				Session: ss.ID(),
				Timeout: &v,
			}.Marshal()
		}
	}

	return sc.writeResponse(res)
}

func (sc *ServerConn) handleRequestInner(req *base.Request) (*base.Response, error) {
	if cseq, ok := req.Header["CSeq"]; !ok || len(cseq) != 1 {
		return &base.Response{}, liberrors.ErrServerCSeqMissing{}
	}

	if req.Method != base.Options && req.URL == nil {
		return &base.Response{}, liberrors.ErrServerInvalidMessage{Err: errors.New("URL not provided")}
	}

	// a session ID, when provided, must be the one of the connection
	if sxID := getSessionID(req.Header); sxID != "" {
		if ss := sc.Session(); ss == nil || ss.ID() != sxID {
			return &base.Response{}, liberrors.ErrServerSessionNotFound{}
		}
	}

	switch req.Method {
	case base.Options:
		if ss := sc.Session(); ss != nil {
			ss.transition(base.Options) //nolint:errcheck
		}

		return &base.Response{
			StatusCode: base.StatusOK,
			Header: base.Header{
				"Public": base.HeaderValue{serverPublicMethods},
			},
		}, nil

	case base.Describe:
		return sc.handleDescribe(req)

	case base.Announce:
		return sc.handleAnnounce(req)

	case base.Setup:
		return sc.handleSetup(req)

	case base.Play:
		return sc.handlePlay(req)

	case base.Record:
		return sc.handleRecord()

	case base.GetParameter:
		return sc.handleGetParameter(req)

	case base.Teardown:
		return sc.handleTeardown()
	}

	state := SessionStateInit
	if ss := sc.Session(); ss != nil {
		state = ss.State()
	}
	return &base.Response{}, liberrors.ErrServerInvalidState{Method: req.Method, State: state}
}

// sessionFor returns the session of the connection, creating it when needed.
// A session that has been torn down, or that still has to be set up
// and refers to another path, is replaced.
func (sc *ServerConn) sessionFor(path string, mode SessionMode) *Session {
	ss := sc.Session()

	if ss != nil {
		st := ss.State()
		if st == SessionStateTeardown || (st < SessionStateSetup && ss.URI() != path) {
			ss.close(liberrors.ErrServerSessionTornDown{})
			ss = nil
		}
	}

	if ss == nil {
		ss = newSession(sessionConf{
			uri:              path,
			mode:             mode,
			conn:             sc,
			registry:         sc.s.Registry,
			scheduler:        sc.s.Scheduler,
			rtcpPeriod:       sc.s.RTCPPeriod,
			writeIdleTimeout: sc.s.WriteIdleTimeout,
			logger:           sc.log,
		})
		sc.setSession(ss)
		ss.log.Info("created")
	}

	return ss
}

func (sc *ServerConn) handleDescribe(req *base.Request) (*base.Response, error) {
	path := req.URL.CanonicalPath()

	sdp, err := sc.s.Registry.Describe(path)
	if err != nil {
		return &base.Response{}, err
	}

	ss := sc.sessionFor(path, SessionModePlaying)

	err = ss.checkTransition(base.Describe)
	if err != nil {
		return &base.Response{}, err
	}

	err = ss.setSDP(sdp)
	if err != nil {
		return &base.Response{StatusCode: base.StatusInternalServerError}, err
	}

	ss.transition(base.Describe) //nolint:errcheck

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Content-Base": base.HeaderValue{req.URL.CloneWithoutCredentials().String() + "/"},
			"Content-Type": base.HeaderValue{"application/sdp"},
		},
		Body: sdp,
	}, nil
}

func (sc *ServerConn) handleAnnounce(req *base.Request) (*base.Response, error) {
	ct, ok := req.Header["Content-Type"]
	if !ok || len(ct) != 1 {
		return &base.Response{}, liberrors.ErrServerContentTypeMissing{}
	}

	if v := strings.ToLower(strings.TrimSpace(strings.Split(ct[0], ";")[0])); v != "application/sdp" {
		return &base.Response{}, liberrors.ErrServerContentTypeUnsupported{CT: ct}
	}

	path := req.URL.CanonicalPath()
	ss := sc.sessionFor(path, SessionModePublishing)

	err := ss.checkTransition(base.Announce)
	if err != nil {
		return &base.Response{}, err
	}

	if ss.Mode() != SessionModePublishing {
		return &base.Response{}, liberrors.ErrServerInvalidState{Method: base.Announce, State: ss.State()}
	}

	err = ss.setSDP(req.Body)
	if err != nil {
		return &base.Response{}, err
	}

	ss.transition(base.Announce) //nolint:errcheck

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

func (sc *ServerConn) handleSetup(req *base.Request) (*base.Response, error) {
	ss := sc.Session()
	if ss == nil {
		return &base.Response{}, liberrors.ErrServerInvalidState{Method: base.Setup, State: SessionStateInit}
	}

	var th headers.Transport
	err := th.Unmarshal(req.Header["Transport"])
	if err != nil {
		return &base.Response{}, liberrors.ErrServerTransportHeaderInvalid{Err: err}
	}

	res, err := ss.setupStream(req.URL, &th)
	if err != nil {
		return &base.Response{}, err
	}

	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Transport": res.Marshal(),
		},
	}, nil
}

func (sc *ServerConn) handlePlay(req *base.Request) (*base.Response, error) {
	ss := sc.Session()
	if ss == nil {
		return &base.Response{}, liberrors.ErrServerInvalidState{Method: base.Play, State: SessionStateInit}
	}

	err := ss.play()
	if err != nil {
		return &base.Response{}, err
	}

	res := &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{},
	}

	if ri := ss.rtpInfo(req.URL.CloneWithoutCredentials()); len(ri) != 0 {
		res.Header["RTP-Info"] = ri.Marshal()
	}

	return res, nil
}

func (sc *ServerConn) handleRecord() (*base.Response, error) {
	ss := sc.Session()
	if ss == nil {
		return &base.Response{}, liberrors.ErrServerInvalidState{Method: base.Record, State: SessionStateInit}
	}

	err := ss.record()
	if err != nil {
		return &base.Response{}, err
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

func (sc *ServerConn) handleGetParameter(req *base.Request) (*base.Response, error) {
	// keepalive of a session
	if ss := sc.Session(); ss != nil {
		ss.transition(base.GetParameter) //nolint:errcheck
		return &base.Response{
			StatusCode: base.StatusOK,
		}, nil
	}

	// otherwise, check that the path exists
	_, err := sc.s.Registry.Describe(req.URL.CanonicalPath())
	if err != nil {
		return &base.Response{}, err
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

func (sc *ServerConn) handleTeardown() (*base.Response, error) {
	// allowed from any state, even without a session
	if ss := sc.Session(); ss != nil {
		ss.close(liberrors.ErrServerSessionTornDown{})
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}
