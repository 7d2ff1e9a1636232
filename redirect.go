package rtsprelay

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/conn"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
)

// redirectLocation returns the location of a request addressed to the gateway.
func redirectLocation(target string, u *base.URL) (string, error) {
	if u == nil {
		return "", fmt.Errorf("URL not provided")
	}

	rest := strings.TrimPrefix(u.Path, "/")
	if rest == "" {
		return "", fmt.Errorf("path not provided")
	}

	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}

	return strings.TrimSuffix(target, "/") + "/proxy/" + rest, nil
}

// RedirectServer is a RTSP server that redirects every request
// to the /proxy/ namespace of another server.
type RedirectServer struct {
	// address of the TCP listener.
	RTSPAddress string
	// base URL of the server requests are redirected to.
	// Example: rtsp://relay.example.com:8554
	Target string
	// timeout of read and write operations.
	// It defaults to 10 seconds.
	Timeout time.Duration
	// destination of log entries.
	// It defaults to the standard logger.
	Logger logrus.FieldLogger
	// function used to initialize the TCP listener.
	// It defaults to net.Listen.
	Listen func(network string, address string) (net.Listener, error)

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	ln        net.Listener
	closeErr  error
	done      chan struct{}
}

// Start starts the server.
func (s *RedirectServer) Start() error {
	if s.RTSPAddress == "" {
		return fmt.Errorf("RTSPAddress not provided")
	}
	if s.Target == "" {
		return fmt.Errorf("Target not provided")
	}

	_, err := base.ParseURL(s.Target)
	if err != nil {
		return fmt.Errorf("invalid Target: %w", err)
	}

	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.Listen == nil {
		s.Listen = net.Listen
	}

	s.ln, err = s.Listen(restrictNetwork("tcp", s.RTSPAddress))
	if err != nil {
		return err
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})

	go s.run()

	s.Logger.WithFields(logrus.Fields{
		"address": s.RTSPAddress,
		"target":  s.Target,
	}).Info("redirect listener opened")

	return nil
}

// Close closes all the server resources and waits for them to close.
func (s *RedirectServer) Close() {
	s.ctxCancel()
	<-s.done
}

// Wait waits until all server resources are closed.
func (s *RedirectServer) Wait() error {
	<-s.done
	return s.closeErr
}

// NetListener returns the underlying net.Listener.
func (s *RedirectServer) NetListener() net.Listener {
	return s.ln
}

func (s *RedirectServer) run() {
	defer close(s.done)

	acceptErr := make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			nconn, err := s.ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}

			s.wg.Add(1)
			go s.serveConn(nconn)
		}
	}()

	select {
	case err := <-acceptErr:
		s.closeErr = liberrors.ErrServerListenerFailed{Err: err}
		s.ctxCancel()

	case <-s.ctx.Done():
		s.closeErr = liberrors.ErrServerTerminated{}
	}

	s.ln.Close()
	s.wg.Wait()
}

func (s *RedirectServer) serveConn(nconn net.Conn) {
	defer s.wg.Done()
	defer nconn.Close()

	log := s.Logger.WithField("conn", nconn.RemoteAddr().String())

	// unblock reads when the server is closed
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-s.ctx.Done():
			nconn.Close()
		case <-connDone:
		}
	}()

	c := conn.NewConn(nconn)

	for {
		nconn.SetReadDeadline(time.Now().Add(s.Timeout))

		what, err := c.Read()
		if err != nil {
			log.WithError(err).Debug("closed")
			return
		}

		var res *base.Response

		switch what := what.(type) {
		case *base.Request:
			res = s.handleRequest(what)

		case *conn.InvalidMessage:
			res = &base.Response{StatusCode: base.StatusBadRequest, Header: base.Header{}}

		default:
			continue
		}

		res.Header["Server"] = base.HeaderValue{serverHeader}

		nconn.SetWriteDeadline(time.Now().Add(s.Timeout))
		err = c.WriteResponse(res)
		if err != nil {
			log.WithError(err).Debug("closed")
			return
		}
	}
}

func (s *RedirectServer) handleRequest(req *base.Request) *base.Response {
	res := &base.Response{Header: base.Header{}}

	if cseq, ok := req.Header["CSeq"]; ok && len(cseq) == 1 {
		res.Header["CSeq"] = cseq
	}

	loc, err := redirectLocation(s.Target, req.URL)
	if err != nil {
		res.StatusCode = base.StatusBadRequest
		return res
	}

	res.StatusCode = base.StatusMovedPermanently
	res.Header["Location"] = base.HeaderValue{loc}
	return res
}
