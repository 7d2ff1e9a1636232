package rtsprelay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/pkg/liberrors"
	"github.com/bluenviron/rtsprelay/pkg/scheduler"
)

const (
	serverHeader = "rtsprelay"

	// advertised session timeout, in seconds.
	serverSessionTimeout = 60
)

// Server is a RTSP server that relays streams between publishers and readers.
type Server struct {
	//
	// RTSP parameters (all optional except RTSPAddress)
	//
	// address of the TCP listener.
	RTSPAddress string
	// registry of paths. It can be shared with clients.
	// It defaults to a new registry.
	Registry *Registry
	// timeout of read operations of publishing sessions.
	// It defaults to 10 seconds.
	ReadTimeout time.Duration
	// timeout of write operations.
	// It defaults to 10 seconds.
	WriteTimeout time.Duration
	// after this time without writes, a reading session receives a RTCP heartbeat.
	// It defaults to 10 seconds.
	WriteIdleTimeout time.Duration
	// period of RTCP receiver reports.
	// It defaults to 5 seconds.
	RTCPPeriod time.Duration
	// maximum size of the initial line of requests.
	// It defaults to 4096.
	MaxInitialLineSize int
	// maximum size of the headers of requests.
	// It defaults to 8192.
	MaxHeaderSize int
	// maximum size of the body of requests.
	// It defaults to 65536.
	MaxBodySize int

	//
	// system functions (all optional)
	//
	// timer facility.
	Scheduler *scheduler.Scheduler
	// destination of log entries.
	// It defaults to the standard logger.
	Logger logrus.FieldLogger
	// function used to initialize the TCP listener.
	// It defaults to net.Listen.
	Listen func(network string, address string) (net.Listener, error)

	ctx         context.Context
	ctxCancel   func()
	wg          sync.WaitGroup
	tcpListener *serverTCPListener
	ownSched    bool

	mutex    sync.Mutex
	conns    map[*ServerConn]struct{}
	closeErr error

	done chan struct{}
}

// Start starts the server.
func (s *Server) Start() error {
	if s.RTSPAddress == "" {
		return fmt.Errorf("RTSPAddress not provided")
	}

	// RTSP parameters
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.WriteIdleTimeout == 0 {
		s.WriteIdleTimeout = 10 * time.Second
	}
	if s.RTCPPeriod == 0 {
		s.RTCPPeriod = 5 * time.Second
	}

	// system functions
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	if s.Scheduler == nil {
		s.Scheduler = scheduler.New()
		s.ownSched = true
	}
	if s.Listen == nil {
		s.Listen = net.Listen
	}
	if s.Registry == nil {
		s.Registry = &Registry{
			Scheduler: s.Scheduler,
			Logger:    s.Logger,
		}
	}
	s.Registry.initialize()

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.conns = make(map[*ServerConn]struct{})
	s.done = make(chan struct{})

	s.tcpListener = &serverTCPListener{s: s}
	err := s.tcpListener.initialize()
	if err != nil {
		s.ctxCancel()
		return err
	}

	go s.run()

	s.Logger.WithField("address", s.RTSPAddress).Info("listener opened")

	return nil
}

// Close closes all the server resources and waits for them to close.
func (s *Server) Close() {
	s.ctxCancel()
	<-s.done
}

// Wait waits until all server resources are closed.
// This can happen when a fatal error occurs or when Close() is called.
func (s *Server) Wait() error {
	<-s.done

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closeErr
}

// NetListener returns the TCP listener.
func (s *Server) NetListener() net.Listener {
	return s.tcpListener.ln
}

// Conns returns the open connections.
func (s *Server) Conns() []*ServerConn {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ret := make([]*ServerConn, 0, len(s.conns))
	for sc := range s.conns {
		ret = append(ret, sc)
	}
	return ret
}

func (s *Server) run() {
	defer close(s.done)

	<-s.ctx.Done()

	s.tcpListener.close()

	for _, sc := range s.Conns() {
		sc.close(liberrors.ErrServerTerminated{})
	}

	s.wg.Wait()

	if s.ownSched {
		s.Scheduler.Close()
	}

	s.mutex.Lock()
	if s.closeErr == nil {
		s.closeErr = liberrors.ErrServerTerminated{}
	}
	s.mutex.Unlock()
}

func (s *Server) acceptErr(err error) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.Logger.WithError(err).Error("listener failed")

	s.mutex.Lock()
	s.closeErr = liberrors.ErrServerListenerFailed{Err: err}
	s.mutex.Unlock()

	s.ctxCancel()
}

// newConn serves a connection. It returns nil when the server is closing.
func (s *Server) newConn(nconn net.Conn) *ServerConn {
	sc := &ServerConn{
		s:     s,
		nconn: nconn,
	}

	s.mutex.Lock()
	select {
	case <-s.ctx.Done():
		s.mutex.Unlock()
		nconn.Close()
		return nil
	default:
	}
	s.conns[sc] = struct{}{}
	s.wg.Add(1)
	s.mutex.Unlock()

	sc.initialize()
	return sc
}

func (s *Server) closeConn(sc *ServerConn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.conns, sc)
}
