package rtsprelay

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const websocketSubprotocol = "rtsp.onvif.org"

type wsReader struct {
	wc *websocket.Conn

	buf []byte
}

func (r *wsReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		msgType, buf, err := r.wc.ReadMessage()
		if err != nil {
			return 0, err
		}

		if msgType != websocket.BinaryMessage {
			return 0, fmt.Errorf("unexpected message type %v", msgType)
		}
		r.buf = buf
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]

	return n, nil
}

type wsWriter struct {
	wc *websocket.Conn

	mutex sync.Mutex
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	err := w.wc.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// wsNetConn exposes a WebSocket connection as a net.Conn.
// Each write is sent as a binary message.
type wsNetConn struct {
	wc *websocket.Conn
	r  *wsReader
	w  *wsWriter
}

func newWSNetConn(wc *websocket.Conn) *wsNetConn {
	return &wsNetConn{
		wc: wc,
		r:  &wsReader{wc: wc},
		w:  &wsWriter{wc: wc},
	}
}

func (c *wsNetConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *wsNetConn) Write(b []byte) (int, error) {
	return c.w.Write(b)
}

func (c *wsNetConn) Close() error {
	return c.wc.Close()
}

func (c *wsNetConn) LocalAddr() net.Addr {
	return c.wc.LocalAddr()
}

func (c *wsNetConn) RemoteAddr() net.Addr {
	return c.wc.RemoteAddr()
}

func (c *wsNetConn) SetDeadline(t time.Time) error {
	err := c.wc.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return c.wc.SetWriteDeadline(t)
}

func (c *wsNetConn) SetReadDeadline(t time.Time) error {
	return c.wc.SetReadDeadline(t)
}

func (c *wsNetConn) SetWriteDeadline(t time.Time) error {
	return c.wc.SetWriteDeadline(t)
}

type serverTunnelWebSocket struct {
	s *Server

	upgrader websocket.Upgrader
}

func (h *serverTunnelWebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.s.Logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	h.s.newConn(newWSNetConn(wc))
}

// TunnelHandler returns a HTTP handler that accepts RTSP over WebSocket.
// Connections are served like the ones accepted by the TCP listener.
// The server must be started.
func (s *Server) TunnelHandler() http.Handler {
	return &serverTunnelWebSocket{
		s: s,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{websocketSubprotocol},
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}
