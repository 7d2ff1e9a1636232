// Package bytecounter contains a net.Conn wrapper that counts read and written bytes.
package bytecounter

import (
	"net"
	"sync/atomic"
)

// Conn is a net.Conn wrapper that counts read and written bytes and errors.
type Conn struct {
	net.Conn

	received    atomic.Uint64
	sent        atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
}

// New allocates a Conn.
func New(nconn net.Conn) *Conn {
	return &Conn{Conn: nconn}
}

// Read implements net.Conn.
func (bc *Conn) Read(p []byte) (int, error) {
	n, err := bc.Conn.Read(p)
	bc.received.Add(uint64(n))
	if err != nil {
		bc.readErrors.Add(1)
	}
	return n, err
}

// Write implements net.Conn.
func (bc *Conn) Write(p []byte) (int, error) {
	n, err := bc.Conn.Write(p)
	bc.sent.Add(uint64(n))
	if err != nil {
		bc.writeErrors.Add(1)
	}
	return n, err
}

// BytesReceived returns the number of bytes received.
func (bc *Conn) BytesReceived() uint64 {
	return bc.received.Load()
}

// BytesSent returns the number of bytes sent.
func (bc *Conn) BytesSent() uint64 {
	return bc.sent.Load()
}

// ReadErrors returns the number of read errors.
func (bc *Conn) ReadErrors() uint64 {
	return bc.readErrors.Load()
}

// WriteErrors returns the number of write errors.
func (bc *Conn) WriteErrors() uint64 {
	return bc.writeErrors.Load()
}
