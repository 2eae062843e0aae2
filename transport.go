// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/monoconn/httpc/logging"
)

// transport owns the TCP socket, the optional TLS stream wrapped around it,
// and the read buffer. All reads dispatch through the TLS stream when it is
// enabled.
type transport struct {
	mux    sync.Mutex
	conn   net.Conn
	closed bool

	useTLS  bool
	tlsConf *tls.Config

	buf buffer
}

// initTLS loads an optional CA file and fixes the verification policy. A
// non-empty path that does not exist is an error; empty paths keep the
// system roots.
func (t *transport) initTLS(basePath, certFile string, verifyPeer bool, domain string) error {
	conf := &tls.Config{
		InsecureSkipVerify: !verifyPeer,
		ServerName:         domain,
	}

	fullCertFile := filepath.Join(basePath, certFile)
	if basePath != "" || certFile != "" {
		pem, err := os.ReadFile(fullCertFile)
		if err != nil {
			logging.Error("no certificate file %v", fullCertFile)
			return errors.Wrap(err, "load verify file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return errors.Errorf("no certificate parsed from %v", fullCertFile)
		}
		conf.RootCAs = pool
	}

	t.tlsConf = conf
	t.useTLS = true
	return nil
}

func (t *transport) dial(addr string, timeout time.Duration) error {
	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", addr, timeout)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return errors.Wrap(err, "dial "+addr)
	}

	t.mux.Lock()
	t.conn = conn
	t.closed = false
	t.mux.Unlock()
	return nil
}

// handshake performs the TLS client handshake when TLS is enabled. The
// hostname used for SNI and verification is the configured domain, falling
// back to the request host.
func (t *transport) handshake(host string) error {
	if !t.useTLS {
		return nil
	}

	c := t.current()
	if c == nil {
		return ErrNotAStream
	}

	conf := t.tlsConf
	if conf == nil {
		conf = &tls.Config{}
	} else {
		conf = conf.Clone()
	}
	if conf.ServerName == "" {
		conf.ServerName = host
	}

	tlsConn := tls.Client(c, conf)
	if err := tlsConn.Handshake(); err != nil {
		logging.Error("tls handshake failed: %v", err)
		return errors.Wrap(err, "tls handshake")
	}

	t.mux.Lock()
	t.conn = tlsConn
	t.mux.Unlock()
	return nil
}

func (t *transport) current() net.Conn {
	t.mux.Lock()
	c := t.conn
	t.mux.Unlock()
	return c
}

func (t *transport) isClosed() bool {
	t.mux.Lock()
	closed := t.closed
	t.mux.Unlock()
	return closed
}

// readSome performs one read into the buffer tail.
func (t *transport) readSome() error {
	c := t.current()
	if c == nil {
		return ErrNotConnected
	}
	_, err := t.buf.readOnce(c)
	return err
}

// ensure reads until at least n unconsumed bytes are buffered.
func (t *transport) ensure(n int) error {
	for t.buf.len() < n {
		if err := t.readSome(); err != nil {
			return err
		}
	}
	return nil
}

// readUntil reads until delim occurs in the buffer and returns the position
// just past it, relative to the unconsumed head.
func (t *transport) readUntil(delim []byte) (int, error) {
	scanned := 0
	for {
		b := t.buf.bytes()
		start := scanned - len(delim) + 1
		if start < 0 {
			start = 0
		}
		if i := bytes.Index(b[start:], delim); i >= 0 {
			return start + i + len(delim), nil
		}
		scanned = len(b)
		if err := t.readSome(); err != nil {
			return 0, err
		}
	}
}

// writev is a gathered write; it returns once every buffer is fully sent.
func (t *transport) writev(bufs ...[]byte) error {
	c := t.current()
	if c == nil {
		return ErrNotConnected
	}
	nb := make(net.Buffers, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			nb = append(nb, b)
		}
	}
	if len(nb) == 0 {
		return nil
	}
	_, err := nb.WriteTo(c)
	return err
}

// close shuts the socket down in both directions and releases it. It is
// idempotent and safe to call from the deadline timer.
func (t *transport) close() {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.conn != nil {
		if tc, ok := t.conn.(*net.TCPConn); ok {
			tc.CloseRead()
			tc.CloseWrite()
		}
		t.conn.Close()
		t.conn = nil
	}
	t.closed = true
}
