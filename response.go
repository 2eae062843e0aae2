// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/monoconn/httpc/logging"
)

var (
	crlfBytes       = []byte(CRLF)
	doubleCRLFBytes = []byte(DoubleCRLF)
)

// responseMeta is what header parsing yields before the body strategy is
// chosen.
type responseMeta struct {
	status    int
	headers   []Header
	keepAlive bool
	chunked   bool
	ranges    bool
	location  string
	bodyLen   int
}

// parseResponse decodes the status line and header block. block includes
// the terminating empty line.
func parseResponse(block []byte) (responseMeta, error) {
	var meta responseMeta

	block = bytes.TrimSuffix(block, doubleCRLFBytes)
	lines := bytes.Split(block, crlfBytes)
	if len(lines) == 0 {
		return meta, ErrProtocol
	}

	// "HTTP/1.1 200 OK"
	statusLine := string(lines[0])
	if !strings.HasPrefix(statusLine, "HTTP/1.") || len(statusLine) < len("HTTP/1.1 200") {
		return meta, ErrProtocol
	}
	meta.keepAlive = statusLine[7] != '0' // HTTP/1.0 closes by default
	code, err := strconv.Atoi(statusLine[9:12])
	if err != nil || code < 100 || code > 599 {
		return meta, ErrProtocol
	}
	meta.status = code

	meta.headers = make([]Header, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			return meta, ErrProtocol
		}
		name := string(line[:i])
		value := string(bytes.TrimLeft(line[i+1:], " \t"))
		meta.headers = append(meta.headers, Header{name, value})

		switch {
		case equalFold(name, "Connection"):
			v := strings.ToLower(value)
			if strings.Contains(v, "close") {
				meta.keepAlive = false
			} else if strings.Contains(v, "keep-alive") {
				meta.keepAlive = true
			}
		case equalFold(name, "Transfer-Encoding"):
			if strings.Contains(strings.ToLower(value), "chunked") {
				meta.chunked = true
			}
		case equalFold(name, "Content-Range"):
			meta.ranges = true
		case equalFold(name, "Location"):
			meta.location = value
		case equalFold(name, "Content-Length"):
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return meta, ErrProtocol
			}
			meta.bodyLen = n
		}
	}

	return meta, nil
}

// handleRead runs the response state machine: header block, then one of
// no-body / chunked / fixed-length. It reports the keep-alive decision for
// handleResult.
func (c *Client) handleRead(ctx *Context, method string) (Response, bool, error) {
	var resp Response

	pos, err := c.tr.readUntil(doubleCRLFBytes)
	if err != nil {
		return resp, false, err
	}

	meta, err := parseResponse(c.tr.buf.bytes()[:pos])
	if err != nil {
		return resp, false, err
	}
	c.tr.buf.consume(pos)
	resp.Status = meta.status
	resp.Headers = meta.headers

	if method == "HEAD" {
		// No body follows, and we never pipeline: bytes past the header
		// block belong to no request of ours.
		c.tr.buf.reset()
		resp.EOF = true
		return resp, meta.keepAlive, nil
	}

	keepAlive := meta.keepAlive
	if meta.ranges {
		keepAlive = true
	}
	if meta.chunked {
		keepAlive = true
		err = c.handleChunked(&resp, ctx)
		if len(c.chunkBuf) > 0 {
			resp.Body = c.chunkBuf
		}
		return resp, keepAlive, err
	}

	c.redirectURI = ""
	if meta.location != "" {
		c.redirectURI = meta.location
	}

	contentLen := meta.bodyLen
	if contentLen > c.tr.buf.len() {
		// Read the left part of the content.
		if err = c.tr.ensure(contentLen); err != nil {
			return resp, keepAlive, err
		}
	}
	if err = c.deliverBody(&resp, ctx, contentLen); err != nil {
		return resp, keepAlive, err
	}
	return resp, keepAlive, nil
}

// deliverBody hands contentLen buffered bytes to the sink, or exposes them
// as the borrowed body view, then consumes them.
func (c *Client) deliverBody(resp *Response, ctx *Context, contentLen int) error {
	if contentLen > 0 {
		body := c.tr.buf.bytes()[:contentLen]
		if ctx.Sink != nil {
			if _, err := ctx.Sink.Write(body); err != nil {
				return err
			}
		} else {
			resp.Body = body
		}
		c.tr.buf.consume(contentLen)
	}
	resp.EOF = c.tr.buf.len() == 0
	return nil
}

// handleChunked decodes chunks until the zero-sized one. Payload goes to
// the sink when the caller supplied one, otherwise accumulates in the
// chunk buffer.
func (c *Client) handleChunked(resp *Response, ctx *Context) error {
	for {
		pos, err := c.tr.readUntil(crlfBytes)
		if err != nil {
			return err
		}

		chunkSize := parseHexUint(c.tr.buf.bytes()[:pos-len(CRLF)])
		c.tr.buf.consume(pos)
		if chunkSize < 0 {
			logging.Error("bad chunked size")
			return ErrProtocol
		}

		if chunkSize == 0 {
			// All finished, consume the trailing CRLF.
			if err = c.tr.ensure(len(CRLF)); err != nil {
				return err
			}
			c.tr.buf.consume(len(CRLF))
			if resp.Status == 0 {
				resp.Status = 200
			}
			resp.EOF = true
			return nil
		}

		if err = c.tr.ensure(chunkSize + len(CRLF)); err != nil {
			return err
		}

		data := c.tr.buf.bytes()[:chunkSize]
		if ctx.Sink != nil {
			if _, err = ctx.Sink.Write(data); err != nil {
				return err
			}
		} else {
			c.chunkBuf = append(c.chunkBuf, data...)
		}
		c.tr.buf.consume(chunkSize + len(CRLF))
	}
}

// parseHexUint parses the leading hex run of a chunk-size line; extensions
// after ';' are ignored. Returns -1 when no hex digit leads the line or
// the value overflows.
func parseHexUint(b []byte) int {
	n := 0
	digits := 0
	for _, ch := range b {
		var v int
		switch {
		case ch >= '0' && ch <= '9':
			v = int(ch - '0')
		case ch >= 'a' && ch <= 'f':
			v = int(ch-'a') + 10
		case ch >= 'A' && ch <= 'F':
			v = int(ch-'A') + 10
		default:
			if digits == 0 {
				return -1
			}
			return n
		}
		if n > (1<<31)/16 {
			return -1
		}
		n = n*16 + v
		digits++
	}
	if digits == 0 {
		return -1
	}
	return n
}
