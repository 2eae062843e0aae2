// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"io"
)

// On-wire constants shared by the header writer, the response reader and
// the multipart pipeline.
const (
	// Boundary is the fixed multipart delimiter token.
	Boundary = "----MonoconnBoundary2B8FAF4A80EDB307"

	// CRLF terminates one header line or chunk.
	CRLF = "\r\n"

	// DoubleCRLF terminates a header block.
	DoubleCRLF = "\r\n\r\n"
)

// ContentType tags the request body encoding.
type ContentType int

const (
	// ContentTypeNone omits the Content-Type header.
	ContentTypeNone ContentType = iota
	// ContentTypeURLEncoded .
	ContentTypeURLEncoded
	// ContentTypeJSON .
	ContentTypeJSON
	// ContentTypeMultipart carries "multipart/form-data" with the fixed
	// boundary appended by the header writer.
	ContentTypeMultipart
	// ContentTypeOctetStream .
	ContentTypeOctetStream
	// ContentTypeText .
	ContentTypeText
)

func (t ContentType) value() string {
	switch t {
	case ContentTypeURLEncoded:
		return "application/x-www-form-urlencoded"
	case ContentTypeJSON:
		return "application/json"
	case ContentTypeMultipart:
		return "multipart/form-data; boundary="
	case ContentTypeOctetStream:
		return "application/octet-stream"
	case ContentTypeText:
		return "text/plain"
	}
	return ""
}

// Context carries the per-request inputs: body encoding, an inline request
// header fragment (e.g. a Range line, CRLF terminated), the in-memory body,
// and an optional sink the response body is streamed to. When Sink is set,
// the returned Response carries an empty Body.
type Context struct {
	ContentType ContentType
	ReqStr      string
	Content     []byte
	Sink        io.Writer
}

// Header is one response or request header line.
type Header struct {
	Name  string
	Value string
}

// Response is the datum every operation returns. Err is inspected first;
// Status is 404 whenever Err is set. Body borrows from the client's read
// buffer and stays valid only until the next operation on the same client.
// EOF reports that the read buffer held no unconsumed bytes after the body
// was taken.
type Response struct {
	Err     error
	Status  int
	Body    []byte
	Headers []Header
	EOF     bool
}

// GetHeader returns the first header with the given name, ASCII
// case-insensitive.
func (r *Response) GetHeader(name string) string {
	for i := range r.Headers {
		if equalFold(r.Headers[i].Name, name) {
			return r.Headers[i].Value
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
