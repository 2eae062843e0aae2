// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"encoding/base64"
	"strconv"
)

// buildRequestHeader serializes the request line and header block:
// request-line, Host, Content-Type, user headers, a Connection: keep-alive
// fallback, proxy authorization, the
// caller's inline fragment, and the Content-Length when the rules call for
// one. The returned block ends with the empty line.
func (c *Client) buildRequestHeader(u *reqURI, method string, ctx *Context) []byte {
	req := make([]byte, 0, 256)

	req = append(req, method...)
	req = append(req, ' ')
	req = append(req, u.target...)
	if u.query != "" {
		req = append(req, '?')
		req = append(req, u.query...)
	}
	req = append(req, " HTTP/1.1\r\nHost: "...)
	req = append(req, u.host...)
	req = append(req, CRLF...)

	if typ := ctx.ContentType.value(); typ != "" {
		if ctx.ContentType == ContentTypeMultipart {
			typ += Boundary
		}
		req = append(req, "Content-Type: "...)
		req = append(req, typ...)
		req = append(req, CRLF...)
	}

	hasConnection := false
	for _, h := range c.reqHeaders {
		if h.Name == "Connection" {
			hasConnection = true
		}
		req = append(req, h.Name...)
		req = append(req, ": "...)
		req = append(req, h.Value...)
		req = append(req, CRLF...)
	}

	if !hasConnection {
		req = append(req, "Connection: keep-alive\r\n"...)
	}

	if c.proxyBasicAuthUsername != "" && c.proxyBasicAuthPassword != "" {
		cred := base64.StdEncoding.EncodeToString(
			[]byte(c.proxyBasicAuthUsername + ":" + c.proxyBasicAuthPassword))
		req = append(req, "Proxy-Authorization: Basic "...)
		req = append(req, cred...)
		req = append(req, CRLF...)
	}

	if c.proxyBearerToken != "" {
		req = append(req, "Proxy-Authorization: Bearer "...)
		req = append(req, c.proxyBearerToken...)
		req = append(req, CRLF...)
	}

	if ctx.ReqStr != "" {
		req = append(req, ctx.ReqStr...)
	}

	contentLen := len(ctx.Content)
	shouldAdd := contentLen > 0 ||
		(method == "POST" && ctx.ContentType != ContentTypeMultipart)
	if shouldAdd {
		req = append(req, "Content-Length: "...)
		req = strconv.AppendInt(req, int64(contentLen), 10)
		req = append(req, CRLF...)
	}

	req = append(req, CRLF...)
	return req
}
