// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package httpc is a single-connection HTTP/1.1 and WebSocket client. One
// Client owns one keep-alive TCP connection (optionally wrapped in TLS),
// writes requests, runs the response reader state machine over a shared
// read buffer, streams multipart uploads and ranged downloads, and can
// upgrade the same connection to framed WebSocket messaging.
package httpc

import (
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/monoconn/httpc/logging"
)

// Config enumerates the client options. The zero value is usable: no
// timeout, no proxy, plain TCP.
type Config struct {
	// TimeoutDuration arms the per-request deadline when positive.
	TimeoutDuration time.Duration

	// SecKey overrides the Sec-WebSocket-Key used during upgrade.
	SecKey string

	// MaxSinglePartSize bounds one multipart file slice. Default 1 MiB.
	MaxSinglePartSize int64

	ProxyHost string
	ProxyPort string

	ProxyAuthUsername string
	ProxyAuthPasswd   string
	ProxyAuthToken    string

	// TLS options, applied when any is set.
	TLSBasePath   string
	TLSCertFile   string
	TLSVerifyPeer bool
	TLSDomain     string
}

// Client is the single-connection client. All request operations serialize
// on the client: at most one is in flight at any time.
type Client struct {
	mux  sync.Mutex // serializes request/upload/download/upgrade
	wmux sync.Mutex // serializes frame writes after upgrade

	tr  transport
	clk clock.Clock

	reqHeaders []Header

	formData          []*formPart
	maxSinglePartSize int64

	proxyHost string
	proxyPort string

	proxyBasicAuthUsername string
	proxyBasicAuthPassword string
	proxyBearerToken       string

	enableTimeout   bool
	timeoutDuration time.Duration
	isTimeout       atomic.Bool

	redirectURI          string
	enableFollowRedirect bool

	chunkBuf []byte

	wsSecKey  string
	onWSMsg   func(Response)
	onWSClose func(reason []byte)
}

// NewClient returns a client with no connection established yet.
func NewClient() *Client {
	return &Client{
		tr:                transport{closed: true},
		clk:               clock.New(),
		maxSinglePartSize: 1024 * 1024,
	}
}

// InitConfig applies conf. It returns an error only when the TLS
// configuration cannot be loaded.
func (c *Client) InitConfig(conf Config) error {
	if conf.TimeoutDuration > 0 {
		c.SetTimeout(conf.TimeoutDuration)
	}
	if conf.SecKey != "" {
		c.SetWSSecKey(conf.SecKey)
	}
	if conf.MaxSinglePartSize > 0 {
		c.SetMaxSinglePartSize(conf.MaxSinglePartSize)
	}
	if conf.ProxyHost != "" {
		c.SetProxy(conf.ProxyHost, conf.ProxyPort)
	}
	if conf.ProxyAuthUsername != "" {
		c.SetProxyBasicAuth(conf.ProxyAuthUsername, conf.ProxyAuthPasswd)
	}
	if conf.ProxyAuthToken != "" {
		c.SetProxyBearerTokenAuth(conf.ProxyAuthToken)
	}
	if conf.TLSBasePath != "" || conf.TLSCertFile != "" || conf.TLSDomain != "" || conf.TLSVerifyPeer {
		return c.InitTLS(conf.TLSBasePath, conf.TLSCertFile, conf.TLSVerifyPeer, conf.TLSDomain)
	}
	return nil
}

// InitTLS loads the CA file under basePath and pins verification to
// domain. Must be called before the first https/wss request that needs a
// non-default policy.
func (c *Client) InitTLS(basePath, certFile string, verifyPeer bool, domain string) error {
	return c.tr.initTLS(basePath, certFile, verifyPeer, domain)
}

// HasClosed reports whether the connection is down.
func (c *Client) HasClosed() bool {
	return c.tr.isClosed()
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	c.tr.close()
}

// Reset forces the connection closed; the next request dials a fresh
// socket without tearing down the client.
func (c *Client) Reset() {
	c.mux.Lock()
	c.tr.close()
	c.mux.Unlock()
}

// SetTimeout enables the per-request deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.enableTimeout = true
	c.timeoutDuration = d
}

// SetProxy routes requests through host:port with the request-target
// rewritten to absolute form.
func (c *Client) SetProxy(host, port string) {
	c.proxyHost = host
	c.proxyPort = port
}

// SetProxyBasicAuth attaches Proxy-Authorization: Basic credentials.
func (c *Client) SetProxyBasicAuth(username, password string) {
	c.proxyBasicAuthUsername = username
	c.proxyBasicAuthPassword = password
}

// SetProxyBearerTokenAuth attaches a Proxy-Authorization: Bearer token.
func (c *Client) SetProxyBearerTokenAuth(token string) {
	c.proxyBearerToken = token
}

// EnableAutoRedirect makes the client follow one redirect hop.
func (c *Client) EnableAutoRedirect(enable bool) {
	c.enableFollowRedirect = enable
}

// RedirectURI returns the Location captured from the last response.
func (c *Client) RedirectURI() string {
	return c.redirectURI
}

// IsRedirect reports whether resp carries a redirect status.
func IsRedirect(resp *Response) bool {
	return resp.Status >= 300 && resp.Status <= 399
}

// AddHeader queues a user header for the next request. Host is owned by
// the engine and duplicate keys are rejected.
func (c *Client) AddHeader(key, val string) bool {
	if key == "" || key == "Host" {
		return false
	}
	for i := range c.reqHeaders {
		if c.reqHeaders[i].Name == key {
			return false
		}
	}
	c.reqHeaders = append(c.reqHeaders, Header{key, val})
	return true
}

func (c *Client) clearRequestHeaders() {
	if len(c.reqHeaders) > 0 {
		c.reqHeaders = c.reqHeaders[:0]
	}
}

// Get issues a GET. With auto-redirect enabled one redirect hop is
// followed.
func (c *Client) Get(uri string) Response {
	return c.Request(uri, "GET", nil)
}

// Post issues a POST carrying content.
func (c *Client) Post(uri string, content []byte, contentType ContentType) Response {
	return c.Request(uri, "POST", &Context{ContentType: contentType, Content: content})
}

// Put issues a PUT carrying content.
func (c *Client) Put(uri string, content []byte, contentType ContentType) Response {
	return c.Request(uri, "PUT", &Context{ContentType: contentType, Content: content})
}

// Delete issues a DELETE carrying content.
func (c *Client) Delete(uri string, content []byte, contentType ContentType) Response {
	return c.Request(uri, "DELETE", &Context{ContentType: contentType, Content: content})
}

// Head issues a HEAD; no body is read.
func (c *Client) Head(uri string) Response {
	return c.Request(uri, "HEAD", nil)
}

// Options .
func (c *Client) Options(uri string) Response {
	return c.Request(uri, "OPTIONS", nil)
}

// Trace .
func (c *Client) Trace(uri string) Response {
	return c.Request(uri, "TRACE", nil)
}

// Patch .
func (c *Client) Patch(uri string) Response {
	return c.Request(uri, "PATCH", nil)
}

// Connect issues a CONNECT request.
func (c *Client) Connect(uri string) Response {
	return c.Request(uri, "CONNECT", nil)
}

// Reconnect forces a fresh socket and issues a GET.
func (c *Client) Reconnect(uri string) Response {
	c.Reset()
	return c.Get(uri)
}

// Download streams the response body into the file at path, appending when
// it already exists. A non-empty byte range ("from-to") is sent as a Range
// header. The returned datum carries an empty body view.
func (c *Client) Download(uri, path, byteRange string) Response {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Error("open download sink %v failed: %v", path, err)
		return Response{Err: err, Status: 404}
	}
	defer f.Close()

	ctx := &Context{Sink: f}
	if byteRange != "" {
		ctx.ReqStr = "Range: bytes=" + byteRange + CRLF
	}
	return c.Request(uri, "GET", ctx)
}

// Request issues one request and returns the response datum. The caller
// inspects resp.Err first; resp.Body borrows from the client read buffer
// until the next operation.
func (c *Client) Request(uri, method string, ctx *Context) Response {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.request(uri, method, ctx)
}

func (c *Client) request(uri, method string, ctx *Context) Response {
	if ctx == nil {
		ctx = &Context{}
	}

	resp := c.requestOnce(uri, method, ctx)

	if c.enableFollowRedirect && c.redirectURI != "" && IsRedirect(&resp) {
		redirect := c.redirectURI
		c.redirectURI = ""
		logging.Debug("following redirect to %v", redirect)
		resp = c.requestOnce(redirect, method, ctx)
	}
	return resp
}

// requestOnce runs one connect/write/read cycle with the deadline armed.
// User headers are cleared on return whatever the outcome.
func (c *Client) requestOnce(uri, method string, ctx *Context) Response {
	c.chunkBuf = c.chunkBuf[:0]
	defer c.clearRequestHeaders()

	uri = checkScheme(uri)

	var resp Response
	var keepAlive bool
	var err error

	dl := c.startTimer()

	for done := false; !done; done = true {
		var u *reqURI
		u, err = c.handleURI(uri)
		if err != nil {
			break
		}

		if c.tr.isClosed() {
			if err = c.connect(u); err != nil {
				break
			}
		}

		msg := c.buildRequestHeader(u, method, ctx)
		if err = c.tr.writev(msg, ctx.Content); err != nil {
			break
		}

		resp, keepAlive, err = c.handleRead(ctx, method)
	}

	if terr := c.waitTimer(dl); terr != nil {
		err = terr
	}
	c.handleResult(&resp, err, keepAlive)
	return resp
}

// connect resolves the target (proxy overrides when configured), dials,
// and performs the TLS handshake for ssl schemes.
func (c *Client) connect(u *reqURI) error {
	host, port := u.host, u.port
	if c.proxyHost != "" {
		host = c.proxyHost
	}
	if c.proxyPort != "" {
		port = c.proxyPort
	}

	var timeout time.Duration
	if c.enableTimeout {
		timeout = c.timeoutDuration
	}
	if err := c.tr.dial(net.JoinHostPort(host, port), timeout); err != nil {
		return err
	}

	if u.isSSL {
		c.tr.useTLS = true
		if err := c.tr.handshake(u.host); err != nil {
			return err
		}
	}

	// The deadline may have fired while dialing, before it had a socket to
	// close.
	if c.isTimeout.Load() {
		c.tr.close()
		return ErrTimeout
	}
	return nil
}

// handleResult applies the propagation policy: any error closes the socket
// and forces status 404; a response without keep-alive closes the socket.
func (c *Client) handleResult(resp *Response, err error, keepAlive bool) {
	if err != nil {
		c.tr.close()
		resp.Err = err
		resp.Status = 404
		logging.Error("request failed: %v", err)
		return
	}
	if !keepAlive {
		c.tr.close()
	}
}

// reqURI is the parsed request target. target is the request-line form,
// rewritten to absolute form when a proxy is configured.
type reqURI struct {
	scheme string
	host   string
	port   string
	path   string
	query  string
	isSSL  bool
	isWS   bool
	target string
}

// checkScheme prepends http:// when uri carries none of the supported
// scheme prefixes.
func checkScheme(uri string) string {
	if strings.HasPrefix(uri, "http://") ||
		strings.HasPrefix(uri, "https://") ||
		strings.HasPrefix(uri, "ws://") ||
		strings.HasPrefix(uri, "wss://") {
		return uri
	}
	return "http://" + uri
}

func (c *Client) handleURI(raw string) (*reqURI, error) {
	pu, err := url.Parse(raw)
	if err != nil || pu.Host == "" {
		return nil, ErrProtocol
	}

	u := &reqURI{
		scheme: pu.Scheme,
		host:   pu.Hostname(),
		port:   pu.Port(),
		query:  pu.RawQuery,
	}
	switch pu.Scheme {
	case "http", "ws":
		u.isWS = pu.Scheme == "ws"
		if u.port == "" {
			u.port = "80"
		}
	case "https", "wss":
		u.isSSL = true
		u.isWS = pu.Scheme == "wss"
		if u.port == "" {
			u.port = "443"
		}
	default:
		return nil, ErrProtocol
	}

	u.path = pu.EscapedPath()
	if u.path == "" {
		u.path = "/"
	}
	u.target = u.path

	if c.proxyHost != "" && c.proxyPort != "" {
		scheme := "http"
		if u.isSSL {
			scheme = "https"
		}
		u.target = scheme + "://" + u.host + ":" + u.port + u.path
	}

	return u, nil
}
