package httpc

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *httptest.Server {
	router := httprouter.New()
	router.GET("/hello", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte("world"))
	})
	router.HEAD("/hello", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte("world"))
	})
	router.GET("/redirect", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.Redirect(w, r, "http://"+r.Host+"/hello", http.StatusMovedPermanently)
	})
	router.GET("/close", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Connection", "close")
		w.Write([]byte("bye"))
	})
	router.POST("/echo", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	router.GET("/query", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte(r.URL.RawQuery))
	})
	return httptest.NewServer(router)
}

func TestGetFixedBody(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Get(svr.URL + "/hello")
	require.NoError(t, resp.Err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "world", string(resp.Body))
	assert.True(t, resp.EOF)
	assert.NotEmpty(t, resp.Headers)
	assert.False(t, c.HasClosed(), "keep-alive response leaves the connection open")
}

func TestKeepAliveReuse(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	for i := 0; i < 3; i++ {
		resp := c.Get(svr.URL + "/hello")
		require.NoError(t, resp.Err)
		require.Equal(t, "world", string(resp.Body))
		require.False(t, c.HasClosed())
	}
}

func TestConnectionClose(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Get(svr.URL + "/close")
	require.NoError(t, resp.Err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "bye", string(resp.Body))
	assert.True(t, c.HasClosed(), "Connection: close must shut the socket")
}

func TestRedirect(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	// Without auto-follow the redirect status and Location surface.
	resp := c.Get(svr.URL + "/redirect")
	require.NoError(t, resp.Err)
	assert.Equal(t, 301, resp.Status)
	assert.True(t, IsRedirect(&resp))
	assert.True(t, strings.HasSuffix(c.RedirectURI(), "/hello"))

	// With auto-follow the final datum comes from the second response.
	c.EnableAutoRedirect(true)
	resp = c.Get(svr.URL + "/redirect")
	require.NoError(t, resp.Err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "world", string(resp.Body))
}

func TestPostEcho(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Post(svr.URL+"/echo", []byte(`{"k":"v"}`), ContentTypeJSON)
	require.NoError(t, resp.Err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"k":"v"}`, string(resp.Body))
}

func TestHead(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Head(svr.URL + "/hello")
	require.NoError(t, resp.Err)
	assert.Equal(t, 200, resp.Status)
	assert.Empty(t, resp.Body)
	assert.NotEmpty(t, resp.Headers)
}

func TestQueryString(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Get(svr.URL + "/query?a=1&b=2")
	require.NoError(t, resp.Err)
	assert.Equal(t, "a=1&b=2", string(resp.Body))
}

func TestDialError(t *testing.T) {
	c := NewClient()
	defer c.Close()

	// Nothing listens on this port.
	resp := c.Get("http://127.0.0.1:1/hello")
	require.Error(t, resp.Err)
	assert.Equal(t, 404, resp.Status)
	assert.True(t, c.HasClosed())
}

func TestBadURI(t *testing.T) {
	c := NewClient()
	defer c.Close()

	resp := c.Get("http://%zz/")
	require.ErrorIs(t, resp.Err, ErrProtocol)
	assert.Equal(t, 404, resp.Status)
}

func TestAddHeader(t *testing.T) {
	c := NewClient()

	assert.False(t, c.AddHeader("Host", "example.com"), "Host is owned by the engine")
	assert.False(t, c.AddHeader("", "x"))
	assert.True(t, c.AddHeader("X-Token", "abc"))
	assert.False(t, c.AddHeader("X-Token", "def"), "duplicate keys are rejected")
	assert.True(t, c.AddHeader("X-Other", "1"))
}

func TestHeadersClearedAfterRequest(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	require.True(t, c.AddHeader("X-Token", "abc"))
	resp := c.Get(svr.URL + "/hello")
	require.NoError(t, resp.Err)

	// The same key is accepted again: the last request consumed it.
	assert.True(t, c.AddHeader("X-Token", "abc"))
	c.clearRequestHeaders()
}

func TestReconnect(t *testing.T) {
	svr := newTestServer()
	defer svr.Close()

	c := NewClient()
	defer c.Close()

	resp := c.Get(svr.URL + "/hello")
	require.NoError(t, resp.Err)
	require.False(t, c.HasClosed())

	resp = c.Reconnect(svr.URL + "/hello")
	require.NoError(t, resp.Err)
	assert.Equal(t, "world", string(resp.Body))
}

func TestCheckScheme(t *testing.T) {
	assert.Equal(t, "http://example.com", checkScheme("example.com"))
	assert.Equal(t, "http://example.com", checkScheme("http://example.com"))
	assert.Equal(t, "https://example.com", checkScheme("https://example.com"))
	assert.Equal(t, "ws://example.com", checkScheme("ws://example.com"))
	assert.Equal(t, "wss://example.com", checkScheme("wss://example.com"))
	// A scheme in the middle of the string does not count.
	assert.Equal(t, "http://example.com/ws://x", checkScheme("example.com/ws://x"))
}

func TestHandleURI(t *testing.T) {
	c := NewClient()

	u, err := c.handleURI("http://example.com/a/b?q=1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.host)
	assert.Equal(t, "80", u.port)
	assert.Equal(t, "/a/b", u.path)
	assert.Equal(t, "/a/b", u.target)
	assert.Equal(t, "q=1", u.query)
	assert.False(t, u.isSSL)

	u, err = c.handleURI("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "443", u.port)
	assert.Equal(t, "/", u.path)
	assert.True(t, u.isSSL)

	u, err = c.handleURI("wss://example.com:9443/chat")
	require.NoError(t, err)
	assert.Equal(t, "9443", u.port)
	assert.True(t, u.isSSL)
	assert.True(t, u.isWS)

	_, err = c.handleURI("gopher://example.com")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHandleURIProxyRewrite(t *testing.T) {
	c := NewClient()
	c.SetProxy("proxy.local", "3128")

	u, err := c.handleURI("http://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:80/x", u.target)

	u, err = c.handleURI("https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:443/x", u.target)
}

func TestInitConfig(t *testing.T) {
	c := NewClient()
	err := c.InitConfig(Config{
		TimeoutDuration:   0,
		SecKey:            "key==",
		MaxSinglePartSize: 4096,
		ProxyHost:         "p",
		ProxyPort:         "3128",
		ProxyAuthUsername: "u",
		ProxyAuthPasswd:   "pw",
		ProxyAuthToken:    "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "key==", c.wsSecKey)
	assert.Equal(t, int64(4096), c.maxSinglePartSize)
	assert.Equal(t, "p", c.proxyHost)
	assert.Equal(t, "tok", c.proxyBearerToken)
}
