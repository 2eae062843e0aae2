// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"github.com/monoconn/httpc/logging"
	"github.com/monoconn/httpc/websocket"
)

// defaultWSSecKey is used when the caller configured no key and random
// generation fails.
const defaultWSSecKey = "s//GYHa/XO7Hd2F2eOGfyA=="

// SetWSSecKey fixes the Sec-WebSocket-Key sent during upgrade.
func (c *Client) SetWSSecKey(key string) {
	c.wsSecKey = key
}

// OnWSMsg registers the callback invoked for every received data frame and
// for a reader error. It runs on the reader goroutine and must not
// re-enter the client with blocking calls.
func (c *Client) OnWSMsg(h func(Response)) {
	c.onWSMsg = h
}

// OnWSClose registers the callback invoked once with the close reason when
// the server closes the channel.
func (c *Client) OnWSClose(h func(reason []byte)) {
	c.onWSClose = h
}

// WSConnect performs the upgrade handshake on the client's connection and,
// on success, starts the detached frame reader loop.
func (c *Client) WSConnect(uri string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	uri = checkScheme(uri)
	u, err := c.handleURI(uri)
	if err != nil {
		logging.Error("url error: %v", uri)
		return false
	}

	if u.isWS {
		if c.wsSecKey == "" {
			key, kerr := websocket.ChallengeKey()
			if kerr != nil {
				key = defaultWSSecKey
			}
			c.wsSecKey = key
		}
		c.AddHeader("Upgrade", "websocket")
		c.AddHeader("Connection", "Upgrade")
		c.AddHeader("Sec-WebSocket-Key", c.wsSecKey)
		c.AddHeader("Sec-WebSocket-Version", "13")
	}

	resp := c.requestOnce(uri, "GET", &Context{})
	if resp.Err != nil {
		return false
	}

	if !u.isWS {
		return true
	}

	accept := resp.GetHeader("Sec-WebSocket-Accept")
	if resp.Status != 101 || accept != websocket.AcceptKey(c.wsSecKey) {
		logging.Error("websocket handshake rejected: status %v", resp.Status)
		c.tr.close()
		return false
	}

	go c.readWSLoop()
	return true
}

// WSSend writes one frame. Close frames get their payload re-formatted as
// {status code, reason} with the normal(1000) code.
func (c *Client) WSSend(msg []byte, mask bool, op websocket.Opcode) Response {
	var resp Response

	if op == websocket.OpClose {
		msg = websocket.FormatClosePayload(websocket.CloseNormal, msg)
	}

	head, body := websocket.EncodeFrame(msg, op, mask)

	c.wmux.Lock()
	err := c.tr.writev(head, body)
	c.wmux.Unlock()

	if err != nil {
		resp.Err = err
		resp.Status = 404
	}
	return resp
}

// WSSendClose sends an unmasked close frame carrying msg as the reason.
func (c *Client) WSSendClose(msg []byte) Response {
	return c.WSSend(msg, false, websocket.OpClose)
}

// readWSLoop is the detached frame reader. It owns all reads on the socket
// after upgrade; the only write it issues is the close-handshake reply,
// serialized with user sends through the write mutex.
func (c *Client) readWSLoop() {
	c.tr.buf.reset()
	headerSize := 2

	for {
		if err := c.tr.ensure(headerSize); err != nil {
			c.deliverWSError(err)
			return
		}

		hdr, needMore := websocket.ParseHeader(c.tr.buf.bytes()[:headerSize])
		if needMore > 0 {
			headerSize += needMore
			continue
		}
		isClose := hdr.Opcode == websocket.OpClose

		c.tr.buf.consume(hdr.HeaderLen)

		if hdr.PayloadLen > c.tr.buf.len() {
			if err := c.tr.ensure(hdr.PayloadLen); err != nil {
				c.deliverWSError(err)
				return
			}
		}

		payload := c.tr.buf.bytes()[:hdr.PayloadLen]
		if hdr.Masked {
			websocket.MaskBytes(hdr.MaskKey, payload)
		}

		if isClose {
			var reason []byte
			if len(payload) >= 2 {
				reason = payload[2:]
			}
			if c.onWSClose != nil {
				c.onWSClose(reason)
			}
			c.WSSend([]byte("close"), false, websocket.OpClose)
			c.tr.close()
			return
		}

		resp := Response{Status: 200, Body: payload}
		c.tr.buf.consume(c.tr.buf.len())
		headerSize = 2

		if c.onWSMsg != nil {
			c.onWSMsg(resp)
		}
	}
}

// deliverWSError reports a reader failure as a final message before the
// loop exits.
func (c *Client) deliverWSError(err error) {
	logging.Debug("websocket reader exit: %v", err)
	if c.onWSMsg != nil {
		c.onWSMsg(Response{Err: err, Status: 404})
	}
}
