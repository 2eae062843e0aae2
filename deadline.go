// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"github.com/benbjohnson/clock"

	"github.com/monoconn/httpc/logging"
)

// deadline fuses the per-request timer with the ongoing I/O. Firing closes
// the socket, which forces the blocked read or write to complete with a
// transport error; the one-shot notifier lets the request path tell a
// genuine network error from a timeout. The notifier is signaled exactly
// once whether the timer fired or was canceled.
type deadline struct {
	timer *clock.Timer
	done  chan struct{}
}

// startTimer arms the deadline when the user enabled a timeout. Returns nil
// otherwise.
func (c *Client) startTimer() *deadline {
	if !c.enableTimeout {
		return nil
	}
	c.isTimeout.Store(false)
	d := &deadline{done: make(chan struct{})}
	d.timer = c.clk.AfterFunc(c.timeoutDuration, func() {
		c.isTimeout.Store(true)
		logging.Debug("request timeout, closing socket")
		c.tr.close()
		close(d.done)
	})
	return d
}

// waitTimer cancels the timer and awaits the notifier. If the timer won the
// race the surfaced error is ErrTimeout.
func (c *Client) waitTimer(d *deadline) error {
	if d == nil {
		return nil
	}
	if d.timer.Stop() {
		close(d.done)
	}
	<-d.done
	if c.isTimeout.Load() {
		return ErrTimeout
	}
	return nil
}
