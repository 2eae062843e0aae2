// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"errors"
)

var (
	// ErrProtocol is returned for unparsable URIs, malformed response
	// headers and invalid chunk sizes.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConnected is returned when writing on a dead connection.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout is returned when the request deadline fired before the
	// response completed.
	ErrTimeout = errors.New("timeout")

	// ErrNotAStream is returned when a TLS handshake is attempted with no
	// underlying stream established.
	ErrNotAStream = errors.New("not a stream")
)
