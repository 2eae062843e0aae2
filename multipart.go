// Copyright 2023 monoconn. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpc

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/monoconn/httpc/logging"
	"github.com/monoconn/httpc/mempool"
)

// formPart is one registered multipart entry: either inline content or a
// file to be streamed at send time. size is fixed at registration.
type formPart struct {
	name     string
	filename string
	content  []byte
	size     int64
}

// AddStrPart registers an in-memory part. The name must be unique.
func (c *Client) AddStrPart(name, content string) bool {
	if c.findPart(name) != nil {
		logging.Warn("multipart name %v already exists", name)
		return false
	}
	c.formData = append(c.formData, &formPart{
		name:    name,
		content: []byte(content),
		size:    int64(len(content)),
	})
	return true
}

// AddFilePart registers a file part. The file must exist now; its size is
// captured here. At send time the file is reopened and exactly that many
// bytes are read from it; the size is not checked again.
func (c *Client) AddFilePart(name, filename string) bool {
	if c.findPart(name) != nil {
		logging.Warn("multipart name %v already exists", name)
		return false
	}
	fi, err := os.Stat(filename)
	if err != nil || fi.IsDir() {
		logging.Warn("open file %v failed: %v", filename, err)
		return false
	}
	c.formData = append(c.formData, &formPart{
		name:     name,
		filename: filename,
		size:     fi.Size(),
	})
	return true
}

// SetMaxSinglePartSize bounds one file slice written per transport write.
func (c *Client) SetMaxSinglePartSize(size int64) {
	c.maxSinglePartSize = size
}

func (c *Client) findPart(name string) *formPart {
	for _, p := range c.formData {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (c *Client) clearFormData() {
	c.formData = nil
}

// partHeader formats the header block of one part:
//
//	--BOUNDARY\r\n
//	Content-Disposition: form-data; name="<key>"[; filename="<base>"]\r\n
//	[Content-Type: <mime>\r\n]
//	\r\n
func (c *Client) partHeader(p *formPart) []byte {
	head := make([]byte, 0, 128)
	head = append(head, "--"+Boundary+CRLF...)
	head = append(head, `Content-Disposition: form-data; name="`...)
	head = append(head, p.name...)
	head = append(head, '"')
	if p.filename != "" {
		head = append(head, `; filename="`...)
		head = append(head, filepath.Base(p.filename)...)
		head = append(head, '"')
	}
	head = append(head, CRLF...)
	if p.filename != "" {
		if m := mimeForFile(p.filename); m != "" {
			head = append(head, "Content-Type: "...)
			head = append(head, m...)
			head = append(head, CRLF...)
		}
	}
	head = append(head, CRLF...)
	return head
}

// MultipartContentLen is the exact number of bytes the upload will put on
// the wire between the first part header and the closing boundary
// inclusive. It is derived from the part formatter, never from hand-kept
// constants.
func (c *Client) MultipartContentLen() int64 {
	var n int64
	for _, p := range c.formData {
		n += int64(len(c.partHeader(p))) + p.size + int64(len(CRLF))
	}
	n += int64(len("--" + Boundary + "--" + CRLF))
	return n
}

// mimeForFile maps the file extension to a bare MIME type, without
// parameters.
func mimeForFile(filename string) string {
	m := mime.TypeByExtension(filepath.Ext(filename))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

// Upload POSTs the registered parts as multipart/form-data. The registry
// and user headers are cleared when the upload completes or fails.
func (c *Client) Upload(uri string) Response {
	c.mux.Lock()
	defer c.mux.Unlock()
	defer func() {
		c.clearRequestHeaders()
		c.clearFormData()
	}()

	if len(c.formData) == 0 {
		logging.Warn("no multipart part registered")
		return Response{Status: 404}
	}

	c.chunkBuf = c.chunkBuf[:0]
	ctx := &Context{ContentType: ContentTypeMultipart}

	uri = checkScheme(uri)
	u, err := c.handleURI(uri)
	if err != nil {
		return Response{Err: err, Status: 404}
	}

	contentLen := c.MultipartContentLen()
	c.AddHeader("Content-Length", strconv.FormatInt(contentLen, 10))
	header := c.buildRequestHeader(u, "POST", ctx)

	var resp Response
	var keepAlive bool

	dl := c.startTimer()

	for done := false; !done; done = true {
		if c.tr.isClosed() {
			if err = c.connect(u); err != nil {
				break
			}
		}

		if err = c.tr.writev(header); err != nil {
			break
		}

		for _, p := range c.formData {
			if err = c.sendSinglePart(p); err != nil {
				break
			}
		}
		if err != nil {
			break
		}

		// Closing boundary goes last.
		if err = c.tr.writev([]byte("--" + Boundary + "--" + CRLF)); err != nil {
			break
		}

		resp, keepAlive, err = c.handleRead(ctx, "POST")
	}

	if terr := c.waitTimer(dl); terr != nil {
		err = terr
	}
	c.handleResult(&resp, err, keepAlive)
	return resp
}

// UploadFile registers filename under name and uploads the registry.
func (c *Client) UploadFile(uri, name, filename string) Response {
	if !c.AddFilePart(name, filename) {
		logging.Warn("open file failed or duplicate part name")
		return Response{Status: 404}
	}
	return c.Upload(uri)
}

// sendSinglePart writes one part header and its body. Files are streamed
// in slices of at most maxSinglePartSize bytes, with back-pressure from
// the blocking transport write.
func (c *Client) sendSinglePart(p *formPart) error {
	head := c.partHeader(p)

	if p.filename == "" {
		if err := c.tr.writev(head, p.content); err != nil {
			return err
		}
		return c.tr.writev(crlfBytes)
	}

	// The file may have vanished between registration and send.
	f, err := os.Open(p.filename)
	if err != nil {
		return errors.Wrap(err, "multipart file")
	}
	defer f.Close()

	if err = c.tr.writev(head); err != nil {
		return err
	}

	left := p.size
	sliceSize := c.maxSinglePartSize
	if left < sliceSize {
		sliceSize = left
	}
	buf := mempool.Malloc(int(sliceSize))
	defer mempool.Free(buf)

	for left > 0 {
		n := int64(len(buf))
		if left < n {
			n = left
		}
		if _, err = io.ReadFull(f, buf[:n]); err != nil {
			return errors.Wrap(err, "multipart file read")
		}
		if err = c.tr.writev(buf[:n]); err != nil {
			return err
		}
		left -= n
	}

	return c.tr.writev(crlfBytes)
}
