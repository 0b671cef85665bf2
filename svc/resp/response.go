package resp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// Response is a deferred HTTP response. Handlers build it, the edge cache
// inspects and snapshots it, and WriteTo finally sends it.
type Response struct {
	status     int
	header     http.Header
	body       []byte
	stream     io.Reader
	streamUsed bool
	meta       *Meta
}

func New(status int) *Response {
	return &Response{status: status, header: make(http.Header)}
}

func OK() *Response       { return New(http.StatusOK) }
func NotFound() *Response { return New(http.StatusNotFound) }

func Redirect(status int, location string) *Response {
	return New(status).Header("Location", location)
}

func (r *Response) Body(b []byte) *Response {
	r.body = b
	r.stream = nil
	r.streamUsed = false
	return r
}

func (r *Response) Text(s string) *Response {
	return r.ContentType("text/plain; charset=utf-8").Body([]byte(s))
}

// Stream sets a lazily read body. It can be sent once; Clone buffers it.
func (r *Response) Stream(rd io.Reader) *Response {
	r.body = nil
	r.stream = rd
	r.streamUsed = false
	return r
}

// JSON leaves the response untouched when v cannot be marshalled.
func (r *Response) JSON(v any) *Response {
	b, err := json.Marshal(v)
	if err != nil {
		return r
	}
	return r.ContentType("application/json").Body(b)
}

func validHeader(name, value string) bool {
	return value != "" &&
		httpguts.ValidHeaderFieldName(name) &&
		httpguts.ValidHeaderFieldValue(value)
}

// Header replaces name. Malformed or empty values are dropped.
func (r *Response) Header(name, value string) *Response {
	if validHeader(name, value) {
		r.header.Set(name, value)
	}
	return r
}

func (r *Response) AppendHeader(name, value string) *Response {
	if validHeader(name, value) {
		r.header.Add(name, value)
	}
	return r
}

func (r *Response) ContentType(ct string) *Response {
	return r.Header("Content-Type", ct)
}

func (r *Response) Cache(cc CacheControl) *Response {
	return r.Header("Cache-Control", cc.String())
}

func (r *Response) CacheFor(ttl time.Duration) *Response {
	return r.Cache(CacheControl{}.Public().MaxAge(ttl))
}

func (r *Response) ETag(e ETag) *Response {
	if !e.valid() {
		return r
	}
	return r.Header("ETag", e.String())
}

func (r *Response) LastModified(ms int64) *Response {
	if ms <= 0 {
		return r
	}
	return r.Header("Last-Modified", time.UnixMilli(ms).UTC().Format(http.TimeFormat))
}

func (r *Response) Cookie(c *http.Cookie) *Response {
	if c == nil || c.Valid() != nil {
		return r
	}
	return r.AppendHeader("Set-Cookie", c.String())
}

func (r *Response) WithMeta(m *Meta) *Response {
	r.meta = m
	return r
}

func (r *Response) StatusCode() int        { return r.status }
func (r *Response) Meta() *Meta            { return r.meta }
func (r *Response) Get(name string) string { return r.header.Get(name) }

func (r *Response) Is2xx() bool {
	return r.status >= 200 && r.status < 300
}

// Clone deep copies the response. An unread stream body is buffered first so
// both copies can be sent. Cloning a stream that was already sent panics.
func (r *Response) Clone() (*Response, error) {
	if err := r.materialize(); err != nil {
		return nil, err
	}
	c := &Response{
		status: r.status,
		header: r.header.Clone(),
	}
	if r.body != nil {
		c.body = bytes.Clone(r.body)
	}
	if r.meta != nil {
		m := *r.meta
		c.meta = &m
	}
	return c, nil
}

func (r *Response) materialize() error {
	if r.streamUsed {
		panic("resp: stream body already consumed")
	}
	if r.stream == nil {
		return nil
	}
	b, err := io.ReadAll(r.stream)
	if c, ok := r.stream.(io.Closer); ok {
		c.Close()
	}
	r.stream = nil
	if err != nil {
		r.streamUsed = true
		return errors.Wrap(err, "read response stream")
	}
	r.body = b
	return nil
}

// WriteTo sends the response. The header map is copied so the response may
// be written again unless its body is a stream.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	if r.streamUsed {
		panic("resp: stream body already consumed")
	}
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = append([]string(nil), v...)
	}
	w.WriteHeader(r.status)
	if r.stream != nil {
		r.streamUsed = true
		_, err := io.Copy(w, r.stream)
		if c, ok := r.stream.(io.Closer); ok {
			c.Close()
		}
		return errors.Wrap(err, "write response stream")
	}
	if len(r.body) == 0 {
		return nil
	}
	_, err := w.Write(r.body)
	return errors.Wrap(err, "write response body")
}
