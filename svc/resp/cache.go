package resp

import (
	"encoding/json"
	"net/http"
)

const (
	HeaderMeta        = "X-Response-Meta"
	HeaderCacheStatus = "Cf-Cache-Status"
	HeaderCacheTier   = "X-Pobbin-Cache"
	CacheHit          = "HIT"
	CacheMiss         = "MISS"
)

var validators = []string{"Cache-Control", "ETag", "Expires", "Last-Modified"}

// IsCacheable is the only gate for storing a response in the edge cache.
func (r *Response) IsCacheable() bool {
	if r.status == http.StatusPartialContent {
		return false
	}
	for _, v := range r.header.Values("Vary") {
		if v == "*" {
			return false
		}
	}
	for _, h := range validators {
		if _, ok := r.header[http.CanonicalHeaderKey(h)]; ok {
			return true
		}
	}
	return false
}

// WasServedFromCache reports the HIT marker. Only used for logging.
func (r *Response) WasServedFromCache() bool {
	return r.header.Get(HeaderCacheStatus) == CacheHit
}

// Snapshot is the cache representation of a response. Meta travels in the
// X-Response-Meta header.
type Snapshot struct {
	Status int                 `cbor:"1,keyasint"`
	Header map[string][]string `cbor:"2,keyasint"`
	Body   []byte              `cbor:"3,keyasint,omitempty"`
}

// ForCache snapshots the response without altering it. A stream body is
// buffered.
func (r *Response) ForCache() (Snapshot, error) {
	c, err := r.Clone()
	if err != nil {
		return Snapshot{}, err
	}
	if c.meta != nil {
		if b, err := json.Marshal(c.meta); err == nil {
			c.header.Set(HeaderMeta, string(b))
		}
	}
	return Snapshot{Status: c.status, Header: c.header, Body: c.body}, nil
}

// FromCache rebuilds a response from a snapshot, restoring Meta and marking
// it as a HIT. A malformed meta header is ignored.
func FromCache(s Snapshot) *Response {
	r := New(s.Status)
	for k, v := range s.Header {
		r.header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	r.body = s.Body
	if raw := r.header.Get(HeaderMeta); raw != "" {
		var m Meta
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			r.meta = &m
		}
	}
	r.header.Del(HeaderMeta)
	r.header.Set(HeaderCacheStatus, CacheHit)
	return r
}
