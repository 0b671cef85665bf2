package resp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pobbin/pkg/domain"
)

func TestIsCacheable(t *testing.T) {
	if OK().Text("x").IsCacheable() {
		t.Fatal("response without validators must not be cacheable")
	}
	setters := map[string]func(*Response) *Response{
		"cache-control": func(r *Response) *Response { return r.CacheFor(time.Minute) },
		"etag":          func(r *Response) *Response { return r.ETag(StrongETag("abc")) },
		"expires":       func(r *Response) *Response { return r.Header("Expires", "Wed, 21 Oct 2015 07:28:00 GMT") },
		"last-modified": func(r *Response) *Response { return r.LastModified(1700000000000) },
	}
	for name, set := range setters {
		t.Run(name, func(t *testing.T) {
			r := set(OK().Text("x"))
			if !r.IsCacheable() {
				t.Errorf("expected cacheable with %s", name)
			}
			partial := set(New(http.StatusPartialContent))
			if partial.IsCacheable() {
				t.Errorf("206 must never be cacheable")
			}
			vary := set(OK()).Header("Vary", "*")
			if vary.IsCacheable() {
				t.Errorf("Vary: * must never be cacheable")
			}
		})
	}
}

func TestMalformedValuesDropped(t *testing.T) {
	r := OK().
		Header("X-Ok", "yes").
		Header("X-Bad", "line\nbreak").
		Header("Bad Name", "v").
		Header("X-Empty", "").
		ETag(StrongETag(`has"quote`)).
		Cookie(&http.Cookie{Name: "bad name", Value: "v"}).
		JSON(make(chan int))
	if r.Get("X-Ok") != "yes" {
		t.Error("valid header missing")
	}
	for _, h := range []string{"X-Bad", "Bad Name", "X-Empty", "ETag", "Set-Cookie", "Content-Type"} {
		if r.Get(h) != "" {
			t.Errorf("malformed %s should have been dropped", h)
		}
	}
}

func TestCacheRoundTrip(t *testing.T) {
	id := domain.UserPaste{User: "alice", ID: "abcde"}
	skill := "Cyclone"
	stored := &domain.StoredPaste{
		Metadata:     &domain.PasteMetadata{Title: "t", AscendancyOrClass: "Slayer", MainSkillName: &skill},
		LastModified: 1234,
		EntityID:     "e",
		Content:      "X",
	}
	r := OK().Text("X").ETag(StrongETag("e")).WithMeta(PasteMeta(id, stored))
	snap, err := r.ForCache()
	if err != nil {
		t.Fatalf("ForCache failed: %v", err)
	}
	if r.Get(HeaderMeta) != "" {
		t.Error("ForCache must not modify the original response")
	}
	if snap.Header[HeaderMeta] == nil {
		t.Fatal("snapshot missing meta header")
	}
	back := FromCache(snap)
	if !back.WasServedFromCache() {
		t.Error("expected HIT marker")
	}
	if back.Get(HeaderMeta) != "" {
		t.Error("meta header must be stripped on load")
	}
	m := back.Meta()
	if m == nil || m.PasteID != "alice:abcde" || m.UserID != "alice" || m.MainSkillName != "Cyclone" || m.LastModified != 1234 {
		t.Errorf("unexpected meta %+v", m)
	}
	rec := httptest.NewRecorder()
	if err := back.WriteTo(rec); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if rec.Body.String() != "X" || rec.Header().Get("ETag") != `"e"` {
		t.Errorf("unexpected replay: %q %v", rec.Body.String(), rec.Header())
	}
}

func TestCloneStream(t *testing.T) {
	r := OK().Stream(io.NopCloser(strings.NewReader("streamed")))
	c, err := r.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	for _, resp := range []*Response{r, c} {
		rec := httptest.NewRecorder()
		if err := resp.WriteTo(rec); err != nil {
			t.Fatalf("WriteTo failed: %v", err)
		}
		if rec.Body.String() != "streamed" {
			t.Errorf("body = %q", rec.Body.String())
		}
	}
}

func TestCloneConsumedStreamPanics(t *testing.T) {
	r := OK().Stream(strings.NewReader("once"))
	if err := r.WriteTo(httptest.NewRecorder()); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic cloning consumed stream")
		}
	}()
	r.Clone()
}

func TestCacheControlString(t *testing.T) {
	tests := []struct {
		cc   CacheControl
		want string
	}{
		{CacheControl{}.Public(), "public"},
		{CacheControl{}.With(Private), "private"},
		{CacheControl{}.With(NoCache), "no-cache"},
		{CacheControl{}.SMaxAge(123 * time.Second), "s-maxage=123"},
		{CacheControl{}.MaxAge(121 * time.Second).SMaxAge(123 * time.Second), "max-age=121, s-maxage=123"},
		{CacheControl{}.Public().MaxAge(121 * time.Second).SMaxAge(123 * time.Second), "public, max-age=121, s-maxage=123"},
	}
	for _, tt := range tests {
		if got := tt.cc.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestCacheTTL(t *testing.T) {
	if d, ok := CacheTTL("public, max-age=60, s-maxage=300"); !ok || d != 300*time.Second {
		t.Errorf("expected s-maxage to win, got %v %v", d, ok)
	}
	if d, ok := CacheTTL("public, max-age=60"); !ok || d != time.Minute {
		t.Errorf("expected max-age, got %v %v", d, ok)
	}
	if _, ok := CacheTTL("no-cache"); ok {
		t.Error("expected no ttl")
	}
}

func TestETagFormat(t *testing.T) {
	if got := StrongETag("abc").String(); got != `"abc"` {
		t.Errorf("strong = %s", got)
	}
	if got := WeakETag("abc").String(); got != `W/"abc"` {
		t.Errorf("weak = %s", got)
	}
	if got := StrongETag("abc").WithBuild().String(); got != `"abc.`+BuildVersion+`"` {
		t.Errorf("build = %s", got)
	}
}
