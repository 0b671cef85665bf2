package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pobbin/cfg"
	"pobbin/pkg/domain"
	"pobbin/svc/bg"
	"pobbin/svc/cache"
	"pobbin/svc/db"
	"pobbin/svc/resp"
	"pobbin/svc/session"
	"pobbin/svc/store"
	"pobbin/svc/svc"
)

var dbSeq atomic.Int32

type testEnv struct {
	srv   *httptest.Server
	tasks *bg.Registry
	lru   *cache.LRU
	sess  *session.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		MaxPasteSize:   64 * 1024,
		ContextTimeout: 5 * time.Second,
	}
	dsn := fmt.Sprintf("file:apidb%d?mode=memory&cache=shared", dbSeq.Add(1))
	sqlDB, err := db.NewSQLiteWithConfig(dsn, 4, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(1000)
	if err != nil {
		t.Fatalf("failed to create lru: %v", err)
	}
	tasks := bg.New(5 * time.Second)
	edge := cache.NewController(lru, tasks, cache.ControllerOpts{DefaultTTL: time.Minute})
	paste := svc.NewPaste(store.New(sqlDB, nil), cache.NewPurger(lru, tasks), c.MaxPasteSize)
	sess, err := session.NewVerifier([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}
	ts := httptest.NewServer(NewServer(c, paste, edge, sess, sqlDB, nil))
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, tasks: tasks, lru: lru, sess: sess}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("bad request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		tok, err := e.sess.Issue(domain.User(user), time.Hour)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: tok})
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	// Background stores and purges finish before the next step.
	e.tasks.Wait()
	return res, string(b)
}

func expectCache(t *testing.T, res *http.Response, status, tier string) {
	t.Helper()
	if got := res.Header.Get(resp.HeaderCacheStatus); got != status {
		t.Errorf("%s = %q, want %q", resp.HeaderCacheStatus, got, status)
	}
	if got := res.Header.Get(resp.HeaderCacheTier); got != tier {
		t.Errorf("%s = %q, want %q", resp.HeaderCacheTier, got, tier)
	}
	if res.Header.Get(resp.HeaderMeta) != "" {
		t.Error("internal meta header leaked to client")
	}
}

func TestEdgeCacheLifecycle(t *testing.T) {
	e := newTestEnv(t)
	res, body := e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"abcde","content":"X"}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", res.StatusCode, body)
	}
	var created WriteResp
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("bad create response: %v", err)
	}
	if created.ID != "abcde" || created.User != "alice" || created.URL != "/u/alice/abcde" {
		t.Errorf("unexpected create response %+v", created)
	}

	res, body = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "", "")
	if res.StatusCode != http.StatusOK || body != "X" {
		t.Fatalf("first GET = %d %q", res.StatusCode, body)
	}
	expectCache(t, res, resp.CacheMiss, "Default")

	res, body = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "", "")
	if body != "X" {
		t.Fatalf("second GET body = %q", body)
	}
	expectCache(t, res, resp.CacheHit, "Default")
	if res.Header.Get("ETag") == "" {
		t.Error("cached response lost its ETag")
	}

	res, _ = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "alice", "")
	expectCache(t, res, resp.CacheMiss, "Owned")
	res, _ = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "alice", "")
	expectCache(t, res, resp.CacheHit, "Owned")
	res, _ = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "bob", "")
	expectCache(t, res, resp.CacheHit, "Default")

	res, body = e.do(t, http.MethodPut, "/api/internal/paste/alice:abcde", "alice", `{"content":"Y"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", res.StatusCode, body)
	}

	res, body = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "", "")
	if body != "Y" {
		t.Fatalf("GET after update = %q, want Y", body)
	}
	expectCache(t, res, resp.CacheMiss, "Default")
	res, body = e.do(t, http.MethodGet, "/u/alice/abcde/raw", "alice", "")
	if body != "Y" {
		t.Fatalf("owner GET after update = %q, want Y", body)
	}
	expectCache(t, res, resp.CacheMiss, "Owned")
}

func TestEveryVariantPurged(t *testing.T) {
	e := newTestEnv(t)
	if res, body := e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"abcde","content":"X"}`); res.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d %s", res.StatusCode, body)
	}
	paths := []string{
		"/u/alice/abcde",
		"/u/alice/abcde/raw",
		"/u/alice/abcde/json",
		"/pob/alice:abcde",
		"/pob/u/alice/abcde",
		"/u/alice",
		"/api/internal/user/alice",
	}
	for _, p := range paths {
		e.do(t, http.MethodGet, p, "", "")
		e.do(t, http.MethodGet, p, "alice", "")
	}
	if e.lru.Len() != 2*len(paths) {
		t.Fatalf("expected %d cached entries, got %d", 2*len(paths), e.lru.Len())
	}
	if res, _ := e.do(t, http.MethodPut, "/api/internal/paste/alice:abcde", "alice", `{"content":"Y"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("update failed: %d", res.StatusCode)
	}
	if e.lru.Len() != 0 {
		t.Errorf("%d cache entries survived the update", e.lru.Len())
	}
}

func createAlice(t *testing.T, e *testEnv) {
	t.Helper()
	if res, body := e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"abcde","content":"X"}`); res.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d %s", res.StatusCode, body)
	}
}

func updateAlice(t *testing.T, e *testEnv, content string) {
	t.Helper()
	if res, body := e.do(t, http.MethodPut, "/api/internal/paste/alice:abcde", "alice", `{"content":"`+content+`"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("update failed: %d %s", res.StatusCode, body)
	}
}

func TestQueryStringSharesPurgedEntry(t *testing.T) {
	e := newTestEnv(t)
	createAlice(t, e)
	e.do(t, http.MethodGet, "/u/alice/abcde/raw?x=1", "", "")
	res, _ := e.do(t, http.MethodGet, "/u/alice/abcde/raw", "", "")
	expectCache(t, res, resp.CacheHit, "Default")
	updateAlice(t, e, "Y")
	res, body := e.do(t, http.MethodGet, "/u/alice/abcde/raw?x=1", "", "")
	if body != "Y" {
		t.Fatalf("GET with query after update = %q, want Y", body)
	}
	expectCache(t, res, resp.CacheMiss, "Default")
}

func TestUserSpellingRedirects(t *testing.T) {
	e := newTestEnv(t)
	createAlice(t, e)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	tests := []struct {
		path string
		loc  string
	}{
		{"/u/ALICE/abcde/raw", "/u/alice/abcde/raw"},
		{"/u/Alice", "/u/alice"},
		{"/pob/ALICE:abcde", "/pob/alice:abcde"},
		{"/api/internal/user/aLiCe", "/api/internal/user/alice"},
	}
	for _, tt := range tests {
		res, err := client.Get(e.srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tt.path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusMovedPermanently || res.Header.Get("Location") != tt.loc {
			t.Errorf("GET %s = %d %q, want redirect to %q", tt.path, res.StatusCode, res.Header.Get("Location"), tt.loc)
		}
		if res.Header.Get(resp.HeaderCacheStatus) != "" {
			t.Errorf("redirect for %s went through the edge cache", tt.path)
		}
	}
	e.tasks.Wait()
	if e.lru.Len() != 0 {
		t.Errorf("redirects left %d cache entries", e.lru.Len())
	}

	_, body := e.do(t, http.MethodGet, "/u/ALICE/abcde/raw", "", "")
	if body != "X" {
		t.Fatalf("GET via redirect = %q", body)
	}
	updateAlice(t, e, "Y")
	res, body := e.do(t, http.MethodGet, "/u/ALICE/abcde/raw", "", "")
	if body != "Y" {
		t.Fatalf("GET via redirect after update = %q, want Y", body)
	}
	expectCache(t, res, resp.CacheMiss, "Default")
}

func TestReservedCharactersInUserPurged(t *testing.T) {
	e := newTestEnv(t)
	if res, body := e.do(t, http.MethodPost, "/api/internal/paste", "a;b", `{"id":"abcde","content":"X"}`); res.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d %s", res.StatusCode, body)
	}
	paths := []string{"/u/a;b/abcde/raw", "/u/a%3Bb/abcde", "/pob/a;b%3Aabcde"}
	for _, p := range paths {
		e.do(t, http.MethodGet, p, "", "")
	}
	if e.lru.Len() != len(paths) {
		t.Fatalf("expected %d cached entries, got %d", len(paths), e.lru.Len())
	}
	if res, body := e.do(t, http.MethodPut, "/api/internal/paste/a;b:abcde", "a;b", `{"content":"Y"}`); res.StatusCode != http.StatusOK {
		t.Fatalf("update failed: %d %s", res.StatusCode, body)
	}
	if e.lru.Len() != 0 {
		t.Errorf("%d cache entries survived the update", e.lru.Len())
	}
	res, body := e.do(t, http.MethodGet, "/u/a;b/abcde/raw", "", "")
	if body != "Y" {
		t.Fatalf("GET after update = %q, want Y", body)
	}
	expectCache(t, res, resp.CacheMiss, "Default")
}

func TestListingRefreshedOnCreate(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"first","content":"1","title":"One"}`)
	_, body := e.do(t, http.MethodGet, "/api/internal/user/alice", "", "")
	var list []domain.PasteSummary
	if err := json.Unmarshal([]byte(body), &list); err != nil || len(list) != 1 {
		t.Fatalf("listing = %s (%v)", body, err)
	}
	if list[0].Title != "One" {
		t.Errorf("unexpected summary %+v", list[0])
	}
	e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"second","content":"2"}`)
	res, body := e.do(t, http.MethodGet, "/api/internal/user/alice", "", "")
	if err := json.Unmarshal([]byte(body), &list); err != nil || len(list) != 2 {
		t.Fatalf("listing after create = %s (%v)", body, err)
	}
	expectCache(t, res, resp.CacheMiss, "Default")
}

func TestAnonymousPaste(t *testing.T) {
	e := newTestEnv(t)
	res, body := e.do(t, http.MethodPost, "/api/internal/paste", "", `{"content":"anon build"}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", res.StatusCode, body)
	}
	var created WriteResp
	json.Unmarshal([]byte(body), &created)
	if len(created.ID) != 12 || created.User != "" {
		t.Fatalf("unexpected create response %+v", created)
	}
	for _, p := range []string{"/" + created.ID + "/raw", "/pob/" + created.ID} {
		res, body = e.do(t, http.MethodGet, p, "", "")
		if res.StatusCode != http.StatusOK || body != "anon build" {
			t.Errorf("GET %s = %d %q", p, res.StatusCode, body)
		}
	}
	res, body = e.do(t, http.MethodGet, "/"+created.ID+"/json", "", "")
	var pj PasteJSON
	if err := json.Unmarshal([]byte(body), &pj); err != nil || pj.Content != "anon build" {
		t.Errorf("json view = %s (%v)", body, err)
	}
	if !strings.HasPrefix(res.Header.Get("ETag"), `W/"`) {
		t.Errorf("json view should carry a weak ETag, got %q", res.Header.Get("ETag"))
	}
	res, _ = e.do(t, http.MethodGet, "/"+created.ID, "", "")
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		t.Errorf("view content type = %q", res.Header.Get("Content-Type"))
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 2; i++ {
		res, body := e.do(t, http.MethodGet, "/zzzzz/raw", "", "")
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d", res.StatusCode)
		}
		if res.Header.Get(resp.HeaderCacheStatus) != "" {
			t.Error("error response went through the cache")
		}
		if !strings.Contains(body, "PASTE_NOT_FOUND") {
			t.Errorf("unexpected error body %s", body)
		}
	}
	if e.lru.Len() != 0 {
		t.Errorf("errors were cached: %d entries", e.lru.Len())
	}
	res, _ := e.do(t, http.MethodGet, "/abc/raw", "", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("short id status = %d, want 400", res.StatusCode)
	}
}

func TestWriteAuthorization(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		want   int
	}{
		{"create scoped anonymously", http.MethodPost, "/api/internal/paste", "", `{"id":"abcde","content":"x"}`, http.StatusUnauthorized},
		{"create empty", http.MethodPost, "/api/internal/paste", "alice", `{"content":""}`, http.StatusBadRequest},
		{"create unknown field", http.MethodPost, "/api/internal/paste", "alice", `{"content":"x","bogus":1}`, http.StatusBadRequest},
		{"create", http.MethodPost, "/api/internal/paste", "alice", `{"id":"abcde","content":"x"}`, http.StatusCreated},
		{"update by other", http.MethodPut, "/api/internal/paste/alice:abcde", "bob", `{"content":"y"}`, http.StatusForbidden},
		{"update anonymous", http.MethodPut, "/api/internal/paste/alice:abcde", "", `{"content":"y"}`, http.StatusUnauthorized},
		{"update missing", http.MethodPut, "/api/internal/paste/alice:zzzzz", "alice", `{"content":"y"}`, http.StatusNotFound},
		{"delete by other", http.MethodDelete, "/api/internal/paste/alice:abcde", "bob", "", http.StatusForbidden},
		{"delete", http.MethodDelete, "/api/internal/paste/alice:abcde", "alice", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/api/internal/paste/alice:abcde", "alice", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		res, body := e.do(t, tt.method, tt.path, tt.user, tt.body)
		if res.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, res.StatusCode, tt.want, body)
		}
	}
	if res, _ := e.do(t, http.MethodGet, "/u/alice/abcde/raw", "", ""); res.StatusCode != http.StatusNotFound {
		t.Errorf("deleted paste still served: %d", res.StatusCode)
	}
}

func TestOwnerSeesEditLink(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/internal/paste", "alice", `{"id":"abcde","content":"x","title":"Cyclone"}`)
	_, anon := e.do(t, http.MethodGet, "/u/alice/abcde", "", "")
	_, own := e.do(t, http.MethodGet, "/u/alice/abcde", "alice", "")
	if strings.Contains(anon, "/u/alice/abcde/edit") {
		t.Error("anonymous view shows edit link")
	}
	if !strings.Contains(own, "/u/alice/abcde/edit") || !strings.Contains(own, "Cyclone") {
		t.Errorf("owner view missing edit link: %s", own)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	res, _ := e.do(t, http.MethodGet, "/health", "", "")
	if res.StatusCode != http.StatusOK {
		t.Errorf("health = %d", res.StatusCode)
	}
	res, body := e.do(t, http.MethodGet, "/ready", "", "")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, `"cache":"memory"`) {
		t.Errorf("ready = %d %s", res.StatusCode, body)
	}
}
