package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pobbin/pkg/domain"
	"pobbin/svc/bg"
	"pobbin/svc/resp"
)

func TestKeysCoverEveryVariant(t *testing.T) {
	id := domain.UserPaste{User: "alice", ID: "abcde"}
	keys := Keys("https://pobb.in/", id)
	want := map[string]bool{
		"https://pobb.in/u/alice/abcde":           true,
		"https://pobb.in/u/alice/abcde/raw":       true,
		"https://pobb.in/u/alice/abcde/json":      true,
		"https://pobb.in/pob/alice:abcde":         true,
		"https://pobb.in/pob/u/alice/abcde":       true,
		"https://pobb.in/u/alice/abcde/edit":      true,
		"https://pobb.in/u/alice":                 true,
		"https://pobb.in/api/internal/user/alice": true,
		"pob://pobbin/alice:abcde":                true,
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d: %v", len(keys), len(want), keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestKeysIncludeNormalizedUser(t *testing.T) {
	keys := Keys("http://h", domain.UserPaste{User: "Alice", ID: "abcde"})
	var found bool
	for _, k := range keys {
		if k == "http://h/u/alice/abcde/raw" {
			found = true
		}
	}
	if !found || len(keys) != 18 {
		t.Errorf("expected both spellings, got %v", keys)
	}
}

func TestPurgeClearsBothTiers(t *testing.T) {
	l, _ := NewLRU(100)
	reg := bg.New(time.Second)
	c := NewController(l, reg, ControllerOpts{})
	id := domain.UserPaste{User: "alice", ID: "abcde"}

	var reqs []*http.Request
	for _, v := range domain.Variants(id) {
		if v[0] != '/' {
			continue
		}
		reqs = append(reqs, httptest.NewRequest(http.MethodGet, "http://pobb.in"+v, nil))
	}
	for _, r := range reqs {
		for _, session := range []domain.User{"", "alice"} {
			c.Entry(r, session, "alice").Store(resp.OK().Text("old").CacheFor(time.Minute))
		}
	}
	reg.Wait()
	if l.Len() != 2*len(reqs) {
		t.Fatalf("expected %d entries, got %d", 2*len(reqs), l.Len())
	}

	p := NewPurger(l, reg)
	p.Schedule(context.Background(), "http://pobb.in", id)
	reg.Wait()
	if l.Len() != 0 {
		t.Errorf("purge left %d entries", l.Len())
	}
}

func TestPurgeMissingKeysIsNoop(t *testing.T) {
	l, _ := NewLRU(10)
	p := NewPurger(l, bg.New(time.Second))
	if err := p.Purge(context.Background(), "http://h", domain.Paste{ID: "abcde"}); err != nil {
		t.Errorf("purge of missing keys failed: %v", err)
	}
}
