package domain

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
)

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func TestVariantsUnscoped(t *testing.T) {
	p := Paste{ID: "abcde"}
	want := []string{"/abcde", "/abcde/raw", "/abcde/json", "/pob/abcde", "pob://pobbin/abcde"}
	got := Variants(p)
	if len(got) != len(want) {
		t.Fatalf("Variants() = %v, want %v", got, want)
	}
	for _, w := range want {
		if !contains(got, w) {
			t.Errorf("missing variant %q in %v", w, got)
		}
	}
}

func TestVariantsUserPaste(t *testing.T) {
	p := UserPaste{User: "alice", ID: "abcde"}
	want := []string{
		"/u/alice/abcde",
		"/u/alice/abcde/raw",
		"/u/alice/abcde/json",
		"/pob/alice:abcde",
		"pob://pobbin/alice:abcde",
		"/pob/u/alice/abcde",
		"/u/alice/abcde/edit",
		"/u/alice",
		"/api/internal/user/alice",
	}
	got := Variants(p)
	if len(got) != len(want) {
		t.Fatalf("Variants() = %v, want %v", got, want)
	}
	for _, w := range want {
		if !contains(got, w) {
			t.Errorf("missing variant %q", w)
		}
	}
	if !contains(got, URL(p)) {
		t.Error("variants must contain the view url")
	}
}

func TestUserSegmentEscaped(t *testing.T) {
	p := UserPaste{User: "a b", ID: "abcde"}
	if got := URL(p); got != "/u/a%20b/abcde" {
		t.Errorf("URL() = %q", got)
	}
}

func TestStatusMapping(t *testing.T) {
	if Status(ErrIDInvalid) != http.StatusBadRequest {
		t.Error("invalid id should be 400")
	}
	if Status(errors.Wrap(ErrPasteNotFound, "get")) != http.StatusNotFound {
		t.Error("wrapped not found should be 404")
	}
	if Status(NewStorageError("get", errors.New("boom"))) != http.StatusBadGateway {
		t.Error("storage error should be 502")
	}
	if Status(errors.New("x")) != http.StatusInternalServerError {
		t.Error("unknown error should be 500")
	}
	if ToResp(ErrUserTooLong).Error.Code != "INVALID_USER" {
		t.Error("unexpected code")
	}
}

func TestSummarize(t *testing.T) {
	v := "3.25"
	s := Summarize(ListPaste{
		ID:           UserPaste{User: "alice", ID: "abcde"},
		Metadata:     &PasteMetadata{Title: "Build", AscendancyOrClass: "Juggernaut", Version: &v},
		LastModified: 42,
	})
	if s.ID != "abcde" || s.User != "alice" || s.URL != "/u/alice/abcde" {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.Version != "3.25" || s.MainSkillName != "" {
		t.Errorf("unexpected optional fields %+v", s)
	}
}
