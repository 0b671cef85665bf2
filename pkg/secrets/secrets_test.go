package secrets

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

type stubProvider struct {
	val string
	err error
}

func (s stubProvider) Name() string { return "stub" }
func (s stubProvider) GetSecret(context.Context, string) (string, error) {
	return s.val, s.err
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("POBBIN_TEST_SECRET", "s3cret")
	l := NewLoaderWith(nil, envProvider{}, true)
	v, err := l.GetSecret(context.Background(), "POBBIN_TEST_SECRET")
	if err != nil || v != "s3cret" {
		t.Fatalf("GetSecret = %q, %v", v, err)
	}
	_, err = l.GetSecret(context.Background(), "POBBIN_TEST_MISSING")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if l.Source() != "env" {
		t.Errorf("Source() = %q", l.Source())
	}
}

func TestPrimaryPreferred(t *testing.T) {
	l := NewLoaderWith(stubProvider{val: "primary"}, stubProvider{val: "fallback"}, true)
	v, err := l.GetSecret(context.Background(), "k")
	if err != nil || v != "primary" {
		t.Errorf("GetSecret = %q, %v", v, err)
	}
}

func TestFailClosed(t *testing.T) {
	broken := stubProvider{err: errors.New("down")}
	l := NewLoaderWith(broken, stubProvider{val: "fallback"}, true)
	if _, err := l.GetSecret(context.Background(), "k"); err == nil {
		t.Error("fail-closed loader must not fall back")
	}
	l = NewLoaderWith(broken, stubProvider{val: "fallback"}, false)
	v, err := l.GetSecret(context.Background(), "k")
	if err != nil || v != "fallback" {
		t.Errorf("fail-open loader should fall back, got %q, %v", v, err)
	}
}

func TestNoProviders(t *testing.T) {
	l := NewLoaderWith(nil, nil, true)
	if _, err := l.GetSecret(context.Background(), "k"); err != ErrProviderUnavailable {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestNewLoaderDefaultsToEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("SECRETS_REQUIRE_PRIMARY", "")
	l, err := NewLoader(context.Background())
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if l.Source() != "env" {
		t.Errorf("Source() = %q, want env", l.Source())
	}
}
