package agenterr

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(IO, "fetch", "/tmp/x", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIsKind(t *testing.T) {
	inner := New(NotFound, "resolve", "manifests/site_default", errors.New("404"))
	wrapped := New(Invalid, "resolve", "manifests/root", inner)

	if !Is(wrapped, NotFound) {
		t.Fatalf("expected Is to find wrapped NotFound kind")
	}
	if Is(wrapped, Security) {
		t.Fatalf("expected Is to not match an unrelated kind")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		NotFound:      "not_found",
		Malformed:     "malformed",
		StopRequested: "stop_requested",
		Kind(99):      "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
