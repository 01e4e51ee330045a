package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapPreservesInnerKind(t *testing.T) {
	inner := New(KindNetwork, "fetching https://example.invalid/repo.git")
	outer := Wrap(KindInternal, "checking out source \"git\"", inner)

	if outer.Kind != KindNetwork {
		t.Fatalf("Wrap Kind = %v, want %v (inherited from cause)", outer.Kind, KindNetwork)
	}
}

func TestErrorRendersChain(t *testing.T) {
	leaf := errors.New("connection refused")
	mid := Wrap(KindNetwork, "fetching https://example.invalid/repo.git", leaf)
	top := Wrap(KindCheckout, "checking out source \"git\"", mid)

	msg := top.Error()
	for _, want := range []string{
		"While checking out source \"git\":",
		"While fetching https://example.invalid/repo.git:",
		"connection refused",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := Wrap(KindCache, "reading tree from cache", errors.New("no such object"))
	if !Is(err, KindCache) {
		t.Fatal("Is did not match the error's own kind")
	}
	if Is(err, KindNetwork) {
		t.Fatal("Is matched an unrelated kind")
	}
}

func TestExitCodes(t *testing.T) {
	if New(KindUsage, "x").Kind.ExitCode() != 2 {
		t.Fatal("usage errors should exit 2")
	}
	if New(KindInternal, "x").Kind.ExitCode() != 128 {
		t.Fatal("internal errors should exit 128")
	}
	if New(KindNetwork, "x").Kind.ExitCode() != 1 {
		t.Fatal("network errors should exit 1")
	}
}
