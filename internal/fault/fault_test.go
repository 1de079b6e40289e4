package fault_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"salesline/internal/fault"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := fault.New(fault.NotFound, "pipeline %s not found", "p1")
	wrapped := fmt.Errorf("loading record: %w", base)

	if kind := fault.KindOf(wrapped); kind != fault.NotFound {
		t.Fatalf("kind = %q", kind)
	}
	if !fault.IsKind(wrapped, fault.NotFound) {
		t.Fatal("IsKind missed wrapped fault")
	}
	if fault.IsKind(wrapped, fault.Timeout) {
		t.Fatal("IsKind matched the wrong kind")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if kind := fault.KindOf(errors.New("boom")); kind != "" {
		t.Fatalf("kind = %q for plain error", kind)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fault.Wrap(fault.RemoteUnavailable, cause, "reaching store")

	if !errors.Is(err, cause) {
		t.Fatal("cause lost")
	}
	msg := err.Error()
	for _, want := range []string{"remote_unavailable", "reaching store", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
