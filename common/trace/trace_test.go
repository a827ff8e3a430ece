package trace_test

import (
	"context"
	"testing"

	"github.com/thriveai/ami/common/trace"
)

func TestEnsureKeepsExistingID(t *testing.T) {
	ctx := trace.WithID(context.Background(), "turn-1")
	if got := trace.FromContext(trace.Ensure(ctx)); got != "turn-1" {
		t.Fatalf("expected existing ID to survive, got %q", got)
	}
}

func TestEnsureAddsID(t *testing.T) {
	ctx := trace.Ensure(context.Background())
	if trace.FromContext(ctx) == "" {
		t.Fatal("expected a generated ID")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := trace.NewID()
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}
