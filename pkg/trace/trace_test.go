package trace

import (
	"context"
	"testing"
)

func TestEnsure_MintsOnce(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatalf("empty trace id")
	}
	ctx2, id2 := Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatalf("Ensure must keep existing id: %s vs %s", id, id2)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("background must not carry a trace id")
	}
}
