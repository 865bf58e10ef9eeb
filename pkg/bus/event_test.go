package bus

import (
	"context"
	"testing"
)

func TestBus_DropOnBackpressure(t *testing.T) {
	b := New(1)
	if !b.Publish(context.Background(), Event{Kind: KindTrack, Body: Track{FileID: "a"}}) {
		t.Fatalf("first publish should be accepted")
	}
	if b.Publish(context.Background(), Event{Kind: KindTrack, Body: Track{FileID: "b"}}) {
		t.Fatalf("second publish should be dropped")
	}
	ev := <-b.Subscribe()
	if tr, ok := ev.Body.(Track); !ok || tr.FileID != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
