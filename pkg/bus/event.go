package bus

import (
	"context"
	"time"
)

type Kind string

const (
	// KindTrack asks the audit scheduler to start tracking a stored file.
	KindTrack Kind = "track"
	// KindUntrack asks the scheduler to forget a file and remove its records.
	KindUntrack Kind = "untrack"
)

// Track is the body of a KindTrack event.
type Track struct {
	FileID        string
	EscrowID      string
	Scheme        string
	ValidateEvery time.Duration
	Size          int64
	Blocks        uint64
	Digest        string
}

// Untrack is the body of a KindUntrack event.
type Untrack struct {
	FileID string
	Delete bool
}

type Event struct {
	Kind    Kind
	Body    any
	TraceID string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{pub: make(chan Event, size)}
}

// Publish enqueues ev and reports whether it was accepted; events are dropped
// on backpressure.
func (b *Bus) Publish(_ context.Context, ev Event) bool {
	select {
	case b.pub <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) Subscribe() Subscriber { return b.pub }
