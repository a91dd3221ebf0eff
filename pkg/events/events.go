// Package events broadcasts capture loop events to in-process listeners.
package events

import (
	"time"

	"github.com/kelindar/event"
)

// Event type constants for kelindar/event.
const (
	TypeFrame uint32 = iota + 1
	TypeCaptureError
	TypeSnapshot
	TypeControl
)

// Event is the interface kelindar/event dispatches on.
type Event interface {
	Type() uint32
}

// FrameEvent is published once per captured frame.
type FrameEvent struct {
	Sequence  uint32    `json:"sequence"`
	Index     int       `json:"index"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

func (e FrameEvent) Type() uint32 { return TypeFrame }

// CaptureErrorEvent is published when the capture loop stops on an error.
type CaptureErrorEvent struct {
	Device    string    `json:"device"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

type SnapshotEvent struct {
	Name      string    `json:"name"`
	Size      string    `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SnapshotEvent) Type() uint32 { return TypeSnapshot }

type ControlEvent struct {
	ID        uint32    `json:"id"`
	Value     int32     `json:"value"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ControlEvent) Type() uint32 { return TypeControl }

// Bus wraps a kelindar/event dispatcher. Handlers run asynchronously.
type Bus struct {
	dispatcher *event.Dispatcher
}

func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

func Publish[T Event](b *Bus, ev T) {
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers handler for events of type T and returns the
// unsubscribe function.
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}
