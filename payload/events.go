package payload

import "sync"

// payloadEventsBufferSize is the per-subscriber event buffer. Slow subscribers
// lose their oldest buffered events once it fills up; publishing never blocks.
const payloadEventsBufferSize = 20

// Event is a payload lifecycle notification.
type Event interface {
	payloadEvent()
}

// AttributesEvent is published when the service accepts a new payload job.
type AttributesEvent struct {
	Attributes PayloadAttributes
}

// BuiltPayloadEvent is published when a resolved payload future completes
// successfully.
type BuiltPayloadEvent struct {
	Payload BuiltPayload
}

func (AttributesEvent) payloadEvent()   {}
func (BuiltPayloadEvent) payloadEvent() {}

// PayloadEvents is a single subscription to the service's event stream.
type PayloadEvents struct {
	ch   chan Event
	once sync.Once
	done chan struct{}
}

func newPayloadEvents() *PayloadEvents {
	return &PayloadEvents{
		ch:   make(chan Event, payloadEventsBufferSize),
		done: make(chan struct{}),
	}
}

// Events returns the channel the subscription's events arrive on. The channel
// is closed once the subscription is cancelled and pruned by the service.
func (e *PayloadEvents) Events() <-chan Event {
	return e.ch
}

// Close cancels the subscription. Buffered events may still be read until the
// service prunes the subscriber.
func (e *PayloadEvents) Close() {
	e.once.Do(func() { close(e.done) })
}

// deliver enqueues an event, dropping the oldest buffered one if the
// subscriber has fallen behind. Only the service loop calls this.
func (e *PayloadEvents) deliver(ev Event) {
	select {
	case e.ch <- ev:
	default:
		// Buffer full: evict the oldest event to make room. The service is the
		// only sender, so after one eviction the send cannot fail.
		select {
		case <-e.ch:
		default:
		}
		select {
		case e.ch <- ev:
		default:
		}
	}
}
