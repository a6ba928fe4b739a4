package cyw43

// Host-side async event subscription: a fixed-size ring of decoded event
// records, filled by the receive demultiplexer and drained by NextEvent.

import "github.com/pico-go/cyw43/whd"

// EventRecord is one decoded chip async event as delivered to the host.
type EventRecord struct {
	Event  whd.AsyncEventType
	Status whd.EStatus
	Reason uint32
	Flags  uint16
	// Addr is the BSSID or station address the event refers to.
	Addr [6]byte
}

// eventQueue is a power-of-two ring of event records. When full the
// oldest record is overwritten and the overflow counter incremented, so
// a slow consumer loses history rather than stalling the receive path.
type eventQueue struct {
	buf       []EventRecord
	head      uint32 // Next write position.
	tail      uint32 // Next read position.
	overflows uint32
}

func (q *eventQueue) init(depth int) {
	q.buf = make([]EventRecord, depth)
	q.head = 0
	q.tail = 0
	q.overflows = 0
}

func (q *eventQueue) push(rec EventRecord) {
	if len(q.buf) == 0 {
		return
	}
	mask := uint32(len(q.buf) - 1)
	if q.head-q.tail == uint32(len(q.buf)) {
		q.tail++ // Drop oldest.
		q.overflows++
	}
	q.buf[q.head&mask] = rec
	q.head++
}

func (q *eventQueue) pop() (rec EventRecord, ok bool) {
	if q.head == q.tail {
		return rec, false
	}
	mask := uint32(len(q.buf) - 1)
	rec = q.buf[q.tail&mask]
	q.tail++
	return rec, true
}

func (q *eventQueue) len() int { return int(q.head - q.tail) }

// NextEvent pops the oldest queued async event. ok is false when the
// queue is empty.
func (d *Device) NextEvent() (rec EventRecord, ok bool) {
	d.lock()
	defer d.unlock()
	return d.events.pop()
}

// PendingEvents returns the number of queued async events.
func (d *Device) PendingEvents() int {
	d.lock()
	defer d.unlock()
	return d.events.len()
}

// EventOverflows returns how many async events were discarded because
// the event queue was full.
func (d *Device) EventOverflows() uint32 {
	d.lock()
	defer d.unlock()
	return d.events.overflows
}

// EnableEvent adds an event type to the host-side subscription filter.
// Events outside the filter are dropped on receive without queueing.
func (d *Device) EnableEvent(ev whd.AsyncEventType) {
	d.lock()
	defer d.unlock()
	d.eventmask.Enable(ev)
}

// DisableEvent removes an event type from the host-side filter. Events
// that drive the link state machine are filtered too when disabled;
// disable EvLINK or EvSET_SSID only if link tracking is unwanted.
func (d *Device) DisableEvent(ev whd.AsyncEventType) {
	d.lock()
	defer d.unlock()
	d.eventmask.Disable(ev)
}
