package cyw43

// Scheduler integration: explicit, bounded polling entry points meant to
// be called from a superloop or a dedicated goroutine in place of a
// hardware interrupt service routine.

import "time"

// Upper bound of frames serviced per Poll call so a burst of chip
// traffic cannot monopolize the caller's loop.
const maxPollFrames = 8

// Poll services the device once: reads the interrupt register and
// drains up to a bounded number of pending frames from the chip, tails
// the chip console when enabled and flushes the transmit queue. Returns
// true when any frame moved in either direction. Safe to call at any
// state; a faulted or uninitialized device reports no work.
func (d *Device) Poll() (didWork bool, err error) {
	d.lock()
	defer d.unlock()
	if d.state < StateBackplaneReady || d.state == StateFaulted {
		return false, nil
	}
	d.log_read()
	frames, err := d.handle_irq(d._rxBuf[:])
	didWork = frames > 0
	if err != nil {
		return didWork, err
	}
	if d.state == StateLinkUp && !d.txq.empty() {
		sent, txErr := d.flushTx()
		didWork = didWork || sent > 0
		err = txErr
	}
	return didWork, err
}

// PollUntil polls the device repeatedly until the deadline passes,
// sleeping between idle rounds. Returns the first servicing error.
func (d *Device) PollUntil(deadline time.Time) error {
	for time.Now().Before(deadline) {
		didWork, err := d.Poll()
		if err != nil {
			return err
		}
		if !didWork {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}
