package cyw43

// Network channel bridge: the interface a host network stack uses to
// move ethernet frames through the chip. Two receive paths exist: a
// zero-copy callback registered with RecvEthHandle, or the queued
// TrySend/RecvFrame pair backed by the static frame pool.

import (
	"errors"
	"net"

	"github.com/pico-go/cyw43/whd"
)

// Bridge error sentinels.
var (
	// ErrLinkDown means a frame was submitted while not associated.
	ErrLinkDown = errors.New("cyw43: link down")
	// ErrChannelFull means the transmit queue has no room.
	ErrChannelFull = errors.New("cyw43: channel full")
	// ErrFrameTooLarge means the frame exceeds the bus MTU.
	ErrFrameTooLarge = errors.New("cyw43: frame exceeds MTU")
)

// MTU (maximum transmission unit) returns the maximum amount
// of bytes that can be sent in a single ethernet frame in a call to SendEth.
func (d *Device) MTU() int { return MTU }

// HardwareAddr6 returns the device's 6-byte [MAC address].
//
// [MAC address]: https://en.wikipedia.org/wiki/MAC_address
func (d *Device) HardwareAddr6() ([6]byte, error) {
	d.acquire()
	defer d.release()
	if d.mac == [6]byte{} {
		err := d.acquireMAC()
		if err != nil {
			return [6]byte{}, err
		}
	}
	return d.mac, nil
}

// acquireMAC reads the station address off the chip. Called with the
// device locked.
func (d *Device) acquireMAC() error {
	if d.state < StateBackplaneReady {
		return errors.New("hardware address not acquired")
	}
	var buf [6]byte
	_, err := d.get_iovar_n("cur_etheraddr", whd.IF_STA, buf[:])
	if err != nil {
		return err
	}
	d.mac = buf
	return nil
}

// PollOne attempts to read a packet from the device. Returns true if a packet
// was read, false if no packet was available.
func (d *Device) PollOne() (bool, error) {
	d.lock()
	defer d.unlock()
	_, cmd, err := d.tryPoll(d._rxBuf[:])
	if err == errNoF2Avail {
		return false, nil
	}
	return cmd != whd.SDPCM_UNKNOWN && err == nil, err
}

// RecvEthHandle sets the handler for receiving ethernet packets. The
// handler is invoked from the poll path with a view into the receive
// buffer valid only for the duration of the call. Setting a handler
// bypasses the receive queue; set to nil to queue frames instead.
func (d *Device) RecvEthHandle(handler func(pkt []byte) error) {
	d.lock()
	defer d.unlock()
	d.rcvEth = handler
}

// SendEth sends an ethernet packet over the current interface,
// blocking for a flow control credit when the chip applies backpressure.
func (d *Device) SendEth(pkt []byte) error {
	d.lock()
	defer d.unlock()
	if len(pkt) > MTU {
		return ErrFrameTooLarge
	}
	return d.tx(pkt)
}

// TrySend queues an ethernet frame for transmission without blocking.
// Returns ErrChannelFull when the transmit queue is occupied,
// ErrFrameTooLarge for frames over the MTU and ErrLinkDown when not
// associated. Queued frames are flushed by Poll.
func (d *Device) TrySend(pkt []byte) error {
	d.lock()
	defer d.unlock()
	switch {
	case len(pkt) > MTU:
		return ErrFrameTooLarge
	case d.state != StateLinkUp:
		return ErrLinkDown
	case d.txq.full():
		return ErrChannelFull
	}
	idx, ok := d.pool.alloc()
	if !ok {
		return ErrChannelFull
	}
	fb := d.pool.frame(idx)
	fb.n = uint16(copy(fb.data[:], pkt))
	d.txq.push(idx)
	return nil
}

// RecvFrame pops the oldest queued received frame into dst and returns
// its length. Returns 0, nil when no frame is queued. Frames arrive on
// the queue only while no RecvEthHandle handler is registered.
func (d *Device) RecvFrame(dst []byte) (int, error) {
	d.lock()
	defer d.unlock()
	idx, ok := d.rxq.pop()
	if !ok {
		return 0, nil
	}
	fb := d.pool.frame(idx)
	n := copy(dst, fb.data[:fb.n])
	short := int(fb.n) > len(dst)
	d.pool.release(idx)
	if short {
		return n, ErrFrameTooLarge
	}
	return n, nil
}

// flushTx drains the transmit queue onto the bus. Called with the
// device locked. Stops on the first credit stall to bound time spent.
func (d *Device) flushTx() (sent int, err error) {
	for !d.txq.empty() {
		if !d.has_credit() {
			break
		}
		idx, _ := d.txq.pop()
		fb := d.pool.frame(idx)
		err = d.tx(fb.data[:fb.n])
		d.pool.release(idx)
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// LinkState reports whether the device is associated and passing traffic.
func (d *Device) LinkState() bool {
	d.lock()
	defer d.unlock()
	return d.state == StateLinkUp
}

// NetFlags returns the current network flags for the device.
func (d *Device) NetFlags() (flags net.Flags) {
	// Define net.Flags locally since not all Tinygo versions have them fully defined.
	const (
		FlagUp           net.Flags = 1 << iota // interface is administratively up
		FlagBroadcast                          // interface supports broadcast access capability
		FlagLoopback                           // interface is a loopback interface
		FlagPointToPoint                       // interface belongs to a point-to-point link
		FlagMulticast                          // interface supports multicast access capability
		FlagRunning                            // interface is in running state
	)
	d.lock()
	defer d.unlock()
	if d.state < StateLinkDown {
		return 0
	}
	flags |= FlagUp
	if d.state == StateLinkUp {
		flags |= FlagRunning
	}
	return flags
}
