//go:build !pico

package cyw43

import (
	"errors"
	"testing"
	"time"

	"github.com/pico-go/cyw43/whd"
)

func TestIoctlExchange(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	err := d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, 2)
	if err != nil {
		t.Fatal("set_ioctl:", err)
	}
	if sim.reqCount != 1 {
		t.Errorf("requests on wire = %d, want 1", sim.reqCount)
	}
	if got := sim.ioctlsSet[whd.WLC_SET_PM]; got != 2 {
		t.Errorf("WLC_SET_PM payload = %d, want 2", got)
	}

	var mac [6]byte
	_, err = d.get_iovar_n("cur_etheraddr", whd.IF_STA, mac[:])
	if err != nil {
		t.Fatal("get_iovar_n:", err)
	}
	if mac != simMAC {
		t.Errorf("mac = %x, want %x", mac, simMAC)
	}
}

func TestIoctlStaleResponseDropped(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	sim.staleFirst = true

	err := d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, 0)
	if err != nil {
		t.Fatal("set_ioctl:", err)
	}
	if d.staleResps != 1 {
		t.Errorf("staleResps = %d, want 1", d.staleResps)
	}
	if sim.reqCount != 1 {
		t.Errorf("requests on wire = %d, want 1 (no retransmit)", sim.reqCount)
	}
}

func TestIoctlRejectedNoRetransmit(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	sim.ioctlStatus = 0xffffffe2 // BCME error code.

	err := d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, 0)
	if !errors.Is(err, ErrIoctlRejected) {
		t.Fatalf("err = %v, want ErrIoctlRejected", err)
	}
	if sim.reqCount != 1 {
		t.Errorf("requests on wire = %d, want 1 (rejection must not retransmit)", sim.reqCount)
	}
}

func TestIoctlUnresponsiveThenRecovers(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	sim.dropNext = 100

	err := d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, 0)
	if !errors.Is(err, ErrIoctlUnresponsive) {
		t.Fatalf("err = %v, want ErrIoctlUnresponsive", err)
	}

	// The engine stays usable: once the chip talks again (an unsolicited
	// frame replenishes tx credit) the next exchange completes.
	sim.dropNext = 0
	sim.injectEvent(whd.EvLINK, 0, 0, 1, simMAC)
	err = d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, 2)
	if err != nil {
		t.Fatal("exchange after recovery:", err)
	}
}

func TestSendIoctlValidation(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	if err := d.sendIoctl(ioctlSET, whd.WLC_SET_PM, whd.IoctlInterface(9), nil); err == nil {
		t.Error("invalid iface accepted")
	}
	if err := d.sendIoctl(ioctlSET, whd.SDPCMCommand(9999), whd.IF_STA, nil); err == nil {
		t.Error("invalid command accepted")
	}
	if err := d.sendIoctl(1, whd.WLC_SET_PM, whd.IF_STA, nil); err == nil {
		t.Error("invalid kind accepted")
	}
	if sim.reqCount != 0 {
		t.Errorf("invalid requests reached the wire: %d", sim.reqCount)
	}
}

func TestIoctlGateFIFO(t *testing.T) {
	var g ioctlGate
	g.acquire()
	const n = 8
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			g.acquire()
			order <- i
			g.release()
		}()
		// Wait until this waiter is queued before starting the next so
		// arrival order is deterministic.
		for {
			g.mu.Lock()
			queued := len(g.waiters)
			g.mu.Unlock()
			if queued == i+1 {
				break
			}
			time.Sleep(100 * time.Microsecond)
		}
	}
	g.release()
	for i := 0; i < n; i++ {
		if got := <-order; got != i {
			t.Fatalf("waiter served out of order: got %d, want %d", got, i)
		}
	}
}

func TestUpdateCreditClamp(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	d.sdpcmSeq = 10

	hdr := whd.SDPCMHeader{ChanAndFlags: uint8(whd.SDPCM_CONTROL), BusDataCredit: 10 + 0x50}
	d.update_credit(&hdr)
	if d.sdpcmSeqMax != 12 {
		t.Errorf("seqMax = %d, want clamp to seq+2 = 12", d.sdpcmSeqMax)
	}

	d.sdpcmSeqMax = d.sdpcmSeq
	if d.has_credit() {
		t.Error("credit reported with seq == seqMax")
	}
	d.sdpcmSeq = 2
	d.sdpcmSeqMax = 0x90
	if d.has_credit() {
		t.Error("credit reported with wrapped window")
	}
	d.sdpcmSeq = 2
	d.sdpcmSeqMax = 4
	if !d.has_credit() {
		t.Error("no credit reported inside window")
	}
}

func TestEventMask(t *testing.T) {
	var m eventMask
	m.Enable(whd.EvLINK)
	m.Enable(whd.EvAUTH)
	if !m.IsEnabled(whd.EvLINK) || !m.IsEnabled(whd.EvAUTH) {
		t.Error("enabled events not reported")
	}
	m.Disable(whd.EvLINK)
	if m.IsEnabled(whd.EvLINK) {
		t.Error("disabled event still reported")
	}
	buf := make([]byte, m.Size())
	m.Put(buf)
	if buf[4+whd.EvAUTH/8]&(1<<(whd.EvAUTH%8)) == 0 {
		t.Error("Put did not serialize enabled bit")
	}
}
