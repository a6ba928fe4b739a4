//go:build !pico

package cyw43

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/pico-go/cyw43/whd"
)

func TestSendEthCreditBackpressure(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	d.state = StateLinkUp

	frame := []byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4}
	if err := d.SendEth(frame); err != nil {
		t.Fatal("SendEth:", err)
	}
	if len(sim.sentFrames) != 1 || !bytes.Equal(sim.sentFrames[0], frame) {
		t.Fatalf("chip saw %d frames, want the sent payload", len(sim.sentFrames))
	}
	// The single boot credit is spent; with a silent chip the next send
	// must stall and fail rather than transmit uncredited.
	if err := d.SendEth(frame); err == nil {
		t.Fatal("SendEth without credit succeeded")
	}
}

func TestSendEthErrors(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	if err := d.SendEth([]byte{1}); !errors.Is(err, ErrLinkDown) {
		t.Errorf("err = %v, want ErrLinkDown", err)
	}
	d.state = StateLinkUp
	if err := d.SendEth(make([]byte, MTU+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestTrySendQueueing(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	if err := d.TrySend([]byte{1}); !errors.Is(err, ErrLinkDown) {
		t.Fatalf("err = %v, want ErrLinkDown", err)
	}
	d.state = StateLinkUp
	if err := d.TrySend(make([]byte, MTU+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	for i := 0; i < 4; i++ {
		if err := d.TrySend([]byte{byte(i)}); err != nil {
			t.Fatalf("TrySend %d: %v", i, err)
		}
	}
	if err := d.TrySend([]byte{9}); !errors.Is(err, ErrChannelFull) {
		t.Fatalf("err = %v, want ErrChannelFull", err)
	}

	// One boot credit: the first Poll flushes a single frame, then an
	// unsolicited chip frame replenishes the window and the rest drain.
	didWork, err := d.Poll()
	if err != nil || !didWork {
		t.Fatalf("Poll = %v, %v", didWork, err)
	}
	if len(sim.sentFrames) != 1 {
		t.Fatalf("flushed %d frames on one credit, want 1", len(sim.sentFrames))
	}
	for len(sim.sentFrames) < 4 {
		sim.injectEvent(whd.EvLINK, 0, 0, 1, simMAC)
		if _, err := d.Poll(); err != nil {
			t.Fatal("Poll:", err)
		}
	}
	for i, f := range sim.sentFrames {
		if len(f) != 1 || f[0] != byte(i) {
			t.Errorf("frame %d = %#x, want FIFO order", i, f)
		}
	}
}

func TestRecvFrameQueue(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	var dst [64]byte
	if n, err := d.RecvFrame(dst[:]); n != 0 || err != nil {
		t.Fatalf("empty RecvFrame = %d, %v", n, err)
	}

	payload := []byte("hello chip")
	sim.injectData(payload)
	if _, err := d.Poll(); err != nil {
		t.Fatal("Poll:", err)
	}
	n, err := d.RecvFrame(dst[:])
	if err != nil || !bytes.Equal(dst[:n], payload) {
		t.Fatalf("RecvFrame = %q, %v", dst[:n], err)
	}

	// Short destination truncates and reports it.
	sim.injectData(payload)
	if _, err = d.Poll(); err != nil {
		t.Fatal("Poll:", err)
	}
	n, err = d.RecvFrame(dst[:4])
	if n != 4 || !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("short RecvFrame = %d, %v", n, err)
	}
}

func TestRecvEthHandleBypassesQueue(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	var got []byte
	d.RecvEthHandle(func(pkt []byte) error {
		got = append([]byte(nil), pkt...)
		return nil
	})
	payload := []byte{1, 2, 3, 4, 5}
	sim.injectData(payload)
	gotPacket, err := d.PollOne()
	if err != nil || !gotPacket {
		t.Fatalf("PollOne = %v, %v", gotPacket, err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("handler saw %#x, want %#x", got, payload)
	}
	var dst [16]byte
	if n, _ := d.RecvFrame(dst[:]); n != 0 {
		t.Error("frame queued despite registered handler")
	}

	if gotPacket, err = d.PollOne(); gotPacket || err != nil {
		t.Errorf("idle PollOne = %v, %v", gotPacket, err)
	}
}

func TestRxQueueDropsOldest(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	for i := 0; i < 5; i++ {
		sim.injectData([]byte{byte(i)})
	}
	if _, err := d.Poll(); err != nil {
		t.Fatal("Poll:", err)
	}
	if got := d.RxDrops(); got != 1 {
		t.Errorf("RxDrops = %d, want 1", got)
	}
	var dst [4]byte
	for want := byte(1); want < 5; want++ {
		n, err := d.RecvFrame(dst[:])
		if err != nil || n != 1 || dst[0] != want {
			t.Fatalf("RecvFrame = %v,%v,%v want frame %d", dst[:n], n, err, want)
		}
	}
}

func TestHardwareAddr6(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	mac, err := d.HardwareAddr6()
	if err != nil {
		t.Fatal(err)
	}
	if mac != simMAC {
		t.Errorf("mac = %x, want %x", mac, simMAC)
	}
	before := sim.reqCount
	if _, err = d.HardwareAddr6(); err != nil {
		t.Fatal(err)
	}
	if sim.reqCount != before {
		t.Error("cached MAC re-read from chip")
	}
}

func TestNetFlags(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)
	if got := d.NetFlags(); got != 0 {
		t.Errorf("flags before operational = %v", got)
	}
	d.state = StateLinkDown
	if got := d.NetFlags(); got != net.FlagUp {
		t.Errorf("flags = %v, want up", got)
	}
	d.state = StateLinkUp
	if got := d.NetFlags(); got != net.FlagUp|net.FlagRunning {
		t.Errorf("flags = %v, want up|running", got)
	}
	if !d.LinkState() || !d.IsLinkUp() {
		t.Error("link not reported up")
	}
	if d.MTU() != MTU {
		t.Error("MTU mismatch")
	}
}
