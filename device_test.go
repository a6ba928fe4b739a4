//go:build !pico

package cyw43

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"log/slog"

	"github.com/pico-go/cyw43/whd"
)

func TestInitBootSequence(t *testing.T) {
	sim := newSimChip()
	dev := NewDevice(sim.setPower, sim, nil)
	var transitions []DriverState
	dev.OnStateChange(func(s DriverState) { transitions = append(transitions, s) })

	fw := makeTestFirmware(4096)
	err := dev.Init(Config{Firmware: fw})
	if err != nil {
		t.Fatal("Init:", err)
	}
	if got := dev.State(); got != StateBackplaneReady {
		t.Errorf("state = %v, want %v", got, StateBackplaneReady)
	}
	if len(transitions) != 2 || transitions[0] != StateFirmwareLoading || transitions[1] != StateBackplaneReady {
		t.Errorf("transitions = %v", transitions)
	}

	// Bus must have left the word-swapped boot mode.
	if sim.wordSwap {
		t.Error("bus still in 16-bit word-swapped mode")
	}
	// Firmware image lands at the RAM base.
	if string(sim.ram[:len(fw)]) != fw {
		t.Error("firmware image in chip RAM does not match upload")
	}
	// NVRAM size magic in the last RAM word.
	nvramLen := alignup(uint32(len(nvram43439)), 4)
	words := nvramLen / 4
	wantMagic := (^words)<<16 | words
	gotMagic := binary.LittleEndian.Uint32(sim.ram[chipRAMSize-4:])
	if gotMagic != wantMagic {
		t.Errorf("nvram magic = %#x, want %#x", gotMagic, wantMagic)
	}
	nvramAddr := chipRAMSize - 4 - nvramLen
	if string(sim.ram[nvramAddr:nvramAddr+uint32(len(nvram43439))]) != nvram43439 {
		t.Error("nvram contents mismatch")
	}
	// F2 watermark lowered during bring-up.
	if got := sim.f1[whd.SDIO_FUNCTION2_WATERMARK]; got != whd.SPI_F2_WATERMARK {
		t.Errorf("watermark = %d, want %d", got, whd.SPI_F2_WATERMARK)
	}
	if !sim.wlanCoreUp() {
		t.Error("wlan core not running after boot")
	}
}

func TestInitHandshakeTimeout(t *testing.T) {
	sim := newSimChip()
	sim.failHandshake = true
	dev := NewDevice(sim.setPower, sim, nil)
	err := dev.Init(Config{Firmware: makeTestFirmware(4096)})
	if !errors.Is(err, ErrBusTimeout) {
		t.Fatalf("err = %v, want ErrBusTimeout", err)
	}
	if got := dev.State(); got != StateUninitialized {
		t.Errorf("state = %v, want %v", got, StateUninitialized)
	}
}

func TestInitFirmwareChecksumMismatch(t *testing.T) {
	sim := newSimChip()
	sim.corruptReads = true
	dev := NewDevice(sim.setPower, sim, nil)
	var transitions []DriverState
	dev.OnStateChange(func(s DriverState) { transitions = append(transitions, s) })

	err := dev.Init(Config{Firmware: makeTestFirmware(4096)})
	if !errors.Is(err, ErrFirmwareChecksum) {
		t.Fatalf("err = %v, want ErrFirmwareChecksum", err)
	}
	if got := dev.State(); got != StateUninitialized {
		t.Fatalf("state = %v, want %v", got, StateUninitialized)
	}
	// The driver must never have reached an operational state.
	if len(transitions) != 2 || transitions[0] != StateFirmwareLoading || transitions[1] != StateUninitialized {
		t.Fatalf("transitions = %v", transitions)
	}

	// A clean image on the next attempt boots without an intermediate
	// Reset.
	sim.corruptReads = false
	if err = dev.Init(Config{Firmware: makeTestFirmware(4096)}); err != nil {
		t.Fatal("Init retry:", err)
	}
	if got := dev.State(); got != StateBackplaneReady {
		t.Errorf("state = %v, want %v", got, StateBackplaneReady)
	}
}

func TestFaultedRefusesAllButReset(t *testing.T) {
	sim := newSimChip()
	dev := NewDevice(sim.setPower, sim, nil)
	dev.state = StateFaulted

	if err := dev.Init(Config{Firmware: makeTestFirmware(4096)}); !errors.Is(err, ErrFaulted) {
		t.Errorf("Init while faulted: err = %v, want ErrFaulted", err)
	}
	if err := dev.Join("net", JoinOptions{}); !errors.Is(err, ErrFaulted) {
		t.Errorf("Join while faulted: err = %v, want ErrFaulted", err)
	}
	if didWork, err := dev.Poll(); didWork || err != nil {
		t.Errorf("Poll while faulted = %v, %v", didWork, err)
	}

	dev.Reset()
	if got := dev.State(); got != StateUninitialized {
		t.Fatalf("state after Reset = %v, want %v", got, StateUninitialized)
	}
	if err := dev.Init(Config{Firmware: makeTestFirmware(4096)}); err != nil {
		t.Fatal("Init after Reset:", err)
	}
}

func TestInitRejectsBadFirmware(t *testing.T) {
	sim := newSimChip()
	dev := NewDevice(sim.setPower, sim, nil)
	err := dev.Init(Config{Firmware: "not a firmware image"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if errors.Is(err, ErrFirmwareChecksum) {
		t.Error("validation failure must not fault the driver")
	}
	if got := dev.State(); got != StateUninitialized {
		t.Errorf("state = %v, want %v", got, StateUninitialized)
	}
}

func TestInitPowerManagementFailure(t *testing.T) {
	sim := newSimChip()
	sim.failCmd = whd.WLC_SET_PM
	sim.failCmdStatus = 0xffffffe2
	dev := NewDevice(sim.setPower, sim, nil)
	cfg := Config{Firmware: makeTestFirmware(4096), CLM: strings.Repeat("c", 100)}
	err := dev.Init(cfg)
	if !errors.Is(err, ErrIoctlRejected) {
		t.Fatalf("err = %v, want ErrIoctlRejected", err)
	}
	// All bring-up failures land back in the same state.
	if got := dev.State(); got != StateUninitialized {
		t.Fatalf("state = %v, want %v", got, StateUninitialized)
	}
	sim.failCmd = 0
	if err = dev.Init(cfg); err != nil {
		t.Fatal("Init retry:", err)
	}
	if got := dev.State(); got != StateLinkDown {
		t.Errorf("state = %v, want %v", got, StateLinkDown)
	}
}

func TestInitKeepsConstructorLogger(t *testing.T) {
	sim := newSimChip()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	dev := NewDevice(sim.setPower, sim, logger)
	if err := dev.Init(Config{Firmware: makeTestFirmware(4096)}); err != nil {
		t.Fatal("Init:", err)
	}
	if !strings.Contains(out.String(), "Init:start") {
		t.Error("constructor logger discarded by Init")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.setDefaults(); err != nil {
		t.Fatal(err)
	}
	if cfg.IoctlTimeout != defaultIoctlTimeout || cfg.IoctlAttempts != defaultIoctlAttempts {
		t.Errorf("ioctl defaults = %v/%d", cfg.IoctlTimeout, cfg.IoctlAttempts)
	}
	if cfg.TxQueueDepth != defaultQueueDepth || cfg.EventQueueDepth != defaultEventDepth {
		t.Errorf("queue defaults = %d/%d", cfg.TxQueueDepth, cfg.EventQueueDepth)
	}
	if cfg.Country != "XX" {
		t.Errorf("country = %q, want XX", cfg.Country)
	}
	bad := Config{TxQueueDepth: 3}
	if err := bad.setDefaults(); err == nil {
		t.Error("expected error for non power-of-two queue depth")
	}
}

func TestPollBelowOperational(t *testing.T) {
	sim := newSimChip()
	dev := NewDevice(sim.setPower, sim, nil)
	didWork, err := dev.Poll()
	if didWork || err != nil {
		t.Errorf("Poll on uninitialized device = %v, %v", didWork, err)
	}
}

func TestPollServicesInterrupts(t *testing.T) {
	sim := newSimChip()
	d := newTestDevice(sim)

	// A latched data-unavailable interrupt is acknowledged with a
	// write-1-to-clear on the next poll.
	sim.mu.Lock()
	sim.irqLatched |= DATA_UNAVAILABLE
	sim.mu.Unlock()
	didWork, err := d.Poll()
	if didWork || err != nil {
		t.Fatalf("Poll = %v, %v", didWork, err)
	}
	sim.mu.Lock()
	latched := sim.irqLatched
	sim.mu.Unlock()
	if latched&DATA_UNAVAILABLE != 0 {
		t.Error("data-unavailable interrupt not cleared")
	}

	// Queued frames show up in the interrupt register and get drained.
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	sim.injectData(payload)
	didWork, err = d.Poll()
	if !didWork || err != nil {
		t.Fatalf("Poll with pending frame = %v, %v", didWork, err)
	}
	var got [32]byte
	n, err := d.RecvFrame(got[:])
	if err != nil || n != len(payload) {
		t.Fatalf("RecvFrame = %d, %v", n, err)
	}
}

func TestDriverStateString(t *testing.T) {
	for s := StateUninitialized; s <= StateFaulted; s++ {
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", s)
		}
	}
	if DriverState(200).String() != "unknown" {
		t.Error("out of range state must be unknown")
	}
}
