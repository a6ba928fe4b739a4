// Package cyw43 is a control-plane driver for the CYW43439 WiFi/Bluetooth
// combo chip found on the Raspberry Pi Pico W, spoken to over the gSPI
// half-duplex serial bus. It boots the chip (firmware+NVRAM+CLM upload),
// exposes the WLC ioctl/iovar control protocol and bridges ethernet
// frames between the chip and a host network stack.
package cyw43

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/pico-go/cyw43/whd"
	"golang.org/x/exp/constraints"
)

// DriverState is the lifecycle state of the driver.
type DriverState uint8

const (
	// StateUninitialized is the power-on state, before or after a failed Init.
	StateUninitialized DriverState = iota
	// StateFirmwareLoading covers the bus handshake and firmware upload.
	StateFirmwareLoading
	// StateBackplaneReady means the WLAN core is running and the control
	// protocol is available, but no association has been attempted.
	StateBackplaneReady
	// StateLinkDown means the driver is operational with no association.
	StateLinkDown
	// StateLinkUp means the driver is associated and passing traffic.
	StateLinkUp
	// StateFaulted means an unrecoverable error occurred. Only Reset
	// followed by Init leaves this state.
	StateFaulted
)

func (s DriverState) String() (str string) {
	switch s {
	case StateUninitialized:
		str = "uninitialized"
	case StateFirmwareLoading:
		str = "firmware-loading"
	case StateBackplaneReady:
		str = "backplane-ready"
	case StateLinkDown:
		str = "link-down"
	case StateLinkUp:
		str = "link-up"
	case StateFaulted:
		str = "faulted"
	default:
		str = "unknown"
	}
	return str
}

// joinState tracks association progress between chip events.
type joinState uint8

const (
	joinStateDown joinState = iota
	joinStateUpWaitForSSID
	joinStateUp
	joinStateFailed
	joinStateAuthFailed
	joinStateWaitForReconnect
)

// ErrFaulted is returned by operations attempted after the driver
// entered StateFaulted.
var ErrFaulted = errors.New("cyw43: driver faulted, reset required")

type outputPin func(bool)

// Device is the driver instance for one CYW43439. Create it with
// NewPicoWDevice on RP2040/RP2350 targets or NewDevice with a custom
// Transport elsewhere, then call Init.
type Device struct {
	mu            sync.Mutex
	pwr           outputPin
	spi           spibus
	lastStatusGet time.Time
	log           logstate

	state DriverState
	join  joinState

	backplaneWindow uint32
	ioctlID         uint16
	sdpcmSeq        uint8
	sdpcmSeqMax     uint8
	mac             [6]byte
	eventmask       eventMask

	// Control exchange bookkeeping.
	gate          ioctlGate
	ioctlTimeout  time.Duration
	ioctlAttempts int
	staleResps    uint32 // ioctl responses dropped due to tag mismatch.

	// Event queue and frame bridge.
	events  eventQueue
	pool    framePool
	txq     frameRing
	rxq     frameRing
	rxDrops uint32
	rcvEth  func([]byte) error

	onStateChange func(DriverState)

	// uint32 buffers to guarantee 4-byte alignment.
	rwBuf         [2]uint32        // rwBuf used by the readn/writen primitives.
	_sendIoctlBuf [2048 / 4]uint32 // used only in sendIoctl and tx.
	_iovarBuf     [2048 / 4]uint32 // used in get_iovar*, set_iovar* and clm load.
	_rxBuf        [2048 / 4]uint32 // used in rx polling and log_read.

	// Headers kept on the Device to alleviate stack growth.
	lastSDPCMHeader whd.SDPCMHeader
	auxCDCHeader    whd.CDCHeader
	auxBDCHeader    whd.BDCHeader

	logger        *slog.Logger
	_traceenabled bool
}

// Config parametrizes Init.
type Config struct {
	// Firmware is the WLAN firmware blob uploaded to chip RAM.
	Firmware string
	// CLM is the country locale matrix blob. Leaving it empty skips the
	// control protocol bring-up, useful for bus-level testing.
	CLM string
	// Country is the ISO-3166 alpha-2 country abbreviation used to
	// configure the regulatory domain. Empty means worldwide ("XX").
	Country string
	Logger  *slog.Logger
	// IoctlTimeout bounds one control exchange attempt. Zero means 50ms.
	IoctlTimeout time.Duration
	// IoctlAttempts is the retransmit budget per exchange. Zero means 3.
	IoctlAttempts int
	// TxQueueDepth and RxQueueDepth size the frame rings. Must be powers
	// of two. Zero means 4.
	TxQueueDepth int
	RxQueueDepth int
	// EventQueueDepth sizes the async event queue. Zero means 16.
	EventQueueDepth int
}

// DefaultWifiConfig returns a Config with the embedded WiFi firmware
// (build with the cy43firmware tag) and defaults suited to the Pico W.
func DefaultWifiConfig() Config {
	return Config{
		Firmware: wifiFW,
		CLM:      clmFW,
	}
}

const (
	defaultIoctlTimeout  = 50 * time.Millisecond
	defaultIoctlAttempts = 3
	defaultQueueDepth    = 4
	defaultEventDepth    = 16
)

func (cfg *Config) setDefaults() error {
	if cfg.IoctlTimeout == 0 {
		cfg.IoctlTimeout = defaultIoctlTimeout
	}
	if cfg.IoctlAttempts == 0 {
		cfg.IoctlAttempts = defaultIoctlAttempts
	}
	if cfg.TxQueueDepth == 0 {
		cfg.TxQueueDepth = defaultQueueDepth
	}
	if cfg.RxQueueDepth == 0 {
		cfg.RxQueueDepth = defaultQueueDepth
	}
	if cfg.EventQueueDepth == 0 {
		cfg.EventQueueDepth = defaultEventDepth
	}
	if !ispow2(cfg.TxQueueDepth) || !ispow2(cfg.RxQueueDepth) || !ispow2(cfg.EventQueueDepth) {
		return errors.New("queue depths must be powers of two")
	}
	if cfg.Country == "" {
		cfg.Country = "XX"
	}
	return nil
}

// New assembles a Device from a power pin and a bus. Most users want
// NewPicoWDevice or NewDevice instead.
func New(pwr outputPin, spi spibus, logger *slog.Logger) *Device {
	d := &Device{
		pwr:    pwr,
		spi:    spi,
		logger: logger,
	}
	d.backplaneWindow = windowInvalid
	d.sdpcmSeqMax = 1
	return d
}

// Init boots the chip: gSPI handshake, firmware+NVRAM upload with
// readback verification, WLAN core start and control protocol bring-up.
// On success the driver is in StateLinkDown (or StateBackplaneReady when
// cfg.CLM is empty). Boot errors leave the driver in StateUninitialized
// so Init may simply be called again.
func (d *Device) Init(cfg Config) (err error) {
	err = cfg.setDefaults()
	if err != nil {
		return err
	}
	d.acquire()
	defer d.release()
	if d.state == StateFaulted {
		return ErrFaulted
	}
	if cfg.Logger != nil {
		d.logger = cfg.Logger
	}
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	d.info("Init:start")
	start := time.Now()

	d.events.init(cfg.EventQueueDepth)
	d.pool.init(cfg.TxQueueDepth + cfg.RxQueueDepth)
	d.txq.init(cfg.TxQueueDepth)
	d.rxq.init(cfg.RxQueueDepth)
	d.ioctlTimeout = cfg.IoctlTimeout
	d.ioctlAttempts = cfg.IoctlAttempts

	d.setState(StateFirmwareLoading)
	err = d.initHW(cfg)
	if err != nil {
		d.setState(StateUninitialized)
		return err
	}
	if cfg.CLM == "" {
		d.setState(StateBackplaneReady)
		return nil
	}

	d.setState(StateBackplaneReady)
	err = d.initControl(cfg.CLM, cfg.Country)
	if err != nil {
		d.setState(StateUninitialized)
		return err
	}
	err = d.set_power_management(PowerSave)
	if err != nil {
		d.setState(StateUninitialized)
		return err
	}
	d.setState(StateLinkDown)
	d.info("Init:done", slog.Duration("took", time.Since(start)))
	return nil
}

// initHW performs the bus and backplane part of Init, up to a running
// WLAN core with F2 ready.
func (d *Device) initHW(cfg Config) (err error) {
	err = validateFirmware(cfg.Firmware)
	if err != nil {
		return err
	}

	err = d.initBus()
	if err != nil {
		return errjoin(errors.New("failed to init bus"), err)
	}

	d.debug("Init:alp")
	d.write8(FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, whd.SBSDIO_ALP_AVAIL_REQ)
	err = d.waitClock(whd.SBSDIO_ALP_AVAIL, 100*time.Millisecond)
	if err != nil {
		return err
	}
	// Clear request for ALP.
	d.write8(FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, 0)

	chipID, _ := d.bp_read16(whd.CHIPCOMMON_BASE_ADDRESS)

	err = d.core_disable(coreWLAN)
	if err != nil {
		return err
	}
	err = d.core_reset(coreSOCRAM, false)
	if err != nil {
		return err
	}

	// 4343x specific: disable remap for SRAM_3.
	d.bp_write32(whd.SOCSRAM_BANKX_INDEX, 3)
	d.bp_write32(whd.SOCSRAM_BANKX_PDA, 0)

	d.debug("Init:firmware", slog.Uint64("chipID", uint64(chipID)), slog.Int("fwlen", len(cfg.Firmware)))
	const ramAddr = 0 // ATCM RAM base.
	err = d.uploadFirmware(ramAddr, cfg.Firmware)
	if err != nil {
		return err
	}

	// NVRAM goes at the top of RAM with its size magic in the last word.
	nvramLen := alignup(uint32(len(nvram43439)), 4)
	d.debug("Init:nvram")
	err = d.bp_writestring(ramAddr+chipRAMSize-4-nvramLen, nvram43439)
	if err != nil {
		return err
	}
	nvramLenWords := nvramLen / 4
	nvramLenMagic := ((^nvramLenWords) << 16) | nvramLenWords
	d.bp_write32(ramAddr+chipRAMSize-4, nvramLenMagic)

	// Start the WLAN core.
	d.debug("Init:start-core")
	err = d.core_reset(coreWLAN, false)
	if err != nil {
		return err
	}
	if !d.core_is_up(coreWLAN) {
		return errors.New("core not up after reset")
	}

	// HT clock becomes available once the firmware boots, takes ~29ms.
	err = d.waitClock(whd.SBSDIO_HT_AVAIL, time.Second)
	if err != nil {
		return err
	}

	// Set up the interrupt masks.
	d.debug("Init:intr-mask")
	d.bp_write32(whd.SDIO_INT_HOST_MASK, whd.I_HMB_SW_MASK)
	d.write16(FuncBus, AddrInterruptEnable, F2_PACKET_AVAILABLE)

	// Lower F2 watermark to avoid DMA hang in F2 when SD clock stops.
	d.write8(FuncBackplane, whd.SDIO_FUNCTION2_WATERMARK, whd.SPI_F2_WATERMARK)

	// Wait for F2 to be ready.
	deadline := time.Now().Add(100 * time.Millisecond)
	for !d.status().F2RxReady() {
		if time.Now().After(deadline) {
			return errjoin(ErrBootTimeout, errors.New("F2 not ready"))
		}
		time.Sleep(time.Millisecond)
	}

	// Clear pulls.
	d.write8(FuncBackplane, whd.SDIO_PULL_UP, 0)
	d.read8(FuncBackplane, whd.SDIO_PULL_UP)

	// Start HT clock.
	d.write8(FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, whd.SBSDIO_HT_AVAIL_REQ)
	err = d.waitClock(whd.SBSDIO_HT_AVAIL, 64*time.Millisecond)
	if err != nil {
		return err
	}

	err = d.log_init()
	if err != nil {
		return err
	}
	d.log_read()
	d.debug("Init:hw-done")
	return nil
}

// Reset power-cycles the chip. The driver returns to StateUninitialized
// and must be Init'ed again before use. This is the only way out of
// StateFaulted.
func (d *Device) Reset() {
	d.acquire()
	defer d.release()
	d.reset()
	d.setState(StateUninitialized)
}

func (d *Device) reset() {
	d.pwr(false)
	time.Sleep(20 * time.Millisecond)
	d.pwr(true)
	time.Sleep(250 * time.Millisecond) // Wait for the bus to come up.
	d.backplaneWindow = windowInvalid
	d.join = joinStateDown
	d.ioctlID = 0
	d.sdpcmSeq = 0
	d.sdpcmSeqMax = 1
}

// State returns the current driver state.
func (d *Device) State() DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnStateChange registers a callback invoked on every driver state
// transition, including link up/down driven by chip events. The callback
// runs with the device locked: it must not call back into the driver.
func (d *Device) OnStateChange(fn func(DriverState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = fn
}

func (d *Device) setState(s DriverState) {
	if d.state == s {
		return
	}
	d.debug("state", slog.String("from", d.state.String()), slog.String("to", s.String()))
	d.state = s
	if d.onStateChange != nil {
		d.onStateChange(s)
	}
}

// setJoin updates the association sub-state and derives the driver state
// from it when operational.
func (d *Device) setJoin(j joinState) {
	d.join = j
	switch d.state {
	case StateLinkDown, StateLinkUp:
		if j == joinStateUp {
			d.setState(StateLinkUp)
		} else {
			d.setState(StateLinkDown)
		}
	}
}

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }

// acquire serializes a control-plane operation: callers pass through the
// FIFO admission gate before taking the device lock, so concurrent
// control operations are served in arrival order even under contention.
func (d *Device) acquire() {
	d.gate.acquire()
	d.mu.Lock()
}

func (d *Device) release() {
	d.mu.Unlock()
	d.gate.release()
}

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// aligndown rounds `val` down to nearest multiple of `align`. `align` must be a power of 2.
func aligndown[T constraints.Unsigned](val, align T) T {
	return val &^ (align - 1)
}

// isaligned checks if `val` is wholly divisible by `align`. `align` must be a power of 2.
func isaligned[T constraints.Unsigned](val, align T) bool {
	return val&(align-1) == 0
}

func ispow2(v int) bool { return v > 0 && v&(v-1) == 0 }
