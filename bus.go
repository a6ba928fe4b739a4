package cyw43

// gSPI bus transport: 32-bit command words, word-swapped boot mode and
// the low level register read/write primitives shared by the backplane
// and control layers.

import (
	"errors"
	"time"
	"unsafe"

	"log/slog"

	"golang.org/x/exp/constraints"
)

// Bus error sentinels. All transport failures resolve to one of these so
// callers can distinguish a dead bus from a chip that rejected a command.
var (
	// ErrBusTimeout means the chip did not respond within the bounded
	// retry budget of a bus operation.
	ErrBusTimeout = errors.New("cyw43: bus timeout")
	// ErrBusNak means the chip answered but refused or corrupted the
	// transaction (bad test pattern, failed readback).
	ErrBusNak = errors.New("cyw43: bus nak")
)

// Number of test-pattern polls before the boot handshake gives up.
const busHandshakeRetries = 128

// Max bytes per backplane burst. One window transfer cannot exceed this.
const maxBackplaneTxSize = 64

// initBus power-cycles the chip and brings the gSPI interface out of its
// word-swapped boot mode into 32-bit little-endian mode with status
// words enabled.
func (d *Device) initBus() error {
	d.reset()
	retries := busHandshakeRetries
	for {
		got := d.read32_swapped(AddrTest)
		if got == TestPattern {
			break
		} else if retries <= 0 {
			return errjoin(ErrBusTimeout, errors.New("spi test pattern:"+hex32(got)))
		}
		retries--
	}

	const RWTestPattern = 0x12345678
	const spiRegTestRW = 0x18
	d.write32_swapped(spiRegTestRW, RWTestPattern)
	got := d.read32_swapped(spiRegTestRW)
	if got != RWTestPattern {
		return errjoin(ErrBusNak, errors.New("spi RW test:"+hex32(got)))
	}

	// 32-bit words, little endian, high speed, interrupt on high,
	// status word on every transfer.
	const setupValue = (1 << WordLengthPos) | (0 << EndianessBigPos) |
		(1 << HiSpeedModePos) | (1 << InterruptPolPos) | (1 << WakeUpPos) |
		(1 << InterruptWithStatusPos) | (1 << StatusEnablePos)
	d.write32_swapped(AddrBusControl, setupValue)

	// From here on the bus speaks 32-bit words. Verify both directions.
	got, err := d.read32(FuncBus, AddrTest)
	if err != nil || got != TestPattern {
		return errjoin(ErrBusNak, errors.New("spi RO test:"+hex32(got)), err)
	}
	got, err = d.read32(FuncBus, spiRegTestRW)
	if err != nil || got != RWTestPattern {
		return errjoin(ErrBusNak, errors.New("spi RW readback:"+hex32(got)), err)
	}
	d.debug("initBus:done", slog.String("status", d.status().String()))
	return nil
}

// wlan_read reads an F2 frame into buf. lenInBytes is taken from the
// chip's status word.
func (d *Device) wlan_read(buf []uint32, lenInBytes int) (err error) {
	cmd := cmd_word(false, true, FuncWLAN, 0, uint32(lenInBytes))
	lenU32 := (lenInBytes + 3) / 4
	_, err = d.spi.cmd_read(cmd, buf[:lenU32])
	d.lastStatusGet = time.Now()
	return err
}

func (d *Device) wlan_write(data []uint32, plen uint32) (err error) {
	cmd := cmd_word(true, true, FuncWLAN, 0, plen)
	_, err = d.spi.cmd_write(cmd, data)
	d.lastStatusGet = time.Now()
	return err
}

func (d *Device) write32(fn Function, addr, val uint32) error {
	return d.writen(fn, addr, val, 4)
}
func (d *Device) read32(fn Function, addr uint32) (uint32, error) {
	return d.readn(fn, addr, 4)
}
func (d *Device) read16(fn Function, addr uint32) (uint16, error) {
	v, err := d.readn(fn, addr, 2)
	return uint16(v), err
}
func (d *Device) read8(fn Function, addr uint32) (uint8, error) {
	v, err := d.readn(fn, addr, 1)
	return uint8(v), err
}
func (d *Device) write16(fn Function, addr uint32, val uint16) error {
	return d.writen(fn, addr, uint32(val), 2)
}
func (d *Device) write8(fn Function, addr uint32, val uint8) error {
	return d.writen(fn, addr, uint32(val), 1)
}

// writen is the primitive bus write for <= 4 byte writes.
func (d *Device) writen(fn Function, addr, val, size uint32) (err error) {
	cmd := cmd_word(true, true, fn, addr, size)
	d.rwBuf = [2]uint32{val, 0}
	_, err = d.spi.cmd_write(cmd, d.rwBuf[:1])
	d.lastStatusGet = time.Now()
	return err
}

// readn is the primitive bus read for <= 4 byte reads. Backplane reads
// are preceded by a response-delay word which is discarded.
func (d *Device) readn(fn Function, addr, size uint32) (result uint32, err error) {
	cmd := cmd_word(false, true, fn, addr, size)
	buf := d.rwBuf[:]
	var padding uint32
	if fn == FuncBackplane {
		padding = 1
	}
	_, err = d.spi.cmd_read(cmd, buf[:1+padding])
	d.lastStatusGet = time.Now()
	return buf[padding], err
}

// read32_swapped reads a bus register while the chip is still in its
// 16-bit word-swapped power-on mode.
func (d *Device) read32_swapped(addr uint32) uint32 {
	cmd := cmd_word(false, true, FuncBus, addr, 4)
	cmd = swap16(cmd)
	buf := d.rwBuf[:1]
	d.spi.cmd_read(cmd, buf)
	return swap16(buf[0])
}

func (d *Device) write32_swapped(addr uint32, value uint32) {
	cmd := cmd_word(true, true, FuncBus, addr, 4)
	d.rwBuf = [2]uint32{swap16(value), 0}
	d.spi.cmd_write(swap16(cmd), d.rwBuf[:1])
}

// getInterrupts reads and returns the bus interrupt register.
func (d *Device) getInterrupts() Interrupts {
	irq, err := d.read16(FuncBus, AddrInterrupt)
	if err != nil {
		return 0
	}
	return Interrupts(irq)
}

// status returns the last piggybacked gSPI status, re-reading it from
// the chip when the cached copy is stale.
func (d *Device) status() Status {
	sinceStat := time.Since(d.lastStatusGet)
	if sinceStat > 10*time.Microsecond {
		d.lastStatusGet = time.Now()
		got, _ := d.read32(FuncBus, AddrStatus)
		return Status(got)
	}
	return d.spi.Status()
}

//go:inline
func cmd_word(write, autoInc bool, fn Function, addr uint32, sz uint32) uint32 {
	return b2u32(write)<<31 | b2u32(autoInc)<<30 | uint32(fn)<<28 | (addr&0x1ffff)<<11 | sz
}

//go:inline
func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// swap16 swaps the 16-bit half-words of a 32-bit word, needed while the
// chip boots in 16-bit word mode.
//
//go:inline
func swap16(b uint32) uint32 {
	return b>>16 | b<<16
}

func u32AsU8(buf []uint32) []byte {
	return unsafeAsSlice[uint32, byte](buf)
}

func u32PtrTo4U8(buf *uint32) *[4]byte {
	return (*[4]byte)(unsafe.Pointer(buf))
}

// unsafeAsSlice converts a slice of F to a slice of T.
func unsafeAsSlice[F, T constraints.Unsigned](buf []F) []T {
	fSize := unsafe.Sizeof(F(0))
	tSize := unsafe.Sizeof(T(0))
	ptr := unsafe.Pointer(&buf[0])
	if fSize > tSize {
		// Common case, i.e: uint32->byte.
		return unsafe.Slice((*T)(ptr), len(buf)*int(fSize/tSize))
	}
	div := int(tSize / fSize)
	if uintptr(ptr)%tSize != 0 {
		panic("unaligned pointer")
	}
	// i.e: byte->uint32, expands slice.
	return unsafe.Slice((*T)(ptr), alignup(uint32(len(buf)/div), uint32(div)))
}
