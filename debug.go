package cyw43

import (
	"context"
	"encoding/binary"
	"errors"

	"log/slog"
)

const (
	enableDeviceLog = false

	// levelTrace prints every bus transaction and protocol step.
	levelTrace slog.Level = slog.LevelDebug - 1
	// deviceLevel prints the chip's internal console when enabled.
	deviceLevel slog.Level = slog.LevelError - 1
)

func (d *Device) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Device) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	if d._traceenabled {
		d.logattrs(levelTrace, msg, attrs...)
	}
}

func (d *Device) isTraceEnabled() bool { return d._traceenabled }

func (d *Device) logenabled(level slog.Level) bool {
	return d.logger != nil && d.logger.Handler().Enabled(context.Background(), level)
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger != nil {
		d.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func errjoin(errs ...error) error {
	return errors.Join(errs...)
}

func hex32(u uint32) string {
	const hextable = "0123456789abcdef"
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = hextable[u>>(28-4*i)&0xf]
	}
	return string(buf[:])
}

// Layout of the shared memory block the firmware places near the top of
// RAM, pointing among other things at its console ring buffer.
type sharedMemData struct {
	flags          uint32
	trapAddr       uint32
	assertExpAddr  uint32
	assertFileAddr uint32
	assertLine     uint32
	consoleAddr    uint32
	msgtraceAddr   uint32
	fwID           uint32
}

func decodeSharedMem(order binary.ByteOrder, buf []byte) (s sharedMemData) {
	s.flags = order.Uint32(buf)
	s.trapAddr = order.Uint32(buf[4:])
	s.assertExpAddr = order.Uint32(buf[8:])
	s.assertFileAddr = order.Uint32(buf[12:])
	s.assertLine = order.Uint32(buf[16:])
	s.consoleAddr = order.Uint32(buf[20:])
	s.msgtraceAddr = order.Uint32(buf[24:])
	s.fwID = order.Uint32(buf[28:])
	return s
}

type sharedMemLog struct {
	buf     uint32
	bufSize uint32
	idx     uint32
	outIdx  uint32
}

func decodeSharedMemLog(order binary.ByteOrder, buf []byte) (s sharedMemLog) {
	s.buf = order.Uint32(buf)
	s.bufSize = order.Uint32(buf[4:])
	s.idx = order.Uint32(buf[8:])
	s.outIdx = order.Uint32(buf[12:])
	return s
}

type logstate struct {
	addr     uint32
	lastIdx  uint32
	buf      [256]byte
	bufcount uint32
}

// log_init locates the firmware's console ring buffer on the backplane so
// log_read can tail it.
func (d *Device) log_init() error {
	if !enableDeviceLog && !d.isTraceEnabled() {
		return nil
	}
	d.trace("log_init")
	const (
		ramBase         = 0
		ramSize         = chipRAMSize
		socramSrmemSize = 64 * 1024
	)
	const addr = ramBase + ramSize - 4 - socramSrmemSize
	sharedAddr, err := d.bp_read32(addr)
	if err != nil {
		return err
	}
	var shared [32]byte
	err = d.bp_read(sharedAddr, shared[:])
	if err != nil {
		return err
	}
	smem := decodeSharedMem(_busOrder, shared[:])
	d.log.addr = smem.consoleAddr + 8
	d.trace("log_init:done", slog.Uint64("consoleAddr", uint64(d.log.addr)))
	return nil
}

// log_read tails the chip's internal console and forwards complete lines
// to the structured logger at the device level.
func (d *Device) log_read() error {
	if !enableDeviceLog && !d.isTraceEnabled() {
		return nil
	}
	buf8 := u32AsU8(d._rxBuf[:])
	err := d.bp_read(d.log.addr, buf8[:16])
	if err != nil {
		return err
	}
	smem := decodeSharedMemLog(_busOrder, buf8[:16])
	idx := smem.idx
	if idx == d.log.lastIdx {
		return nil // Console pointer not moved, nothing new.
	}

	err = d.bp_read(smem.buf, buf8[:1024])
	if err != nil {
		return err
	}

	for d.log.lastIdx != idx {
		b := buf8[d.log.lastIdx]
		if b == '\r' || b == '\n' {
			if d.log.bufcount != 0 {
				d.logattrs(deviceLevel, string(d.log.buf[:d.log.bufcount]))
				d.log.bufcount = 0
			}
		} else if d.log.bufcount < uint32(len(d.log.buf)) {
			d.log.buf[d.log.bufcount] = b
			d.log.bufcount++
		}
		d.log.lastIdx++
		if d.log.lastIdx == 0x400 {
			d.log.lastIdx = 0
		}
	}
	return nil
}
