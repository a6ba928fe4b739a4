//go:build !pico

package cyw43

import (
	"encoding/binary"
	"errors"

	"log/slog"
)

var _busOrder = binary.LittleEndian

// Transport is the gSPI command transport the driver runs on when not
// targeting the Pico's PIO backend: a host-side SPI adapter or a
// simulated chip in tests. Implementations exchange whole gSPI
// transactions: one 32-bit command word followed by data words, and
// return the chip status word piggybacked on the transfer.
type Transport interface {
	// CmdRead issues a read command and fills buf with response words.
	CmdRead(cmd uint32, buf []uint32) (status uint32, err error)
	// CmdWrite issues a write command followed by the data words in buf.
	CmdWrite(cmd uint32, buf []uint32) (status uint32, err error)
}

type spibus struct {
	tr         Transport
	lastStatus uint32
}

// NewDevice assembles a Device from a power control function and a gSPI
// transport. Pass a nil transport to get a device that errors on first
// use, handy for wiring tests.
func NewDevice(pwr func(bool), tr Transport, logger *slog.Logger) *Device {
	return New(pwr, spibus{tr: tr}, logger)
}

var errNoTransport = errors.New("cyw43: nil transport")

func (b *spibus) cmd_read(cmd uint32, buf []uint32) (status uint32, err error) {
	if b.tr == nil {
		return 0, errNoTransport
	}
	status, err = b.tr.CmdRead(cmd, buf)
	b.lastStatus = status
	return status, err
}

func (b *spibus) cmd_write(cmd uint32, buf []uint32) (status uint32, err error) {
	if b.tr == nil {
		return 0, errNoTransport
	}
	status, err = b.tr.CmdWrite(cmd, buf)
	b.lastStatus = status
	return status, err
}

func (b *spibus) Status() Status {
	return Status(b.lastStatus)
}
