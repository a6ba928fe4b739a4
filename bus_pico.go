//go:build pico && !cy43nopio

package cyw43

import (
	"encoding/binary"
	"machine"

	"log/slog"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

var _busOrder = binary.LittleEndian

// spibus drives the chip over a PIO-backed 3-wire SPI with DMA and the
// gSPI status word enabled, so every transfer returns fresh chip status
// for free.
type spibus struct {
	cs  outputPin
	spi piolib.SPI3w
}

// NewPicoWDevice assembles a Device wired to the Raspberry Pi Pico W's
// onboard CYW43439.
func NewPicoWDevice(logger *slog.Logger) *Device {
	// Raspberry Pi Pico W pin definitions for the CYW43439.
	const (
		// IRQ       = machine.GPIO24 // AKA WL_HOST_WAKE
		WL_REG_ON = machine.GPIO23
		DATA_OUT  = machine.GPIO24
		DATA_IN   = DATA_OUT
		CLK       = machine.GPIO29
		CS        = machine.GPIO25
	)
	WL_REG_ON.Configure(machine.PinConfig{Mode: machine.PinOutput})
	CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	CS.High()
	sm, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		panic(err.Error())
	}
	spi, err := piolib.NewSPI3w(sm, DATA_IN, CLK, 25000_000-1)
	if err != nil {
		panic(err.Error())
	}
	spi.EnableStatus(true)
	err = spi.EnableDMA(true)
	if err != nil {
		panic(err.Error())
	}
	return New(WL_REG_ON.Set, spibus{
		cs:  CS.Set,
		spi: *spi,
	}, logger)
}

func (b *spibus) cmd_read(cmd uint32, buf []uint32) (status uint32, err error) {
	b.csEnable(true)
	err = b.spi.CmdRead(cmd, buf)
	b.csEnable(false)
	return b.spi.LastStatus(), err
}

func (b *spibus) cmd_write(cmd uint32, buf []uint32) (status uint32, err error) {
	b.csEnable(true)
	err = b.spi.CmdWrite(cmd, buf)
	b.csEnable(false)
	return b.spi.LastStatus(), err
}

func (b *spibus) csEnable(enable bool) {
	b.cs(!enable)
}

func (b *spibus) Status() Status {
	return Status(b.spi.LastStatus())
}
