package cyw43

// gSPI bus function selected by bits 28..30 of a command word.
type Function uint32

const (
	// All SPI-specific registers.
	FuncBus Function = 0b00
	// Registers and memories belonging to other blocks in the chip (64 bytes max).
	FuncBackplane Function = 0b01
	// DMA channel 1. WLAN packets up to 2048 bytes.
	FuncDMA1 Function = 0b10
	FuncWLAN          = FuncDMA1
	// DMA channel 2 (optional). Packets up to 2048 bytes.
	FuncDMA2 Function = 0b11
)

func (f Function) String() (s string) {
	switch f {
	case FuncBus:
		s = "bus"
	case FuncBackplane:
		s = "backplane"
	case FuncWLAN: // same as FuncDMA1
		s = "wlan"
	case FuncDMA2:
		s = "dma2"
	default:
		s = "unknown"
	}
	return s
}

// 32 bit gSPI bus registers.
const (
	AddrBusControl = 0x0000
	AddrStatus     = 0x0008
	// Read-only register holding TestPattern, used for the boot handshake.
	AddrTest = 0x0014
	// Value read at AddrTest once the gSPI interface is alive.
	TestPattern uint32 = 0xFEEDBEAD
)

// 16 bit gSPI bus registers.
const (
	AddrInterrupt       = 0x0004
	AddrInterruptEnable = 0x0006
	AddrFunc1Info       = 0x000c
	AddrFunc2Info       = 0x000e
	AddrFunc3Info       = 0x0010
)

// 8 bit gSPI bus registers.
const (
	AddrResponseDelay = 0x0001
	AddrStatusEnable  = 0x0002
	AddrResetBP       = 0x0003 // corerev >= 1
	AddrRespDelayF0   = 0x001c // corerev >= 1
	AddrRespDelayF1   = 0x001d // corerev >= 1
	AddrRespDelayF2   = 0x001e // corerev >= 1
	AddrRespDelayF3   = 0x001f // corerev >= 1
)

// Bit positions in the 32-bit bus control register at AddrBusControl.
const (
	WordLengthPos          = 0 // 0=16bit word length, 1=32bit.
	EndianessBigPos        = 1 // 0=little, 1=big. Keep little.
	HiSpeedModePos         = 4
	InterruptPolPos        = 5
	WakeUpPos              = 7
	ResponseDelayPos       = 0x1*8 + 0
	StatusEnablePos        = 0x2*8 + 0
	InterruptWithStatusPos = 0x2*8 + 1
)

// Status is the status word the chip piggybacks on every gSPI transfer.
// It reports packet errors, protocol errors and pending packets in the
// RX queue, reducing the need for interrupt round trips.
type Status uint32

func (s Status) String() (str string) {
	if s == 0 {
		return "no status"
	}
	if s.HostCommandDataError() {
		str += "hostcmderr "
	}
	if s.DataUnavailable() {
		str += "dataunavailable "
	}
	if s.IsOverflow() {
		str += "overflow "
	}
	if s.IsUnderflow() {
		str += "underflow "
	}
	if s.F2PacketAvailable() || s.F3PacketAvailable() {
		str += "packetavail "
	}
	if s.F2RxReady() || s.F3RxReady() {
		str += "rxready "
	}
	return str
}

// DataUnavailable returns true if requested read data is unavailable.
func (s Status) DataUnavailable() bool { return s&1 != 0 }

// IsUnderflow returns true if FIFO underflow occurred due to current (F2, F3) read command.
func (s Status) IsUnderflow() bool { return s&(1<<1) != 0 }

// IsOverflow returns true if FIFO overflow occurred due to current (F1, F2, F3) write command.
func (s Status) IsOverflow() bool { return s&(1<<2) != 0 }

// F2Interrupt returns true if F2 channel interrupt set.
func (s Status) F2Interrupt() bool { return s&(1<<3) != 0 }

// F2RxReady returns true if F2 FIFO is ready to receive data (FIFO empty).
func (s Status) F2RxReady() bool { return s&(1<<5) != 0 }

// F3RxReady returns true if F3 FIFO is ready to receive data (FIFO empty).
func (s Status) F3RxReady() bool { return s&0x40 != 0 }

func (s Status) HostCommandDataError() bool { return s&0x80 != 0 }

// F2PacketAvailable returns true if a packet is ready in the F2 TX FIFO.
func (s Status) F2PacketAvailable() bool { return s&(1<<8) != 0 }

// F3PacketAvailable returns true if a packet is ready in the F3 TX FIFO.
func (s Status) F3PacketAvailable() bool { return s&0x00100000 != 0 }

// F2PacketLength returns the F2 packet length.
func (s Status) F2PacketLength() uint16 {
	const mask = 1<<11 - 1
	return uint16(s>>9) & mask
}

// F3PacketLength returns the F3 packet length.
func (s Status) F3PacketLength() uint16 {
	const mask = 1<<11 - 1
	return uint16(s>>21) & mask
}

// Interrupts is the 16-bit interrupt register at AddrInterrupt.
type Interrupts uint16

// Interrupt register bits.
const (
	DATA_UNAVAILABLE        = 0x0001 // Requested data not available; clear by writing 1.
	F2_F3_FIFO_RD_UNDERFLOW = 0x0002
	F2_F3_FIFO_WR_OVERFLOW  = 0x0004
	COMMAND_ERROR           = 0x0008 // Cleared by writing 1.
	DATA_ERROR              = 0x0010 // Cleared by writing 1.
	F2_PACKET_AVAILABLE     = 0x0020
	F3_PACKET_AVAILABLE     = 0x0040
	F1_OVERFLOW             = 0x0080 // Due to last write. Backplane has pending write requests.
	GSPI_PACKET_AVAILABLE   = 0x0100
	MISC_INTR1              = 0x0200
	MISC_INTR2              = 0x0400
	MISC_INTR3              = 0x0800
	MISC_INTR4              = 0x1000
	F1_INTR                 = 0x2000
	F2_INTR                 = 0x4000
	F3_INTR                 = 0x8000
)

func (i Interrupts) IsBusOverflowedOrUnderflowed() bool {
	return i&(F2_F3_FIFO_RD_UNDERFLOW|F2_F3_FIFO_WR_OVERFLOW|F1_OVERFLOW) != 0
}

func (i Interrupts) IsF2Available() bool {
	return i&(F2_PACKET_AVAILABLE) != 0
}

func (i Interrupts) IsDataUnavailable() bool {
	return i&DATA_UNAVAILABLE != 0
}

func (i Interrupts) String() (s string) {
	if i == 0 {
		return "no interrupts"
	}
	for _, v := range []struct {
		flag Interrupts
		s    string
	}{
		{DATA_UNAVAILABLE, "DATA_UNAVAILABLE"},
		{F2_F3_FIFO_RD_UNDERFLOW, "F2_F3_FIFO_RD_UNDERFLOW"},
		{F2_F3_FIFO_WR_OVERFLOW, "F2_F3_FIFO_WR_OVERFLOW"},
		{COMMAND_ERROR, "COMMAND_ERROR"},
		{DATA_ERROR, "DATA_ERROR"},
		{F2_PACKET_AVAILABLE, "F2_PACKET_AVAILABLE"},
		{F3_PACKET_AVAILABLE, "F3_PACKET_AVAILABLE"},
		{F1_OVERFLOW, "F1_OVERFLOW"},
		{GSPI_PACKET_AVAILABLE, "GSPI_PACKET_AVAILABLE"},
		{F1_INTR, "F1_INTR"},
		{F2_INTR, "F2_INTR"},
		{F3_INTR, "F3_INTR"},
	} {
		if i&v.flag != 0 {
			s += v.s + " "
		}
	}
	return s
}
