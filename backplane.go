package cyw43

// Backplane register access: the 32 KiB window into the Sonics
// interconnect, AI core control and the firmware/NVRAM upload.

import (
	"errors"
	"hash/crc32"
	"reflect"
	"time"
	"unsafe"

	"log/slog"

	"github.com/pico-go/cyw43/whd"
)

// Boot error sentinels. Both are fatal: the driver stays out of
// operation and requires Reset+Init to recover.
var (
	// ErrFirmwareChecksum means the firmware image read back from chip
	// RAM does not match what was written.
	ErrFirmwareChecksum = errors.New("cyw43: firmware checksum mismatch")
	// ErrBootTimeout means a chip readiness poll (ALP/HT clock, F2
	// ready) exhausted its retry budget.
	ErrBootTimeout = errors.New("cyw43: boot timeout")
)

// Backplane cores manipulated during boot.
const (
	coreWLAN   = 1
	coreSOCRAM = 2
)

// RAM size of the CYW43439. NVRAM goes at the top, firmware at the base.
const chipRAMSize = 512 * 1024

func (d *Device) bp_read(addr uint32, data []byte) (err error) {
	alignedLen := alignup(uint32(len(data)), 4)
	data = data[:alignedLen]
	var buf [maxBackplaneTxSize/4 + 1]uint32
	buf8 := u32AsU8(buf[:])
	for len(data) > 0 {
		// Transfer length is limited by the burst size and may not
		// cross a window boundary.
		windowOffset := addr & whd.BACKPLANE_ADDR_MASK
		windowRemaining := whd.BACKPLANE_ADDR_MASK + 1 - windowOffset
		lenBytes := min(min(uint32(len(data)), maxBackplaneTxSize), windowRemaining)

		err = d.backplane_setwindow(addr)
		if err != nil {
			return err
		}
		cmd := cmd_word(false, true, FuncBackplane, windowOffset, lenBytes)

		// One extra word receives the response delay byte(s).
		_, err = d.spi.cmd_read(cmd, buf[:(lenBytes+3)/4+1])
		if err != nil {
			return err
		}
		// Skip the response-delay word when copying out.
		copy(data[:lenBytes], buf8[4:4+lenBytes])
		addr += lenBytes
		data = data[lenBytes:]
	}
	d.lastStatusGet = time.Now()
	return err
}

func (d *Device) bp_write(addr uint32, data []byte) (err error) {
	if !isaligned(addr, 4) {
		return errors.New("bp_write addr must be 4-byte aligned")
	}
	alignedLen := alignup(uint32(len(data)), 4)
	data = data[:alignedLen]
	var buf [maxBackplaneTxSize/4 + 1]uint32
	buf8 := u32AsU8(buf[:])
	for err == nil && len(data) > 0 {
		windowOffset := addr & whd.BACKPLANE_ADDR_MASK
		windowRemaining := whd.BACKPLANE_ADDR_MASK + 1 - windowOffset
		length := min(min(uint32(len(data)), maxBackplaneTxSize), windowRemaining)
		copy(buf8[:length], data[:length])

		err = d.backplane_setwindow(addr)
		if err != nil {
			return err
		}
		cmd := cmd_word(true, true, FuncBackplane, windowOffset, length)

		_, err = d.spi.cmd_write(cmd, buf[:(length+3)/4])
		addr += length
		data = data[length:]
	}
	d.lastStatusGet = time.Now()
	return err
}

// bp_writestring leverages static string data which always lives in
// flash on embedded targets, avoiding a copy.
func (d *Device) bp_writestring(addr uint32, data string) error {
	hdr := (*reflect.StringHeader)(unsafe.Pointer(&data))
	sliceHdr := reflect.SliceHeader{
		Data: hdr.Data,
		Len:  hdr.Len,
		Cap:  int(alignup(uint32(hdr.Len), 4)),
	}
	return d.bp_write(addr, *(*[]byte)(unsafe.Pointer(&sliceHdr)))
}

func (d *Device) bp_read8(addr uint32) (uint8, error) {
	v, err := d.backplane_readn(addr, 1)
	return uint8(v), err
}
func (d *Device) bp_write8(addr uint32, val uint8) error {
	return d.backplane_writen(addr, uint32(val), 1)
}
func (d *Device) bp_read16(addr uint32) (uint16, error) {
	v, err := d.backplane_readn(addr, 2)
	return uint16(v), err
}
func (d *Device) bp_write16(addr uint32, val uint16) error {
	return d.backplane_writen(addr, uint32(val), 2)
}
func (d *Device) bp_read32(addr uint32) (uint32, error) {
	return d.backplane_readn(addr, 4)
}
func (d *Device) bp_write32(addr, val uint32) error {
	return d.backplane_writen(addr, val, 4)
}

func (d *Device) backplane_readn(addr, size uint32) (uint32, error) {
	err := d.backplane_setwindow(addr)
	if err != nil {
		return 0, err
	}
	addr &= whd.BACKPLANE_ADDR_MASK
	if size == 4 {
		addr |= whd.SBSDIO_SB_ACCESS_2_4B_FLAG
	}
	return d.readn(FuncBackplane, addr, size)
}

func (d *Device) backplane_writen(addr, val, size uint32) (err error) {
	err = d.backplane_setwindow(addr)
	if err != nil {
		return err
	}
	addr &= whd.BACKPLANE_ADDR_MASK
	if size == 4 {
		addr |= whd.SBSDIO_SB_ACCESS_2_4B_FLAG
	}
	return d.writen(FuncBackplane, addr, val, size)
}

// backplane_setwindow moves the 32 KiB backplane window. Only the window
// select bytes that changed are written. On failure the cached window is
// invalidated so no later access can ride a stale window.
func (d *Device) backplane_setwindow(addr uint32) (err error) {
	currentWindow := d.backplaneWindow
	addr = addr &^ whd.BACKPLANE_ADDR_MASK
	if addr == currentWindow {
		return nil
	}

	if (addr & 0xff000000) != currentWindow&0xff000000 {
		err = d.write8(FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_HIGH, uint8(addr>>24))
	}
	if err == nil && (addr&0x00ff0000) != currentWindow&0x00ff0000 {
		err = d.write8(FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_MID, uint8(addr>>16))
	}
	if err == nil && (addr&0x0000ff00) != currentWindow&0x0000ff00 {
		err = d.write8(FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_LOW, uint8(addr>>8))
	}

	if err != nil {
		d.backplaneWindow = windowInvalid
		return err
	}
	d.backplaneWindow = addr
	return nil
}

// Marker stored in the window cache after a failed select. Matches no
// valid window so the next access always rewrites the select registers.
const windowInvalid = 0xaaaa_aaaa

func (d *Device) core_disable(coreID uint8) error {
	base := coreaddress(coreID)

	// Check if not already in reset.
	d.bp_read8(base + whd.AI_RESETCTRL_OFFSET) // Dummy read.
	r, _ := d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	if r&whd.AIRC_RESET != 0 {
		return nil
	}

	d.bp_write8(base+whd.AI_IOCTRL_OFFSET, 0)
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET) // Another dummy read.
	time.Sleep(time.Millisecond)

	d.bp_write8(base+whd.AI_RESETCTRL_OFFSET, whd.AIRC_RESET)
	r, _ = d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	if r&whd.AIRC_RESET != 0 {
		return nil
	}
	return errors.New("core disable failed")
}

func (d *Device) core_reset(coreID uint8, coreHalt bool) error {
	err := d.core_disable(coreID)
	if err != nil {
		return err
	}
	var cpuhaltFlag uint8
	if coreHalt {
		cpuhaltFlag = whd.SICF_CPUHALT
	}
	base := coreaddress(coreID)
	d.bp_write8(base+whd.AI_IOCTRL_OFFSET, whd.SICF_FGC|whd.SICF_CLOCK_EN|cpuhaltFlag)
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET) // Dummy read.

	d.bp_write8(base+whd.AI_RESETCTRL_OFFSET, 0)
	time.Sleep(time.Millisecond)

	d.bp_write8(base+whd.AI_IOCTRL_OFFSET, whd.SICF_CLOCK_EN|cpuhaltFlag)
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET) // Dummy read.
	time.Sleep(time.Millisecond)
	return nil
}

// core_is_up reports whether the core is clocked and out of reset. May
// report true when communications are down (WL_REG_ON low).
func (d *Device) core_is_up(coreID uint8) bool {
	base := coreaddress(coreID)
	reg, _ := d.bp_read8(base + whd.AI_IOCTRL_OFFSET)
	if reg&(whd.SICF_FGC|whd.SICF_CLOCK_EN) != whd.SICF_CLOCK_EN {
		return false
	}
	reg, _ = d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	return reg&whd.AIRC_RESET == 0
}

// coreaddress returns the AI wrapper base: WLAN=0x18103000, SOCRAM=0x18104000.
func coreaddress(coreID uint8) (v uint32) {
	switch coreID {
	case coreWLAN:
		v = whd.WRAPPER_REGISTER_OFFSET + whd.WLAN_ARMCM3_BASE_ADDRESS
	case coreSOCRAM:
		v = whd.WRAPPER_REGISTER_OFFSET + whd.SOCSRAM_BASE_ADDRESS
	default:
		panic("bad core id")
	}
	return v
}

// waitClock polls the chip clock CSR until the given availability bit is
// set, with exponentially growing sleeps up to the deadline.
func (d *Device) waitClock(availBit uint8, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	sleep := time.Millisecond
	for {
		got, err := d.read8(FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR)
		if err != nil {
			return err
		}
		if got&availBit != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errjoin(ErrBootTimeout, errors.New("clock avail bit "+hex32(uint32(availBit))))
		}
		time.Sleep(sleep)
		if sleep < 16*time.Millisecond {
			sleep *= 2
		}
	}
}

// uploadFirmware writes the firmware image into chip RAM and verifies it
// by reading the whole region back and comparing CRC32 checksums.
func (d *Device) uploadFirmware(addr uint32, fw string) error {
	d.debug("uploadFirmware", slog.Uint64("addr", uint64(addr)), slog.Int("fwlen", len(fw)))
	err := d.bp_writestring(addr, fw)
	if err != nil {
		return err
	}
	want := crc32.ChecksumIEEE(unsafeStringBytes(fw))
	got, err := d.bp_crc32(addr, uint32(len(fw)))
	if err != nil {
		return err
	}
	if got != want {
		d.logerr("uploadFirmware:verify", slog.String("got", hex32(got)), slog.String("want", hex32(want)))
		return ErrFirmwareChecksum
	}
	return nil
}

// bp_crc32 computes the CRC32 (IEEE) of n bytes of backplane memory
// starting at addr, reading in burst-sized chunks.
func (d *Device) bp_crc32(addr, n uint32) (uint32, error) {
	var chunk [maxBackplaneTxSize]byte
	crc := uint32(0)
	for n > 0 {
		sz := min(n, maxBackplaneTxSize)
		// Reads are always word-padded; only crc the requested bytes.
		err := d.bp_read(addr, chunk[:alignup(sz, 4)])
		if err != nil {
			return 0, err
		}
		crc = crc32.Update(crc, crc32.IEEETable, chunk[:sz])
		addr += sz
		n -= sz
	}
	return crc, nil
}

func unsafeStringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
