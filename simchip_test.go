//go:build !pico

package cyw43

// simChip emulates enough of the CYW43439's gSPI interface for the
// driver to boot, exchange ioctls and move frames against it in tests:
// the word-swapped power-on handshake, the F1 window registers, 512KiB
// of backplane RAM, the AI core wrappers and an F2 queue with an ioctl
// responder that echoes the CDC exchange tag.

import (
	"errors"
	"sync"
	"time"

	"github.com/pico-go/cyw43/whd"
)

var errSimIO = errors.New("simchip: injected io error")

const (
	simWLANWrapper   = whd.WRAPPER_REGISTER_OFFSET + whd.WLAN_ARMCM3_BASE_ADDRESS
	simSOCRAMWrapper = whd.WRAPPER_REGISTER_OFFSET + whd.SOCSRAM_BASE_ADDRESS
)

var simMAC = [6]byte{0x28, 0xcd, 0xc1, 0x00, 0xbe, 0xef}

type simChip struct {
	mu       sync.Mutex
	powered  bool
	wordSwap bool

	f0         [0x40]byte      // gSPI bus function registers.
	irqLatched uint16          // Write-1-to-clear interrupt bits.
	window     uint32          // Backplane window from the F1 select regs.
	f1         map[uint32]byte // F1 SDIO registers (0x10000..).
	ram        []byte          // Backplane RAM at address 0.
	regs       map[uint32]byte // Sparse backplane registers (cores, wrappers).

	f2q    [][]byte // Queued chip-to-host SDPCM frames.
	simSeq uint8
	credit uint8 // BusDataCredit granted on outgoing frames.

	// Fault injection knobs. Survive power cycles.
	failHandshake  bool
	corruptReads   bool
	failNextWrites int
	dropNext       int
	staleFirst     bool
	ioctlStatus    uint32
	failCmd        whd.SDPCMCommand // Respond to this ioctl with failCmdStatus.
	failCmdStatus  uint32

	// Observation state.
	reqCount   int
	sentFrames [][]byte
	iovarsSet  map[string][]byte
	ioctlsSet  map[whd.SDPCMCommand]uint32
	clmChunks  []whd.DownloadHeader

	ioctlHandler func(cmd whd.SDPCMCommand, kind uint16, payload []byte) []byte
}

func newSimChip() *simChip {
	s := &simChip{}
	s.powerOn()
	return s
}

func (s *simChip) powerOn() {
	s.powered = true
	s.wordSwap = true
	s.f0 = [0x40]byte{}
	s.irqLatched = 0
	s.window = 0
	s.f1 = make(map[uint32]byte)
	s.ram = make([]byte, chipRAMSize)
	s.regs = make(map[uint32]byte)
	s.f2q = nil
	s.simSeq = 0
	s.credit = 1
	if s.iovarsSet == nil {
		s.iovarsSet = make(map[string][]byte)
		s.ioctlsSet = make(map[whd.SDPCMCommand]uint32)
	}
}

// setPower is the WL_REG_ON pin of the simulated chip.
func (s *simChip) setPower(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && !s.powered {
		s.powerOn()
	} else if !on {
		s.powered = false
	}
}

func (s *simChip) CmdRead(cmd uint32, buf []uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wordSwap {
		cmd = swap16(cmd)
	}
	fn, addr, sz := simDecodeCmd(cmd)
	switch fn {
	case FuncBus:
		v := s.busRead(addr, sz)
		if s.wordSwap {
			v = swap16(v)
		}
		buf[0] = v
	case FuncBackplane:
		s.bpCmdRead(addr, sz, buf)
	case FuncWLAN:
		s.f2Read(buf, sz)
	}
	return s.statusWord(), nil
}

func (s *simChip) CmdWrite(cmd uint32, buf []uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextWrites > 0 {
		s.failNextWrites--
		return s.statusWord(), errSimIO
	}
	if s.wordSwap {
		cmd = swap16(cmd)
	}
	fn, addr, sz := simDecodeCmd(cmd)
	switch fn {
	case FuncBus:
		v := buf[0]
		if s.wordSwap {
			v = swap16(v)
		}
		s.busWrite(addr, sz, v)
	case FuncBackplane:
		s.bpCmdWrite(addr, sz, buf)
	case FuncWLAN:
		frame := make([]byte, sz)
		copy(frame, u32AsU8(buf))
		s.handleWLANFrame(frame)
	}
	return s.statusWord(), nil
}

func simDecodeCmd(cmd uint32) (fn Function, addr, sz uint32) {
	fn = Function(cmd>>28) & 0b11
	addr = (cmd >> 11) & 0x1ffff
	sz = cmd & (1<<11 - 1)
	return fn, addr, sz
}

func (s *simChip) statusWord() uint32 {
	v := uint32(1 << 5) // F2 rx ready.
	if len(s.f2q) > 0 {
		l := uint32(len(s.f2q[0])) & 0x7ff
		v |= 1<<8 | l<<9
	}
	return v
}

func (s *simChip) irqBits() uint16 {
	bits := s.irqLatched
	if len(s.f2q) > 0 {
		bits |= F2_PACKET_AVAILABLE
	}
	return bits
}

func (s *simChip) busRead(addr, sz uint32) uint32 {
	switch addr {
	case AddrTest:
		if s.failHandshake {
			return 0
		}
		return TestPattern
	case AddrStatus:
		return s.statusWord()
	case AddrInterrupt:
		return uint32(s.irqBits())
	}
	var v uint32
	for i := uint32(0); i < sz && addr+i < uint32(len(s.f0)); i++ {
		v |= uint32(s.f0[addr+i]) << (8 * i)
	}
	return v
}

func (s *simChip) busWrite(addr, sz, val uint32) {
	if addr == AddrInterrupt {
		s.irqLatched &^= uint16(val)
		return
	}
	for i := uint32(0); i < sz && addr+i < uint32(len(s.f0)); i++ {
		s.f0[addr+i] = byte(val >> (8 * i))
	}
	if addr == AddrBusControl && val&(1<<WordLengthPos) != 0 {
		s.wordSwap = false
	}
}

// bpCmdRead fills buf with one response-delay word followed by the data.
func (s *simChip) bpCmdRead(addr, sz uint32, buf []uint32) {
	out := u32AsU8(buf)
	for i := range out {
		out[i] = 0
	}
	if addr >= 0x10000 {
		v := s.f1Read(addr)
		for i := uint32(0); i < sz; i++ {
			out[4+i] = byte(v >> (8 * i))
		}
		return
	}
	eff := s.window | (addr & whd.BACKPLANE_ADDR_MASK)
	for i := uint32(0); i < sz; i++ {
		out[4+i] = s.effRead(eff + i)
	}
	if s.corruptReads && eff < uint32(len(s.ram)) {
		out[4] ^= 0xff
	}
}

func (s *simChip) bpCmdWrite(addr, sz uint32, buf []uint32) {
	in := u32AsU8(buf)
	if addr >= 0x10000 {
		s.f1Write(addr, in[0])
		return
	}
	eff := s.window | (addr & whd.BACKPLANE_ADDR_MASK)
	for i := uint32(0); i < sz; i++ {
		s.effWrite(eff+i, in[i])
	}
}

func (s *simChip) effRead(addr uint32) byte {
	if addr < uint32(len(s.ram)) {
		return s.ram[addr]
	}
	return s.regs[addr]
}

func (s *simChip) effWrite(addr uint32, b byte) {
	if addr < uint32(len(s.ram)) {
		s.ram[addr] = b
		return
	}
	s.regs[addr] = b
}

func (s *simChip) f1Read(addr uint32) uint32 {
	if addr == whd.SDIO_CHIP_CLOCK_CSR {
		csr := uint32(s.f1[addr])
		if csr&whd.SBSDIO_ALP_AVAIL_REQ != 0 {
			csr |= whd.SBSDIO_ALP_AVAIL
		}
		if csr&whd.SBSDIO_HT_AVAIL_REQ != 0 || s.wlanCoreUp() {
			csr |= whd.SBSDIO_HT_AVAIL
		}
		return csr
	}
	return uint32(s.f1[addr])
}

func (s *simChip) f1Write(addr uint32, b byte) {
	s.f1[addr] = b
	switch addr {
	case whd.SDIO_BACKPLANE_ADDRESS_LOW:
		s.window = s.window&0xffff0000 | uint32(b)<<8
	case whd.SDIO_BACKPLANE_ADDRESS_MID:
		s.window = s.window&0xff00ffff | uint32(b)<<16
	case whd.SDIO_BACKPLANE_ADDRESS_HIGH:
		s.window = s.window&0x00ffffff | uint32(b)<<24
	}
}

func (s *simChip) wlanCoreUp() bool {
	ioctrl := s.regs[simWLANWrapper+whd.AI_IOCTRL_OFFSET]
	reset := s.regs[simWLANWrapper+whd.AI_RESETCTRL_OFFSET]
	return ioctrl&whd.SICF_CLOCK_EN != 0 && reset&whd.AIRC_RESET == 0
}

// f2Read pops the oldest queued chip frame into buf.
func (s *simChip) f2Read(buf []uint32, sz uint32) {
	out := u32AsU8(buf)
	for i := range out {
		out[i] = 0
	}
	if len(s.f2q) == 0 {
		return
	}
	frame := s.f2q[0]
	s.f2q = s.f2q[1:]
	copy(out, frame)
}

// handleWLANFrame processes a host-to-chip SDPCM frame.
func (s *simChip) handleWLANFrame(frame []byte) {
	if len(frame) < whd.SDPCM_HEADER_LEN {
		return
	}
	hdr := whd.DecodeSDPCMHeader(_busOrder, frame)
	s.credit = hdr.Seq + 3
	switch hdr.Type() {
	case whd.SDPCM_CONTROL:
		s.handleControl(frame)
	case whd.SDPCM_DATA:
		start := int(hdr.HeaderLength)
		if start+whd.BDC_HEADER_LEN > len(frame) {
			return
		}
		bdc := whd.DecodeBDCHeader(frame[start:])
		payloadStart := start + whd.BDC_HEADER_LEN + 4*int(bdc.DataOffset)
		if payloadStart > len(frame) {
			return
		}
		payload := make([]byte, len(frame)-payloadStart)
		copy(payload, frame[payloadStart:])
		s.sentFrames = append(s.sentFrames, payload)
	}
}

func (s *simChip) handleControl(frame []byte) {
	s.reqCount++
	cdc := whd.DecodeCDCHeader(_busOrder, frame[whd.SDPCM_HEADER_LEN:])
	payloadStart := whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN
	end := payloadStart + int(cdc.Length)
	if end > len(frame) {
		end = len(frame)
	}
	payload := frame[payloadStart:end]
	kind := cdc.Flags &^ (0xf << whd.CDCF_IOC_IF_SHIFT)
	s.record(cdc.Cmd, kind, payload)
	if s.dropNext > 0 {
		s.dropNext--
		return
	}
	var resp []byte
	if s.ioctlHandler != nil {
		resp = s.ioctlHandler(cdc.Cmd, kind, payload)
	} else {
		resp = s.defaultHandler(cdc.Cmd, payload)
	}
	if s.staleFirst {
		s.staleFirst = false
		s.pushControl(cdc.Cmd, cdc.ID-1, 0, resp)
	}
	status := s.ioctlStatus
	if s.failCmd != 0 && cdc.Cmd == s.failCmd {
		status = s.failCmdStatus
	}
	s.pushControl(cdc.Cmd, cdc.ID, status, resp)
}

// record books set-type requests for test assertions.
func (s *simChip) record(cmd whd.SDPCMCommand, kind uint16, payload []byte) {
	switch cmd {
	case whd.WLC_SET_VAR:
		name, val := splitIovar(payload)
		s.iovarsSet[name] = append([]byte(nil), val...)
		if name == "clmload" && len(val) >= whd.DL_HEADER_LEN {
			s.clmChunks = append(s.clmChunks, whd.DownloadHeader{
				Flags: _busOrder.Uint16(val),
				Type:  _busOrder.Uint16(val[2:]),
				Len:   _busOrder.Uint32(val[4:]),
				CRC:   _busOrder.Uint32(val[8:]),
			})
		}
	default:
		if kind == whd.SDPCM_SET {
			var v uint32
			if len(payload) >= 4 {
				v = _busOrder.Uint32(payload)
			}
			s.ioctlsSet[cmd] = v
		}
	}
}

// defaultHandler answers GET_VAR with zeroes (chip MAC for
// cur_etheraddr) and echoes everything else.
func (s *simChip) defaultHandler(cmd whd.SDPCMCommand, payload []byte) []byte {
	if cmd == whd.WLC_GET_VAR {
		name, _ := splitIovar(payload)
		resp := make([]byte, len(payload))
		if name == "cur_etheraddr" {
			copy(resp, simMAC[:])
		}
		return resp
	}
	return append([]byte(nil), payload...)
}

func splitIovar(payload []byte) (name string, val []byte) {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i]), payload[i+1:]
		}
	}
	return string(payload), nil
}

// pushControl queues an ioctl response frame.
func (s *simChip) pushControl(cmd whd.SDPCMCommand, id uint16, status uint32, resp []byte) {
	total := whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN + len(resp)
	frame := make([]byte, total)
	s.putSDPCM(frame, whd.SDPCM_CONTROL, whd.SDPCM_HEADER_LEN)
	cdc := whd.CDCHeader{
		Cmd:    cmd,
		Length: uint32(len(resp)),
		ID:     id,
		Status: status,
	}
	cdc.Put(_busOrder, frame[whd.SDPCM_HEADER_LEN:])
	copy(frame[whd.SDPCM_HEADER_LEN+whd.CDC_HEADER_LEN:], resp)
	s.f2q = append(s.f2q, frame)
}

func (s *simChip) putSDPCM(frame []byte, typ whd.SDPCMHeaderType, hdrLen uint8) {
	hdr := whd.SDPCMHeader{
		Size:          uint16(len(frame)),
		SizeCom:       ^uint16(len(frame)),
		Seq:           s.simSeq,
		ChanAndFlags:  uint8(typ),
		HeaderLength:  hdrLen,
		BusDataCredit: s.credit,
	}
	s.simSeq++
	hdr.Put(_busOrder, frame)
}

// injectEvent queues an async event frame as the chip firmware would
// send it: SDPCM+BDC wrapping a big-endian link-control ethernet frame.
func (s *simChip) injectEvent(ev whd.AsyncEventType, status whd.EStatus, reason uint32, flags uint16, addr [6]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const ethLen, evHdrLen, msgLen = 14, 10, 48
	total := whd.SDPCM_HEADER_LEN + whd.BDC_HEADER_LEN + ethLen + evHdrLen + msgLen
	frame := make([]byte, total)
	s.putSDPCM(frame, whd.SDPCM_EVENT, whd.SDPCM_HEADER_LEN)
	bdc := whd.BDCHeader{Flags: 2 << 4}
	bdc.Put(frame[whd.SDPCM_HEADER_LEN:])

	eth := frame[whd.SDPCM_HEADER_LEN+whd.BDC_HEADER_LEN:]
	eth[12] = 0x88
	eth[13] = 0x6c
	m := eth[ethLen+evHdrLen:]
	be := func(off int, v uint32) {
		m[off] = byte(v >> 24)
		m[off+1] = byte(v >> 16)
		m[off+2] = byte(v >> 8)
		m[off+3] = byte(v)
	}
	m[2] = byte(flags >> 8)
	m[3] = byte(flags)
	be(4, uint32(ev))
	be(8, uint32(status))
	be(12, reason)
	copy(m[24:30], addr[:])
	s.f2q = append(s.f2q, frame)
}

// injectData queues a chip-to-host ethernet data frame.
func (s *simChip) injectData(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := whd.SDPCM_HEADER_LEN + whd.BDC_HEADER_LEN + len(payload)
	frame := make([]byte, total)
	s.putSDPCM(frame, whd.SDPCM_DATA, whd.SDPCM_HEADER_LEN)
	bdc := whd.BDCHeader{Flags: 2 << 4}
	bdc.Put(frame[whd.SDPCM_HEADER_LEN:])
	copy(frame[whd.SDPCM_HEADER_LEN+whd.BDC_HEADER_LEN:], payload)
	s.f2q = append(s.f2q, frame)
}

// makeTestFirmware builds a blob that passes the version-trailer check.
func makeTestFirmware(n int) string {
	if n < 800 {
		panic("firmware too small for trailer")
	}
	fw := make([]byte, n)
	for i := range fw {
		fw[i] = byte(i)
	}
	b := fw[n-800:]
	const fwEnd = 800 - 16
	const trailLen = 200
	for i := fwEnd - 3 - trailLen; i < fwEnd; i++ {
		b[i] = 0
	}
	b[fwEnd-2] = trailLen
	b[fwEnd-1] = 0
	copy(b[fwEnd-3-100:], "Version: 7.95.49 sim")
	return string(fw)
}

// newTestDevice wires a device straight to a simulated chip in 32-bit
// bus mode, skipping the boot sequence.
func newTestDevice(sim *simChip) *Device {
	sim.wordSwap = false
	d := NewDevice(sim.setPower, sim, nil)
	d.state = StateBackplaneReady
	d.events.init(16)
	d.pool.init(8)
	d.txq.init(4)
	d.rxq.init(4)
	d.ioctlTimeout = 10 * time.Millisecond
	d.ioctlAttempts = 3
	return d
}
