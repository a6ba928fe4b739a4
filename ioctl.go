package cyw43

// SDPCM/CDC control engine: ioctl and iovar exchanges, flow control
// credits and the F2 receive demultiplexer.

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"log/slog"

	"github.com/pico-go/cyw43/whd"
)

// Control protocol error sentinels.
var (
	// ErrIoctlUnresponsive means a control exchange exhausted its
	// retransmit budget without a matching response. The engine remains
	// usable for subsequent exchanges.
	ErrIoctlUnresponsive = errors.New("cyw43: ioctl unresponsive")
	// ErrIoctlRejected means the chip answered the exchange with a
	// non-zero status code.
	ErrIoctlRejected = errors.New("cyw43: ioctl rejected")
)

var (
	errTxPacketTooLarge      = errors.New("tx packet too large")
	errIOVarTooLarge         = errors.New("iovar too large")
	errInvalidIoctlIface     = errors.New("invalid ioctl iface")
	errInvalidIoctlCmdOrKind = errors.New("invalid ioctl cmd/kind")
	errIoctlDataTooLarge     = errors.New("ioctl data too large")
	errInvalidRxBDCHeaderLen = errors.New("invalid recv BDC header length")
	errBDCInvalidLength      = errors.New("BDC header invalid length")
	errEventTooShort         = errors.New("event packet too small for parsing")
	errNoF2Avail             = errors.New("no packet available")
	errWaitForCreditTimeout  = errors.New("waitForCredit timeout")
)

const (
	ioctlGET = whd.SDPCM_GET
	ioctlSET = whd.SDPCM_SET
)

// ioctlGate is a FIFO admission token for control-plane operations.
// acquire blocks until all earlier acquirers have released, in strict
// arrival order, so no control exchange can be starved by a
// fast-spinning peer the way a bare mutex allows.
type ioctlGate struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func (g *ioctlGate) acquire() {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()
	<-ch // Ownership handed over by release.
}

func (g *ioctlGate) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(ch)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

// eventMask is the host-side filter of chip async events, also the
// payload of the "bsscfg:event_msgs" iovar.
type eventMask struct {
	iface  uint32
	events [24]uint8
}

func (e *eventMask) Disable(event whd.AsyncEventType) {
	e.events[event/8] &= ^(1 << (event % 8))
}

func (e *eventMask) Enable(event whd.AsyncEventType) {
	e.events[event/8] |= 1 << (event % 8)
}

func (e *eventMask) IsEnabled(event whd.AsyncEventType) bool {
	return e.events[event/8]&(1<<(event%8)) != 0
}

func (e *eventMask) Put(buf []byte) {
	_busOrder.PutUint32(buf, e.iface)
	copy(buf[4:], e.events[:])
}

func (e *eventMask) Size() int {
	return 4 + len(e.events)
}

// update_credit tracks the highest tx sequence number the firmware will
// accept. The window is clamped to 2 in-flight frames when the credit
// delta is implausibly large, which happens around firmware startup.
func (d *Device) update_credit(hdr *whd.SDPCMHeader) {
	switch hdr.Type() {
	case whd.SDPCM_CONTROL, whd.SDPCM_EVENT, whd.SDPCM_DATA:
		max := hdr.BusDataCredit
		if (max - d.sdpcmSeq) > 0x40 {
			max = d.sdpcmSeq + 2
		}
		d.sdpcmSeqMax = max
	}
}

func (d *Device) has_credit() bool {
	return d.sdpcmSeq != d.sdpcmSeqMax && (d.sdpcmSeqMax-d.sdpcmSeq)&0x80 == 0
}

// Data frames carry 2 bytes of padding between the SDPCM and BDC headers.
const mtuPrefix = 2 + whd.SDPCM_HEADER_LEN + whd.BDC_HEADER_LEN

// MTU is the largest ethernet frame that fits one WLAN bus transfer.
const MTU = 2048 - mtuPrefix

// tx transmits a SDPCM+BDC data packet to the device.
func (d *Device) tx(packet []byte) (err error) {
	if d.state != StateLinkUp {
		return ErrLinkDown
	}
	d.debug("tx", slog.Int("len", len(packet)))
	buf := d._sendIoctlBuf[:]
	buf8 := u32AsU8(buf)

	const paddingSize = 2
	totalLen := mtuPrefix + len(packet)
	if totalLen > len(buf8) {
		return errTxPacketTooLarge
	}
	d.log_read()

	err = d.waitForCredit(buf)
	if err != nil {
		return err
	}

	seq := d.sdpcmSeq
	d.sdpcmSeq++ // Wraps around.

	d.lastSDPCMHeader = whd.SDPCMHeader{
		Size:         uint16(totalLen),
		SizeCom:      ^uint16(totalLen),
		Seq:          seq,
		ChanAndFlags: uint8(whd.SDPCM_DATA),
		HeaderLength: whd.SDPCM_HEADER_LEN + paddingSize,
	}
	d.lastSDPCMHeader.Put(_busOrder, buf8[:whd.SDPCM_HEADER_LEN])

	d.auxBDCHeader = whd.BDCHeader{
		Flags: 2 << 4, // BDC version.
	}
	d.auxBDCHeader.Put(buf8[whd.SDPCM_HEADER_LEN+paddingSize:])

	copy(buf8[mtuPrefix:], packet)

	return d.wlan_write(buf[:alignup(uint32(totalLen), 4)/4], uint32(totalLen))
}

func (d *Device) get_iovar(VAR string, iface whd.IoctlInterface) (_ uint32, err error) {
	const iovarOffset = 256 + 3
	buf8 := u32AsU8(d._iovarBuf[iovarOffset:])
	_, err = d.get_iovar_n(VAR, iface, buf8[:4])
	return _busOrder.Uint32(buf8), err
}

func (d *Device) get_iovar_n(VAR string, iface whd.IoctlInterface, res []byte) (plen int, err error) {
	buf8 := u32AsU8(d._iovarBuf[:])

	length := copy(buf8[:], VAR)
	buf8[length] = 0
	length++
	for i := 0; i < len(res); i++ {
		buf8[length+i] = 0 // Zero out where we'll read.
	}

	totalLen := max(length, len(res))
	d.trace("get_iovar_n:ini", slog.String("var", VAR), slog.Int("reslen", totalLen))
	plen, err = d.doIoctlGet(whd.WLC_GET_VAR, iface, buf8[:totalLen])
	if plen > len(res) {
		plen = len(res)
	}
	copy(res[:], buf8[:plen])
	return plen, err
}

func (d *Device) set_ioctl(cmd whd.SDPCMCommand, iface whd.IoctlInterface, val uint32) error {
	return d.doIoctlSet(cmd, iface, u32PtrTo4U8(&val)[:4])
}

func (d *Device) set_iovar(VAR string, iface whd.IoctlInterface, val uint32) error {
	buf8 := u32AsU8(d._iovarBuf[256:]) // Safe to get offset.
	copy(buf8[:4], u32PtrTo4U8(&val)[:4])
	return d.set_iovar_n(VAR, iface, buf8[:4])
}

func (d *Device) set_iovar2(VAR string, iface whd.IoctlInterface, val0, val1 uint32) error {
	buf8 := u32AsU8(d._iovarBuf[256+1:]) // Safe to get offset.
	copy(buf8[:4], u32PtrTo4U8(&val0)[:4])
	copy(buf8[4:8], u32PtrTo4U8(&val1)[:4])
	return d.set_iovar_n(VAR, iface, buf8[:8])
}

func (d *Device) set_iovar_n(VAR string, iface whd.IoctlInterface, val []byte) (err error) {
	d.trace("set_iovar", slog.String("var", VAR))
	buf8 := u32AsU8(d._iovarBuf[:])
	if len(val)+1+len(VAR) > len(buf8) {
		return errIOVarTooLarge
	}

	length := copy(buf8[:], VAR)
	buf8[length] = 0
	length++
	length += copy(buf8[length:], val)

	return d.doIoctlSet(whd.WLC_SET_VAR, iface, buf8[:length])
}

func (d *Device) doIoctlGet(cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) (n int, err error) {
	if d.isTraceEnabled() {
		d.trace("doIoctlGet:start", slog.String("cmd", cmd.String()), slog.String("iface", iface.String()), slog.Int("len", len(data)))
	}
	packet, err := d.sendIoctlWait(ioctlGET, cmd, iface, data)
	if err != nil {
		return 0, err
	}
	n = copy(data[:], packet)
	return n, nil
}

func (d *Device) doIoctlSet(cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) (err error) {
	_, err = d.sendIoctlWait(ioctlSET, cmd, iface, data)
	return err
}

// sendIoctlWait runs one complete control exchange: send the request,
// poll for the matching response, retransmit a bounded number of times.
// Each retransmit uses a fresh exchange tag so a late response to an
// earlier attempt is discarded rather than mistaken for the answer.
func (d *Device) sendIoctlWait(kind uint8, cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) ([]byte, error) {
	d.trace("sendIoctlWait:start")
	if d.state == StateFaulted {
		return nil, ErrFaulted
	}
	d.log_read()

	var lastErr error
	for attempt := 0; attempt < d.ioctlAttempts; attempt++ {
		err := d.waitForCredit(d._sendIoctlBuf[:])
		if err != nil {
			lastErr = err
			continue
		}
		err = d.sendIoctl(kind, cmd, iface, data)
		if err != nil {
			return nil, err // Malformed request, retrying cannot help.
		}
		packet, err := d.pollForIoctl(d._sendIoctlBuf[:])
		if err == nil {
			return packet, nil
		}
		if errors.Is(err, ErrIoctlRejected) {
			return nil, err
		}
		lastErr = err
		if d.logenabled(slog.LevelDebug) {
			d.debug("sendIoctlWait:retry", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		}
	}
	err := errjoin(ErrIoctlUnresponsive, lastErr)
	d.logerr("sendIoctlWait", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
	return nil, err
}

// sendIoctl sends a SDPCM+CDC ioctl command to the device with data.
func (d *Device) sendIoctl(kind uint8, cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) (err error) {
	d.trace("sendIoctl:start")
	if !iface.IsValid() {
		return errInvalidIoctlIface
	} else if !cmd.IsValid() {
		return errInvalidIoctlCmdOrKind
	} else if kind != whd.SDPCM_GET && kind != whd.SDPCM_SET {
		return errInvalidIoctlCmdOrKind
	}
	if d.logenabled(slog.LevelDebug) {
		d.debug("sendIoctl", slog.Int("kind", int(kind)), slog.String("cmd", cmd.String()), slog.Int("len", len(data)))
	}

	buf := d._sendIoctlBuf[:]
	buf8 := u32AsU8(buf)

	totalLen := uint32(whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN + len(data))
	if int(totalLen) > len(buf8) {
		return errIoctlDataTooLarge
	}
	sdpcmSeq := d.sdpcmSeq
	d.sdpcmSeq++
	d.ioctlID++ // Fresh tag for every request on the wire.

	d.lastSDPCMHeader = whd.SDPCMHeader{
		Size:         uint16(totalLen),
		SizeCom:      ^uint16(totalLen),
		Seq:          sdpcmSeq,
		ChanAndFlags: uint8(whd.SDPCM_CONTROL),
		HeaderLength: whd.SDPCM_HEADER_LEN,
	}
	d.lastSDPCMHeader.Put(_busOrder, buf8[:whd.SDPCM_HEADER_LEN])

	d.auxCDCHeader = whd.CDCHeader{
		Cmd:    cmd,
		Length: uint32(len(data)),
		Flags:  uint16(kind) | (uint16(iface) << whd.CDCF_IOC_IF_SHIFT),
		ID:     d.ioctlID,
	}
	d.auxCDCHeader.Put(_busOrder, buf8[whd.SDPCM_HEADER_LEN:])

	copy(buf8[whd.SDPCM_HEADER_LEN+whd.CDC_HEADER_LEN:], data)

	return d.wlan_write(buf[:alignup(totalLen, 4)/4], totalLen)
}

// handle_irq reads the interrupt register and services pending F2
// packets, up to the per-poll frame bound.
func (d *Device) handle_irq(buf []uint32) (serviced int, err error) {
	d.trace("handle_irq:start")
	irq := d.getInterrupts()

	if irq.IsF2Available() {
		serviced, err = d.check_status(buf)
	}
	if err == nil && irq.IsDataUnavailable() {
		d.warn("irq data unavail, clearing")
		err = d.write16(FuncBus, AddrInterrupt, DATA_UNAVAILABLE)
	}
	return serviced, err
}

// f2PacketAvail checks if a packet is available, and if so, returns
// the packet length.
func (d *Device) f2PacketAvail() (bool, uint16) {
	d.trace("f2PacketAvail:start")
	// First, check cached status from previous cmd_read|cmd_write.
	status := d.spi.Status()
	if status.F2PacketAvailable() {
		return true, status.F2PacketLength()
	}
	// If that didn't work, get the interrupt status, which updates cached
	// status.
	irq := d.getInterrupts()
	if irq.IsF2Available() {
		status = d.spi.Status()
		if status.F2PacketAvailable() {
			return true, status.F2PacketLength()
		}
	}
	if irq.IsDataUnavailable() {
		d.warn("irq data unavail, clearing")
		d.write16(FuncBus, AddrInterrupt, DATA_UNAVAILABLE)
	}
	return false, 0
}

// waitForCredit waits for a tx flow control credit, servicing the
// receive path meanwhile since credits only arrive on received frames.
func (d *Device) waitForCredit(buf []uint32) error {
	d.trace("waitForCredit:start")
	if d.has_credit() {
		return nil
	}
	deadline := time.Now().Add(d.ioctlTimeout)
	for {
		_, _, err := d.tryPoll(buf)
		if err != nil && err != errNoF2Avail {
			return err
		} else if d.has_credit() {
			return nil
		}
		if time.Now().After(deadline) {
			return errWaitForCreditTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// pollForIoctl polls until the response matching the current exchange
// tag is received. Responses carrying an older tag are counted and
// dropped by rxControl, showing up here as consumed frames.
func (d *Device) pollForIoctl(buf []uint32) ([]byte, error) {
	d.trace("pollForIoctl:start")
	deadline := time.Now().Add(d.ioctlTimeout)
	for {
		buf8, hdr, err := d.tryPoll(buf)
		if err != nil && err != errNoF2Avail {
			return nil, err
		} else if hdr == whd.SDPCM_CONTROL && buf8 != nil {
			return buf8, nil
		}
		if time.Now().After(deadline) {
			return nil, errjoin(ErrIoctlUnresponsive, errors.New("poll deadline"))
		}
		time.Sleep(time.Millisecond)
	}
}

// check_status drains F2 packets while the status register reports
// more, stopping at maxPollFrames so a burst cannot starve the caller.
func (d *Device) check_status(buf []uint32) (frames int, _ error) {
	d.trace("check_status:start")
	for frames < maxPollFrames {
		_, _, err := d.tryPoll(buf)
		if err == errNoF2Avail {
			break
		} else if err != nil {
			return frames, err
		}
		frames++
	}
	return frames, nil
}

// tryPoll attempts a single read over the WLAN interface for a SDPCM packet.
// If a packet is received it is processed by rx. Returns errNoF2Avail when
// the chip has nothing pending.
func (d *Device) tryPoll(buf []uint32) ([]byte, whd.SDPCMHeaderType, error) {
	d.trace("tryPoll:start")
	avail, length := d.f2PacketAvail()
	if !avail {
		return nil, whd.SDPCM_UNKNOWN, errNoF2Avail
	}
	err := d.wlan_read(buf[:], int(length))
	if err != nil {
		return nil, whd.SDPCM_UNKNOWN, err
	}
	buf8 := u32AsU8(buf[:])
	offset, plen, hdrType, consumed, err := d.rx(buf8[:length])

	if err == whd.ErrInvalidEtherType || err == errBDCInvalidLength {
		// Spurious frames seen during the first IO operations after boot.
		if d.logenabled(slog.LevelDebug) {
			d.debug("tryPoll:ignore_spurious", slog.String("err", err.Error()))
		}
		err = nil
	} else if err != nil && d.logenabled(slog.LevelError) {
		d.logerr("tryPoll:rx", slog.Uint64("plen", uint64(plen)), slog.String("err", err.Error()))
	}
	if consumed {
		// Frame handled internally (stale exchange tag).
		return nil, whd.SDPCM_UNKNOWN, err
	}
	return buf8[offset : offset+plen], hdrType, err
}

// rx demultiplexes one received SDPCM frame by channel number.
func (d *Device) rx(packet []byte) (offset, plen uint16, _ whd.SDPCMHeaderType, consumed bool, err error) {
	d.trace("rx:start")
	if len(packet) < whd.SDPCM_HEADER_LEN+whd.BDC_HEADER_LEN+1 {
		return 0, 0, whd.SDPCM_UNKNOWN, false, io.ErrShortBuffer
	}

	d.lastSDPCMHeader = whd.DecodeSDPCMHeader(_busOrder, packet)
	hdrType := d.lastSDPCMHeader.Type()
	d.debug("rx", slog.Int("len", len(packet)), slog.String("hdr", hdrType.String()))
	payload, err := d.lastSDPCMHeader.Parse(packet)
	if err != nil {
		return 0, 0, whd.SDPCM_UNKNOWN, false, err
	}
	d.update_credit(&d.lastSDPCMHeader)

	switch hdrType {
	case whd.SDPCM_CONTROL:
		offset, plen, consumed, err = d.rxControl(payload)
	case whd.SDPCM_EVENT:
		err = d.rxEvent(payload)
	case whd.SDPCM_DATA:
		err = d.rxData(payload)
	default:
		err = errInvalidIoctlCmdOrKind
	}
	return offset, plen, hdrType, consumed, err
}

// rxControl validates an ioctl response against the current exchange.
// Responses for earlier exchanges are dropped and counted; a response
// carrying a chip error status resolves the exchange as rejected.
func (d *Device) rxControl(packet []byte) (offset, plen uint16, consumed bool, err error) {
	d.auxCDCHeader = whd.DecodeCDCHeader(_busOrder, packet)
	if d.isTraceEnabled() {
		d.trace("rxControl",
			slog.Int("len", len(packet)),
			slog.Int("id", int(d.auxCDCHeader.ID)),
			slog.Int("cdc.Flags", int(d.auxCDCHeader.Flags)),
			slog.Int("cdc.Len", int(d.auxCDCHeader.Length)),
		)
	}
	if d.auxCDCHeader.ID != d.ioctlID {
		d.staleResps++
		d.debug("rxControl:stale", slog.Int("id", int(d.auxCDCHeader.ID)), slog.Int("want", int(d.ioctlID)))
		return 0, 0, true, nil
	}
	if d.auxCDCHeader.Status != 0 {
		d.logerr("rxControl:ioctlerror", slog.Uint64("status", uint64(d.auxCDCHeader.Status)))
		return 0, 0, false, errjoin(ErrIoctlRejected, errors.New("status "+hex32(d.auxCDCHeader.Status)))
	}
	offset = uint16(d.lastSDPCMHeader.HeaderLength) + whd.CDC_HEADER_LEN
	plen = uint16(d.auxCDCHeader.Length)
	d.trace("rxControl:success", slog.Int("plen", int(plen)))
	return offset, plen, false, nil
}

// rxEvent parses an async event frame, applies the host-side filter,
// drives the association state machine and enqueues the event record.
func (d *Device) rxEvent(packet []byte) (err error) {
	d.trace("rxEvent:start")
	if len(packet) < whd.BDC_HEADER_LEN {
		return errEventTooShort
	}
	bdcHdr := whd.DecodeBDCHeader(packet)
	packetStart := whd.BDC_HEADER_LEN + 4*int(bdcHdr.DataOffset)
	if packetStart > len(packet) {
		return errBDCInvalidLength
	}
	bdcPacket := packet[packetStart:]

	// Event payload is big endian (network order) unlike everything else.
	aePacket, err := whd.DecodeEventPacket(binary.BigEndian, bdcPacket)
	if err != nil {
		return err
	}
	ev := aePacket.Message.EventType
	if !d.eventmask.IsEnabled(ev) {
		return nil
	}
	switch ev {
	case whd.EvAUTH:
		if aePacket.Message.Status != 0 {
			d.setJoin(joinStateAuthFailed)
		} else if d.join == joinStateDown {
			d.setJoin(joinStateUpWaitForSSID)
		}
	case whd.EvSET_SSID:
		if aePacket.Message.Status == 0 && d.join == joinStateUpWaitForSSID {
			d.setJoin(joinStateUp) // Join operation ends with SET_SSID event.
		} else if aePacket.Message.Status != 0 {
			d.setJoin(joinStateFailed)
		}
	case whd.EvLINK:
		if aePacket.Message.Flags == 0 {
			d.setJoin(joinStateWaitForReconnect) // Disconnected, but will try to reconnect.
		}
	case whd.EvJOIN:
		if d.join == joinStateWaitForReconnect {
			d.setJoin(joinStateUp)
		}
	case whd.EvDEAUTH, whd.EvDISASSOC:
		d.setJoin(joinStateDown)
	}
	d.events.push(EventRecord{
		Event:  ev,
		Status: aePacket.Message.Status,
		Reason: aePacket.Message.Reason,
		Flags:  aePacket.Message.Flags,
		Addr:   aePacket.Message.Addr,
	})
	if d.logenabled(slog.LevelInfo) {
		d.info("rxEvent",
			slog.String("event", ev.String()),
			slog.Uint64("status", uint64(aePacket.Message.Status)),
			slog.Uint64("reason", uint64(aePacket.Message.Reason)),
			slog.Uint64("flags", uint64(aePacket.Message.Flags)),
		)
	}
	return nil
}

// rxData strips the BDC header off a data frame and hands the ethernet
// payload to the receive callback when registered, otherwise to the
// receive queue.
func (d *Device) rxData(packet []byte) (err error) {
	d.trace("rxData:start")
	bdcHdr := whd.DecodeBDCHeader(packet)
	packetStart := whd.BDC_HEADER_LEN + 4*int(bdcHdr.DataOffset)
	if packetStart > len(packet) {
		return errInvalidRxBDCHeaderLen
	}
	payload := packet[packetStart:]
	if d.rcvEth != nil {
		return d.rcvEth(payload)
	}
	d.enqueueRx(payload)
	return nil
}
