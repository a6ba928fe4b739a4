package whd

import (
	"encoding/binary"
	"errors"
)

var (
	errSDPCMShort        = errors.New("packet shorter than sdpcm header")
	errSDPCMSizeComp     = errors.New("sdpcm size complement mismatch")
	errSDPCMSizeMismatch = errors.New("sdpcm size does not match packet length")
	errCDCShort          = errors.New("packet shorter than cdc header")
	errEventShort        = errors.New("packet shorter than event header")

	// ErrInvalidEtherType means a frame on the event channel did not carry
	// the Broadcom link-control ethertype.
	ErrInvalidEtherType = errors.New("event frame has non-link-control ethertype")
)

// SDPCMHeader is the outermost header on every frame exchanged with the
// chip over the WLAN function. The channel number in ChanAndFlags selects
// control, event or data handling.
type SDPCMHeader struct {
	Size            uint16
	SizeCom         uint16 // ^Size. Used to validate the header.
	Seq             uint8  // Rx/Tx sequence number.
	ChanAndFlags    uint8  // 4 LSB channel number, 4 MSB flags.
	NextLength      uint8
	HeaderLength    uint8 // Offset of the payload from the start of the frame.
	WirelessFlowCtl uint8
	BusDataCredit   uint8 // Highest Tx sequence number the firmware will accept.
	Reserved        [2]uint8
}

func (s SDPCMHeader) Type() SDPCMHeaderType { return SDPCMHeaderType(s.ChanAndFlags & 0xf) }

func DecodeSDPCMHeader(order binary.ByteOrder, b []byte) (hdr SDPCMHeader) {
	_ = b[SDPCM_HEADER_LEN-1]
	hdr.Size = order.Uint16(b)
	hdr.SizeCom = order.Uint16(b[2:])
	hdr.Seq = b[4]
	hdr.ChanAndFlags = b[5]
	hdr.NextLength = b[6]
	hdr.HeaderLength = b[7]
	hdr.WirelessFlowCtl = b[8]
	hdr.BusDataCredit = b[9]
	copy(hdr.Reserved[:], b[10:])
	return hdr
}

// Put stores the 12 header bytes into dst. Panics if len(dst) < 12.
func (s *SDPCMHeader) Put(order binary.ByteOrder, dst []byte) {
	_ = dst[SDPCM_HEADER_LEN-1]
	order.PutUint16(dst, s.Size)
	order.PutUint16(dst[2:], s.SizeCom)
	dst[4] = s.Seq
	dst[5] = s.ChanAndFlags
	dst[6] = s.NextLength
	dst[7] = s.HeaderLength
	dst[8] = s.WirelessFlowCtl
	dst[9] = s.BusDataCredit
	copy(dst[10:], s.Reserved[:])
}

// Parse validates the decoded header against the packet it came from and
// returns the payload past the SDPCM header.
func (s SDPCMHeader) Parse(packet []byte) (payload []byte, err error) {
	switch {
	case len(packet) < SDPCM_HEADER_LEN:
		err = errSDPCMShort
	case s.Size != ^s.SizeCom:
		err = errSDPCMSizeComp
	case int(s.Size) != len(packet):
		err = errSDPCMSizeMismatch
	default:
		payload = packet[SDPCM_HEADER_LEN:]
	}
	return payload, err
}

// CDCHeader frames an ioctl request or response on the control channel.
type CDCHeader struct {
	Cmd    SDPCMCommand
	Length uint32
	Flags  uint16 // Kind (get/set), error bit and interface index.
	ID     uint16 // Request id, echoed back by the chip.
	Status uint32 // Chip status. Non-zero means the ioctl was rejected.
}

func DecodeCDCHeader(order binary.ByteOrder, b []byte) (hdr CDCHeader) {
	_ = b[CDC_HEADER_LEN-1]
	hdr.Cmd = SDPCMCommand(order.Uint32(b))
	hdr.Length = order.Uint32(b[4:])
	hdr.Flags = order.Uint16(b[8:])
	hdr.ID = order.Uint16(b[10:])
	hdr.Status = order.Uint32(b[12:])
	return hdr
}

// Put stores the 16 header bytes into dst. Panics if len(dst) < 16.
func (cdc *CDCHeader) Put(order binary.ByteOrder, dst []byte) {
	_ = dst[CDC_HEADER_LEN-1]
	order.PutUint32(dst, uint32(cdc.Cmd))
	order.PutUint32(dst[4:], cdc.Length)
	order.PutUint16(dst[8:], cdc.Flags)
	order.PutUint16(dst[10:], cdc.ID)
	order.PutUint32(dst[12:], cdc.Status)
}

func (cdc CDCHeader) Parse(packet []byte) (payload []byte, err error) {
	if len(packet) < CDC_HEADER_LEN {
		return nil, errCDCShort
	}
	return packet[CDC_HEADER_LEN:], nil
}

// BDCHeader precedes data frames and events on the WLAN data channel.
type BDCHeader struct {
	Flags      uint8 // Protocol version in the upper nibble.
	Priority   uint8
	Flags2     uint8
	DataOffset uint8 // Words between header end and payload start.
}

func (bdc *BDCHeader) Put(b []byte) {
	_ = b[BDC_HEADER_LEN-1]
	b[0] = bdc.Flags
	b[1] = bdc.Priority
	b[2] = bdc.Flags2
	b[3] = bdc.DataOffset
}

func DecodeBDCHeader(b []byte) (hdr BDCHeader) {
	_ = b[BDC_HEADER_LEN-1]
	hdr.Flags = b[0]
	hdr.Priority = b[1]
	hdr.Flags2 = b[2]
	hdr.DataOffset = b[3]
	return hdr
}

// DownloadHeader frames chunks of a resource download such as the CLM
// blob sent via the "clmload" iovar.
type DownloadHeader struct {
	Flags uint16 // DOWNLOAD_FLAG_* bits ored with DOWNLOAD_FLAG_HANDLER_VER.
	Type  uint16
	Len   uint32
	CRC   uint32
}

func (dh *DownloadHeader) Put(order binary.ByteOrder, dst []byte) {
	_ = dst[DL_HEADER_LEN-1]
	order.PutUint16(dst, dh.Flags)
	order.PutUint16(dst[2:], dh.Type)
	order.PutUint32(dst[4:], dh.Len)
	order.PutUint32(dst[8:], dh.CRC)
}

// CountryInfo is the payload of the "country" iovar.
type CountryInfo struct {
	CountryAbbrev [4]byte
	Rev           int32
	CountryCode   [4]byte
}

func (ci *CountryInfo) Put(order binary.ByteOrder, dst []byte) {
	_ = dst[11]
	copy(dst, ci.CountryAbbrev[:])
	order.PutUint32(dst[4:], uint32(ci.Rev))
	copy(dst[8:], ci.CountryCode[:])
}

// NewCountryInfo builds the "country" iovar payload from a 2-letter
// ISO-3166 country abbreviation. Rev -1 lets the CLM pick the revision.
func NewCountryInfo(countryAbbrev string, rev int32) (ci CountryInfo) {
	copy(ci.CountryAbbrev[:], countryAbbrev)
	copy(ci.CountryCode[:], countryAbbrev)
	ci.Rev = rev
	return ci
}

// EtherType of the Broadcom link-control frames that carry async events.
const linkCtlEtherType = 0x886c

// EventHeader is the vendor-specific header following the ethernet header
// in an async event frame.
type EventHeader struct {
	Subtype     uint16
	Length      uint16
	Version     uint8
	OUI         [3]byte
	UserSubtype uint16
}

// EventMessage is the body of an async event. All fields are big-endian
// on the wire, unlike the rest of the protocol.
type EventMessage struct {
	Version   uint16
	Flags     uint16
	EventType AsyncEventType
	Status    EStatus
	Reason    uint32
	AuthType  uint32
	DataLen   uint32
	Addr      [6]byte
	IFName    [16]byte
	IFIdx     uint8
	BSSCfgIdx uint8
}

// EventPacket is a decoded chip async event, the BDC payload of a frame
// received on the event channel.
type EventPacket struct {
	Header  EventHeader
	Message EventMessage
}

// DecodeEventPacket decodes an async event from the BDC payload of an
// event frame. The payload begins with an ethernet header whose
// ethertype must be the Broadcom link-control type.
func DecodeEventPacket(order binary.ByteOrder, buf []byte) (ev EventPacket, err error) {
	const (
		ethLen = 14
		hdrLen = 10
		msgLen = 48
	)
	if len(buf) < ethLen+hdrLen+msgLen {
		return ev, errEventShort
	}
	if order.Uint16(buf[12:]) != linkCtlEtherType {
		return ev, ErrInvalidEtherType
	}
	h := buf[ethLen:]
	ev.Header.Subtype = order.Uint16(h)
	ev.Header.Length = order.Uint16(h[2:])
	ev.Header.Version = h[4]
	copy(ev.Header.OUI[:], h[5:8])
	ev.Header.UserSubtype = order.Uint16(h[8:])

	m := h[hdrLen:]
	ev.Message.Version = order.Uint16(m)
	ev.Message.Flags = order.Uint16(m[2:])
	ev.Message.EventType = AsyncEventType(order.Uint32(m[4:]))
	ev.Message.Status = EStatus(order.Uint32(m[8:]))
	ev.Message.Reason = order.Uint32(m[12:])
	ev.Message.AuthType = order.Uint32(m[16:])
	ev.Message.DataLen = order.Uint32(m[20:])
	copy(ev.Message.Addr[:], m[24:30])
	copy(ev.Message.IFName[:], m[30:46])
	ev.Message.IFIdx = m[46]
	ev.Message.BSSCfgIdx = m[47]
	return ev, nil
}
