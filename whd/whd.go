// Package whd contains the Cypress WHD (Wifi Host Driver) protocol
// definitions shared by the gSPI transport, the control engine and the
// offline trace tooling: register addresses, ioctl command numbers and
// the wire headers of the SDPCM/CDC/BDC framing.
package whd

const (
	SDPCM_HEADER_LEN = 12
	CDC_HEADER_LEN   = 16
	BDC_HEADER_LEN   = 4
	DL_HEADER_LEN    = 12
	EVENT_HEADER_LEN = 48
)

// gSPI function 1 (backplane) window and clock registers.
const (
	SDIO_FUNCTION2_WATERMARK    = 0x10008
	SDIO_BACKPLANE_ADDRESS_LOW  = 0x1000a
	SDIO_BACKPLANE_ADDRESS_MID  = 0x1000b
	SDIO_BACKPLANE_ADDRESS_HIGH = 0x1000c
	SDIO_CHIP_CLOCK_CSR         = 0x1000e
	SDIO_PULL_UP                = 0x1000f
)

// Core base addresses on the Sonics backplane.
const (
	CHIPCOMMON_BASE_ADDRESS  = 0x18000000
	SDIO_BASE_ADDRESS        = 0x18002000
	WLAN_ARMCM3_BASE_ADDRESS = 0x18003000
	SOCSRAM_BASE_ADDRESS     = 0x18004000
	BACKPLANE_ADDR_MASK      = 0x7fff
	WRAPPER_REGISTER_OFFSET  = 0x100000

	SBSDIO_SB_ACCESS_2_4B_FLAG = 0x08000

	CHIPCOMMON_SR_CONTROL1 = CHIPCOMMON_BASE_ADDRESS + 0x508
	SDIO_INT_STATUS        = SDIO_BASE_ADDRESS + 0x20
	SDIO_INT_HOST_MASK     = SDIO_BASE_ADDRESS + 0x24
	SDIO_FUNCTION_INT_MASK = SDIO_BASE_ADDRESS + 0x34
	SDIO_TO_SB_MAILBOX     = SDIO_BASE_ADDRESS + 0x40
	SOCSRAM_BANKX_INDEX    = SOCSRAM_BASE_ADDRESS + 0x10
	SOCSRAM_BANKX_PDA      = SOCSRAM_BASE_ADDRESS + 0x44
)

// SDIO_INT_HOST_MASK bits.
const (
	I_HMB_SW_MASK   = 0x000000f0
	I_HMB_FC_CHANGE = 1 << 5
)

// SDIO_CHIP_CLOCK_CSR bits.
const (
	SBSDIO_FORCE_ALP           = 0x01
	SBSDIO_FORCE_HT            = 0x02
	SBSDIO_ALP_AVAIL_REQ       = 0x08
	SBSDIO_HT_AVAIL_REQ        = 0x10
	SBSDIO_FORCE_HW_CLKREQ_OFF = 0x20
	SBSDIO_ALP_AVAIL           = 0x40
	SBSDIO_HT_AVAIL            = 0x80
)

// AI (AMBA interconnect) core wrapper registers and bits.
const (
	AI_IOCTRL_OFFSET    = 0x408
	SICF_CLOCK_EN       = 0x0001
	SICF_FGC            = 0x0002
	SICF_CPUHALT        = 0x0020
	AI_RESETCTRL_OFFSET = 0x800
	AIRC_RESET          = 1

	SPI_F2_WATERMARK = 32
)

// IoctlInterface selects the wireless interface an ioctl applies to.
type IoctlInterface uint8

const (
	IF_STA IoctlInterface = 0
	IF_AP  IoctlInterface = 1
	IF_P2P IoctlInterface = 2
)

func (i IoctlInterface) IsValid() bool { return i <= IF_P2P }

func (i IoctlInterface) String() (s string) {
	switch i {
	case IF_STA:
		s = "sta"
	case IF_AP:
		s = "ap"
	case IF_P2P:
		s = "p2p"
	default:
		s = "unknown"
	}
	return s
}

// SDPCMHeaderType is the channel number in an SDPCM header, identifying
// what the frame carries.
type SDPCMHeaderType uint8

const (
	SDPCM_CONTROL SDPCMHeaderType = 0
	SDPCM_EVENT   SDPCMHeaderType = 1
	SDPCM_DATA    SDPCMHeaderType = 2
	// SDPCM_UNKNOWN is never on the wire; returned by pollers when no
	// frame was decoded.
	SDPCM_UNKNOWN SDPCMHeaderType = 0xff
)

func (ht SDPCMHeaderType) String() (s string) {
	switch ht {
	case SDPCM_CONTROL:
		s = "ctl"
	case SDPCM_EVENT:
		s = "evt"
	case SDPCM_DATA:
		s = "data"
	default:
		s = "UNKNOWN"
	}
	return s
}

// CDC flag fields.
const (
	CDCF_IOC_ID_SHIFT = 16
	CDCF_IOC_ID_MASK  = 0xffff0000
	CDCF_IOC_IF_SHIFT = 12
	CDCF_IOC_ERROR    = 0x01
)

// Ioctl kinds (CDC flags low bits).
const (
	SDPCM_GET = 0
	SDPCM_SET = 2
)

// SDPCMCommand is a WLC ioctl command number.
type SDPCMCommand uint32

const (
	WLC_UP            SDPCMCommand = 2
	WLC_DOWN          SDPCMCommand = 3
	WLC_SET_INFRA     SDPCMCommand = 20
	WLC_SET_AUTH      SDPCMCommand = 22
	WLC_GET_BSSID     SDPCMCommand = 23
	WLC_GET_SSID      SDPCMCommand = 25
	WLC_SET_SSID      SDPCMCommand = 26
	WLC_SET_CHANNEL   SDPCMCommand = 30
	WLC_DISASSOC      SDPCMCommand = 52
	WLC_GET_ANTDIV    SDPCMCommand = 63
	WLC_SET_ANTDIV    SDPCMCommand = 64
	WLC_SET_DTIMPRD   SDPCMCommand = 78
	WLC_GET_PM        SDPCMCommand = 85
	WLC_SET_PM        SDPCMCommand = 86
	WLC_SET_GMODE     SDPCMCommand = 110
	WLC_SET_AP        SDPCMCommand = 118
	WLC_SET_WSEC      SDPCMCommand = 134
	WLC_SET_BAND      SDPCMCommand = 142
	WLC_GET_ASSOCLIST SDPCMCommand = 159
	WLC_SET_WPA_AUTH  SDPCMCommand = 165
	WLC_GET_VAR       SDPCMCommand = 262
	WLC_SET_VAR       SDPCMCommand = 263
	WLC_SET_WSEC_PMK  SDPCMCommand = 268
)

// IsValid checks the command is among the known WLC ioctls.
func (cmd SDPCMCommand) IsValid() bool {
	switch cmd {
	case WLC_UP, WLC_DOWN, WLC_SET_INFRA, WLC_SET_AUTH, WLC_GET_BSSID,
		WLC_GET_SSID, WLC_SET_SSID, WLC_SET_CHANNEL, WLC_DISASSOC,
		WLC_GET_ANTDIV, WLC_SET_ANTDIV, WLC_SET_DTIMPRD, WLC_GET_PM,
		WLC_SET_PM, WLC_SET_GMODE, WLC_SET_AP, WLC_SET_WSEC, WLC_SET_BAND,
		WLC_GET_ASSOCLIST, WLC_SET_WPA_AUTH, WLC_GET_VAR, WLC_SET_VAR,
		WLC_SET_WSEC_PMK:
		return true
	}
	return false
}

func (cmd SDPCMCommand) String() (s string) {
	switch cmd {
	case WLC_UP:
		s = "WLC_UP"
	case WLC_DOWN:
		s = "WLC_DOWN"
	case WLC_SET_INFRA:
		s = "WLC_SET_INFRA"
	case WLC_SET_AUTH:
		s = "WLC_SET_AUTH"
	case WLC_GET_BSSID:
		s = "WLC_GET_BSSID"
	case WLC_GET_SSID:
		s = "WLC_GET_SSID"
	case WLC_SET_SSID:
		s = "WLC_SET_SSID"
	case WLC_SET_CHANNEL:
		s = "WLC_SET_CHANNEL"
	case WLC_DISASSOC:
		s = "WLC_DISASSOC"
	case WLC_GET_ANTDIV:
		s = "WLC_GET_ANTDIV"
	case WLC_SET_ANTDIV:
		s = "WLC_SET_ANTDIV"
	case WLC_SET_DTIMPRD:
		s = "WLC_SET_DTIMPRD"
	case WLC_GET_PM:
		s = "WLC_GET_PM"
	case WLC_SET_PM:
		s = "WLC_SET_PM"
	case WLC_SET_GMODE:
		s = "WLC_SET_GMODE"
	case WLC_SET_AP:
		s = "WLC_SET_AP"
	case WLC_SET_WSEC:
		s = "WLC_SET_WSEC"
	case WLC_SET_BAND:
		s = "WLC_SET_BAND"
	case WLC_GET_ASSOCLIST:
		s = "WLC_GET_ASSOCLIST"
	case WLC_SET_WPA_AUTH:
		s = "WLC_SET_WPA_AUTH"
	case WLC_GET_VAR:
		s = "WLC_GET_VAR"
	case WLC_SET_VAR:
		s = "WLC_SET_VAR"
	case WLC_SET_WSEC_PMK:
		s = "WLC_SET_WSEC_PMK"
	default:
		s = "unknown"
	}
	return s
}

// Security parameters for WLC_SET_WSEC, WLC_SET_AUTH and WLC_SET_WPA_AUTH.
const (
	WSEC_OPEN = 0
	WSEC_WEP  = 1
	WSEC_TKIP = 2
	WSEC_AES  = 4

	AUTH_OPEN       = 0
	AUTH_SHARED_KEY = 1
	AUTH_SAE        = 3

	WPA_AUTH_DISABLED     = 0
	WPA_AUTH_WPA_PSK      = 4
	WPA_AUTH_WPA2_PSK     = 0x80
	WPA_AUTH_WPA3_SAE_PSK = 0x40000

	MFP_NONE     = 0
	MFP_CAPABLE  = 1
	MFP_REQUIRED = 2
)

// Download header flags and types for the "clmload" iovar.
const (
	DOWNLOAD_FLAG_BEGIN       = 0x0002
	DOWNLOAD_FLAG_END         = 0x0004
	DOWNLOAD_FLAG_HANDLER_VER = 0x1000

	DOWNLOAD_TYPE_CLM = 2
)
