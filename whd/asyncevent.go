package whd

// AsyncEventType identifies an async event reported by the chip on the
// event channel. The numbering is fixed by the firmware; only the events
// the driver subscribes to or filters are named here.
type AsyncEventType uint32

const (
	// Status of a set SSID request, terminal event of a join attempt.
	EvSET_SSID AsyncEventType = 0
	// Joined an IBSS or infrastructure BSS.
	EvJOIN AsyncEventType = 1
	// STA founded an IBSS or AP started a BSS.
	EvSTART AsyncEventType = 2
	// 802.11 AUTH request.
	EvAUTH AsyncEventType = 3
	// 802.11 AUTH indication.
	EvAUTH_IND AsyncEventType = 4
	// 802.11 DEAUTH request.
	EvDEAUTH AsyncEventType = 5
	// 802.11 DEAUTH indication.
	EvDEAUTH_IND AsyncEventType = 6
	// 802.11 ASSOC request.
	EvASSOC AsyncEventType = 7
	// 802.11 ASSOC indication.
	EvASSOC_IND AsyncEventType = 8
	// 802.11 REASSOC request.
	EvREASSOC AsyncEventType = 9
	// 802.11 REASSOC indication.
	EvREASSOC_IND AsyncEventType = 10
	// 802.11 DISASSOC request.
	EvDISASSOC AsyncEventType = 11
	// 802.11 DISASSOC indication.
	EvDISASSOC_IND AsyncEventType = 12
	// Beacons received/lost indication.
	EvBEACON_RX AsyncEventType = 15
	// Generic link indication.
	EvLINK AsyncEventType = 16
	// TKIP MIC error.
	EvMIC_ERROR AsyncEventType = 17
	// Roam attempt occurred, carries status and reason.
	EvROAM AsyncEventType = 19
	// Change in dot11FailedCount.
	EvTXFAIL AsyncEventType = 20
	// AP pruned from the join list.
	EvPRUNE AsyncEventType = 23
	// Encapsulated EAPOL message.
	EvEAPOL_MSG AsyncEventType = 25
	// Scan finished or was aborted.
	EvSCAN_COMPLETE AsyncEventType = 26
	// Before a roam attempt.
	EvROAM_PREP AsyncEventType = 32
	// Radio state change.
	EvRADIO AsyncEventType = 40
	// PSM microcode watchdog fired.
	EvPSM_WATCHDOG AsyncEventType = 41
	// Probe request received.
	EvPROBREQ_MSG AsyncEventType = 44
	// WPA handshake progress.
	EvPSK_SUP AsyncEventType = 46
	// WEP ICV error.
	EvICV_ERROR AsyncEventType = 49
	// Interface change notification.
	EvIF AsyncEventType = 54
	// RSSI crossed a configured level.
	EvRSSI AsyncEventType = 56
	// Action frame received.
	EvACTION_FRAME AsyncEventType = 59
	// Action frame transmit complete.
	EvACTION_FRAME_COMPLETE AsyncEventType = 60
	// AP started.
	EvAP_STARTED AsyncEventType = 64
	// Escan partial/complete result.
	EvESCAN_RESULT AsyncEventType = 69
	// Off-channel action frame complete.
	EvACTION_FRAME_OFF_CHAN_COMPLETE AsyncEventType = 70
	// Probe response received.
	EvPROBRESP_MSG AsyncEventType = 71
	// P2P probe request received.
	EvP2P_PROBREQ_MSG AsyncEventType = 72
	// Credits for the D11 FIFOs.
	EvFIFO_CREDIT_MAP AsyncEventType = 74
	// Action frame received with rx frame data header.
	EvACTION_FRAME_RX AsyncEventType = 75
	EvCSA_COMPLETE_IND AsyncEventType = 80
	EvASSOC_REQ_IE     AsyncEventType = 87
	EvASSOC_RESP_IE    AsyncEventType = 88
	// Authentication request received.
	EvAUTH_REQ AsyncEventType = 91
	// STA authorized for traffic.
	EvAUTHORIZED AsyncEventType = 136
	// Probe request with rx frame data header.
	EvPROBREQ_MSG_RX AsyncEventType = 137
	// External authentication (SAE) request.
	EvEXT_AUTH_REQ AsyncEventType = 187
	// External authentication frame received.
	EvEXT_AUTH_FRAME_RX AsyncEventType = 188
	// Management frame transmit status.
	EvMGMT_FRAME_TXSTATUS AsyncEventType = 189
	// Highest value + 1, for range checking and mask sizing.
	EvLAST AsyncEventType = 190
)

func (ev AsyncEventType) String() (s string) {
	switch ev {
	case EvSET_SSID:
		s = "SET_SSID"
	case EvJOIN:
		s = "JOIN"
	case EvSTART:
		s = "START"
	case EvAUTH:
		s = "AUTH"
	case EvAUTH_IND:
		s = "AUTH_IND"
	case EvDEAUTH:
		s = "DEAUTH"
	case EvDEAUTH_IND:
		s = "DEAUTH_IND"
	case EvASSOC:
		s = "ASSOC"
	case EvASSOC_IND:
		s = "ASSOC_IND"
	case EvDISASSOC:
		s = "DISASSOC"
	case EvDISASSOC_IND:
		s = "DISASSOC_IND"
	case EvLINK:
		s = "LINK"
	case EvROAM:
		s = "ROAM"
	case EvEAPOL_MSG:
		s = "EAPOL_MSG"
	case EvSCAN_COMPLETE:
		s = "SCAN_COMPLETE"
	case EvPSK_SUP:
		s = "PSK_SUP"
	case EvAP_STARTED:
		s = "AP_STARTED"
	case EvESCAN_RESULT:
		s = "ESCAN_RESULT"
	case EvAUTHORIZED:
		s = "AUTHORIZED"
	case EvEXT_AUTH_REQ:
		s = "EXT_AUTH_REQ"
	default:
		s = "Ev(" + itoa(uint32(ev)) + ")"
	}
	return s
}

// itoa avoids pulling strconv into tiny builds for a debug string.
func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// EStatus is the status field of an async event message.
type EStatus uint32

const (
	// Operation succeeded.
	EStatusSuccess EStatus = 0
	// Operation failed.
	EStatusFail EStatus = 1
	// Operation timed out.
	EStatusTimeout EStatus = 2
	// No matching network found.
	EStatusNoNetworks EStatus = 3
	// Operation aborted.
	EStatusAbort EStatus = 4
	// Protocol failure, packet not acked.
	EStatusNoAck EStatus = 5
	// AUTH or ASSOC packet was unsolicited. For PSK_SUP events this
	// value means the key exchange completed (WLC_SUP_KEYED).
	EStatusUnsolicited EStatus = 6
	// Attempt to associate to an auto-auth configuration.
	EStatusAttempt EStatus = 7
	// Scan results are incomplete.
	EStatusPartial EStatus = 8
	// Scan aborted by another scan.
	EStatusNewscan EStatus = 9
	// Scan aborted by an association in progress.
	EStatusNewassoc EStatus = 10
	// 802.11h quiet period started.
	EStatus11hQuiet EStatus = 11
	// Scanning disabled by the user.
	EStatusSuppress EStatus = 12
	// No allowable channels to scan.
	EStatusNochans EStatus = 13
	// Scan aborted due to CCX fast roam.
	EStatusCcxFastRoam EStatus = 14
	// Channel select aborted.
	EStatusCsAbort EStatus = 15
)

func (es EStatus) String() (s string) {
	switch es {
	case EStatusSuccess:
		s = "success"
	case EStatusFail:
		s = "fail"
	case EStatusTimeout:
		s = "timeout"
	case EStatusNoNetworks:
		s = "no-networks"
	case EStatusAbort:
		s = "abort"
	case EStatusNoAck:
		s = "no-ack"
	case EStatusUnsolicited:
		s = "unsolicited"
	case EStatusPartial:
		s = "partial"
	default:
		s = "EStatus(" + itoa(uint32(es)) + ")"
	}
	return s
}
