package cyw43

// WLC control-plane operations: CLM download, country and radio
// configuration, join/AP flows and power management.

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"log/slog"

	"github.com/pico-go/cyw43/whd"
)

var (
	errJoinSetSSID = errors.New("join:SET_SSID failed")
	errJoinGeneric = errors.New("join:failed")
)

// JoinAuth specifies the authentication method for joining a WiFi network.
type JoinAuth uint8

const (
	joinAuthUndefined JoinAuth = iota
	JoinAuthOpen
	JoinAuthWPA
	JoinAuthWPA2
	JoinAuthWPA3
	JoinAuthWPA2WPA3
)

// JoinOptions configures WiFi connection parameters.
type JoinOptions struct {
	// Auth specifies the authentication method. When left zero the
	// implementation chooses WPA2 if a passphrase is set, Open otherwise.
	Auth JoinAuth
	// CipherNoAES disables the AES cipher.
	CipherNoAES bool
	// CipherTKIP enables the TKIP cipher. Default is false.
	CipherTKIP bool
	// Passphrase is the WiFi password.
	Passphrase string
}

// clmLoad pushes the country locale matrix blob to the firmware in
// 1KiB chunks over the "clmload" iovar and verifies the download status.
func (d *Device) clmLoad(clm string) error {
	d.debug("clmLoad", slog.Int("clm_len", len(clm)))
	const chunkSize = 1024
	remaining := clm
	offset := 0

	buf8 := u32AsU8(d._iovarBuf[:])[:chunkSize+20]

	for len(remaining) > 0 {
		chunk := remaining[:min(len(remaining), chunkSize)]
		remaining = remaining[len(chunk):]
		var flags uint16 = whd.DOWNLOAD_FLAG_HANDLER_VER
		if offset == 0 {
			flags |= whd.DOWNLOAD_FLAG_BEGIN
		}
		offset += len(chunk)
		if offset == len(clm) {
			flags |= whd.DOWNLOAD_FLAG_END
		}
		header := whd.DownloadHeader{ // No CRC.
			Flags: flags,
			Type:  whd.DOWNLOAD_TYPE_CLM,
			Len:   uint32(len(chunk)),
		}
		n := copy(buf8[:8], "clmload\x00")
		header.Put(_busOrder, buf8[8:20])
		n += whd.DL_HEADER_LEN
		n += copy(buf8[20:], chunk)

		err := d.doIoctlSet(whd.WLC_SET_VAR, whd.IF_STA, buf8[:n])
		if err != nil {
			return err
		}
	}
	d.debug("clmload:done")
	v, err := d.get_iovar("clmload_status", whd.IF_STA)
	if v != 0 || err != nil {
		return errjoin(errors.New("clmload_status failed"), err)
	}
	return nil
}

// initControl brings up the WLC control plane after firmware boot: CLM
// download, radio defaults, event subscription and the WLC_UP sequence.
func (d *Device) initControl(clm, country string) error {
	err := d.clmLoad(clm)
	if err != nil {
		return err
	}
	// Disable tx gloming which transfers multiple packets in one request.
	// 'glom' is short for "conglomerate" which means "gather together into
	// a compact mass".
	d.set_iovar("bus:txglom", whd.IF_STA, 0)
	d.set_iovar("apsta", whd.IF_STA, 1)

	// Read MAC address.
	d.get_iovar_n("cur_etheraddr", whd.IF_STA, d.mac[:6])
	d.debug("MAC", slog.String("mac", d.hwaddr().String()))

	countryInfo := whd.NewCountryInfo(country, -1)
	var cbuf [12]byte
	countryInfo.Put(_busOrder, cbuf[:])
	d.set_iovar_n("country", whd.IF_STA, cbuf[:])

	// Setting the country takes some time, next ioctls fail if we don't wait.
	time.Sleep(100 * time.Millisecond)

	// Set antenna to chip antenna.
	d.set_ioctl(whd.WLC_SET_ANTDIV, whd.IF_STA, 0)

	d.set_iovar("bus:txglom", whd.IF_STA, 0)
	time.Sleep(100 * time.Millisecond)

	d.set_iovar("ampdu_ba_wsize", whd.IF_STA, 8)
	time.Sleep(100 * time.Millisecond)

	d.set_iovar("ampdu_mpdu", whd.IF_STA, 4)
	time.Sleep(100 * time.Millisecond)

	// Ignore uninteresting/spammy events.
	var evts eventMask
	for i := range evts.events {
		evts.events[i] = 0xff
	}
	evts.Disable(whd.EvRADIO)
	evts.Disable(whd.EvIF)
	evts.Disable(whd.EvPROBREQ_MSG)
	evts.Disable(whd.EvPROBREQ_MSG_RX)
	evts.Disable(whd.EvPROBRESP_MSG)
	evts.Disable(whd.EvROAM)
	buf := make([]byte, evts.Size())
	evts.Put(buf)
	d.set_iovar_n("bsscfg:event_msgs", whd.IF_STA, buf)
	d.eventmask = evts

	time.Sleep(100 * time.Millisecond)

	// Set wifi up.
	err = d.doIoctlSet(whd.WLC_UP, whd.IF_STA, nil)
	if err != nil {
		return err
	}

	time.Sleep(100 * time.Millisecond)

	d.set_ioctl(whd.WLC_SET_GMODE, whd.IF_STA, 1) // Set GMODE=auto.
	d.set_ioctl(whd.WLC_SET_BAND, whd.IF_STA, 0)  // Set BAND=any.

	time.Sleep(100 * time.Millisecond)
	return nil
}

func (d *Device) hwaddr() net.HardwareAddr {
	return net.HardwareAddr(d.mac[:6])
}

// SetPowerManagement configures the chip's power saving mode. Mode
// PowerSave is applied at Init.
func (d *Device) SetPowerManagement(mode powerManagementMode) error {
	d.acquire()
	defer d.release()
	if d.state < StateLinkDown {
		return errors.New("device not initialized")
	}
	return d.set_power_management(mode)
}

func (d *Device) set_power_management(mode powerManagementMode) error {
	d.debug("set_power_management", slog.String("mode", mode.String()))
	if !mode.IsValid() {
		return errors.New("invalid power management mode")
	}
	mode_num := mode.mode()
	if mode_num == 2 {
		d.set_iovar("pm2_sleep_ret", whd.IF_STA, uint32(mode.sleep_ret_ms()))
		d.set_iovar("bcn_li_bcn", whd.IF_STA, uint32(mode.beacon_period()))
		d.set_iovar("bcn_li_dtim", whd.IF_STA, uint32(mode.dtim_period()))
		d.set_iovar("assoc_listen", whd.IF_STA, uint32(mode.assoc()))
	}
	return d.set_ioctl(whd.WLC_SET_PM, whd.IF_STA, uint32(mode_num))
}

// GPIOSet sets a chip GPIO, notably pin 0 which drives the Pico W's
// onboard LED.
func (d *Device) GPIOSet(wlGPIO uint8, value bool) (err error) {
	if wlGPIO >= 3 {
		return errors.New("gpio out of range")
	}
	val0 := uint32(1) << wlGPIO
	var val1 uint32
	if value {
		val1 = val0
	}
	d.acquire()
	defer d.release()
	if d.state < StateLinkDown {
		return errors.New("device not initialized")
	}
	return d.set_iovar2("gpioout", whd.IF_STA, val0, val1)
}

// join_open connects to an open (unencrypted) WiFi network.
func (d *Device) join_open(ssid string) error {
	d.debug("join_open", slog.String("ssid", ssid))
	if len(ssid) > 32 {
		return errors.New("ssid too long")
	}
	d.set_iovar("ampdu_ba_wsize", whd.IF_STA, 8)
	d.set_ioctl(whd.WLC_SET_WSEC, whd.IF_STA, whd.WSEC_OPEN)
	d.set_iovar2("bsscfg:sup_wpa", whd.IF_STA, 0, 0)
	d.set_ioctl(whd.WLC_SET_INFRA, whd.IF_STA, 1)
	d.set_ioctl(whd.WLC_SET_AUTH, whd.IF_STA, whd.AUTH_OPEN)
	d.set_ioctl(whd.WLC_SET_WPA_AUTH, whd.IF_STA, whd.WPA_AUTH_DISABLED)

	return d.wait_for_join(ssid)
}

// wait_for_join issues the SET_SSID ioctl which starts the association
// and then polls for the async events that resolve it. Success is
// signalled by a SET_SSID event with status 0 after auth completed.
func (d *Device) wait_for_join(ssid string) (err error) {
	d.eventmask.Enable(whd.EvSET_SSID)
	d.eventmask.Enable(whd.EvAUTH)
	d.eventmask.Enable(whd.EvJOIN)
	d.eventmask.Enable(whd.EvPSK_SUP)

	err = d.setSSID(ssid)
	if err != nil {
		return err
	}
	// Poll for async events.
	deadline := time.Now().Add(10 * time.Second)
	keepGoing := true
	for keepGoing {
		time.Sleep(270 * time.Millisecond)
		_, err = d.check_status(d._sendIoctlBuf[:])
		if err != nil {
			return err
		}
		// Keep trying while still waiting for events to resolve the join.
		keepGoing = (d.join == joinStateDown || d.join == joinStateUpWaitForSSID) &&
			time.Until(deadline) > 0
	}
	switch d.join {
	case joinStateUp:
		// Begin listening in for link change/down events.
		d.eventmask.Enable(whd.EvLINK)
		d.eventmask.Enable(whd.EvDISASSOC)
		d.eventmask.Enable(whd.EvDEAUTH)
		d.setJoin(joinStateUp) // Derive StateLinkUp.

	case joinStateFailed:
		err = errJoinSetSSID
	case joinStateAuthFailed:
		err = errjoin(errJoinGeneric, errors.New("auth failure"))
	default:
		err = errJoinGeneric // Timed out without resolving.
	}
	return err
}

type passphraseInfo struct {
	length     uint16
	flags      uint16
	passphrase [64]byte
}

func (p *passphraseInfo) Put(order binary.ByteOrder, b []byte) {
	order.PutUint16(b[0:2], p.length)
	order.PutUint16(b[2:4], p.flags)
	copy(b[4:68], p.passphrase[:])
}

func (d *Device) setPassphrase(pass string) error {
	if len(pass) > 64 {
		return errors.New("passphrase too long")
	}

	var pfi = passphraseInfo{
		length: uint16(len(pass)),
		flags:  1,
	}
	copy(pfi.passphrase[:], pass)

	var buf [68]byte
	pfi.Put(_busOrder, buf[:])

	return d.doIoctlSet(whd.WLC_SET_WSEC_PMK, whd.IF_STA, buf[:])
}

// setSaePassword sets the SAE (WPA3) password via the "sae_password"
// iovar. The full 130-byte struct goes on the wire regardless of the
// password length.
func (d *Device) setSaePassword(pass string) error {
	if len(pass) > 128 {
		return errors.New("sae password too long")
	}
	var buf [2 + 128]byte
	_busOrder.PutUint16(buf[0:2], uint16(len(pass)))
	copy(buf[2:], pass)
	return d.set_iovar_n("sae_password", whd.IF_STA, buf[:])
}

type ssidInfo struct {
	length uint32
	ssid   [32]byte
}

func (s *ssidInfo) put(order binary.ByteOrder, b []byte) {
	order.PutUint32(b[0:4], s.length)
	copy(b[4:36], s.ssid[:])
}

// setSSID sets the SSID through the ioctl interface. This command also
// starts the wifi connect procedure.
func (d *Device) setSSID(ssid string) error {
	if len(ssid) > 32 {
		return errors.New("ssid too long")
	}

	var info = ssidInfo{
		length: uint32(len(ssid)),
	}
	copy(info.ssid[:], ssid)

	var buf [36]byte
	info.put(_busOrder, buf[:])
	d.setJoin(joinStateDown)
	return d.doIoctlSet(whd.WLC_SET_SSID, whd.IF_STA, buf[:])
}

type ssidInfoWithIndex struct {
	index uint32
	info  ssidInfo
}

func (s *ssidInfoWithIndex) Put(order binary.ByteOrder, b []byte) {
	order.PutUint32(b[0:4], s.index)
	s.info.put(order, b[4:40])
}

func (d *Device) setSSIDWithIndex(ssid string, index uint32) error {
	if len(ssid) > 32 {
		return errors.New("ssid too long")
	}

	var infoIndex = ssidInfoWithIndex{
		index: index,
		info: ssidInfo{
			length: uint32(len(ssid)),
		},
	}
	copy(infoIndex.info.ssid[:], ssid)

	var buf [40]byte
	infoIndex.Put(_busOrder, buf[:])

	return d.set_iovar_n("bsscfg:ssid", whd.IF_STA, buf[:])
}

// IsLinkUp returns true if the wifi connection is up.
func (d *Device) IsLinkUp() bool {
	return d.LinkState()
}

// Join connects to a WiFi network using the specified options.
// For WPA2/WPA3 networks, provide a passphrase in options.
// For open networks, use JoinAuthOpen with an empty passphrase.
func (d *Device) Join(ssid string, options JoinOptions) error {
	d.acquire()
	defer d.release()
	switch d.state {
	case StateFaulted:
		return ErrFaulted
	case StateUninitialized, StateFirmwareLoading, StateBackplaneReady:
		return errors.New("device not ready to join")
	}
	if options.Auth == joinAuthUndefined || options.Auth > JoinAuthWPA2WPA3 {
		options.Auth = JoinAuthOpen
		if options.Passphrase != "" {
			options.Auth = JoinAuthWPA2
		}
	}
	if options.Auth == JoinAuthOpen {
		return d.join_open(ssid)
	}
	d.info("join", slog.String("ssid", ssid), slog.Int("auth", int(options.Auth)), slog.Int("passlen", len(options.Passphrase)))
	if err := d.set_iovar("ampdu_ba_wsize", whd.IF_STA, 8); err != nil {
		return err
	}

	// Set WSEC (wireless security) based on cipher options.
	var wsec uint32
	if !options.CipherNoAES {
		wsec |= whd.WSEC_AES
	}
	if options.CipherTKIP {
		wsec |= whd.WSEC_TKIP
	}
	if err := d.set_ioctl(whd.WLC_SET_WSEC, whd.IF_STA, wsec); err != nil {
		return err
	}
	if err := d.set_iovar2("bsscfg:sup_wpa", whd.IF_STA, 0, 1); err != nil {
		return err
	}
	if err := d.set_iovar2("bsscfg:sup_wpa2_eapver", whd.IF_STA, 0, 0xffff_ffff); err != nil {
		return err
	}
	if err := d.set_iovar2("bsscfg:sup_wpa_tmo", whd.IF_STA, 0, 2500); err != nil {
		return err
	}

	time.Sleep(100 * time.Millisecond)

	// Set passphrase for WPA/WPA2.
	if options.Auth == JoinAuthWPA || options.Auth == JoinAuthWPA2 || options.Auth == JoinAuthWPA2WPA3 {
		time.Sleep(3 * time.Millisecond)
		if err := d.setPassphrase(options.Passphrase); err != nil {
			return err
		}
	}

	// Set SAE password for WPA3 modes.
	if options.Auth == JoinAuthWPA3 || options.Auth == JoinAuthWPA2WPA3 {
		time.Sleep(3 * time.Millisecond)
		if err := d.setSaePassword(options.Passphrase); err != nil {
			return err
		}
	}

	if err := d.set_ioctl(whd.WLC_SET_INFRA, whd.IF_STA, 1); err != nil {
		return err
	}

	// Set auth type.
	var auth uint32 = whd.AUTH_OPEN
	if options.Auth == JoinAuthWPA3 || options.Auth == JoinAuthWPA2WPA3 {
		auth = whd.AUTH_SAE
	}
	if err := d.set_ioctl(whd.WLC_SET_AUTH, whd.IF_STA, auth); err != nil {
		return err
	}

	// Management frame protection follows the auth type.
	var mfp uint32 = whd.MFP_NONE
	switch options.Auth {
	case JoinAuthWPA2, JoinAuthWPA2WPA3:
		mfp = whd.MFP_CAPABLE
	case JoinAuthWPA3:
		mfp = whd.MFP_REQUIRED
	}
	if err := d.set_iovar("mfp", whd.IF_STA, mfp); err != nil {
		return err
	}

	// Set WPA auth mode.
	var wpaAuth uint32
	switch options.Auth {
	case JoinAuthWPA:
		wpaAuth = whd.WPA_AUTH_WPA_PSK
	case JoinAuthWPA2:
		wpaAuth = whd.WPA_AUTH_WPA2_PSK
	case JoinAuthWPA3, JoinAuthWPA2WPA3:
		wpaAuth = whd.WPA_AUTH_WPA3_SAE_PSK
	}
	if err := d.set_ioctl(whd.WLC_SET_WPA_AUTH, whd.IF_STA, wpaAuth); err != nil {
		return err
	}

	return d.wait_for_join(ssid)
}

// Disconnect drops the current association. The device returns to
// StateLinkDown and may Join again.
func (d *Device) Disconnect() error {
	d.acquire()
	defer d.release()
	if d.state != StateLinkUp && d.state != StateLinkDown {
		return errors.New("device not operational")
	}
	err := d.doIoctlSet(whd.WLC_DISASSOC, whd.IF_STA, nil)
	d.setJoin(joinStateDown)
	return err
}

// WPA2 passphrase length limits enforced by the firmware.
const (
	minPassLen = 8
	maxPassLen = 63
)

// StartAP starts an open or WPA2 access point on the given channel. An
// empty passphrase starts an open network.
func (d *Device) StartAP(ssid, pass string, channel uint8) error {
	d.acquire()
	defer d.release()
	switch d.state {
	case StateFaulted:
		return ErrFaulted
	case StateUninitialized, StateFirmwareLoading, StateBackplaneReady:
		return errors.New("device not ready for AP mode")
	}

	var security uint32 = whd.WSEC_OPEN
	if pass != "" {
		if len(pass) < minPassLen || len(pass) > maxPassLen {
			return errors.New("passphrase is too short or too long")
		}
		security = whd.WSEC_AES
	}

	// Temporarily set wifi down.
	if err := d.doIoctlSet(whd.WLC_DOWN, whd.IF_STA, nil); err != nil {
		return err
	}

	// Turn off APSTA mode.
	if err := d.set_iovar("apsta", whd.IF_STA, 0); err != nil {
		return err
	}

	// Set wifi up again.
	if err := d.doIoctlSet(whd.WLC_UP, whd.IF_STA, nil); err != nil {
		return err
	}

	// Turn on AP mode.
	if err := d.set_ioctl(whd.WLC_SET_AP, whd.IF_STA, 1); err != nil {
		return err
	}

	// Set SSID.
	if err := d.setSSIDWithIndex(ssid, 0); err != nil {
		return err
	}

	// Set channel number.
	if err := d.set_ioctl(whd.WLC_SET_CHANNEL, whd.IF_STA, uint32(channel)); err != nil {
		return err
	}

	// Set security.
	if err := d.set_iovar2("bsscfg:wsec", whd.IF_STA, 0, security&0xff); err != nil {
		return err
	}

	if security != whd.WSEC_OPEN {
		// wpa_auth = WPA2_AUTH_PSK | WPA_AUTH_PSK
		if err := d.set_iovar2("bsscfg:wpa_auth", whd.IF_STA, 0,
			whd.WPA_AUTH_WPA_PSK|whd.WPA_AUTH_WPA2_PSK); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
		// Set passphrase.
		if err := d.setPassphrase(pass); err != nil {
			return err
		}
	}

	// Change multicast rate from 1 Mbps to 11 Mbps.
	if err := d.set_iovar("2g_mrate", whd.IF_STA, 11000000/500000); err != nil {
		return err
	}

	// Start AP (bss = BSS_UP).
	if err := d.set_iovar2("bss", whd.IF_STA, 0, 1); err != nil {
		return err
	}

	return nil
}
