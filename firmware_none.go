//go:build !cy43firmware

package cyw43

// Placeholders when building without the cy43firmware tag, which keeps
// host builds and IDEs fast. DefaultWifiConfig is unusable in this
// configuration; pass firmware explicitly via Config.
const (
	wifiFW = ""
	clmFW  = ""
)
