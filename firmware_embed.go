//go:build cy43firmware

package cyw43

import _ "embed"

// Firmware blobs are not tracked in the repository; place the binaries
// under firmware/ and build with the cy43firmware tag. The blobs ship
// with the pico-sdk and with the Infineon WHD distribution.
var (
	//go:embed firmware/43439A0.bin
	wifiFW string
	//go:embed firmware/43439A0_clm.bin
	clmFW string
)
