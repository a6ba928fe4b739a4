package cyw43

type powerManagementMode uint8

const (
	// Custom, officially unsupported mode. Use at your own risk.
	// All power-saving features set to their max at only a marginal decrease in power consumption
	// as opposed to `Aggressive`.
	SuperSave powerManagementMode = iota

	// Aggressive power saving mode.
	Aggressive

	// The default mode.
	PowerSave

	// Performance is preferred over power consumption but still some power is conserved as opposed to
	// `None`.
	Performance

	// Unlike all the other PM modes, this lowers the power consumption at all times at the cost of
	// a much lower throughput.
	ThroughputThrottling

	// No power management is configured. This consumes the most power.
	None
)

func (pm powerManagementMode) IsValid() bool {
	return pm <= None
}

func (pm powerManagementMode) String() string {
	switch pm {
	case SuperSave:
		return "SuperSave"
	case Aggressive:
		return "Aggressive"
	case PowerSave:
		return "PowerSave"
	case Performance:
		return "Performance"
	case ThroughputThrottling:
		return "ThroughputThrottling"
	case None:
		return "None"
	default:
		return "unknown"
	}
}

func (pm powerManagementMode) sleep_ret_ms() uint16 {
	switch pm {
	case SuperSave:
		return 2000
	case Aggressive:
		return 2000
	case PowerSave:
		return 200
	case Performance:
		return 20
	default: // ThroughputThrottling, None
		return 0 // value doesn't matter
	}
}

func (pm powerManagementMode) beacon_period() uint8 {
	switch pm {
	case SuperSave:
		return 255
	case Aggressive, PowerSave, Performance:
		return 1
	default: // ThroughputThrottling, None
		return 0 // value doesn't matter
	}
}

func (pm powerManagementMode) dtim_period() uint8 {
	switch pm {
	case SuperSave:
		return 255
	case Aggressive, PowerSave, Performance:
		return 1
	default: // ThroughputThrottling, None
		return 0 // value doesn't matter
	}
}

func (pm powerManagementMode) assoc() uint8 {
	switch pm {
	case SuperSave:
		return 255
	case Aggressive, PowerSave:
		return 10
	case Performance:
		return 1
	default: // ThroughputThrottling, None
		return 0 // value doesn't matter
	}
}

// mode returns the WHD's internal mode number.
func (pm powerManagementMode) mode() uint8 {
	switch pm {
	case ThroughputThrottling:
		return 1
	case None:
		return 0
	default:
		return 2
	}
}
