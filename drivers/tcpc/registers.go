package tcpc

// TCPCI register map subset (little-endian 16-bit words where noted).
const (
	regVendorID  = 0x00 // word
	regAlert     = 0x10 // word, write-1-to-clear
	regAlertMask = 0x12 // word
	regRoleCtrl  = 0x1A
	regPowerCtrl = 0x1C
	regCommand   = 0x23
)

// ALERT bits.
const (
	AlertCCStatus     uint16 = 1 << 0
	AlertPowerStatus  uint16 = 1 << 1
	AlertRxStatus     uint16 = 1 << 2
	AlertRxHardReset  uint16 = 1 << 3
	AlertTxFailed     uint16 = 1 << 4
	AlertTxDiscarded  uint16 = 1 << 5
	AlertTxSuccess    uint16 = 1 << 6
	AlertVbusAlarmHi  uint16 = 1 << 7
	AlertVbusAlarmLo  uint16 = 1 << 8
	AlertFault        uint16 = 1 << 9
	AlertRxBufOvf     uint16 = 1 << 10
	AlertVbusSinkDisc uint16 = 1 << 11

	alertMaskDefault = AlertCCStatus | AlertPowerStatus | AlertRxStatus |
		AlertRxHardReset | AlertTxFailed | AlertTxDiscarded | AlertTxSuccess |
		AlertFault | AlertVbusSinkDisc
)

// COMMAND values.
const (
	cmdLook4Connection = 0x99
	cmdI2CIdle         = 0xFF
)

// POWER_CTRL bits.
const (
	pwrCtrlDisableVoltAlarms = 1 << 5
	pwrCtrlAutoDischargeDisc = 1 << 4
)

// ROLE_CTRL: DRP with Rd on both CC lines, the dead-battery-safe default.
const roleCtrlDRPRd = 0x4A

// USB-IF vendor ids reported in VENDOR_ID.
const (
	vendorAnalogix = 0x1F29
	vendorParade   = 0x1DA0
)
