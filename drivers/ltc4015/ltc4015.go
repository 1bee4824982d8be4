// Package ltc4015 drives the input side of the LTC4015 buck charger: the
// input current limit, charger suspend and the VIN/IIN telemetry the charge
// port arbiter needs.
//
// I2C/SMBus word protocol, data-low then data-high. Default 7-bit address
// 0b1101000.
package ltc4015

import (
	"errors"

	"tinygo.org/x/drivers"
)

const AddressDefault = 0x68

const (
	regConfigBits      = 0x14 // suspend_charger bit 8, force_meas_sys_on bit 4
	regIinLimitSetting = 0x15
	regVIN             = 0x3B
	regIIN             = 0x3E
	regMeasSysValid    = 0x4A

	cfgSuspendCharger = 1 << 8
	cfgForceMeasSysOn = 1 << 4

	iinLimitMaxCode = 63
	vinLSBuV        = 1648
	currLSBpV       = 1_464_870
)

var ErrNoSense = errors.New("ltc4015: RSNSI_uOhm not set")

type Config struct {
	Address    uint16
	RSNSI_uOhm uint32
}

type Device struct {
	i2c        drivers.I2C
	addr       uint16
	rsnsI_uOhm uint32

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

func New(i2c drivers.I2C, cfg Config) *Device {
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{i2c: i2c, addr: addr, rsnsI_uOhm: cfg.RSNSI_uOhm}
}

// SetIinLimit_mA programs IIN_LIMIT_SETTING: (code+1)*500 µV across RSNSI,
// 0..63. Values between steps round to nearest.
func (d *Device) SetIinLimit_mA(mA int32) error {
	if d.rsnsI_uOhm == 0 {
		return ErrNoSense
	}
	v_uV := (int64(mA) * int64(d.rsnsI_uOhm)) / 1000
	return d.writeWord(regIinLimitSetting, IinLimitCode(v_uV))
}

// IinLimit_mA reads back the programmed input current limit.
func (d *Device) IinLimit_mA() (int32, error) {
	if d.rsnsI_uOhm == 0 {
		return 0, ErrNoSense
	}
	code, err := d.readWord(regIinLimitSetting)
	if err != nil {
		return 0, err
	}
	v_uV := int64(code&iinLimitMaxCode+1) * 500
	return int32(v_uV * 1000 / int64(d.rsnsI_uOhm)), nil
}

// IinLimitCode maps a sense voltage onto the 6-bit limit code.
func IinLimitCode(v_uV int64) uint16 {
	code := (v_uV + 250) / 500
	if code > 0 {
		code--
	}
	if code > iinLimitMaxCode {
		code = iinLimitMaxCode
	}
	return uint16(code)
}

// SetSuspend stops or resumes charging. While suspended the system runs from
// the battery even with an adapter attached.
func (d *Device) SetSuspend(on bool) error {
	if on {
		return d.modify(regConfigBits, cfgSuspendCharger, 0)
	}
	return d.modify(regConfigBits, 0, cfgSuspendCharger)
}

func (d *Device) Suspended() (bool, error) {
	v, err := d.readWord(regConfigBits)
	if err != nil {
		return false, err
	}
	return v&cfgSuspendCharger != 0, nil
}

// SetForceMeasSys keeps the measurement system running with no adapter
// present. Clearing it lets the part drop to its battery-only quiescent
// current.
func (d *Device) SetForceMeasSys(on bool) error {
	if on {
		return d.modify(regConfigBits, cfgForceMeasSysOn, 0)
	}
	return d.modify(regConfigBits, 0, cfgForceMeasSysOn)
}

func (d *Device) VinMilliV() (int32, error) {
	raw, err := d.readWord(regVIN)
	if err != nil {
		return 0, err
	}
	return int32(int64(raw) * vinLSBuV / 1000), nil
}

func (d *Device) IinMilliA() (int32, error) {
	if d.rsnsI_uOhm == 0 {
		return 0, ErrNoSense
	}
	raw, err := d.readWord(regIIN)
	if err != nil {
		return 0, err
	}
	uA := (int64(int16(raw)) * currLSBpV) / int64(d.rsnsI_uOhm)
	return int32(uA / 1000), nil
}

func (d *Device) MeasSystemValid() (bool, error) {
	v, err := d.readWord(regMeasSysValid)
	if err != nil {
		return false, err
	}
	return v&0x0001 != 0, nil
}

func (d *Device) modify(reg byte, set, clear uint16) error {
	cur, err := d.readWord(reg)
	if err != nil {
		return err
	}
	return d.writeWord(reg, (cur|set)&^clear)
}

// I2C 16-bit word operations (little-endian: LOW then HIGH).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val)
	d.w[2] = byte(val >> 8)
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}
