package tcpc

import "tinygo.org/x/drivers"

// dev carries the shared TCPCI register access for all variants.
type dev struct {
	i2c  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

func newDev(bus drivers.I2C, addr uint16) dev {
	return dev{i2c: bus, addr: addr}
}

func (d *dev) readByte(reg byte) (byte, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

func (d *dev) writeByte(reg, v byte) error {
	d.w[0] = reg
	d.w[1] = v
	return d.i2c.Tx(d.addr, d.w[:2], nil)
}

// I2C 16-bit word operations (little-endian: LOW then HIGH).

func (d *dev) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

func (d *dev) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val)
	d.w[2] = byte(val >> 8)
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}

func (d *dev) checkVendor(want uint16) error {
	v, err := d.readWord(regVendorID)
	if err != nil {
		return err
	}
	if v != want {
		return ErrVendorMismatch
	}
	return nil
}

// initCommon is the TCPCI bring-up shared by every variant: clear stale
// alerts, unmask the ones the port task handles, default to DRP/Rd.
func (d *dev) initCommon() error {
	if err := d.writeWord(regAlert, 0xFFFF); err != nil {
		return err
	}
	if err := d.writeWord(regAlertMask, alertMaskDefault); err != nil {
		return err
	}
	return d.writeByte(regRoleCtrl, roleCtrlDRPRd)
}

func (d *dev) Alert() (uint16, error) { return d.readWord(regAlert) }

func (d *dev) ClearAlert(mask uint16) error {
	if mask == 0 {
		return nil
	}
	return d.writeWord(regAlert, mask)
}
