package tcpc

// ANX74xx drives Analogix controllers. These parts have a dedicated
// cable-detect pin, so a parked controller can lose its rail entirely and
// still be woken by an attach.
type ANX74xx struct {
	dev
}

func (a *ANX74xx) Kind() Kind { return KindANX74xx }

func (a *ANX74xx) WakesOnCable() bool { return true }

func (a *ANX74xx) Init() error {
	if err := a.checkVendor(vendorAnalogix); err != nil {
		return err
	}
	if err := a.initCommon(); err != nil {
		return err
	}
	// Cable detect covers attach wake; voltage alarms only add noise.
	return a.writeByte(regPowerCtrl, pwrCtrlDisableVoltAlarms)
}

func (a *ANX74xx) EnterLowPower() error {
	if err := a.writeByte(regCommand, cmdLook4Connection); err != nil {
		return err
	}
	return a.writeByte(regCommand, cmdI2CIdle)
}
