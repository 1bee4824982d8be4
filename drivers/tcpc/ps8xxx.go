package tcpc

// PS8xxx drives Parade controllers. They have no cable-detect wake pin and
// keep auto-discharge on disconnect enabled.
type PS8xxx struct {
	dev
}

func (p *PS8xxx) Kind() Kind { return KindPS8xxx }

func (p *PS8xxx) Init() error {
	if err := p.checkVendor(vendorParade); err != nil {
		return err
	}
	if err := p.initCommon(); err != nil {
		return err
	}
	return p.writeByte(regPowerCtrl, pwrCtrlDisableVoltAlarms|pwrCtrlAutoDischargeDisc)
}

func (p *PS8xxx) EnterLowPower() error {
	return p.writeByte(regCommand, cmdLook4Connection)
}
