package charge

import (
	"context"
	"time"

	"ecpower-go/internal/logger"
	"ecpower-go/x/ramp"
)

// RampConfig shapes an input current ramp.
type RampConfig struct {
	Steps  int
	Period time.Duration
}

// RampInputCurrent raises the input limit for port from the configured
// minimum towards mA. When VBUS sags below the threshold the limit backs
// off one step and the ramp stops. Suppliers that may not ramp get mA
// directly. It returns the requested limit it settled on.
func (a *Arbiter) RampInputCurrent(ctx context.Context, port int, supplier Supplier, mA, mV int, rc RampConfig) (int, error) {
	if !a.RampAllowed(supplier) || mA <= a.cfg.MinInputCurrentMA {
		return mA, a.SetChargeLimit(ctx, port, supplier, mA, mA, mV)
	}
	ctx = logger.WithName(ctx, "charge")

	var err error
	prev := a.cfg.MinInputCurrentMA
	settled, done := ramp.Linear{
		From:   a.cfg.MinInputCurrentMA,
		To:     mA,
		Steps:  rc.Steps,
		Period: rc.Period,
	}.Run(ramp.SleepTick(ctx.Done()), func(level int) bool {
		if err = a.SetChargeLimit(ctx, port, supplier, level, mA, mV); err != nil {
			return false
		}
		if a.VbusTooLow(port) {
			logger.InfoKV(ctx, "vbus sagged; backing off", "port", port, "at_ma", level, "back_to_ma", prev)
			err = a.SetChargeLimit(ctx, port, supplier, prev, mA, mV)
			return false
		}
		prev = level
		return true
	})
	if err != nil {
		return prev, err
	}
	if !done {
		return prev, ctx.Err()
	}
	return settled, nil
}
