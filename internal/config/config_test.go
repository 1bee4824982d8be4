package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultBoard(t *testing.T) {
	t.Parallel()

	cfg, err := Default()
	require.NoError(t, err)
	require.Equal(t, "duo-c", cfg.Board)
	require.Len(t, cfg.Ports, 2)

	p0 := cfg.Ports[0]
	require.Equal(t, ControllerANX74xx, p0.Controller)
	require.Equal(t, uint16(0x3c), p0.I2CAddr)
	require.NotNil(t, p0.CableDet)
	require.Equal(t, 12, *p0.CableDet)
	require.Nil(t, cfg.Ports[1].CableDet)

	require.Equal(t, 30*time.Millisecond, cfg.Debounce.Lid)
	require.Equal(t, 2*time.Millisecond, cfg.Debounce.CableDet)
	require.Equal(t, 20*time.Millisecond, cfg.Timing.PowerOff)
	require.Equal(t, 100*time.Microsecond, cfg.BoardID.Settle)
	require.Equal(t, []int{40, 41, 42}, cfg.BoardID.Pins)
	require.Equal(t, uint32(0xe0), cfg.Hibernate[0].Mask)
	require.Equal(t, 10*time.Second, cfg.Heartbeat)
	require.Equal(t, time.Millisecond, cfg.Timing.Park)
	require.Equal(t, 24, *p0.VbusDet)
	require.Equal(t, 27, *cfg.Ports[1].BC12En)
	require.Equal(t, 33, *cfg.Pins.ACPresent)
	require.Equal(t, 34, *cfg.Pins.PCHACOK)
}

func TestValidate_FillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Ports: []Port{{ID: 0}}}
	require.NoError(t, Validate(cfg))

	require.Equal(t, ControllerANX74xx, cfg.Ports[0].Controller)
	require.Equal(t, DefaultTabletDebounce, cfg.Debounce.Tablet)
	require.Equal(t, DefaultResetSettle, cfg.Timing.ResetSettle)
	require.Equal(t, DefaultMinInputCurrentMA, cfg.Charge.MinInputCurrentMA)
	require.Equal(t, DefaultVbusMinMV, cfg.Charge.VbusMinMV)
	require.Equal(t, DefaultHeartbeat, cfg.Heartbeat)
	require.Equal(t, DefaultPark, cfg.Timing.Park)
	require.Equal(t, DefaultACDebounce, cfg.Debounce.AC)
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]*Config{
		"no ports":       {},
		"unordered":      {Ports: []Port{{ID: 1}}},
		"bad controller": {Ports: []Port{{ID: 0, Controller: "tcpm9000"}}},
		"board id pins":  {Ports: []Port{{ID: 0}}, BoardID: BoardID{Pins: []int{1, 2}}},
		"charger sense":  {Ports: []Port{{ID: 0}}, Charge: Charge{Charger: Charger{I2CBus: "i2c1"}}},
		"derate":         {Ports: []Port{{ID: 0}}, Charge: Charge{DeratePercent: 100}},
		"hibernate bank": {Ports: []Port{{ID: 0}}, Hibernate: []BankMask{{Mask: 1}}},
	}
	for name, cfg := range cases {
		require.Error(t, Validate(cfg), name)
	}
}

func TestLoad_FileAndTimingFloor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	raw := []byte(`
board: solo
ports:
  - id: 0
    controller: ps8xxx
    reset_l: 1
    alert_l: 2
    rail: 3
tcpc_timing:
  reset_settle: 100us
`)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "solo", cfg.Board)
	require.Equal(t, MinSettle, cfg.Timing.ResetSettle)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, "duo-c", cfg.Board)
}
