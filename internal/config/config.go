package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultBoard []byte

// Controller types with a driver in drivers/tcpc.
const (
	ControllerANX74xx = "anx74xx"
	ControllerPS8xxx  = "ps8xxx"
)

// Contract defaults. Settle delays below MinSettle are raised to it.
const (
	DefaultResetSettle = 10 * time.Millisecond
	DefaultPowerOff    = 20 * time.Millisecond
	DefaultPowerOn     = 10 * time.Millisecond
	DefaultPark        = time.Millisecond
	MinSettle          = time.Millisecond

	DefaultLidDebounce      = 30 * time.Millisecond
	DefaultTabletDebounce   = 30 * time.Millisecond
	DefaultTrackpadDebounce = 10 * time.Millisecond
	DefaultCableDebounce    = 2 * time.Millisecond
	DefaultACDebounce       = 30 * time.Millisecond

	DefaultMinInputCurrentMA = 512
	DefaultDeratePercent     = 5
	DefaultCriticalPercent   = 2
	DefaultFullPercent       = 95
	DefaultVbusMinMV         = 4400

	DefaultBoardIDSettle = 100 * time.Microsecond

	DefaultHeartbeat = 10 * time.Second
)

// Config describes one board: its Type-C ports, watched pins and policy knobs.
type Config struct {
	Board     string        `yaml:"board"`
	LogLevel  string        `yaml:"log_level"`
	Ports     []Port        `yaml:"ports"`
	Pins      Pins          `yaml:"pins"`
	Debounce  Debounce      `yaml:"debounce"`
	Timing    TCPCTiming    `yaml:"tcpc_timing"`
	Charge    Charge        `yaml:"charge"`
	BoardID   BoardID       `yaml:"board_id"`
	Hibernate []BankMask    `yaml:"hibernate"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Port wires one Type-C port. Optional pins are nil when absent.
type Port struct {
	ID         int    `yaml:"id"`
	Controller string `yaml:"controller"`
	I2CBus     string `yaml:"i2c_bus"`
	I2CAddr    uint16 `yaml:"i2c_addr"`
	ResetL     int    `yaml:"reset_l"`
	AlertL     int    `yaml:"alert_l"`
	CableDet   *int   `yaml:"cable_det"`
	Rail       int    `yaml:"rail"`
	VbusSrcEn  *int   `yaml:"vbus_src_en"`
	ChargeEnL  *int   `yaml:"charge_en_l"`
	VbusDet    *int   `yaml:"vbus_det"`
	BC12En     *int   `yaml:"bc12_en"`
}

type Pins struct {
	LidOpen      *int `yaml:"lid_open"`
	TabletModeL  *int `yaml:"tablet_mode_l"`
	TrackpadIntL *int `yaml:"trackpad_int_l"`
	ACPresent    *int `yaml:"ac_present"`
	PCHACOK      *int `yaml:"pch_acok"`
}

type Debounce struct {
	Lid      time.Duration `yaml:"lid"`
	Tablet   time.Duration `yaml:"tablet"`
	Trackpad time.Duration `yaml:"trackpad"`
	CableDet time.Duration `yaml:"cable_det"`
	AC       time.Duration `yaml:"ac"`
}

// TCPCTiming holds the minimum settle delays between reset sequence steps.
type TCPCTiming struct {
	ResetSettle time.Duration `yaml:"reset_settle"`
	PowerOff    time.Duration `yaml:"power_off"`
	PowerOn     time.Duration `yaml:"power_on"`
	Park        time.Duration `yaml:"park"`
}

type Charge struct {
	MinInputCurrentMA int     `yaml:"min_input_current_ma"`
	DeratePercent     int     `yaml:"derate_percent"`
	CriticalPercent   int     `yaml:"critical_percent"`
	FullPercent       int     `yaml:"full_percent"`
	VbusMinMV         int     `yaml:"vbus_min_mv"`
	Charger           Charger `yaml:"charger"`
}

type Charger struct {
	I2CBus    string `yaml:"i2c_bus"`
	I2CAddr   uint16 `yaml:"i2c_addr"`
	RSNSIuOhm uint32 `yaml:"rsnsi_uohm"`
}

type BoardID struct {
	Pins   []int         `yaml:"pins"`
	Settle time.Duration `yaml:"settle"`
}

// BankMask is one opaque hibernate entry.
type BankMask struct {
	Bank string `yaml:"bank"`
	Mask uint32 `yaml:"mask"`
}

var (
	errNoPorts      = errors.New("config: at least one port is required")
	errBoardIDPins  = errors.New("config: board_id needs exactly three pins")
	errChargerSense = errors.New("config: charger rsnsi_uohm must be set")
)

// Default returns the embedded reference board.
func Default() (*Config, error) {
	return Parse(defaultBoard)
}

// Load reads a board file; an empty path selects the embedded default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read board config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a board description.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal board config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects boards the core cannot drive.
func Validate(cfg *Config) error {
	if len(cfg.Ports) == 0 {
		return errNoPorts
	}
	for i := range cfg.Ports {
		p := &cfg.Ports[i]
		if p.ID != i {
			return fmt.Errorf("config: port %d listed at index %d; ports must be ordered 0..N-1", p.ID, i)
		}
		switch p.Controller {
		case ControllerANX74xx, ControllerPS8xxx:
		case "":
			p.Controller = ControllerANX74xx
		default:
			return fmt.Errorf("config: port %d: unknown controller %q", p.ID, p.Controller)
		}
	}

	defDur(&cfg.Debounce.Lid, DefaultLidDebounce)
	defDur(&cfg.Debounce.Tablet, DefaultTabletDebounce)
	defDur(&cfg.Debounce.Trackpad, DefaultTrackpadDebounce)
	defDur(&cfg.Debounce.CableDet, DefaultCableDebounce)
	defDur(&cfg.Debounce.AC, DefaultACDebounce)

	defDur(&cfg.Timing.ResetSettle, DefaultResetSettle)
	defDur(&cfg.Timing.PowerOff, DefaultPowerOff)
	defDur(&cfg.Timing.PowerOn, DefaultPowerOn)
	defDur(&cfg.Timing.Park, DefaultPark)
	floorDur(&cfg.Timing.ResetSettle)
	floorDur(&cfg.Timing.PowerOff)
	floorDur(&cfg.Timing.PowerOn)
	floorDur(&cfg.Timing.Park)

	c := &cfg.Charge
	defInt(&c.MinInputCurrentMA, DefaultMinInputCurrentMA)
	defInt(&c.DeratePercent, DefaultDeratePercent)
	defInt(&c.CriticalPercent, DefaultCriticalPercent)
	defInt(&c.FullPercent, DefaultFullPercent)
	defInt(&c.VbusMinMV, DefaultVbusMinMV)
	if c.DeratePercent < 0 || c.DeratePercent >= 100 {
		return fmt.Errorf("config: derate_percent %d out of range", c.DeratePercent)
	}
	if c.Charger.I2CBus != "" && c.Charger.RSNSIuOhm == 0 {
		return errChargerSense
	}

	if len(cfg.BoardID.Pins) != 0 && len(cfg.BoardID.Pins) != 3 {
		return errBoardIDPins
	}
	defDur(&cfg.BoardID.Settle, DefaultBoardIDSettle)
	defDur(&cfg.Heartbeat, DefaultHeartbeat)

	for _, h := range cfg.Hibernate {
		if h.Bank == "" {
			return errors.New("config: hibernate entry without bank")
		}
	}
	return nil
}

func defDur(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func floorDur(d *time.Duration) {
	if *d < MinSettle {
		*d = MinSettle
	}
}

func defInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
