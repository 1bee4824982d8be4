package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tcdrv "ecpower-go/drivers/tcpc"
	"ecpower-go/internal/board"
	"ecpower-go/internal/config"
	"ecpower-go/internal/halcore"
	"ecpower-go/internal/logger"
	"ecpower-go/internal/platform"
)

// Version is overridden via ldflags.
var Version = "0.1.0"

var (
	// configPath to the board description; empty selects the built-in board.
	configPath string
	// logLevel overrides the board's log_level when set.
	logLevel string
	// warm skips the controller reset sequence, as after a warm restart.
	warm bool
	// locked simulates a read-only firmware image.
	locked bool

	rootCmd = &cobra.Command{
		Use:     "ecpowerd",
		Short:   "Type-C power input arbitration and controller sequencing.",
		Version: Version,
		Long: `ecpowerd runs the charge port arbiter, the Type-C port controller power
sequencer and the debounced board inputs for one board description.

On a host the board runs against simulated pins and I2C buses; use the
console subcommand to drive it interactively.`,
		SilenceUsage: true,
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to board description YAML")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&warm, "warm", false, "treat start as a warm restart (no controller reset)")
	rootCmd.PersistentFlags().BoolVar(&locked, "locked", false, "simulate a read-only firmware image")

	rootCmd.AddCommand(runCmd, consoleCmd)
}

// startBoard loads the board description, configures logging and brings up
// the board on the host platform.
func startBoard(ctx context.Context) (*board.Board, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lvl, ok := logger.ParseLogLevel(level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	logger.SetLevel(lvl)

	i2c := platform.DefaultI2CFactory()
	seedControllers(cfg, i2c)
	b, err := board.New(cfg, board.Platform{
		Pins:  platform.NewHostPinFactory(),
		I2C:   i2c,
		Banks: platform.NewHostBank(),
		Lock:  board.StaticLock(locked),
	})
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx, warm); err != nil {
		return nil, err
	}
	logger.InfoKV(ctx, "board started", "board", cfg.Board, "ports", len(cfg.Ports), "warm", warm)
	return b, nil
}

// seedControllers loads each simulated controller's VENDOR_ID so the host
// drivers initialise as they would on hardware.
func seedControllers(cfg *config.Config, f halcore.I2CBusFactory) {
	for _, p := range cfg.Ports {
		id, ok := tcdrv.VendorID(tcdrv.Kind(p.Controller))
		if !ok {
			continue
		}
		bus, _ := f.ByID(p.I2CBus)
		if h, ok := bus.(*platform.HostI2C); ok {
			h.PokeWord(p.I2CAddr, tcdrv.RegVendorID, id)
		}
	}
}
