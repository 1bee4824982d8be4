// Package console is the interactive debug shell for the power core. Each
// line is split shell-style and dispatched to a command.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"ecpower-go/errcode"
	"ecpower-go/internal/board"
	"ecpower-go/internal/charge"
	"ecpower-go/internal/logger"
)

// ErrQuit is returned by Exec for quit/exit.
var ErrQuit = errors.New("quit")

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

type Console struct {
	b    *board.Board
	out  io.Writer
	cmds map[string]command
}

func New(b *board.Board, out io.Writer) *Console {
	c := &Console{b: b, out: out}
	c.cmds = map[string]command{
		"help":      {"help", c.cmdHelp},
		"chgport":   {"chgport <port|none>", c.cmdChgport},
		"battery":   {"battery [percent]", c.cmdBattery},
		"limit":     {"limit <port> <supplier> <mA> [max_mA] [mV]", c.cmdLimit},
		"ramp":      {"ramp <supplier>", c.cmdRamp},
		"vbus":      {"vbus <port>", c.cmdVbus},
		"source":    {"source <port> on|off", c.cmdSource},
		"tcpc":      {"tcpc reset <port> | alert | state", c.cmdTCPC},
		"cable":     {"cable <port> on|off", c.cmdCable},
		"lid":       {"lid open|closed", c.cmdLid},
		"tablet":    {"tablet on|off", c.cmdTablet},
		"boardid":   {"boardid", c.cmdBoardID},
		"hibernate": {"hibernate", c.cmdHibernate},
		"state":     {"state", c.cmdState},
		"ocp":       {"ocp <port> on|off", c.cmdOCP},
		"log":       {"log <debug|info|warn|error>", c.cmdLog},
	}
	return c
}

// Exec runs one command line. Empty lines do nothing.
func (c *Console) Exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	switch name {
	case "quit", "exit", "q":
		return ErrQuit
	case "?":
		name = "help"
	}
	cmd, ok := c.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q (type 'help')", args[0])
	}
	return cmd.run(ctx, args[1:])
}

// Run reads lines from rl until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, rl *readline.Instance) {
	defer rl.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		err = c.Exec(ctx, line)
		if errors.Is(err, ErrQuit) {
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Completer offers the command names for tab completion.
func Completer() readline.AutoCompleter {
	c := New(nil, io.Discard)
	var items []readline.PrefixCompleterInterface
	for _, name := range c.names() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (c *Console) names() []string {
	names := make([]string, 0, len(c.cmds))
	for n := range c.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Console) cmdHelp(context.Context, []string) error {
	for _, n := range c.names() {
		fmt.Fprintf(c.out, "  %s\n", c.cmds[n].usage)
	}
	fmt.Fprintln(c.out, "  quit")
	return nil
}

func (c *Console) cmdChgport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["chgport"])
	}
	port := charge.PortNone
	if strings.ToLower(args[0]) != "none" {
		p, err := c.port(args[0])
		if err != nil {
			return err
		}
		port = p
	}
	if err := c.b.Charge.Select(ctx, port); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "active port: %s\n", portName(port))
	return nil
}

func (c *Console) cmdBattery(_ context.Context, args []string) error {
	if len(args) == 1 {
		if c.b.Gauge == nil {
			return errcode.Unsupported
		}
		pct, err := strconv.Atoi(args[0])
		if err != nil {
			return errcode.InvalidParams
		}
		c.b.Gauge.Set(pct)
	}
	if c.b.Gauge != nil {
		fmt.Fprintf(c.out, "battery: %d%%\n", c.b.Gauge.Percent())
	}
	return nil
}

func (c *Console) cmdLimit(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 5 {
		return usage(c.cmds["limit"])
	}
	port, err := c.port(args[0])
	if err != nil {
		return err
	}
	sup, ok := charge.ParseSupplier(args[1])
	if !ok {
		return fmt.Errorf("unknown supplier %q", args[1])
	}
	nums := make([]int, 3)
	for i, a := range args[2:] {
		if nums[i], err = strconv.Atoi(a); err != nil {
			return errcode.InvalidParams
		}
	}
	if len(args) < 4 {
		nums[1] = nums[0]
	}
	if len(args) < 5 {
		nums[2] = 5000
	}
	if err := c.b.Charge.SetChargeLimit(ctx, port, sup, nums[0], nums[1], nums[2]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "input limit: %d mA\n", c.b.Charge.State().Limit.AppliedMA)
	return nil
}

func (c *Console) cmdRamp(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["ramp"])
	}
	sup, ok := charge.ParseSupplier(args[0])
	if !ok {
		return fmt.Errorf("unknown supplier %q", args[0])
	}
	fmt.Fprintf(c.out, "ramp allowed: %v\n", c.b.Charge.RampAllowed(sup))
	return nil
}

func (c *Console) cmdVbus(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["vbus"])
	}
	port, err := c.port(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "vbus provided: %v, too low: %v, full input current: %v\n",
		c.b.VbusProvided(port), c.b.Charge.VbusTooLow(port), c.b.Charge.ConsumingFullInputCurrent())
	return nil
}

func (c *Console) cmdSource(_ context.Context, args []string) error {
	if len(args) != 2 {
		return usage(c.cmds["source"])
	}
	port, err := c.port(args[0])
	if err != nil {
		return err
	}
	return c.drivePortPin(c.b.Config().Ports[port].VbusSrcEn, args[1])
}

func (c *Console) cmdCable(_ context.Context, args []string) error {
	if len(args) != 2 {
		return usage(c.cmds["cable"])
	}
	port, err := c.port(args[0])
	if err != nil {
		return err
	}
	return c.drivePortPin(c.b.Config().Ports[port].CableDet, args[1])
}

func (c *Console) cmdLid(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["lid"])
	}
	var open bool
	switch strings.ToLower(args[0]) {
	case "open":
		open = true
	case "closed", "close":
	default:
		return usage(c.cmds["lid"])
	}
	return c.drive(c.b.Config().Pins.LidOpen, open)
}

func (c *Console) cmdTablet(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["tablet"])
	}
	on, err := onOff(args[0])
	if err != nil {
		return err
	}
	return c.drive(c.b.Config().Pins.TabletModeL, !on)
}

func (c *Console) cmdTCPC(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage(c.cmds["tcpc"])
	}
	switch args[0] {
	case "reset":
		if len(args) != 2 {
			return usage(c.cmds["tcpc"])
		}
		port, err := c.port(args[1])
		if err != nil {
			return err
		}
		return c.b.TCPC.Reset(ctx, port)
	case "alert":
		fmt.Fprintf(c.out, "alert status: %#04x\n", c.b.TCPC.AlertStatus())
		return nil
	case "state":
		for _, s := range c.b.TCPC.Status() {
			fmt.Fprintf(c.out, "port %d: %s rail=%d alert=%v\n", s.ID, s.State, s.Rail, s.LastAlert)
		}
		return nil
	default:
		return usage(c.cmds["tcpc"])
	}
}

func (c *Console) cmdBoardID(context.Context, []string) error {
	if c.b.BoardID == nil {
		return errcode.Unsupported
	}
	d := c.b.BoardID.Digits()
	fmt.Fprintf(c.out, "board version %d (id0=%s id1=%s id2=%s)\n", c.b.BoardID.Version(), d[0], d[1], d[2])
	return nil
}

func (c *Console) cmdHibernate(ctx context.Context, _ []string) error {
	return c.b.Hibernate(ctx)
}

func (c *Console) cmdState(context.Context, []string) error {
	st := c.b.Charge.State()
	snap := c.b.Snapshot()
	fmt.Fprintf(c.out, "charge: active=%s initialized=%v discharge_on_ac=%v limit=%dmA\n",
		portName(st.ActivePort), st.Initialized, st.DischargeOnAC, st.Limit.AppliedMA)
	fmt.Fprintf(c.out, "board: ac=%v lid_open=%v tablet=%v trackpad_wake=%v\n", snap.ACPresent, snap.LidOpen, snap.TabletMode, snap.TrackpadWake)
	if c.b.Gauge != nil {
		fmt.Fprintf(c.out, "battery: %d%%\n", c.b.Gauge.Percent())
	}
	fmt.Fprintf(c.out, "irq drops: %d\n", c.b.Debounce.Drops())
	return nil
}

func (c *Console) cmdOCP(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage(c.cmds["ocp"])
	}
	port, err := c.port(args[0])
	if err != nil {
		return err
	}
	on, err := onOff(args[1])
	if err != nil {
		return err
	}
	c.b.Overcurrent(ctx, port, on)
	return nil
}

func (c *Console) cmdLog(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usage(c.cmds["log"])
	}
	lvl, ok := logger.ParseLogLevel(args[0])
	if !ok {
		return errcode.InvalidParams
	}
	logger.SetLevel(lvl)
	return nil
}

// port parses and range-checks a port argument. Ports out of range never
// reach the core, which treats them as fatal.
func (c *Console) port(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p >= c.b.Charge.Ports() {
		return 0, &errcode.E{C: errcode.InvalidPort, Op: "console", Msg: s}
	}
	return p, nil
}

// driver is implemented by host pins that can be driven from outside.
type driver interface {
	Drive(level bool)
}

func (c *Console) drivePortPin(n *int, arg string) error {
	on, err := onOff(arg)
	if err != nil {
		return err
	}
	return c.drive(n, on)
}

func (c *Console) drive(n *int, level bool) error {
	if n == nil {
		return errcode.UnknownPin
	}
	p, err := c.b.Pin(*n)
	if err != nil {
		return err
	}
	d, ok := p.(driver)
	if !ok {
		return &errcode.E{C: errcode.Unsupported, Op: "console", Msg: "pin cannot be driven on this platform"}
	}
	d.Drive(level)
	return nil
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, errcode.InvalidParams
	}
}

func portName(p int) string {
	if p == charge.PortNone {
		return "none"
	}
	return strconv.Itoa(p)
}

func usage(c command) error {
	return &errcode.E{C: errcode.InvalidParams, Op: "console", Msg: "usage: " + c.usage}
}
