package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"ecpower-go/internal/console"
	"ecpower-go/internal/logger"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the board with an interactive debug console.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "ec> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			AutoComplete:    console.Completer(),
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}

		// Route logs through readline so they don't clobber the prompt.
		logger.SetLogger(logger.NewWriter(nil, rl.Stderr()))
		ctx = logger.WithName(ctx, "ecpowerd")

		b, err := startBoard(ctx)
		if err != nil {
			rl.Close()
			return err
		}

		c := console.New(b, rl.Stdout())
		fmt.Fprintln(rl.Stdout(), "type 'help' for commands")
		c.Run(ctx, rl)
		return nil
	},
}
