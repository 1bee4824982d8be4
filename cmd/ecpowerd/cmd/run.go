package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ecpower-go/bus"
	"ecpower-go/internal/heartbeat"
	"ecpower-go/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the board and log every published state change until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		ctx = logger.WithName(ctx, "ecpowerd")

		b, err := startBoard(ctx)
		if err != nil {
			return err
		}

		heartbeat.New(b.Config().Heartbeat, func() any { return b.Status() }).
			Start(ctx, b.Bus.NewConnection("heartbeat"))

		sub := b.Bus.NewConnection("run").Subscribe(bus.T("#"))
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				logger.InfoKV(ctx, "shutting down")
				return nil
			case msg, ok := <-sub.Channel():
				if !ok {
					return nil
				}
				logger.InfoKV(ctx, "event", "topic", msg.Topic, "payload", msg.Payload)
			}
		}
	},
}
