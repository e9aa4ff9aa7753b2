package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stillalive/internal/app"
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Run one sweep; triggered notifications wait in the outbox for the relay",
	GroupID: "run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.SweepOnce(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rep)
		}
		fmt.Printf("checked=%d triggered=%d active=%d no_activity=%d failed=%d\n",
			rep.Checked, rep.Triggered, rep.Skipped, rep.NoActivity, rep.Failed)
		return nil
	},
}

var relayCmd = &cobra.Command{
	Use:     "relay",
	Short:   "Deliver due outbox notifications once and wait for them to finish",
	GroupID: "run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.RelayOnce(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]int{"submitted": n})
		}
		fmt.Printf("submitted=%d\n", n)
		return nil
	},
}
