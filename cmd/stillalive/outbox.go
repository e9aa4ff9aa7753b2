package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stillalive/internal/storage"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	Short:   "Inspect will notifications",
	GroupID: "data",
}

var outboxListCmd = &cobra.Command{
	Use:   "list <will-id>",
	Short: "List the notifications queued for a will",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := st.ListOutboxByWill(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rows)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tNEXT\tLAST ERROR")
		for _, e := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.Status, e.AttemptCount, stamp(e.NextAttemptAt), e.LastError)
		}
		return tw.Flush()
	},
}

var outboxShowCmd = &cobra.Command{
	Use:   "show <outbox-id>",
	Short: "Show one notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		e, err := st.GetOutboxEntry(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		fmt.Printf("id=%s\nwill=%s\nstatus=%s\nattempts=%d\nnext_attempt_at=%s\n", e.ID, e.WillID, e.Status, e.AttemptCount, stamp(e.NextAttemptAt))
		if e.Status == storage.OutboxLeased && e.LeaseExpiresAt != nil {
			fmt.Printf("lease_owner=%s\nlease_expires_at=%s\n", e.LeaseOwner, stamp(*e.LeaseExpiresAt))
		}
		if e.ProcessedAt != nil {
			fmt.Printf("processed_at=%s\n", stamp(*e.ProcessedAt))
		}
		if e.LastError != "" {
			fmt.Printf("last_error=%s\n", e.LastError)
		}
		return nil
	},
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func init() {
	outboxCmd.AddCommand(outboxListCmd, outboxShowCmd)
}
