package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stillalive/internal/storage"
)

var statusData string

var statusCmd = &cobra.Command{
	Use:     "status <character-id> <status-type>",
	Short:   "Append a status event for a character",
	GroupID: "data",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ev, err := st.AppendStatus(context.Background(), storage.StatusEvent{
			CharacterID: args[0],
			StatusType:  args[1],
			Data:        statusData,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ev)
		}
		fmt.Printf("id=%d at=%s\n", ev.ID, ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusData, "data", "{}", "status payload as JSON")
}
