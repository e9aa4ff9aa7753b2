package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stillalive/internal/idgen"
	"stillalive/internal/storage"
)

var characterCmd = &cobra.Command{
	Use:     "character",
	Short:   "Manage characters",
	GroupID: "data",
}

var characterOwner string

var characterCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a character and print its secret key and display code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		code, err := idgen.DisplayCode()
		if err != nil {
			return err
		}
		c, err := st.CreateCharacter(context.Background(), storage.Character{
			ID:          idgen.CharacterID(),
			OwnerID:     characterOwner,
			Name:        args[0],
			DisplayCode: code,
			SecretKey:   idgen.SecretKey(),
			IsActive:    true,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(c)
		}
		fmt.Printf("id=%s\ndisplay_code=%s\nsecret_key=%s\n", c.ID, c.DisplayCode, c.SecretKey)
		return nil
	},
}

var characterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List characters",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		cs, err := st.ListCharacters(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cs)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDISPLAY\tACTIVE")
		for _, c := range cs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", c.ID, c.Name, c.DisplayCode, c.IsActive)
		}
		return tw.Flush()
	},
}

var characterDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a character with its will, statuses and outbox rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteCharacter(context.Background(), args[0])
	},
}

func init() {
	characterCreateCmd.Flags().StringVar(&characterOwner, "owner", "", "owner reference")
	characterCmd.AddCommand(characterCreateCmd, characterListCmd, characterDeleteCmd)
}
