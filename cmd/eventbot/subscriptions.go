package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"eventbot/internal/app"
)

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "Inspect the subscription registry",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every subscribed chat id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cfg, cliLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		ids, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no subscriptions")
		}
		return nil
	},
}

func init() {
	subscriptionsCmd.AddCommand(subscriptionsListCmd)
}
