package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"eventbot/internal/app"
	"eventbot/internal/events"
	"eventbot/internal/render"
)

var eventsNext bool

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print running and upcoming events from the calendar",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		src, err := app.NewEventSource(cfg, nil, cliLogger())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		now := src.Now()

		if eventsNext {
			e, err := src.Next(cmd.Context())
			if errors.Is(err, events.ErrNoEvents) {
				fmt.Fprintln(out, render.NoEvents())
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n%s - %s\n%s\n", e.Title, e.Start.Format("02.01.2006"), e.End.Format("02.01.2006"), render.StatusLine(e, now))
			return nil
		}

		evs, err := src.Upcoming(cmd.Context())
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			fmt.Fprintln(out, render.NoEvents())
			return nil
		}
		fmt.Fprintln(out, render.Table(evs, now))
		return nil
	},
}

func init() {
	eventsCmd.Flags().BoolVarP(&eventsNext, "next", "n", false, "print only the next event")
}
