package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newBusCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus",
		Short: "Inspect the message bus",
	}
	cmd.AddCommand(newBusStatsCmd(app))
	cmd.AddCommand(newBusDeadLettersCmd(app))
	cmd.AddCommand(newBusPruneCmd(app))
	return cmd
}

func newBusStatsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery counters per subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				stats, err := rt.bus.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Subscription,
						s.Topic,
						strconv.Itoa(s.Pending),
						strconv.Itoa(s.Leased),
						strconv.Itoa(s.Acked),
						strconv.Itoa(s.Dead),
					})
				}
				fmt.Fprintln(app.outWriter(), renderTable(
					[]string{"Subscription", "Topic", "Pending", "Leased", "Acked", "Dead"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newBusDeadLettersCmd(app *appState) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters <subscription>",
		Short: "List deliveries that will not be retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				dead, err := rt.bus.DeadLetters(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if len(dead) == 0 {
					fmt.Fprintf(app.outWriter(), "No dead letters on %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(dead))
				for _, d := range dead {
					rows = append(rows, []string{
						d.MessageID,
						strconv.Itoa(d.Attempts),
						d.UpdatedAt.Local().Format(time.DateTime),
						preview(d.LastError),
					})
				}
				fmt.Fprintln(app.outWriter(), renderTable(
					[]string{"Message", "Attempts", "Updated", "Last error"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}

func newBusPruneCmd(app *appState) *cobra.Command {
	olderThan := 24 * time.Hour

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete acknowledged deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				removed, err := rt.bus.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(app.outWriter(), "Pruned %d deliveries\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", olderThan, "Only prune deliveries settled before this age")
	return cmd
}
