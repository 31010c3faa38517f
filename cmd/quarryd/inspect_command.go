package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"SwarmQuarry/internal/config"
	"SwarmQuarry/internal/storage"
	"SwarmQuarry/internal/swarm"
)

func newInspectCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [swarm-id]",
		Short: "Show persisted swarm progress without starting the service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			gateway, err := storage.Open(ctx, storageConfig(cfg.Storage))
			if err != nil {
				return err
			}
			defer gateway.Close()

			loaded, err := gateway.LoadAll(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				target, ok := loaded[args[0]]
				if !ok {
					return swarm.ErrSwarmNotFound
				}
				renderSwarmDetail(out, args[0], target)
				return nil
			}
			renderSwarmSummary(out, loaded)
			return nil
		},
	}
}

func renderSwarmSummary(out io.Writer, swarms map[string]*swarm.Swarm) {
	if len(swarms) == 0 {
		fmt.Fprintln(out, "No swarms stored")
		return
	}
	ids := make([]string, 0, len(swarms))
	for id := range swarms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		s := swarms[id]
		stats := swarm.StatsOf(s)
		rows = append(rows, []string{
			id,
			fmt.Sprintf("%dx%d", s.Width, s.Length),
			strconv.Itoa(stats.Total),
			strconv.Itoa(stats.Pending),
			strconv.Itoa(stats.Claimed),
			strconv.Itoa(stats.Done),
			strconv.Itoa(stats.Reservations),
			strconv.FormatBool(stats.Finished),
			formatMillis(stats.LastActivity),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Swarm", "Size", "Total", "Pending", "Claimed", "Done", "Travel", "Finished", "Last Activity"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func renderSwarmDetail(out io.Writer, id string, s *swarm.Swarm) {
	view := swarm.PublicView(s)
	stats := swarm.StatsOf(s)
	fmt.Fprintf(out, "Swarm %s (%dx%d) created %s\n", id, view.Width, view.Length, formatMillis(view.CreatedAt))
	fmt.Fprintf(out, "Progress: %d/%d done, %d claimed, %d pending\n", stats.Done, stats.Total, stats.Claimed, stats.Pending)

	if len(view.Claimed) > 0 {
		rows := make([][]string, 0, len(view.Claimed))
		for _, unit := range view.Claimed {
			rows = append(rows, []string{strconv.Itoa(unit.X), strconv.Itoa(unit.Z), unit.ClaimedBy, formatMillis(unit.ClaimedAt)})
		}
		fmt.Fprintln(out, renderTable([]string{"X", "Z", "Worker", "Claimed"}, rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft}))
	}

	if len(view.Reservations) > 0 {
		workers := make([]string, 0, len(view.Reservations))
		for worker := range view.Reservations {
			workers = append(workers, worker)
		}
		sort.Strings(workers)
		rows := make([][]string, 0, len(workers))
		for _, worker := range workers {
			r := view.Reservations[worker]
			rows = append(rows, []string{
				worker,
				fmt.Sprintf("%d,%d", r.Start.X, r.Start.Z),
				fmt.Sprintf("%d,%d", r.Dest.X, r.Dest.Z),
				formatMillis(r.ReservedAt),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Worker", "From", "To", "Reserved"}, rows, nil))
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
