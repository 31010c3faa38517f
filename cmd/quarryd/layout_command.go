package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"SwarmQuarry/internal/swarm"
)

func newLayoutCommand() *cobra.Command {
	var width, length int
	var grid bool

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the shaft layout for a quarry area",
		RunE: func(cmd *cobra.Command, args []string) error {
			if width <= 0 || length <= 0 || width > swarm.MaxDimension || length > swarm.MaxDimension {
				return fmt.Errorf("width and length must be between 1 and %d", swarm.MaxDimension)
			}
			points := swarm.GenerateLayout(width, length)
			out := cmd.OutOrStdout()
			if grid {
				fmt.Fprint(out, renderGrid(width, length))
			} else {
				rows := make([][]string, 0, len(points))
				for i, p := range points {
					rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(p.X), strconv.Itoa(p.Z)})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "X", "Z"}, rows, []columnAlignment{alignRight, alignRight, alignRight}))
			}
			fmt.Fprintf(out, "%d shafts in %dx%d\n", len(points), width, length)
			return nil
		},
	}
	cmd.Flags().IntVarP(&width, "width", "w", 0, "Area width along X")
	cmd.Flags().IntVarP(&length, "length", "l", 0, "Area length along Z")
	cmd.Flags().BoolVar(&grid, "grid", false, "Draw the layout as a grid instead of a table")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("length")
	return cmd
}

// renderGrid 每行对应一个 z，每列对应一个 x，竖井以 # 标记。
func renderGrid(width, length int) string {
	var b strings.Builder
	for j := 0; j < length; j++ {
		for i := 0; i < width; i++ {
			if swarm.IsShaft(i, j) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
