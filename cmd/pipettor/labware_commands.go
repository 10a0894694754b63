package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pipettor/internal/labware"
)

const plateRows = "ABCDEFGH"

func newLabwareCommand() *cobra.Command {
	labwareCmd := &cobra.Command{
		Use:         "labware",
		Short:       "Labware helpers",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	labwareCmd.AddCommand(newMap384Command())
	return labwareCmd
}

func newMap384Command() *cobra.Command {
	var layoutFlag string
	var quadrant int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "map384",
		Short: "Show where a 96-well plate lands in a 384-well plate",
		Long: `Print the 384-well destination of every well of a 96-well plate placed in
the given quadrant (1-4). The interleaved layout fills alternating rows and
columns; the packed layout keeps each quadrant in six adjacent columns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := labware.ParseLayout(layoutFlag)
			if err != nil {
				return err
			}
			wells, err := labware.Map384(layout, quadrant)
			if err != nil {
				return err
			}

			if jsonOutput {
				mapping := make(map[string]string, len(wells))
				for i, dest := range wells {
					mapping[sourceWell(i)] = dest
				}
				return writeJSON(cmd, mapping)
			}

			headers := make([]string, 0, 13)
			aligns := make([]columnAlignment, 0, 13)
			headers = append(headers, "")
			aligns = append(aligns, alignLeft)
			for col := 1; col <= 12; col++ {
				headers = append(headers, strconv.Itoa(col))
				aligns = append(aligns, alignRight)
			}
			rows := make([][]string, len(plateRows))
			for r := range plateRows {
				rows[r] = append(rows[r], string(plateRows[r]))
			}
			// wells are column-major: index = col*8 + row.
			for i, dest := range wells {
				r := i % len(plateRows)
				rows[r] = append(rows[r], dest)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Layout %s, quadrant %d\n", layout, quadrant)
			fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVarP(&layoutFlag, "layout", "l", string(labware.LayoutInterleaved), "Layout: interleaved or packed")
	cmd.Flags().IntVarP(&quadrant, "quadrant", "q", 1, "Source plate quadrant (1-4)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func sourceWell(i int) string {
	return fmt.Sprintf("%c%d", plateRows[i%len(plateRows)], i/len(plateRows)+1)
}
