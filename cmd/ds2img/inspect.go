package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgarman/ds2img/internal/diskbuilder"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [image]",
	Short: "List the partition table of an image (defaults to --output)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := outputPath
		if len(args) == 1 {
			imagePath = args[0]
		}

		parts, err := diskbuilder.Inspect(imagePath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tSTART\tSIZE\tTYPE\tGUID")
		for _, p := range parts {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
				p.Index, p.Name, p.Start, humanize.IBytes(p.Length), p.Type, p.GUID)
		}
		return w.Flush()
	},
}
