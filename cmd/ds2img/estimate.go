package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgarman/ds2img/internal/diskbuilder"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print the size every partition would be built with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := cfg.PartitionSpecs()
		if err != nil {
			return err
		}
		pipeline, err := cfg.Pipeline()
		if err != nil {
			return err
		}

		plans, err := pipeline.Plan(cmd.Context(), specs)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFORMAT\tFILES\tDATA\tSIZE\tDETAIL")
		sizes := make([]uint64, len(plans))
		for i, plan := range plans {
			sizes[i] = plan.Size
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				plan.Spec.Name, plan.Spec.Filesystem, files(plan), data(plan),
				humanize.IBytes(plan.Size), detail(plan))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		layout, err := diskbuilder.PlanLayout(sizes, cfg.Disk.Size)
		if err != nil {
			return fmt.Errorf("%w: %w", diskbuilder.ErrAssembly, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "disk: %s (%d bytes)\n", humanize.IBytes(layout.TotalSize), layout.TotalSize)
		return nil
	},
}

func files(plan diskbuilder.PartitionPlan) string {
	if plan.Estimate == nil {
		return "-"
	}
	return fmt.Sprintf("%d", plan.Estimate.Files)
}

func data(plan diskbuilder.PartitionPlan) string {
	if plan.Estimate == nil {
		return "-"
	}
	return humanize.IBytes(plan.Estimate.DataBytes)
}

func detail(plan diskbuilder.PartitionPlan) string {
	est := plan.Estimate
	switch {
	case est == nil:
		return "configured"
	case est.Filesystem == diskbuilder.FAT32:
		return fmt.Sprintf("reserved %s, fat %s, root %s, skipped %d",
			humanize.IBytes(est.ReservedRegion), humanize.IBytes(est.FATRegion),
			humanize.IBytes(est.RootDirRegion), est.Skipped)
	default:
		return fmt.Sprintf("journal %s, metadata %s, skipped %d",
			humanize.IBytes(est.JournalReserve), humanize.IBytes(est.MetadataReserve), est.Skipped)
	}
}
