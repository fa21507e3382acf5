package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the disk image",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	specs, err := cfg.PartitionSpecs()
	if err != nil {
		return err
	}
	pipeline, err := cfg.Pipeline()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx, specs, outputPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s, disk %s\n", result.Path, humanize.IBytes(result.Layout.TotalSize), result.DiskGUID)
	for i, p := range result.Partitions {
		fmt.Fprintf(out, "  %d  %-16s %-6s start %-10d %10s  blake3 %s\n",
			i+1, p.Name, p.Filesystem, p.Start, humanize.IBytes(p.Length), p.Digest)
	}
	return nil
}
