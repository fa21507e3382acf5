package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgarman/ds2img/internal/config"
	"github.com/jgarman/ds2img/internal/logging"
)

var (
	configPath string
	outputPath string
	verbose    bool
	logFormat  string

	// loaded by the root command before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ds2img",
	Short: "Build a partitioned disk image from source directories",
	Long: `ds2img builds a single GPT disk image from a list of source directories,
each encoded as a FAT32 or ext4 partition.

Partition sizes are estimated from the source trees unless the configuration
gives an explicit size. ext4 partitions are produced by mke2fs, which must be
installed.

Commands:
  build       Build the disk image (default)
  estimate    Print the size every partition would get
  inspect     List the partition table of an image
  serve       Run the HTTP build service`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runBuild,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ds2img.toml", "path to partition config file")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "root.img", "path to create the image")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json); overrides the config file")

	rootCmd.AddCommand(buildCmd, estimateCmd, inspectCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}
	if logFormat != "" {
		loaded.Log.Format = logFormat
	}
	if err := logging.Configure(loaded.Log.Level, loaded.Log.Format); err != nil {
		return err
	}
	cfg = loaded
	return nil
}
