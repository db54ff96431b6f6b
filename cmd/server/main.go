// Package main is the entry point for the wormcells server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wormcells-server",
	Short: "Serve single-cell heatmap, histogram and swarm data over HTTP",
	Long: `wormcells-server loads precomputed expression stores (heatmap, histogram,
swarm) once at startup and answers read-only visualization queries.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/server.yaml", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, inspectCmd, sampleCmd, annotationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
