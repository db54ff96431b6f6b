package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormcells-viz/server/internal/logging"
)

var inspectStores storeFlags

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load every configured dataset and print a summary",
	Long: `Load every configured dataset and print a summary as JSON.

A non-zero exit means at least one store failed to load.

Examples:
  wormcells-server inspect --config config/server.yaml
  wormcells-server inspect -e heatmap.zarr -i histogram.zarr -s swarm.zarr`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVarP(&inspectStores.heatmap, "heatmap-file", "e", "", "Heatmap store (zarr directory or csv)")
	f.StringVarP(&inspectStores.histogram, "histogram-file", "i", "", "Histogram store")
	f.StringVarP(&inspectStores.swarm, "swarmplot-file", "s", "", "Swarm plot store")
	f.StringVar(&inspectStores.annotations, "annotations", "", "Gene annotation database")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(inspectStores)
	if err != nil {
		return err
	}
	logger, err := logging.New("warn", "", "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	svcs, err := loadServices(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer svcs.Close()

	summary := make([]map[string]interface{}, 0, len(svcs.registry.DatasetIDs()))
	for _, id := range svcs.registry.DatasetIDs() {
		svc := svcs.registry.Get(id)
		stats := svc.Stats()
		delete(stats, "cache")
		if genes := svc.Genes(); len(genes) > 0 {
			stats["first_gene"] = genes[0]
		}
		if cells := svc.Cells(); len(cells) > 0 {
			stats["first_cell"] = cells[0]
		}
		summary = append(summary, stats)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	logger.Debug("inspected datasets", zap.Int("count", len(summary)))
	return nil
}
