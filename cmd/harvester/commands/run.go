package commands

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/fetch"
	"github.com/maltedev/inventory-harvester/internal/harvest"
	"github.com/maltedev/inventory-harvester/internal/metrics"
	"github.com/maltedev/inventory-harvester/internal/storage"
)

var (
	runSourceFiles []string
	runSourcesDir  string
	runOutDir      string
	runID          string
	runMetricsAddr string
)

func init() {
	runCmd.Flags().StringSliceVar(&runSourceFiles, "source", nil, "Source config file(s) to harvest. Overrides --sources-dir.")
	runCmd.Flags().StringVar(&runSourcesDir, "sources-dir", "", "Directory of *.json5 source configs. Defaults to HARVEST_SOURCES_DIR.")
	runCmd.Flags().StringVar(&runOutDir, "out", "", "Directory snapshot files are written to. Defaults to HARVEST_OUTPUT_DIR.")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Resume an interrupted run; with REDIS_DEDUPE set, handles it already emitted are skipped.")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the run is in progress, e.g. :9102.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [source names...]",
	Short: "Harvests sources and writes one snapshot file per source.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sources, err := loadSources(runSourceFiles, runSourcesDir)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			sources = slices.DeleteFunc(sources, func(s *config.SourceConfig) bool {
				return !slices.Contains(args, s.Name)
			})
		}
		if len(sources) == 0 {
			return fmt.Errorf("no sources to harvest")
		}

		outDir := runOutDir
		if outDir == "" {
			outDir = cfg.Harvester.OutputDir
		}
		sink, err := storage.NewSnapshotFile(outDir)
		if err != nil {
			return err
		}

		if runID == "" {
			runID = uuid.NewString()
		}
		opts := harvest.Options{
			Concurrency:  cfg.Harvester.Concurrency,
			FlushTimeout: cfg.Harvester.FlushTimeout,
			Logger:       logger,
		}
		if cfg.Redis.Enabled() && cfg.Redis.Dedupe {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			opts.NewSeenSet = func(source string) harvest.SeenSet {
				return harvest.NewRedisSeenSet(client, "harvest:seen:"+runID+":"+source, 24*time.Hour)
			}
		}

		if runMetricsAddr != "" {
			go metrics.ExposeMetrics(runMetricsAddr)
		}

		transport := fetch.New(fetch.OptionsFrom(cfg.Harvester, sources, logger))
		h := harvest.New(transport, opts)

		logger.Info("harvest starting", "run_id", runID, "sources", len(sources), "out", outDir)
		summaries, runErr := h.RunAll(ctx, sources, sink)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return err
		}
		return runErr
	},
}

func loadSources(files []string, dir string) ([]*config.SourceConfig, error) {
	if len(files) == 0 {
		if dir == "" {
			dir = cfg.Harvester.SourcesDir
		}
		return config.LoadSources(dir)
	}

	sources := make([]*config.SourceConfig, 0, len(files))
	for _, f := range files {
		src, err := config.LoadSource(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
