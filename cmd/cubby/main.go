package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cubbyd/cubby/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "cubby",
	Short:   "Bucketed blob storage server with soft deletion",
	Long: `Cubby is a small blob storage server: clients create buckets and
upload, download and soft-delete files in them over HTTP. Content lives on
the local filesystem, per-blob metadata in an embedded SQLite database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var configFiles []string
		if cf, _ := cmd.Flags().GetString("config"); cf != "" {
			configFiles = []string{cf}
		}

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("storage-root", "", "storage root directory (default: ./storage_root, env: CUBBY_STORAGE_ROOT)")
	rootCmd.PersistentFlags().String("metadata-dsn", "", "metadata database path (default: <storage-root>/metadata.db, env: CUBBY_METADATA_DSN)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
