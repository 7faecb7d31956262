package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardsquest/cxr-annotator/internal/metadata"
	"github.com/ardsquest/cxr-annotator/webapp"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest manifest.csv",
	Short: "Load a DICOM manifest into the metadata index",
	Long: `Load a manifest CSV into the metadata index. The manifest must carry
study_icn, dicom_id and image_path columns; subject keys, windowing hints
and pre-existing assignments are picked up when present. Re-ingesting a
manifest refreshes metadata without disturbing assignments made since.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		config, err := webapp.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		hashFiles, err := cmd.Flags().GetBool("hash")
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		provider, err := metadata.Open(config.Data.MetadataDB, logger)
		if err != nil {
			return fmt.Errorf("failed to open metadata index: %w", err)
		}
		defer provider.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := provider.IngestManifest(cmd.Context(), f, hashFiles)
		if err != nil {
			return err
		}
		log.Printf("ingest: indexed %d images from %s", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("hash", false, "Record the SHA-256 of each image file")
}
