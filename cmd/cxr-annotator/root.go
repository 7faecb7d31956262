package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardsquest/cxr-annotator/internal/metadata"
	"github.com/ardsquest/cxr-annotator/webapp"
)

// rootCmd serves the annotation web app when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "cxr-annotator",
	Short: "Role-based chest X-ray annotation",
	Long: strings.TrimSpace(`
Serve the chest X-ray annotation tool. Clinicians and data scientists sign
in with their configured credentials, work through their assigned studies,
and every answer lands in per-user per-day annotation files.
    `),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		config, err := webapp.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := os.MkdirAll(config.Data.AnnotationsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create annotations dir: %w", err)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		provider, err := metadata.Open(config.Data.MetadataDB, logger)
		if err != nil {
			return fmt.Errorf("failed to open metadata index: %w", err)
		}
		defer provider.Close()

		count, err := provider.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read metadata index: %w", err)
		}

		app := webapp.NewAnnotatorApp(config, provider, logger)

		log.Printf("Configuration: %s", configFile)
		log.Printf("Metadata index: %s (%d images)", config.Data.MetadataDB, count)
		log.Printf("Annotations: %s", config.Data.AnnotationsDir)
		log.Printf("Users configured: %d", len(config.Authentication))
		log.Printf("Starting server on: %s", config.Server.Addr)

		return http.ListenAndServe(config.Server.Addr, app.GetHTTPHandler())
	},
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Config file for the annotation project")
	rootCmd.MarkPersistentFlagFilename("config")
}
