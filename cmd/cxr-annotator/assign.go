package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ardsquest/cxr-annotator/internal/domain"
	"github.com/ardsquest/cxr-annotator/internal/metadata"
	"github.com/ardsquest/cxr-annotator/webapp"
)

// assignCmd represents the assign command
var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Distribute the worklist among the configured users",
	Long: `Distribute the indexed images among the users in the config. Data
scientists get images round-robin; clinicians get whole subjects, so one
clinician reads every study of a patient. A fixed seed keeps the
distribution reproducible across runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		config, err := webapp.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		seed, err := cmd.Flags().GetInt64("seed")
		if err != nil {
			return err
		}

		var clinicians, dataScientists []string
		for user := range config.Authentication {
			if config.RoleOf(user) == domain.RoleClinician {
				clinicians = append(clinicians, user)
			} else {
				dataScientists = append(dataScientists, user)
			}
		}
		// Map iteration order is random; sort so only the seed decides.
		sort.Strings(clinicians)
		sort.Strings(dataScientists)

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		provider, err := metadata.Open(config.Data.MetadataDB, logger)
		if err != nil {
			return fmt.Errorf("failed to open metadata index: %w", err)
		}
		defer provider.Close()

		return provider.AssignUsers(cmd.Context(), clinicians, dataScientists, seed)
	},
}

func init() {
	rootCmd.AddCommand(assignCmd)

	assignCmd.Flags().Int64("seed", 42, "Shuffle seed for the assignment")
}
